// FILE: lixenwraith/conftree/objectmapper.go
package conftree

import (
	"errors"
	"fmt"
	"reflect"
)

// mappedField is a discovered field with its build-time resolved serializer,
// constraints and processors.
type mappedField struct {
	DiscoveredField
	serializer  TypeSerializer
	constraints []namedConstraint
	processors  []Processor
}

type namedConstraint struct {
	tag   string
	check Constraint
}

// ObjectMapper binds a Go type to nodes. Mappers are built once per type and
// serializer collection by a MapperFactory and are safe for concurrent use.
type ObjectMapper struct {
	typ     reflect.Type
	fields  []*mappedField
	factory InstanceFactory
}

// FieldInfo describes a mapped field.
type FieldInfo struct {
	Name     string
	Type     reflect.Type
	Required bool
}

// Type returns the mapped type.
func (m *ObjectMapper) Type() reflect.Type { return m.typ }

// Fields lists the mapped fields in discovery order.
func (m *ObjectMapper) Fields() []FieldInfo {
	out := make([]FieldInfo, len(m.fields))
	for i, f := range m.fields {
		out[i] = FieldInfo{Name: f.Name, Type: f.Type, Required: f.Required}
	}
	return out
}

// CanCreateInstances reports whether an instance can be built from an
// empty node.
func (m *ObjectMapper) CanCreateInstances() bool { return m.factory.CanCreateInstances() }

// Load builds a new instance from n. The first failing field aborts the
// load and no partial instance is returned.
func (m *ObjectMapper) Load(n *Node) (any, error) {
	v, err := m.load(n, func(intermediate any) (reflect.Value, error) {
		return m.factory.Complete(intermediate)
	})
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// LoadInto applies the values in n to target, a non-nil pointer. Fields
// absent from n keep their current values.
func (m *ObjectMapper) LoadInto(n *Node, target any) error {
	mutable, ok := m.factory.(MutableInstanceFactory)
	if !ok {
		return serializationErrorf(n, m.typ, "type does not support loading into an existing instance")
	}
	ptr := reflect.ValueOf(target)
	if ptr.Kind() != reflect.Pointer || ptr.IsNil() || ptr.Elem().Type() != m.typ {
		return serializationErrorf(n, m.typ, "target must be a non-nil *%s, got %T", m.typ, target)
	}
	_, err := m.load(n, func(intermediate any) (reflect.Value, error) {
		return ptr.Elem(), mutable.CompleteInto(ptr, intermediate)
	})
	return err
}

func (m *ObjectMapper) load(n *Node, complete func(any) (reflect.Value, error)) (reflect.Value, error) {
	if n.value.kind != kindMap && n.value.kind != kindNull {
		return reflect.Value{}, serializationErrorf(n, m.typ, "expected a map, found %s", n.value.kind)
	}
	intermediate := m.factory.Begin()
	var unseen []*mappedField

	for _, f := range m.fields {
		child := n.Node(f.Name)
		value, present, err := m.loadField(f, child)
		if err != nil {
			return reflect.Value{}, err
		}
		if !present {
			if f.Required {
				return reflect.Value{}, &SerializationError{
					Path: child.Path(), pathSet: true, Type: f.Type, Field: f.Name, Err: ErrRequired,
				}
			}
			unseen = append(unseen, f)
			continue
		}
		for _, c := range f.constraints {
			if cerr := c.check(value); cerr != nil {
				return reflect.Value{}, &SerializationError{
					Path: child.Path(), pathSet: true, Type: f.Type, Field: f.Name,
					Message: fmt.Sprintf("%s: %v", c.tag, cerr), Err: ErrConstraint,
				}
			}
		}
		if err := f.Deserialize(intermediate, value); err != nil {
			return reflect.Value{}, wrapSerialization(child, f.Type, err)
		}
	}

	instance, err := complete(intermediate)
	if err != nil {
		var se *SerializationError
		if errors.As(err, &se) && se.Field != "" {
			se.initPath(n.Path().Child(se.Field))
		}
		return reflect.Value{}, wrapSerialization(n, m.typ, err)
	}

	// Write defaults of absent fields back into the tree.
	if n.opts.copyDefaults && len(unseen) > 0 {
		for _, f := range unseen {
			if err := m.saveField(f, instance, n.Node(f.Name)); err != nil {
				return reflect.Value{}, err
			}
		}
	}
	return instance, nil
}

// loadField reads one field. Absent values are not present unless implicit
// initialization supplies an empty value.
func (m *ObjectMapper) loadField(f *mappedField, child *Node) (reflect.Value, bool, error) {
	if child.value.kind == kindNull {
		if child.opts.implicitInit {
			if ev, ok := f.serializer.(EmptyValuer); ok {
				if empty := ev.EmptyValue(f.Type, child.opts); empty != nil {
					return reflect.ValueOf(empty), true, nil
				}
			}
		}
		return reflect.Value{}, false, nil
	}
	v, err := deserializeChild(f.serializer, f.Type, child)
	if err != nil {
		var se *SerializationError
		if errors.As(err, &se) && se.Field == "" {
			se.Field = f.Name
		}
		return reflect.Value{}, false, err
	}
	return v, true, nil
}

// Save writes every field of v into n. v may be the mapped type or a
// pointer to it. Processors run after each field is written.
func (m *ObjectMapper) Save(v any, n *Node) error {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer && rv.Type() != m.typ {
		if rv.IsNil() {
			n.detachOrClear()
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() || rv.Type() != m.typ {
		return serializationErrorf(n, m.typ, "cannot save %T", v)
	}
	if err := n.attachIfNecessary(); err != nil {
		return err
	}
	if n.value.kind != kindMap {
		n.replaceValue(mapValue())
	}
	for _, f := range m.fields {
		if err := m.saveField(f, rv, n.Node(f.Name)); err != nil {
			return err
		}
	}
	return nil
}

func (m *ObjectMapper) saveField(f *mappedField, instance reflect.Value, child *Node) error {
	fv, err := f.Serialize(instance)
	if err != nil {
		return &SerializationError{Path: child.Path(), pathSet: true, Type: f.Type, Field: f.Name, Err: err}
	}
	if isNilValue(fv) {
		// Absent fields get no comment either.
		child.detachOrClear()
		return nil
	}
	if err := f.serializer.Serialize(f.Type, fv.Interface(), child); err != nil {
		return wrapSerialization(child, f.Type, err)
	}
	for _, p := range f.processors {
		p(child)
	}
	return nil
}

// objectSerializer handles struct types through the tree's mapper factory.
type objectSerializer struct{}

func mapperForNode(t reflect.Type, opts *Options) (*ObjectMapper, error) {
	factory := opts.mappers
	if factory == nil {
		factory = DefaultMapperFactory()
	}
	return factory.Get(t, opts.serializers)
}

func (objectSerializer) Deserialize(t reflect.Type, n *Node) (any, error) {
	m, err := mapperForNode(t, n.opts)
	if err != nil {
		return nil, wrapSerialization(n, t, err)
	}
	return m.Load(n)
}

func (objectSerializer) Serialize(t reflect.Type, v any, n *Node) error {
	m, err := mapperForNode(t, n.opts)
	if err != nil {
		return wrapSerialization(n, t, err)
	}
	return m.Save(v, n)
}

func (objectSerializer) EmptyValue(t reflect.Type, opts *Options) any {
	m, err := mapperForNode(t, opts)
	if err != nil || !m.CanCreateInstances() {
		return nil
	}
	v, err := m.factory.Complete(m.factory.Begin())
	if err != nil {
		return nil
	}
	return v.Interface()
}

// Mapper is a typed view of an ObjectMapper.
type Mapper[T any] struct {
	m *ObjectMapper
}

// MapperFor returns the mapper for T using the factory and serializers of
// opts. A nil opts selects DefaultOptions().
func MapperFor[T any](opts *Options) (*Mapper[T], error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	m, err := mapperForNode(reflect.TypeFor[T](), opts)
	if err != nil {
		return nil, err
	}
	return &Mapper[T]{m: m}, nil
}

// Load builds a T from n.
func (m *Mapper[T]) Load(n *Node) (T, error) {
	var zero T
	v, err := m.m.Load(n)
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// LoadInto applies n onto target.
func (m *Mapper[T]) LoadInto(n *Node, target *T) error {
	return m.m.LoadInto(n, target)
}

// Save writes v into n.
func (m *Mapper[T]) Save(v T, n *Node) error {
	return m.m.Save(v, n)
}

// Untyped returns the underlying ObjectMapper.
func (m *Mapper[T]) Untyped() *ObjectMapper { return m.m }
