// FILE: lixenwraith/conftree/discoverer.go
package conftree

import (
	"fmt"
	"reflect"
	"strings"
)

// FieldDiscoverer extracts mappable fields from a type. Discover returns
// nil, nil when it does not apply to t.
type FieldDiscoverer interface {
	Discover(t reflect.Type, cfg DiscoveryConfig) (*Discovery, error)
}

// DiscoveryConfig carries the mapper factory settings discoverers need.
type DiscoveryConfig struct {
	Naming  NamingScheme
	TagName string
}

// Discovery is the result of a successful discovery.
type Discovery struct {
	Factory InstanceFactory
	Fields  []DiscoveredField
}

// DiscoveredField describes one field. Deserialize feeds a value into the
// factory's intermediate state, Serialize reads the field from an instance.
type DiscoveredField struct {
	Name     string
	GoName   string
	Type     reflect.Type
	Tag      reflect.StructTag
	Required bool

	Deserialize func(intermediate any, value reflect.Value) error
	Serialize   func(instance reflect.Value) (reflect.Value, error)
}

// InstanceFactory creates instances from collected field values.
type InstanceFactory interface {
	// Begin returns fresh intermediate state for one load.
	Begin() any
	// Complete builds the instance from the intermediate state.
	Complete(intermediate any) (reflect.Value, error)
	// CanCreateInstances reports whether Complete can succeed without input.
	CanCreateInstances() bool
}

// MutableInstanceFactory can also apply intermediate state to an existing
// instance, which enables ObjectMapper.LoadInto.
type MutableInstanceFactory interface {
	InstanceFactory
	CompleteInto(instance reflect.Value, intermediate any) error
}

// Defaulter is implemented by types that seed fresh instances before loaded
// values are applied. SetDefaults is called on a pointer to the new instance.
type Defaulter interface {
	SetDefaults()
}

var defaulterType = reflect.TypeFor[Defaulter]()

// structDiscoverer maps exported struct fields. Tag syntax:
//
//	Port int `conf:"listen-port,required"`
//	Base     `conf:",inline"`
//	Skip int `conf:"-"`
//
// Embedded structs are inlined.
type structDiscoverer struct{}

// StructDiscoverer returns the default discoverer for struct types.
func StructDiscoverer() FieldDiscoverer { return structDiscoverer{} }

func (structDiscoverer) Discover(t reflect.Type, cfg DiscoveryConfig) (*Discovery, error) {
	if t.Kind() != reflect.Struct {
		return nil, nil
	}
	factory := &structFactory{typ: t}
	var fields []DiscoveredField
	if err := factory.collect(t, nil, cfg, &fields); err != nil {
		return nil, err
	}
	seen := make(map[string]string, len(fields))
	for _, f := range fields {
		if other, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("fields %s and %s of %s both map to key %q", other, f.GoName, t, f.Name)
		}
		seen[f.Name] = f.GoName
	}
	return &Discovery{Factory: factory, Fields: fields}, nil
}

// structIntermediate maps field ordinals to loaded values.
type structIntermediate map[int]reflect.Value

type structFactory struct {
	typ     reflect.Type
	indexes [][]int // by field ordinal
}

func (f *structFactory) collect(t reflect.Type, index []int, cfg DiscoveryConfig, out *[]DiscoveredField) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name, opts := parseConfTag(sf.Tag.Get(cfg.TagName))
		if name == "-" {
			continue
		}
		fieldIndex := append(append([]int(nil), index...), i)

		if opts["inline"] || (sf.Anonymous && name == "") {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() != reflect.Struct {
				return fmt.Errorf("field %s: only structs can be inlined", sf.Name)
			}
			if err := f.collect(ft, fieldIndex, cfg, out); err != nil {
				return err
			}
			continue
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = cfg.Naming.Coerce(sf.Name)
		}

		ordinal := len(f.indexes)
		f.indexes = append(f.indexes, fieldIndex)
		*out = append(*out, DiscoveredField{
			Name:     name,
			GoName:   sf.Name,
			Type:     sf.Type,
			Tag:      sf.Tag,
			Required: opts["required"],
			Deserialize: func(intermediate any, value reflect.Value) error {
				intermediate.(structIntermediate)[ordinal] = value
				return nil
			},
			Serialize: func(instance reflect.Value) (reflect.Value, error) {
				v, err := instance.FieldByIndexErr(fieldIndex)
				if err != nil {
					// Nil embedded pointer: nothing to write.
					return reflect.Value{}, nil
				}
				return v, nil
			},
		})
	}
	return nil
}

func (f *structFactory) Begin() any {
	return make(structIntermediate)
}

func (f *structFactory) Complete(intermediate any) (reflect.Value, error) {
	ptr := reflect.New(f.typ)
	if ptr.Type().Implements(defaulterType) {
		ptr.Interface().(Defaulter).SetDefaults()
	}
	if err := f.CompleteInto(ptr, intermediate); err != nil {
		return reflect.Value{}, err
	}
	return ptr.Elem(), nil
}

// CompleteInto writes loaded fields into instance, a pointer to the struct.
// Fields without a loaded value keep their current value.
func (f *structFactory) CompleteInto(instance reflect.Value, intermediate any) error {
	if instance.Kind() != reflect.Pointer || instance.IsNil() || instance.Elem().Type() != f.typ {
		return fmt.Errorf("expected non-nil *%s, got %s", f.typ, instance.Type())
	}
	target := instance.Elem()
	for ordinal, v := range intermediate.(structIntermediate) {
		field := fieldByIndexAlloc(target, f.indexes[ordinal])
		if !v.IsValid() {
			field.SetZero()
			continue
		}
		field.Set(v)
	}
	return nil
}

func (f *structFactory) CanCreateInstances() bool { return true }

// fieldByIndexAlloc is FieldByIndex that allocates nil embedded pointers.
func fieldByIndexAlloc(v reflect.Value, index []int) reflect.Value {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v
}

// parseConfTag splits `name,opt1,opt2`.
func parseConfTag(tag string) (string, map[string]bool) {
	parts := strings.Split(tag, ",")
	opts := make(map[string]bool, len(parts)-1)
	for _, p := range parts[1:] {
		if p = strings.TrimSpace(p); p != "" {
			opts[p] = true
		}
	}
	return strings.TrimSpace(parts[0]), opts
}

// Param declares one constructor parameter for Constructor.
type Param struct {
	Name     string
	Optional bool
	// Tag carries constraint and processor tags, e.g. `comment:"..."`.
	Tag reflect.StructTag
}

// constructorDiscoverer binds a type through a constructor function, for
// types whose invariants are enforced at construction.
type constructorDiscoverer struct {
	typ    reflect.Type
	ctor   reflect.Value
	params []Param
}

// Constructor returns a discoverer for T that builds instances by calling
// ctor with one argument per param, in order. ctor must have the signature
// func(P1, ..., Pn) T or func(P1, ..., Pn) (T, error). Saving reads the
// struct field of T whose key matches each param name; T without such
// fields can only be loaded.
//
// Loading fails with ErrMissingField when a non-optional parameter has no
// value. Optional parameters receive their zero value.
func Constructor[T any](ctor any, params ...Param) FieldDiscoverer {
	return &constructorDiscoverer{
		typ:    reflect.TypeFor[T](),
		ctor:   reflect.ValueOf(ctor),
		params: params,
	}
}

func (d *constructorDiscoverer) Discover(t reflect.Type, cfg DiscoveryConfig) (*Discovery, error) {
	if t != d.typ {
		return nil, nil
	}
	ct := d.ctor.Type()
	if ct.Kind() != reflect.Func || ct.NumIn() != len(d.params) {
		return nil, fmt.Errorf("constructor for %s must be a func taking %d parameters, got %s", t, len(d.params), ct)
	}
	switch {
	case ct.NumOut() == 1 && ct.Out(0) == t:
	case ct.NumOut() == 2 && ct.Out(0) == t && ct.Out(1) == reflect.TypeFor[error]():
	default:
		return nil, fmt.Errorf("constructor for %s must return %s or (%s, error), got %s", t, t, t, ct)
	}

	// Locate struct fields for saving, keyed by their mapped names.
	readers := make(map[string][]int)
	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			name, _ := parseConfTag(sf.Tag.Get(cfg.TagName))
			if name == "" {
				name = cfg.Naming.Coerce(sf.Name)
			}
			readers[name] = sf.Index
		}
	}

	fields := make([]DiscoveredField, len(d.params))
	for i, p := range d.params {
		readIndex, canRead := readers[p.Name]
		fields[i] = DiscoveredField{
			Name: p.Name,
			Type: ct.In(i),
			Tag:  p.Tag,
			Deserialize: func(intermediate any, value reflect.Value) error {
				intermediate.([]reflect.Value)[i] = value
				return nil
			},
			Serialize: func(instance reflect.Value) (reflect.Value, error) {
				if !canRead {
					return reflect.Value{}, fmt.Errorf("%s has no field for parameter %q", t, p.Name)
				}
				return instance.FieldByIndex(readIndex), nil
			},
		}
	}
	return &Discovery{Factory: &constructorFactory{d: d}, Fields: fields}, nil
}

type constructorFactory struct {
	d *constructorDiscoverer
}

func (f *constructorFactory) Begin() any {
	return make([]reflect.Value, len(f.d.params))
}

func (f *constructorFactory) Complete(intermediate any) (reflect.Value, error) {
	args := intermediate.([]reflect.Value)
	ct := f.d.ctor.Type()
	for i, p := range f.d.params {
		if args[i].IsValid() {
			continue
		}
		if !p.Optional {
			return reflect.Value{}, &SerializationError{
				Type:  f.d.typ,
				Field: p.Name,
				Err:   ErrMissingField,
			}
		}
		args[i] = reflect.Zero(ct.In(i))
	}
	out := f.d.ctor.Call(args)
	if len(out) == 2 && !out[1].IsNil() {
		return reflect.Value{}, out[1].Interface().(error)
	}
	return out[0], nil
}

func (f *constructorFactory) CanCreateInstances() bool {
	for _, p := range f.d.params {
		if !p.Optional {
			return false
		}
	}
	return true
}
