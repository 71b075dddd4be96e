// FILE: lixenwraith/conftree/serializer.go
package conftree

import (
	"fmt"
	"reflect"
)

// TypeSerializer converts between a node and values of a type. The requested
// type is passed explicitly so one serializer can serve a family of types.
type TypeSerializer interface {
	// Deserialize reads a value of type t from a non-null node.
	Deserialize(t reflect.Type, n *Node) (any, error)
	// Serialize writes v, a value assignable to t, into n.
	Serialize(t reflect.Type, v any, n *Node) error
}

// EmptyValuer is implemented by serializers that can produce an empty value
// for implicit initialization. A nil result means no empty value.
type EmptyValuer interface {
	EmptyValue(t reflect.Type, opts *Options) any
}

// scalarSerializer adapts a pair of conversion functions to TypeSerializer.
type scalarSerializer[T any] struct {
	from func(raw any) (T, error)
	to   func(v T) any
}

// NewScalar builds a serializer for a scalar type. from converts the stored
// raw value, to produces the value to store. A nil to stores v itself.
func NewScalar[T any](from func(raw any) (T, error), to func(v T) any) TypeSerializer {
	return &scalarSerializer[T]{from: from, to: to}
}

func (s *scalarSerializer[T]) Deserialize(t reflect.Type, n *Node) (any, error) {
	raw, err := scalarOf(t, n)
	if err != nil {
		return nil, err
	}
	v, err := s.from(raw)
	if err != nil {
		return nil, err
	}
	if overflows(t, v) {
		return nil, serializationErrorf(n, t, "value %v overflows %s", v, t)
	}
	return convertTo(v, t), nil
}

func (s *scalarSerializer[T]) Serialize(t reflect.Type, v any, n *Node) error {
	typed, ok := v.(T)
	if !ok {
		rv := reflect.ValueOf(v)
		target := reflect.TypeFor[T]()
		if !rv.IsValid() || kindClass(rv.Kind()) != kindClass(target.Kind()) || !rv.Type().ConvertibleTo(target) {
			return serializationErrorf(n, t, "expected %s, got %T", target, v)
		}
		typed = rv.Convert(target).Interface().(T)
	}
	if s.to == nil {
		return storeScalar(n, typed)
	}
	return storeScalar(n, s.to(typed))
}

// scalarOf returns the scalar stored in n. Single-element lists are unwrapped.
func scalarOf(t reflect.Type, n *Node) (any, error) {
	switch n.value.kind {
	case kindScalar:
		return n.value.scalar, nil
	case kindList:
		if len(n.value.list) == 1 && n.value.list[0].value.kind == kindScalar {
			return n.value.list[0].value.scalar, nil
		}
	}
	return nil, serializationErrorf(n, t, "expected a scalar, found %s", n.value.kind)
}

// storeScalar writes native into n, falling back to its string form when the
// tree does not accept the native type.
func storeScalar(n *Node, native any) error {
	if native == nil {
		n.detachOrClear()
		return nil
	}
	if n.opts.AcceptsType(reflect.TypeOf(native)) {
		return n.setScalar(native)
	}
	s := fmt.Sprint(native)
	if !n.opts.AcceptsType(reflect.TypeFor[string]()) {
		return serializationErrorf(n, reflect.TypeOf(native), "type is not accepted by the tree")
	}
	return n.setScalar(s)
}

// convertTo converts v to the named type t when v's type differs.
func convertTo(v any, t reflect.Type) any {
	if v == nil || t == nil {
		return v
	}
	rv := reflect.ValueOf(v)
	if rv.Type() == t || t.Kind() == reflect.Interface {
		return v
	}
	// Only same-kind conversions; int to string would yield a rune.
	if kindClass(rv.Kind()) == kindClass(t.Kind()) && rv.Type().ConvertibleTo(t) {
		return rv.Convert(t).Interface()
	}
	return v
}

// kindClass groups kinds whose values convert without changing meaning.
func kindClass(k reflect.Kind) reflect.Kind {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return reflect.Int64
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return reflect.Uint64
	case reflect.Float32, reflect.Float64:
		return reflect.Float64
	default:
		return k
	}
}

// overflows reports whether the numeric v does not fit in t.
func overflows(t reflect.Type, v any) bool {
	rv := reflect.ValueOf(v)
	if t == nil || !rv.IsValid() || t.Kind() == reflect.Interface {
		return false
	}
	zero := reflect.Zero(t)
	switch kindClass(t.Kind()) {
	case reflect.Int64:
		if kindClass(rv.Kind()) == reflect.Int64 {
			return zero.OverflowInt(rv.Int())
		}
	case reflect.Uint64:
		if kindClass(rv.Kind()) == reflect.Uint64 {
			return zero.OverflowUint(rv.Uint())
		}
	case reflect.Float64:
		if kindClass(rv.Kind()) == reflect.Float64 {
			return zero.OverflowFloat(rv.Float())
		}
	}
	return false
}
