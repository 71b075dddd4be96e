// FILE: lixenwraith/conftree/collections.go
package conftree

import (
	"reflect"
	"slices"

	"github.com/go-viper/mapstructure/v2"
)

var nodeType = reflect.TypeFor[*Node]()

func registerCollections(b *SerializersBuilder) {
	b.RegisterExact(nodeType, nodeSerializer{})
	b.Register(reflect.TypeFor[map[any]struct{}](), setSerializer{})
	b.RegisterKind(reflect.Slice, listSerializer{})
	b.RegisterKind(reflect.Array, listSerializer{})
	b.RegisterKind(reflect.Map, mapSerializer{})
	b.RegisterKind(reflect.Pointer, pointerSerializer{})
	b.RegisterKind(reflect.Struct, objectSerializer{})
	b.RegisterExact(anyType, rawSerializer{})
	b.RegisterKind(reflect.Interface, rawSerializer{})
}

// elementSerializer resolves the serializer for an element type from the
// node's own collection.
func elementSerializer(n *Node, owner, elem reflect.Type) (TypeSerializer, error) {
	ser := n.opts.serializers.Get(elem)
	if ser == nil {
		return nil, &SerializationError{
			Path: n.Path(), pathSet: true, Type: owner,
			Message: "no serializer for element type " + elem.String(),
			Err:     ErrNoSerializer,
		}
	}
	return ser, nil
}

// deserializeChild reads one element; null children yield the zero value.
func deserializeChild(ser TypeSerializer, t reflect.Type, child *Node) (reflect.Value, error) {
	if child.value.kind == kindNull {
		return reflect.Zero(t), nil
	}
	v, err := ser.Deserialize(t, child)
	if err != nil {
		return reflect.Value{}, wrapSerialization(child, t, err)
	}
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if !rv.Type().AssignableTo(t) {
		if rv.Type().ConvertibleTo(t) && kindClass(rv.Kind()) == kindClass(t.Kind()) {
			return rv.Convert(t), nil
		}
		return reflect.Value{}, serializationErrorf(child, t, "serializer produced %s", rv.Type())
	}
	return rv, nil
}

// serializeChild writes one element. Nil elements become attached nulls so
// list positions are preserved.
func serializeChild(ser TypeSerializer, t reflect.Type, v reflect.Value, child *Node) error {
	if isNilValue(v) {
		return child.attachIfNecessary()
	}
	if err := ser.Serialize(t, v.Interface(), child); err != nil {
		return wrapSerialization(child, t, err)
	}
	return child.attachIfNecessary()
}

func isNilValue(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// listSerializer handles slices and arrays. A string stored where a list
// is expected is split on commas, matching environment and CLI overrides.
type listSerializer struct{}

func (listSerializer) elements(t reflect.Type, n *Node) ([]*Node, error) {
	switch n.value.kind {
	case kindList:
		return n.value.list, nil
	case kindScalar:
		s, ok := n.value.scalar.(string)
		if !ok {
			// A lone scalar reads as a one-element list.
			return []*Node{n.detachedScalar(0, n.value.scalar)}, nil
		}
		parts, err := mapstructure.DecodeHookExec(mapstructure.StringToSliceHookFunc(","),
			reflect.ValueOf(s), reflect.New(reflect.TypeFor[[]string]()).Elem())
		if err != nil {
			return nil, err
		}
		var out []*Node
		for i, p := range parts.([]string) {
			out = append(out, n.detachedScalar(i, p))
		}
		return out, nil
	default:
		return nil, serializationErrorf(n, t, "expected a list, found %s", n.value.kind)
	}
}

func (l listSerializer) Deserialize(t reflect.Type, n *Node) (any, error) {
	if t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
		raw, err := scalarOf(t, n)
		if err != nil {
			return nil, err
		}
		s, err := toString(raw)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf([]byte(s)).Convert(t).Interface(), nil
	}

	elemT := t.Elem()
	ser, err := elementSerializer(n, t, elemT)
	if err != nil {
		return nil, err
	}
	children, err := l.elements(t, n)
	if err != nil {
		return nil, err
	}

	var out reflect.Value
	if t.Kind() == reflect.Array {
		out = reflect.New(t).Elem()
		if len(children) > t.Len() {
			return nil, serializationErrorf(n, t, "list has %d elements, array holds %d", len(children), t.Len())
		}
	} else {
		out = reflect.MakeSlice(t, 0, len(children))
	}
	for i, child := range children {
		v, err := deserializeChild(ser, elemT, child)
		if err != nil {
			return nil, err
		}
		if t.Kind() == reflect.Array {
			out.Index(i).Set(v)
		} else {
			out = reflect.Append(out, v)
		}
	}
	return out.Interface(), nil
}

func (listSerializer) Serialize(t reflect.Type, v any, n *Node) error {
	rv := reflect.ValueOf(v)
	if t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
		return storeScalar(n, string(rv.Bytes()))
	}
	elemT := t.Elem()
	ser, err := elementSerializer(n, t, elemT)
	if err != nil {
		return err
	}
	if err := n.attachIfNecessary(); err != nil {
		return err
	}
	n.replaceValue(listValue(n, rv.Len()))
	for i := 0; i < rv.Len(); i++ {
		if err := serializeChild(ser, elemT, rv.Index(i), n.Node(i)); err != nil {
			return err
		}
	}
	return nil
}

func (listSerializer) EmptyValue(t reflect.Type, _ *Options) any {
	if t.Kind() == reflect.Array {
		return reflect.New(t).Elem().Interface()
	}
	return reflect.MakeSlice(t, 0, 0).Interface()
}

// mapSerializer handles maps. Keys are converted through the key type's
// serializer, so map[time.Duration]T or map[int]T work.
type mapSerializer struct{}

func (mapSerializer) Deserialize(t reflect.Type, n *Node) (any, error) {
	if n.value.kind != kindMap {
		return nil, serializationErrorf(n, t, "expected a map, found %s", n.value.kind)
	}
	keyT, elemT := t.Key(), t.Elem()
	keySer, err := elementSerializer(n, t, keyT)
	if err != nil {
		return nil, err
	}
	elemSer, err := elementSerializer(n, t, elemT)
	if err != nil {
		return nil, err
	}
	out := reflect.MakeMapWithSize(t, len(n.value.index))
	for _, k := range n.value.keys {
		child := n.value.index[k]
		kv, err := deserializeChild(keySer, keyT, n.detachedScalar(k, k))
		if err != nil {
			return nil, wrapSerialization(child, t, err)
		}
		ev, err := deserializeChild(elemSer, elemT, child)
		if err != nil {
			return nil, err
		}
		out.SetMapIndex(kv, ev)
	}
	return out.Interface(), nil
}

func (mapSerializer) Serialize(t reflect.Type, v any, n *Node) error {
	keyT, elemT := t.Key(), t.Elem()
	keySer, err := elementSerializer(n, t, keyT)
	if err != nil {
		return err
	}
	elemSer, err := elementSerializer(n, t, elemT)
	if err != nil {
		return err
	}
	if err := n.attachIfNecessary(); err != nil {
		return err
	}
	n.replaceValue(mapValue())

	rv := reflect.ValueOf(v)
	type entry struct {
		key  any
		elem reflect.Value
	}
	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		keyNode := NewRoot(n.opts)
		if err := keySer.Serialize(keyT, iter.Key().Interface(), keyNode); err != nil {
			return wrapSerialization(n, t, err)
		}
		if keyNode.value.kind != kindScalar {
			return serializationErrorf(n, t, "map key %v does not serialize to a scalar", iter.Key())
		}
		entries = append(entries, entry{key: normalizeKey(keyNode.value.scalar), elem: iter.Value()})
	}
	// Go maps have no order; sort for stable output.
	slices.SortFunc(entries, func(a, b entry) int { return compareKeys(a.key, b.key) })
	for _, e := range entries {
		if err := serializeChild(elemSer, elemT, e.elem, n.Node(e.key)); err != nil {
			return err
		}
	}
	return nil
}

func (mapSerializer) EmptyValue(t reflect.Type, _ *Options) any {
	return reflect.MakeMap(t).Interface()
}

// setSerializer stores map[K]struct{} as a list of keys.
type setSerializer struct{}

func (setSerializer) Deserialize(t reflect.Type, n *Node) (any, error) {
	keyT := t.Key()
	ser, err := elementSerializer(n, t, keyT)
	if err != nil {
		return nil, err
	}
	children, err := listSerializer{}.elements(t, n)
	if err != nil {
		return nil, err
	}
	out := reflect.MakeMapWithSize(t, len(children))
	present := reflect.New(t.Elem()).Elem()
	for _, child := range children {
		kv, err := deserializeChild(ser, keyT, child)
		if err != nil {
			return nil, err
		}
		out.SetMapIndex(kv, present)
	}
	return out.Interface(), nil
}

func (setSerializer) Serialize(t reflect.Type, v any, n *Node) error {
	keyT := t.Key()
	ser, err := elementSerializer(n, t, keyT)
	if err != nil {
		return err
	}
	rv := reflect.ValueOf(v)
	keys := rv.MapKeys()
	slices.SortFunc(keys, func(a, b reflect.Value) int {
		return compareKeys(a.Interface(), b.Interface())
	})
	if err := n.attachIfNecessary(); err != nil {
		return err
	}
	n.replaceValue(listValue(n, len(keys)))
	for i, k := range keys {
		if err := serializeChild(ser, keyT, k, n.Node(i)); err != nil {
			return err
		}
	}
	return nil
}

func (setSerializer) EmptyValue(t reflect.Type, _ *Options) any {
	return reflect.MakeMap(t).Interface()
}

// pointerSerializer treats pointers as optional values. Nil pointers remove
// the node.
type pointerSerializer struct{}

func (pointerSerializer) Deserialize(t reflect.Type, n *Node) (any, error) {
	elemT := t.Elem()
	ser, err := elementSerializer(n, t, elemT)
	if err != nil {
		return nil, err
	}
	v, err := deserializeChild(ser, elemT, n)
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(elemT)
	ptr.Elem().Set(v)
	return ptr.Interface(), nil
}

func (pointerSerializer) Serialize(t reflect.Type, v any, n *Node) error {
	rv := reflect.ValueOf(v)
	if rv.IsNil() {
		n.detachOrClear()
		return nil
	}
	ser, err := elementSerializer(n, t, t.Elem())
	if err != nil {
		return err
	}
	return ser.Serialize(t.Elem(), rv.Elem().Interface(), n)
}

// nodeSerializer copies subtrees in and out of *Node values.
type nodeSerializer struct{}

func (nodeSerializer) Deserialize(_ reflect.Type, n *Node) (any, error) {
	return n.Copy(), nil
}

func (nodeSerializer) Serialize(_ reflect.Type, v any, n *Node) error {
	return n.From(v.(*Node))
}

// rawSerializer handles interface types by storing native values.
// Serializing dispatches on the dynamic type, which needs a serializer of
// its own.
type rawSerializer struct{}

func (rawSerializer) Deserialize(t reflect.Type, n *Node) (any, error) {
	raw := n.Raw()
	if raw != nil && t.Kind() == reflect.Interface && !reflect.TypeOf(raw).Implements(t) {
		return nil, serializationErrorf(n, t, "%T does not implement %s", raw, t)
	}
	return raw, nil
}

func (r rawSerializer) Serialize(_ reflect.Type, v any, n *Node) error {
	dynamic := reflect.TypeOf(v)
	if dynamic == nil {
		n.detachOrClear()
		return nil
	}
	ser := n.opts.serializers.Get(dynamic)
	if ser == nil {
		return &SerializationError{Path: n.Path(), pathSet: true, Type: dynamic, Err: ErrNoSerializer}
	}
	if _, isRaw := ser.(rawSerializer); isRaw {
		return n.SetRaw(v)
	}
	return ser.Serialize(dynamic, v, n)
}

// detachedScalar makes a read-only view of v as if it were n's child under
// key. It is never attached to n.
func (n *Node) detachedScalar(key, v any) *Node {
	return &Node{key: key, parent: n, opts: n.opts, value: scalarValue(v)}
}
