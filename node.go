// FILE: lixenwraith/conftree/node.go
package conftree

import (
	"fmt"
	"reflect"
	"slices"
)

// Node is one element of a configuration tree. It holds nothing (virtual),
// a scalar, a list of children or a map of children.
//
// A tree supports a single writer and many readers. Concurrent mutation
// without external synchronization is undefined behavior; use a Reference
// when values must be swapped while other goroutines read.
type Node struct {
	key      any
	parent   *Node
	attached bool
	opts     *Options
	value    nodeValue
	comment  string
}

// NewRoot creates an empty root node bound to opts.
// A nil opts selects DefaultOptions().
func NewRoot(opts *Options) *Node {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Node{opts: opts, attached: true}
}

func newChild(parent *Node, key any) *Node {
	return &Node{key: key, parent: parent, opts: parent.opts}
}

// Key returns the key of this node in its parent, nil for roots.
func (n *Node) Key() any { return n.key }

// Parent returns the structural parent, nil for roots.
func (n *Node) Parent() *Node { return n.parent }

// Options returns the options shared by the whole tree.
func (n *Node) Options() *Options { return n.opts }

// Path returns the keys from the root to this node.
func (n *Node) Path() Path {
	depth := 0
	for p := n; p.parent != nil; p = p.parent {
		depth++
	}
	path := make(Path, depth)
	for p := n; p.parent != nil; p = p.parent {
		depth--
		path[depth] = p.key
	}
	return path
}

// Virtual reports whether the node is not part of the tree yet.
func (n *Node) Virtual() bool { return !n.attached }

// IsNull reports whether the node holds no value.
func (n *Node) IsNull() bool { return n.value.kind == kindNull }

// IsList reports whether the node holds a list.
func (n *Node) IsList() bool { return n.value.kind == kindList }

// IsMap reports whether the node holds a map.
func (n *Node) IsMap() bool { return n.value.kind == kindMap }

// Empty reports whether the node is null, an empty string or an empty collection.
func (n *Node) Empty() bool { return n.value.empty() }

// Node navigates to a descendant. Missing nodes are returned virtual and are
// only attached to the tree once a value is written to them or below them.
func (n *Node) Node(path ...any) *Node {
	pointer := n
	for _, el := range path {
		key := normalizeKey(el)
		if child := pointer.value.child(key); child != nil {
			pointer = child
			continue
		}
		pointer = newChild(pointer, key)
	}
	return pointer
}

// NodePath navigates using a parsed Path.
func (n *Node) NodePath(p Path) *Node {
	return n.Node(p...)
}

// HasChild reports whether the path leads to an attached node. It never
// changes the tree.
func (n *Node) HasChild(path ...any) bool {
	pointer := n
	for _, el := range path {
		pointer = pointer.value.child(normalizeKey(el))
		if pointer == nil {
			return false
		}
	}
	return pointer.attached
}

// ChildrenList returns the list children, or nil if the node is not a list.
func (n *Node) ChildrenList() []*Node {
	if n.value.kind != kindList {
		return nil
	}
	return slices.Clone(n.value.list)
}

// ChildrenMap returns the map children keyed by their keys, or nil if the
// node is not a map.
func (n *Node) ChildrenMap() map[any]*Node {
	if n.value.kind != kindMap {
		return nil
	}
	out := make(map[any]*Node, len(n.value.index))
	for k, c := range n.value.index {
		out[k] = c
	}
	return out
}

// ChildrenKeys returns map keys in the order chosen by the tree's MapFactory.
func (n *Node) ChildrenKeys() []any {
	if n.value.kind != kindMap {
		return nil
	}
	return n.opts.mapFactory(slices.Clone(n.value.keys))
}

// Children returns list or map children in iteration order.
func (n *Node) Children() []*Node {
	return n.value.children(n.opts)
}

// Raw returns the node contents as native values: scalars, []any and
// map[string]any.
func (n *Node) Raw() any {
	return n.value.raw(n.opts)
}

// SetRaw stores native Go values without going through serializers.
// Maps become map nodes and slices become list nodes, recursively.
func (n *Node) SetRaw(v any) error {
	if v == nil {
		n.detachOrClear()
		return nil
	}
	if other, ok := v.(*Node); ok {
		return n.From(other)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if err := n.attachIfNecessary(); err != nil {
			return err
		}
		n.replaceValue(mapValue())
		iter := rv.MapRange()
		keys := make([]reflect.Value, 0, rv.Len())
		for iter.Next() {
			keys = append(keys, iter.Key())
		}
		// Go maps have no order; sort for a stable tree.
		slices.SortFunc(keys, func(a, b reflect.Value) int {
			return compareKeys(a.Interface(), b.Interface())
		})
		for _, k := range keys {
			if err := n.Node(k.Interface()).SetRaw(rv.MapIndex(k).Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return n.setScalar(v)
		}
		if err := n.attachIfNecessary(); err != nil {
			return err
		}
		n.replaceValue(listValue(n, rv.Len()))
		for i := 0; i < rv.Len(); i++ {
			if err := n.Node(i).SetRaw(rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	default:
		return n.setScalar(v)
	}
}

// Set stores v through the serializer registered for its dynamic type.
// A *Node argument is deep-copied into this node, nil detaches the node.
func (n *Node) Set(v any) error {
	switch val := v.(type) {
	case nil:
		n.detachOrClear()
		return nil
	case *Node:
		return n.From(val)
	}
	return n.SetAs(reflect.TypeOf(v), v)
}

// SetAs stores v using the serializer registered for t.
func (n *Node) SetAs(t reflect.Type, v any) error {
	if v == nil {
		n.detachOrClear()
		return nil
	}
	serial := n.opts.serializers.Get(t)
	if serial == nil {
		if n.opts.AcceptsType(t) && isNativeKind(t.Kind()) {
			return n.setScalar(v)
		}
		return &SerializationError{Path: n.Path(), pathSet: true, Type: t, Err: ErrNoSerializer}
	}
	return wrapSerialization(n, t, serial.Serialize(t, v, n))
}

// SetTyped stores v using the serializer registered for T, which may be an
// interface or a more general type than v's dynamic type.
func SetTyped[T any](n *Node, v T) error {
	return n.SetAs(reflect.TypeFor[T](), v)
}

// Get deserializes the node into a value of type t. A virtual node yields
// nil, or the serializer's empty value when implicit initialization is on.
func (n *Node) Get(t reflect.Type) (any, error) {
	serial := n.opts.serializers.Get(t)
	if n.value.kind == kindNull {
		if serial != nil && n.opts.implicitInit {
			if ev, ok := serial.(EmptyValuer); ok {
				if empty := ev.EmptyValue(t, n.opts); empty != nil {
					return n.storeDefault(t, empty)
				}
			}
		}
		return nil, nil
	}
	if serial == nil {
		raw := n.Raw()
		if raw != nil && reflect.TypeOf(raw).AssignableTo(t) {
			return raw, nil
		}
		return nil, &SerializationError{Path: n.Path(), pathSet: true, Type: t, Err: ErrNoSerializer}
	}
	val, err := serial.Deserialize(t, n)
	if err != nil {
		return nil, wrapSerialization(n, t, err)
	}
	return val, nil
}

// GetOr is Get with a fallback for absent values. With copy-defaults enabled,
// the fallback is written into the tree.
func (n *Node) GetOr(t reflect.Type, def any) (any, error) {
	val, err := n.Get(t)
	if err != nil {
		return nil, err
	}
	if val != nil || def == nil {
		return val, nil
	}
	return n.storeDefault(t, def)
}

func (n *Node) storeDefault(t reflect.Type, def any) (any, error) {
	if n.opts.copyDefaults {
		if err := n.SetAs(t, def); err != nil {
			return nil, err
		}
	}
	return def, nil
}

// GetAs deserializes the node into a T. Absent values yield the zero T.
func GetAs[T any](n *Node) (T, error) {
	var zero T
	v, err := n.Get(reflect.TypeFor[T]())
	if err != nil || v == nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, serializationErrorf(n, reflect.TypeFor[T](), "serializer produced %T", v)
	}
	return out, nil
}

// GetAsOr deserializes the node into a T, falling back to def when absent.
func GetAsOr[T any](n *Node, def T) (T, error) {
	var zero T
	v, err := n.GetOr(reflect.TypeFor[T](), def)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return def, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, serializationErrorf(n, reflect.TypeFor[T](), "serializer produced %T", v)
	}
	return out, nil
}

// AppendListNode turns the node into a list if it is null and returns a new
// virtual element. The element is appended when first written.
func (n *Node) AppendListNode() (*Node, error) {
	switch n.value.kind {
	case kindScalar, kindMap:
		return nil, &SerializationError{
			Path: n.Path(), pathSet: true,
			Message: fmt.Sprintf("cannot append to %s node", n.value.kind),
			Err:     ErrNotList,
		}
	case kindNull:
		if err := n.attachIfNecessary(); err != nil {
			return nil, err
		}
		n.value = listValue(n, 0)
	}
	return newChild(n, unallocatedIndex), nil
}

// RemoveChild detaches the child under key. Later list elements shift down.
func (n *Node) RemoveChild(key any) bool {
	old := n.value.removeChild(normalizeKey(key))
	if old == nil {
		return false
	}
	old.detach()
	return true
}

// Copy returns a deep copy of the subtree as a new root bound to the same options.
func (n *Node) Copy() *Node {
	root := &Node{key: n.key, opts: n.opts, attached: true, comment: n.comment}
	root.value = n.value.copyTo(root)
	return root
}

// WithOptions returns a deep copy of the subtree bound to opts.
func (n *Node) WithOptions(opts *Options) *Node {
	if opts == nil {
		opts = DefaultOptions()
	}
	root := &Node{key: n.key, opts: opts, attached: true, comment: n.comment}
	root.value = n.value.copyTo(root)
	return root
}

// From replaces this node's contents with a deep copy of other.
// A null other detaches this node.
func (n *Node) From(other *Node) error {
	if other == n {
		return nil
	}
	if other == nil || other.value.kind == kindNull {
		n.detachOrClear()
		return nil
	}
	// Copy first: other may be an ancestor of n.
	copied := other.value.copyTo(n)
	if err := n.attachIfNecessary(); err != nil {
		return err
	}
	n.replaceValue(copied)
	n.comment = other.comment
	return nil
}

// Comment returns the comment attached to the node.
func (n *Node) Comment() string { return n.comment }

// SetComment sets the node comment. Changing the comment of a virtual node
// attaches it with a null value.
func (n *Node) SetComment(comment string) *Node {
	if comment == n.comment {
		return n
	}
	if err := n.attachIfNecessary(); err != nil {
		n.opts.Logger().Debug("Comment not attached.", "path", n.Path().String(), "error", err)
		return n
	}
	n.comment = comment
	return n
}

// SetCommentIfAbsent sets the comment only when none is present.
func (n *Node) SetCommentIfAbsent(comment string) *Node {
	if n.comment == "" {
		return n.SetComment(comment)
	}
	return n
}

// Walk visits the node and its attached descendants depth first.
// Returning an error stops the walk.
func (n *Node) Walk(fn func(*Node) error) error {
	if err := fn(n); err != nil {
		return err
	}
	for _, c := range n.value.children(n.opts) {
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// setScalar stores v directly, replacing any collection.
func (n *Node) setScalar(v any) error {
	if err := n.attachIfNecessary(); err != nil {
		return err
	}
	n.replaceValue(scalarValue(v))
	return nil
}

func (n *Node) replaceValue(v nodeValue) {
	n.value.detachAll()
	n.value = v
}

// detachOrClear removes the node from its parent, or clears a root.
// Ancestors left as empty collections are pruned up to the root.
func (n *Node) detachOrClear() {
	if n.parent != nil && n.attached {
		p := n.parent
		if p.value.child(n.key) == n {
			p.value.removeChild(n.key)
		}
		n.detach()
		if p.parent != nil && p.attached && p.value.kind != kindScalar && p.value.empty() {
			p.detachOrClear()
		}
		return
	}
	n.replaceValue(nodeValue{})
}

func (n *Node) detach() {
	n.attached = false
	n.replaceValue(nodeValue{})
}

// attachIfNecessary links a virtual node and its virtual ancestors into the tree.
func (n *Node) attachIfNecessary() error {
	if n.attached {
		return nil
	}
	parent, err := n.parentEnsureAttached()
	if err != nil {
		return err
	}
	if parent == nil {
		// Detached root-like node.
		n.attached = true
		return nil
	}
	_, err = parent.attachChild(n, false)
	return err
}

// parentEnsureAttached attaches the chain of parents. If another node was
// attached under the same key meanwhile, that node becomes the parent.
func (n *Node) parentEnsureAttached() (*Node, error) {
	p := n.parent
	if p != nil && !p.attached {
		gp, err := p.parentEnsureAttached()
		if err != nil {
			return nil, err
		}
		if gp == nil {
			p.attached = true
		} else {
			p, err = gp.attachChild(p, true)
			if err != nil {
				return nil, err
			}
		}
		n.parent = p
	}
	return p, nil
}

// attachChild stores child under its key, coercing this node's value to a
// list or map as the key requires. With onlyIfAbsent an existing child wins
// and is returned.
func (n *Node) attachChild(child *Node, onlyIfAbsent bool) (*Node, error) {
	key := child.key
	_, intKey := key.(int)

	next := n.value
	switch n.value.kind {
	case kindNull:
		if intKey {
			next = listValue(n, 1)
		} else {
			next = mapValue()
		}
	case kindScalar:
		if intKey {
			next = listValue(n, 2)
			first := newChild(n, 0)
			first.attached = true
			first.value = scalarValue(n.value.scalar)
			next.list = append(next.list, first)
		} else {
			next = mapValue()
		}
	case kindList:
		if !intKey {
			next = mapValue()
		}
	case kindMap:
		if key == unallocatedIndex {
			return nil, &SerializationError{Path: n.Path(), pathSet: true, Err: ErrNotList}
		}
	}

	if err := next.canPut(key); err != nil {
		return nil, &SerializationError{
			Path: n.Path(), pathSet: true,
			Message: fmt.Sprintf("cannot attach child %v", key),
			Err:     err,
		}
	}

	if next.kind != n.value.kind {
		n.replaceValue(next)
	} else {
		n.value = next
	}
	existing, err := n.value.putChild(key, child, onlyIfAbsent)
	if err != nil {
		return nil, err
	}
	if onlyIfAbsent && existing != nil {
		return existing, nil
	}
	if existing != nil && existing != child {
		existing.detach()
	}
	child.parent = n
	child.attached = true
	return child, nil
}

// copyInto deep-copies the node as a child of holder under key.
func (n *Node) copyInto(holder *Node, key any) *Node {
	c := &Node{key: key, parent: holder, opts: holder.opts, attached: true, comment: n.comment}
	c.value = n.value.copyTo(c)
	return c
}

// normalizeKey maps integer keys of any width to int and non-comparable
// keys to their string form.
func normalizeKey(key any) any {
	switch k := key.(type) {
	case int:
		return k
	case string:
		return k
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return int(reflect.ValueOf(k).Convert(reflect.TypeFor[int64]()).Int())
	case nil:
		return ""
	}
	if !reflect.TypeOf(key).Comparable() {
		return keyString(key)
	}
	return key
}

func compareKeys(a, b any) int {
	ai, aInt := a.(int)
	bi, bInt := b.(int)
	if aInt && bInt {
		return ai - bi
	}
	as, bs := keyString(a), keyString(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func isNativeKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
