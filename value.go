// FILE: lixenwraith/conftree/value.go
package conftree

import (
	"slices"
)

// unallocatedIndex is the key of a list child whose position is decided
// when it is attached (always appended).
const unallocatedIndex = -1

type valueKind uint8

const (
	kindNull valueKind = iota
	kindScalar
	kindList
	kindMap
)

func (k valueKind) String() string {
	switch k {
	case kindNull:
		return "null"
	case kindScalar:
		return "scalar"
	case kindList:
		return "list"
	case kindMap:
		return "map"
	default:
		return "unknown"
	}
}

// nodeValue is the storage behind a single node. Exactly one of scalar,
// list or keys/index is meaningful, selected by kind.
type nodeValue struct {
	kind   valueKind
	scalar any
	list   []*Node
	keys   []any // insertion order
	index  map[any]*Node
}

func scalarValue(v any) nodeValue {
	return nodeValue{kind: kindScalar, scalar: v}
}

func listValue(holder *Node, capacity int) nodeValue {
	return nodeValue{kind: kindList, list: holder.opts.listFactory(capacity)}
}

func mapValue() nodeValue {
	return nodeValue{kind: kindMap, index: make(map[any]*Node)}
}

// child returns the attached child stored under key, or nil.
func (v *nodeValue) child(key any) *Node {
	switch v.kind {
	case kindList:
		idx, ok := key.(int)
		if !ok || idx < 0 || idx >= len(v.list) {
			return nil
		}
		return v.list[idx]
	case kindMap:
		return v.index[key]
	default:
		return nil
	}
}

// canPut reports whether a child with key could be stored without error.
func (v *nodeValue) canPut(key any) error {
	if v.kind != kindList {
		return nil
	}
	idx, ok := key.(int)
	if !ok {
		return nil
	}
	if idx == unallocatedIndex || (idx >= 0 && idx <= len(v.list)) {
		return nil
	}
	return ErrIndexOutOfRange
}

// putChild stores child under key and returns the replaced child, if any.
// For lists, the unallocated index and len(list) append.
func (v *nodeValue) putChild(key any, child *Node, onlyIfAbsent bool) (*Node, error) {
	switch v.kind {
	case kindList:
		idx, ok := key.(int)
		if !ok {
			return nil, ErrNotList
		}
		switch {
		case idx == unallocatedIndex || idx == len(v.list):
			v.list = append(v.list, child)
			child.key = len(v.list) - 1
			return nil, nil
		case idx >= 0 && idx < len(v.list):
			old := v.list[idx]
			if onlyIfAbsent {
				return old, nil
			}
			v.list[idx] = child
			return old, nil
		default:
			return nil, ErrIndexOutOfRange
		}
	case kindMap:
		old, exists := v.index[key]
		if exists && onlyIfAbsent {
			return old, nil
		}
		if !exists {
			v.keys = append(v.keys, key)
		}
		v.index[key] = child
		return old, nil
	default:
		return nil, ErrNotList
	}
}

// removeChild drops the child under key. Later list elements are re-keyed.
func (v *nodeValue) removeChild(key any) *Node {
	switch v.kind {
	case kindList:
		idx, ok := key.(int)
		if !ok || idx < 0 || idx >= len(v.list) {
			return nil
		}
		old := v.list[idx]
		v.list = slices.Delete(v.list, idx, idx+1)
		for i := idx; i < len(v.list); i++ {
			v.list[i].key = i
		}
		return old
	case kindMap:
		old, exists := v.index[key]
		if !exists {
			return nil
		}
		delete(v.index, key)
		if i := slices.Index(v.keys, key); i >= 0 {
			v.keys = slices.Delete(v.keys, i, i+1)
		}
		return old
	default:
		return nil
	}
}

// children returns attached children in iteration order.
func (v *nodeValue) children(opts *Options) []*Node {
	switch v.kind {
	case kindList:
		return slices.Clone(v.list)
	case kindMap:
		keys := opts.mapFactory(slices.Clone(v.keys))
		out := make([]*Node, 0, len(keys))
		for _, k := range keys {
			out = append(out, v.index[k])
		}
		return out
	default:
		return nil
	}
}

func (v *nodeValue) empty() bool {
	switch v.kind {
	case kindNull:
		return true
	case kindScalar:
		s, isString := v.scalar.(string)
		return isString && s == ""
	case kindList:
		return len(v.list) == 0
	case kindMap:
		return len(v.index) == 0
	default:
		return true
	}
}

// copyTo deep-copies the value for a new holder node.
func (v *nodeValue) copyTo(holder *Node) nodeValue {
	switch v.kind {
	case kindScalar:
		return scalarValue(v.scalar)
	case kindList:
		out := listValue(holder, len(v.list))
		for i, c := range v.list {
			out.list = append(out.list, c.copyInto(holder, i))
		}
		return out
	case kindMap:
		out := mapValue()
		for _, k := range v.keys {
			out.keys = append(out.keys, k)
			out.index[k] = v.index[k].copyInto(holder, k)
		}
		return out
	default:
		return nodeValue{}
	}
}

// raw projects the value onto native Go values. Map keys are stringified.
func (v *nodeValue) raw(opts *Options) any {
	switch v.kind {
	case kindScalar:
		return v.scalar
	case kindList:
		out := make([]any, 0, len(v.list))
		for _, c := range v.list {
			out = append(out, c.value.raw(opts))
		}
		return out
	case kindMap:
		out := make(map[string]any, len(v.index))
		for _, k := range v.keys {
			out[keyString(k)] = v.index[k].value.raw(opts)
		}
		return out
	default:
		return nil
	}
}

// detachAll marks every child detached and clears it.
func (v *nodeValue) detachAll() {
	switch v.kind {
	case kindList:
		for _, c := range v.list {
			c.detach()
		}
	case kindMap:
		for _, c := range v.index {
			c.detach()
		}
	}
}
