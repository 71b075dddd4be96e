// FILE: lixenwraith/conftree/merge.go
package conftree

// MergeFrom overlays other onto this node. Scalars in other overwrite,
// maps merge key by key recursively and lists are appended. Null values in
// other never clear existing values. Merging a node with one of its own
// ancestors or descendants fails with ErrMergeCycle and changes nothing.
func (n *Node) MergeFrom(other *Node) error {
	if other == nil || other == n {
		return nil
	}
	if err := checkMergeCycle(n, other); err != nil {
		return err
	}
	if other.value.kind == kindNull {
		n.SetCommentIfAbsent(other.comment)
		return nil
	}
	if err := n.attachIfNecessary(); err != nil {
		return err
	}
	n.mergeValue(other)
	return nil
}

// checkMergeCycle rejects merges between nodes on the same root path.
// A tree shares one Options instance, so the parent walk only runs when
// the identities match.
func checkMergeCycle(target, source *Node) error {
	if target.opts != source.opts {
		return nil
	}
	if isAncestor(source, target) || isAncestor(target, source) {
		return &SerializationError{
			Path:    target.Path(),
			pathSet: true,
			Message: "source " + source.Path().String() + " shares a branch with the target",
			Err:     ErrMergeCycle,
		}
	}
	return nil
}

// isAncestor reports whether a is a strict ancestor of b.
func isAncestor(a, b *Node) bool {
	for p := b.parent; p != nil; p = p.parent {
		if p == a {
			return true
		}
	}
	return false
}

// mergeValue assumes n is attached and other is not null.
func (n *Node) mergeValue(other *Node) {
	n.SetCommentIfAbsent(other.comment)

	switch other.value.kind {
	case kindScalar:
		n.replaceValue(scalarValue(other.value.scalar))

	case kindList:
		if n.value.kind != kindList {
			n.replaceValue(other.value.copyTo(n))
			return
		}
		for _, c := range other.value.list {
			// Appending at len never fails.
			_, _ = n.attachChild(c.copyInto(n, unallocatedIndex), false)
		}

	case kindMap:
		if n.value.kind != kindMap {
			n.replaceValue(other.value.copyTo(n))
			return
		}
		for _, k := range other.value.keys {
			src := other.value.index[k]
			if src.value.kind == kindNull {
				continue
			}
			if dst := n.value.child(k); dst != nil {
				dst.mergeValue(src)
				continue
			}
			_, _ = n.value.putChild(k, src.copyInto(n, k), false)
		}
	}
}
