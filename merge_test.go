// FILE: lixenwraith/conftree/merge_test.go
package conftree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawTree(t *testing.T, v any) *Node {
	t.Helper()
	root := NewRoot(nil)
	require.NoError(t, root.SetRaw(v))
	return root
}

// TestMergeFrom tests overlay semantics for each value kind
func TestMergeFrom(t *testing.T) {
	t.Run("ListsAppend", func(t *testing.T) {
		target := rawTree(t, map[string]any{"a": []any{3}})
		source := rawTree(t, map[string]any{"a": []any{1, 2}})

		require.NoError(t, target.MergeFrom(source))
		assert.Equal(t, []any{3, 1, 2}, target.Node("a").Raw())
		assert.Equal(t, []any{1, 2}, source.Node("a").Raw(), "source must be untouched")
	})

	t.Run("MapsMergeRecursively", func(t *testing.T) {
		target := rawTree(t, map[string]any{"a": map[string]any{"x": 2, "y": 3}})
		source := rawTree(t, map[string]any{"a": map[string]any{"x": 1}})

		require.NoError(t, target.MergeFrom(source))
		assert.Equal(t, map[string]any{"a": map[string]any{"x": 1, "y": 3}}, target.Raw())
	})

	t.Run("NewKeysAreCopied", func(t *testing.T) {
		target := rawTree(t, map[string]any{"a": 1})
		source := rawTree(t, map[string]any{"b": map[string]any{"c": true}})

		require.NoError(t, target.MergeFrom(source))
		assert.Equal(t, true, target.Node("b", "c").Raw())

		require.NoError(t, source.Node("b", "c").SetRaw(false))
		assert.Equal(t, true, target.Node("b", "c").Raw(), "merged children are copies")
		assert.Same(t, target, target.Node("b", "c").Parent().Parent())
	})

	t.Run("NullSourceIsSkipped", func(t *testing.T) {
		target := rawTree(t, map[string]any{"a": 1})

		require.NoError(t, target.MergeFrom(NewRoot(nil)))
		require.NoError(t, target.Node("a").MergeFrom(NewRoot(nil).Node("missing")))
		assert.Equal(t, map[string]any{"a": 1}, target.Raw())
	})

	t.Run("KindMismatchReplaces", func(t *testing.T) {
		target := rawTree(t, map[string]any{"a": []any{1}, "b": "scalar"})
		source := rawTree(t, map[string]any{"a": map[string]any{"k": "v"}, "b": []any{"x"}})

		require.NoError(t, target.MergeFrom(source))
		assert.Equal(t, map[string]any{
			"a": map[string]any{"k": "v"},
			"b": []any{"x"},
		}, target.Raw())
	})

	t.Run("ScalarOverwrites", func(t *testing.T) {
		target := rawTree(t, map[string]any{"a": map[string]any{"x": 1}})
		source := rawTree(t, map[string]any{"a": "flat"})

		require.NoError(t, target.MergeFrom(source))
		assert.Equal(t, "flat", target.Node("a").Raw())
	})

	t.Run("VirtualTargetAttaches", func(t *testing.T) {
		root := NewRoot(nil)
		source := rawTree(t, map[string]any{"x": 1})

		n := root.Node("nested", "section")
		require.NoError(t, n.MergeFrom(source))
		assert.False(t, n.Virtual())
		assert.Equal(t, 1, root.Node("nested", "section", "x").Raw())
	})

	t.Run("CommentsKeepExisting", func(t *testing.T) {
		target := rawTree(t, map[string]any{"a": 1, "b": 2})
		target.Node("a").SetComment("target comment")
		source := rawTree(t, map[string]any{"a": 5, "b": 6})
		source.Node("a").SetComment("source comment")
		source.Node("b").SetComment("only in source")

		require.NoError(t, target.MergeFrom(source))
		assert.Equal(t, "target comment", target.Node("a").Comment())
		assert.Equal(t, "only in source", target.Node("b").Comment())
	})

	t.Run("SelfIsNoop", func(t *testing.T) {
		target := rawTree(t, map[string]any{"a": []any{1}})
		require.NoError(t, target.MergeFrom(target))
		require.NoError(t, target.MergeFrom(nil))
		assert.Equal(t, []any{1}, target.Node("a").Raw())
	})
}

// TestMergeCycle tests that merging along one branch is rejected up front
func TestMergeCycle(t *testing.T) {
	t.Run("DescendantFromAncestor", func(t *testing.T) {
		root := rawTree(t, map[string]any{"a": map[string]any{"b": []any{1}}})
		before := root.Raw()

		err := root.Node("a").MergeFrom(root)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMergeCycle)

		var se *SerializationError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, Path{"a"}, se.Path)
		assert.Equal(t, before, root.Raw())
	})

	t.Run("AncestorFromDescendant", func(t *testing.T) {
		root := rawTree(t, map[string]any{"a": map[string]any{"b": []any{1}}})
		before := root.Raw()

		err := root.MergeFrom(root.Node("a", "b"))
		assert.ErrorIs(t, err, ErrMergeCycle)
		assert.Equal(t, before, root.Raw())
	})

	t.Run("SiblingsAreAllowed", func(t *testing.T) {
		root := rawTree(t, map[string]any{
			"a": map[string]any{"x": 1},
			"b": map[string]any{"y": 2},
		})

		require.NoError(t, root.Node("a").MergeFrom(root.Node("b")))
		assert.Equal(t, map[string]any{"x": 1, "y": 2}, root.Node("a").Raw())
		assert.Equal(t, map[string]any{"y": 2}, root.Node("b").Raw())
	})

	t.Run("SeparateTrees", func(t *testing.T) {
		opts := DefaultOptions()
		one := NewRoot(opts)
		two := NewRoot(opts)
		require.NoError(t, one.Node("k").SetRaw("v"))
		require.NoError(t, two.Node("k").SetRaw("w"))

		require.NoError(t, one.MergeFrom(two))
		assert.Equal(t, "w", one.Node("k").Raw())
	})
}
