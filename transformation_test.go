// FILE: lixenwraith/conftree/transformation_test.go
package conftree

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTransformation tests path actions, wildcards and move strategies
func TestTransformation(t *testing.T) {
	t.Run("RenameKey", func(t *testing.T) {
		root := rawTree(t, map[string]any{"server": map[string]any{"port": 80}})
		xf := NewTransformation().AddAction(Path{"server", "port"}, RenameTo("listen")).Build()

		require.NoError(t, xf.Apply(root))
		assert.False(t, root.HasChild("server", "port"))
		assert.Equal(t, 80, root.Node("server", "listen").Int(0))
	})

	t.Run("WildcardOverMap", func(t *testing.T) {
		root := rawTree(t, map[string]any{
			"backends": map[string]any{
				"a": map[string]any{"host": "10.0.0.1"},
				"b": map[string]any{"host": "10.0.0.2"},
			},
		})
		var visited []string
		xf := NewTransformation().
			AddAction(Path{"backends", Wildcard, "host"}, func(path Path, n *Node) (Path, error) {
				visited = append(visited, path.String())
				return RenameTo("address")(path, n)
			}).
			Build()

		require.NoError(t, xf.Apply(root))
		assert.ElementsMatch(t, []string{"backends.a.host", "backends.b.host"}, visited)
		assert.Equal(t, "10.0.0.1", root.Node("backends", "a", "address").String(""))
		assert.Equal(t, "10.0.0.2", root.Node("backends", "b", "address").String(""))
		assert.False(t, root.HasChild("backends", "a", "host"))
	})

	t.Run("WildcardOverList", func(t *testing.T) {
		root := rawTree(t, map[string]any{"ports": []any{80, 443, 8080}})
		var indexes []any
		xf := NewTransformation().
			AddAction(Path{"ports", Wildcard}, func(path Path, n *Node) (Path, error) {
				indexes = append(indexes, path[1])
				return nil, n.Set(n.Int(0) + 1)
			}).
			Build()

		require.NoError(t, xf.Apply(root))
		assert.Equal(t, []any{0, 1, 2}, indexes)
		assert.Equal(t, 444, root.Node("ports", 1).Int(0))
	})

	t.Run("MissingPathSkipped", func(t *testing.T) {
		root := rawTree(t, map[string]any{"a": 1})
		called := false
		xf := NewTransformation().
			AddAction(Path{"b", Wildcard}, func(Path, *Node) (Path, error) {
				called = true
				return nil, nil
			}).
			Build()

		require.NoError(t, xf.Apply(root))
		assert.False(t, called)
		assert.False(t, root.HasChild("b"), "navigation never attaches")
	})

	t.Run("ActionOrder", func(t *testing.T) {
		root := rawTree(t, map[string]any{"a": map[string]any{"b": 1}, "c": 2})
		var order []string
		record := func(path Path, _ *Node) (Path, error) {
			order = append(order, path.String())
			return nil, nil
		}
		xf := NewTransformation().
			AddAction(Path{Wildcard}, record).
			AddAction(Path{"a"}, record).
			AddAction(Path{"a", "b"}, record).
			Build()

		require.NoError(t, xf.Apply(root))
		require.Len(t, order, 4)
		assert.Equal(t, []string{"a.b", "a"}, order[:2])
		assert.ElementsMatch(t, []string{"a", "c"}, order[2:])
	})

	t.Run("EqualPatternReplaces", func(t *testing.T) {
		root := rawTree(t, map[string]any{"mode": "old"})
		xf := NewTransformation().
			AddAction(Path{"mode"}, SetValue("first")).
			AddAction(Path{"mode"}, SetValue("second")).
			Build()

		require.NoError(t, xf.Apply(root))
		assert.Equal(t, "second", root.Node("mode").String(""))
	})

	t.Run("MoveOverwrite", func(t *testing.T) {
		root := rawTree(t, map[string]any{
			"old": map[string]any{"x": 1},
			"new": map[string]any{"y": 2},
		})
		xf := NewTransformation().AddAction(Path{"old"}, MoveTo("new")).Build()

		require.NoError(t, xf.Apply(root))
		assert.False(t, root.HasChild("old"))
		assert.Equal(t, 1, root.Node("new", "x").Int(0))
		assert.False(t, root.HasChild("new", "y"))
	})

	t.Run("MoveMerge", func(t *testing.T) {
		root := rawTree(t, map[string]any{
			"old": map[string]any{"x": 1},
			"new": map[string]any{"y": 2},
		})
		xf := NewTransformation().
			WithMoveStrategy(MoveMerge).
			AddAction(Path{"old"}, MoveTo("new")).
			Build()

		require.NoError(t, xf.Apply(root))
		assert.False(t, root.HasChild("old"))
		assert.Equal(t, 1, root.Node("new", "x").Int(0))
		assert.Equal(t, 2, root.Node("new", "y").Int(0))
	})

	t.Run("RemoveNode", func(t *testing.T) {
		root := rawTree(t, map[string]any{"legacy": true, "keep": 1})
		xf := NewTransformation().AddAction(Path{"legacy"}, RemoveNode()).Build()

		require.NoError(t, xf.Apply(root))
		assert.False(t, root.HasChild("legacy"))
		assert.True(t, root.HasChild("keep"))
	})

	t.Run("ActionError", func(t *testing.T) {
		root := rawTree(t, map[string]any{"a": map[string]any{"b": 1}})
		boom := errors.New("boom")
		xf := NewTransformation().
			AddAction(Path{"a", "b"}, func(Path, *Node) (Path, error) { return nil, boom }).
			Build()

		err := xf.Apply(root)
		require.ErrorIs(t, err, boom)
		var se *SerializationError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, Path{"a", "b"}, se.Path)
	})

	t.Run("Chain", func(t *testing.T) {
		root := rawTree(t, map[string]any{"a": 1})
		xf := Chain(
			NewTransformation().AddAction(Path{"a"}, RenameTo("b")).Build(),
			NewTransformation().AddAction(Path{"b"}, RenameTo("c")).Build(),
		)

		require.NoError(t, xf.Apply(root))
		assert.False(t, root.HasChild("a"))
		assert.False(t, root.HasChild("b"))
		assert.Equal(t, 1, root.Node("c").Int(0))
	})
}

// TestVersionedTransformation tests ordered upgrades keyed by a version node
func TestVersionedTransformation(t *testing.T) {
	newVersioned := func() *VersionedBuilder {
		return NewVersionedTransformation().
			AddVersion(3, TransformFunc(func(root *Node) error { return root.Node("added").Set("v3") })).
			AddVersion(1, NewTransformation().AddAction(Path{"name"}, SetValue("v1")).Build()).
			AddVersion(2, NewTransformation().AddAction(Path{"name"}, RenameTo("title")).Build())
	}

	t.Run("AppliesNewerVersions", func(t *testing.T) {
		root := rawTree(t, map[string]any{"version": 1, "name": "svc"})

		require.NoError(t, newVersioned().Build().Apply(root))
		assert.Equal(t, "svc", root.Node("title").String(""), "version 1 already applied")
		assert.Equal(t, "v3", root.Node("added").String(""))
		assert.Equal(t, 3, root.Node("version").Int(0))
	})

	t.Run("MissingVersionRunsAll", func(t *testing.T) {
		root := rawTree(t, map[string]any{"name": "svc"})

		require.NoError(t, newVersioned().Build().Apply(root))
		assert.Equal(t, "v1", root.Node("title").String(""))
		assert.Equal(t, 3, root.Node("version").Int(0))
	})

	t.Run("CurrentVersionUntouched", func(t *testing.T) {
		root := rawTree(t, map[string]any{"version": 3, "name": "svc"})

		require.NoError(t, newVersioned().Build().Apply(root))
		assert.Equal(t, "svc", root.Node("name").String(""))
		assert.False(t, root.HasChild("added"))
	})

	t.Run("CustomVersionKey", func(t *testing.T) {
		root := rawTree(t, map[string]any{"name": "svc"})

		xf := newVersioned().WithVersionKey("meta", "schema").Build()
		require.NoError(t, xf.Apply(root))
		assert.Equal(t, 3, root.Node("meta", "schema").Int(0))
		assert.False(t, root.HasChild("version"))
	})

	t.Run("FailedVersionStops", func(t *testing.T) {
		root := rawTree(t, map[string]any{"version": 1})
		boom := errors.New("boom")
		xf := NewVersionedTransformation().
			AddVersion(2, TransformFunc(func(*Node) error { return boom })).
			AddVersion(3, NewTransformation().AddAction(Path{"version"}, SetValue(99)).Build()).
			Build()

		err := xf.Apply(root)
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "version 2")
		assert.Equal(t, 1, root.Node("version").Int(0))
	})

	t.Run("ThroughReferenceUpdate", func(t *testing.T) {
		seed := rawTree(t, map[string]any{"version": 0, "timeout": "5s"})
		ref, err := NewReference(NewMemoryLoader(seed))
		require.NoError(t, err)
		t.Cleanup(func() { ref.Close() })

		xf := NewVersionedTransformation().
			AddVersion(1, NewTransformation().AddAction(Path{"timeout"}, MoveTo("http", "timeout")).Build()).
			Build()
		require.NoError(t, ref.Update(xf.Apply))
		assert.Equal(t, "5s", ref.Node().Node("http", "timeout").String(""))
		assert.Equal(t, 1, ref.Node().Node("version").Int(0))
		assert.True(t, ref.Dirty())
	})
}
