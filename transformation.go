// FILE: lixenwraith/conftree/transformation.go
package conftree

import (
	"fmt"
	"maps"
	"slices"
)

// Wildcard matches every child of a list or map when used as an element of
// a transformation path.
var Wildcard any = wildcard{}

type wildcard struct{}

func (wildcard) String() string { return "*" }

// TransformAction visits the node at a matched path. Wildcard elements of
// the pattern are replaced by the concrete keys of the visited node. A nil
// result keeps the node in place; any other path moves the node there.
// The path slice is only valid during the call.
type TransformAction func(path Path, value *Node) (Path, error)

// MoveStrategy controls how a moved node lands on its destination.
type MoveStrategy int

const (
	// MoveOverwrite replaces the destination with the moved node.
	MoveOverwrite MoveStrategy = iota
	// MoveMerge merges the moved node into the destination.
	MoveMerge
)

// Transformation rewrites a configuration tree in place.
type Transformation interface {
	Apply(root *Node) error
}

// TransformFunc adapts a function to the Transformation interface.
type TransformFunc func(root *Node) error

// Apply calls f(root).
func (f TransformFunc) Apply(root *Node) error { return f(root) }

type pathAction struct {
	pattern Path
	action  TransformAction
}

// TransformationBuilder collects path actions for a single transformation.
type TransformationBuilder struct {
	actions  []pathAction
	strategy MoveStrategy
}

// NewTransformation starts a transformation with the MoveOverwrite strategy.
func NewTransformation() *TransformationBuilder {
	return &TransformationBuilder{strategy: MoveOverwrite}
}

// AddAction registers action for every node matching pattern. Adding a
// second action for an equal pattern replaces the first.
func (b *TransformationBuilder) AddAction(pattern Path, action TransformAction) *TransformationBuilder {
	pattern = slices.Clone(pattern)
	for i := range pattern {
		if pattern[i] != Wildcard {
			pattern[i] = normalizeKey(pattern[i])
		}
	}
	for i, existing := range b.actions {
		if comparePatterns(existing.pattern, pattern) == 0 {
			b.actions[i].action = action
			return b
		}
	}
	b.actions = append(b.actions, pathAction{pattern: pattern, action: action})
	return b
}

// WithMoveStrategy sets how moved nodes are written to their destination.
func (b *TransformationBuilder) WithMoveStrategy(strategy MoveStrategy) *TransformationBuilder {
	b.strategy = strategy
	return b
}

// Build returns the transformation. Actions run in pattern order: concrete
// keys before wildcards, and deeper paths before their prefixes.
func (b *TransformationBuilder) Build() Transformation {
	actions := slices.Clone(b.actions)
	slices.SortStableFunc(actions, func(x, y pathAction) int {
		return comparePatterns(x.pattern, y.pattern)
	})
	return &pathTransformation{actions: actions, strategy: b.strategy}
}

// comparePatterns orders patterns element by element. Wildcards sort after
// concrete keys and longer patterns sort before their prefixes.
func comparePatterns(a, b Path) int {
	for i := 0; i < min(len(a), len(b)); i++ {
		aWild, bWild := a[i] == Wildcard, b[i] == Wildcard
		switch {
		case aWild && bWild:
			continue
		case aWild:
			return 1
		case bWild:
			return -1
		}
		if c := compareKeys(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(b) - len(a)
}

type pathTransformation struct {
	actions  []pathAction
	strategy MoveStrategy
}

func (t *pathTransformation) Apply(root *Node) error {
	for _, pa := range t.actions {
		path := slices.Clone(pa.pattern)
		if err := t.visit(root, path, 0, root, pa.action); err != nil {
			return err
		}
	}
	return nil
}

// visit walks pattern from idx, expanding wildcards over a snapshot of the
// children so actions may move or remove the node they visit.
func (t *pathTransformation) visit(root *Node, path Path, idx int, n *Node, action TransformAction) error {
	for i := idx; i < len(path); i++ {
		if path[i] != Wildcard {
			n = n.Node(path[i])
			if n.Virtual() {
				return nil
			}
			continue
		}
		for _, child := range n.Children() {
			path[i] = child.Key()
			if err := t.visit(root, path, i+1, child, action); err != nil {
				return err
			}
		}
		path[i] = Wildcard
		return nil
	}

	target, err := action(path, n)
	if err != nil {
		return &SerializationError{Path: slices.Clone(path), pathSet: true, Message: "transform action failed", Err: err}
	}
	if target == nil || pathsEqual(path, target) {
		return nil
	}
	return t.move(root, path, n, target)
}

func (t *pathTransformation) move(root *Node, from Path, n *Node, to Path) error {
	dest := root.Node(to...)
	var err error
	switch t.strategy {
	case MoveMerge:
		err = dest.MergeFrom(n)
	default:
		err = dest.From(n)
	}
	if err != nil {
		return &SerializationError{Path: slices.Clone(to), pathSet: true, Message: fmt.Sprintf("cannot move %s", from), Err: err}
	}
	n.detachOrClear()
	root.opts.Logger().Debug("Moved configuration node.", "from", from.String(), "to", to.String())
	return nil
}

func pathsEqual(a, b Path) bool {
	return slices.EqualFunc(a, b, func(x, y any) bool {
		return normalizeKey(x) == normalizeKey(y)
	})
}

// Chain runs transformations in order, stopping at the first error.
func Chain(transformations ...Transformation) Transformation {
	chained := slices.Clone(transformations)
	return TransformFunc(func(root *Node) error {
		for _, t := range chained {
			if err := t.Apply(root); err != nil {
				return err
			}
		}
		return nil
	})
}

// RenameTo returns an action moving the node to a sibling named key.
func RenameTo(key any) TransformAction {
	return func(path Path, _ *Node) (Path, error) {
		if len(path) == 0 {
			return nil, nil
		}
		out := slices.Clone(path)
		out[len(out)-1] = key
		return out, nil
	}
}

// MoveTo returns an action moving the node to an absolute path.
func MoveTo(path ...any) TransformAction {
	dest := Path(slices.Clone(path))
	return func(Path, *Node) (Path, error) {
		return dest, nil
	}
}

// RemoveNode returns an action detaching the visited node.
func RemoveNode() TransformAction {
	return func(_ Path, n *Node) (Path, error) {
		n.detachOrClear()
		return nil, nil
	}
}

// SetValue returns an action storing v on the visited node.
func SetValue(v any) TransformAction {
	return func(_ Path, n *Node) (Path, error) {
		return nil, n.Set(v)
	}
}

// DefaultVersionKey is the node holding the schema version.
var DefaultVersionKey = Path{"version"}

// VersionedBuilder collects per-version transformations.
type VersionedBuilder struct {
	versionKey Path
	versions   map[int]Transformation
}

// NewVersionedTransformation starts a versioned transformation keyed by
// DefaultVersionKey.
func NewVersionedTransformation() *VersionedBuilder {
	return &VersionedBuilder{
		versionKey: slices.Clone(DefaultVersionKey),
		versions:   make(map[int]Transformation),
	}
}

// WithVersionKey sets the path of the version node.
func (b *VersionedBuilder) WithVersionKey(path ...any) *VersionedBuilder {
	b.versionKey = Path(slices.Clone(path))
	return b
}

// AddVersion registers the transformation that upgrades a tree to version.
func (b *VersionedBuilder) AddVersion(version int, t Transformation) *VersionedBuilder {
	b.versions[version] = t
	return b
}

// Build returns the versioned transformation.
func (b *VersionedBuilder) Build() Transformation {
	return &versionedTransformation{
		versionKey: slices.Clone(b.versionKey),
		versions:   maps.Clone(b.versions),
	}
}

type versionedTransformation struct {
	versionKey Path
	versions   map[int]Transformation
}

// Apply runs every version newer than the stored one in ascending order,
// then records the last version reached. A missing version node counts
// as -1.
func (t *versionedTransformation) Apply(root *Node) error {
	versionNode := root.Node(t.versionKey...)
	current := versionNode.Int(-1)
	start := current
	for _, version := range slices.Sorted(maps.Keys(t.versions)) {
		if version <= current {
			continue
		}
		if err := t.versions[version].Apply(root); err != nil {
			return fmt.Errorf("upgrade to version %d: %w", version, err)
		}
		current = version
	}
	if current != start {
		root.opts.Logger().Debug("Upgraded configuration.", "from", start, "to", current)
	}
	// Re-resolve: a version action may have replaced the node.
	return root.Node(t.versionKey...).Set(current)
}
