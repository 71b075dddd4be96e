// FILE: lixenwraith/conftree/registry.go
package conftree

import (
	"log/slog"
	"reflect"
	"sync"
)

// Resolution tiers, most specific first.
type matchTier uint8

const (
	tierExact matchTier = iota
	tierGeneric
	tierFallback
)

type matchFunc func(t reflect.Type) (tier matchTier, wildcards int, ok bool)

type registration struct {
	match      matchFunc
	serializer TypeSerializer
	desc       string
}

// resolved is a cached lookup result; serializer is nil for misses.
type resolved struct {
	serializer TypeSerializer
}

// Serializers is an immutable collection of type serializers with an optional
// parent. It is safe for concurrent use; resolved lookups are cached.
//
// Get ranks local matches by tier (exact, generic, fallback), then by the
// number of wildcard positions a generic pattern needs, then by registration
// order. The parent is consulted only when nothing local matches.
type Serializers struct {
	parent  *Serializers
	entries []registration
	cache   sync.Map // reflect.Type -> resolved
}

// SerializersBuilder accumulates registrations for a Serializers collection.
type SerializersBuilder struct {
	parent  *Serializers
	entries []registration
}

// NewSerializersBuilder returns a builder for a root collection.
func NewSerializersBuilder() *SerializersBuilder {
	return &SerializersBuilder{}
}

// ChildBuilder returns a builder for a collection that falls back to s.
func (s *Serializers) ChildBuilder() *SerializersBuilder {
	return &SerializersBuilder{parent: s}
}

// Builder returns a builder pre-populated with s's own registrations and
// the same parent.
func (s *Serializers) Builder() *SerializersBuilder {
	entries := make([]registration, len(s.entries))
	copy(entries, s.entries)
	return &SerializersBuilder{parent: s.parent, entries: entries}
}

// Parent returns the fallback collection, or nil.
func (s *Serializers) Parent() *Serializers { return s.parent }

// Get resolves the serializer for t. It returns nil when no collection in the
// chain has a match.
func (s *Serializers) Get(t reflect.Type) TypeSerializer {
	if t == nil {
		return nil
	}
	if cached, ok := s.cache.Load(t); ok {
		return cached.(resolved).serializer
	}

	var (
		best     *registration
		bestTier matchTier
		bestWild int
	)
	for i := range s.entries {
		e := &s.entries[i]
		tier, wild, ok := e.match(t)
		if !ok {
			continue
		}
		// Strictly better only; earlier registrations win ties.
		if best == nil || tier < bestTier || (tier == bestTier && wild < bestWild) {
			best, bestTier, bestWild = e, tier, wild
		}
	}

	var found TypeSerializer
	if best != nil {
		found = best.serializer
	} else if s.parent != nil {
		found = s.parent.Get(t)
	}
	s.cache.Store(t, resolved{serializer: found})
	return found
}

// Has reports whether a serializer resolves for t.
func (s *Serializers) Has(t reflect.Type) bool {
	return s.Get(t) != nil
}

// RegisterExact registers ser for t only.
func (b *SerializersBuilder) RegisterExact(t reflect.Type, ser TypeSerializer) *SerializersBuilder {
	return b.add(registration{
		serializer: ser,
		desc:       "exact " + t.String(),
		match: func(candidate reflect.Type) (matchTier, int, bool) {
			return tierExact, 0, candidate == t
		},
	})
}

// Register registers ser for t and for every type t generalizes. Within t,
// the empty interface matches any type and a non-empty interface matches its
// implementations. Composite types such as []any or map[string]any match
// element-wise. Registering any itself makes a fallback.
func (b *SerializersBuilder) Register(t reflect.Type, ser TypeSerializer) *SerializersBuilder {
	return b.add(registration{
		serializer: ser,
		desc:       t.String(),
		match: func(candidate reflect.Type) (matchTier, int, bool) {
			wild, ok := shapeMatch(t, candidate)
			switch {
			case !ok:
				return 0, 0, false
			case wild == 0:
				return tierExact, 0, true
			case isAnyType(t):
				return tierFallback, wild, true
			default:
				return tierGeneric, wild, true
			}
		},
	})
}

// RegisterKind registers ser for every type of the given kind. It ranks after
// shape registrations of the same family: a kind leaves every type
// parameter open.
func (b *SerializersBuilder) RegisterKind(k reflect.Kind, ser TypeSerializer) *SerializersBuilder {
	wild := 1
	switch k {
	case reflect.Slice, reflect.Array, reflect.Pointer, reflect.Chan:
		wild = 2
	case reflect.Map:
		wild = 3
	}
	return b.add(registration{
		serializer: ser,
		desc:       "kind " + k.String(),
		match: func(candidate reflect.Type) (matchTier, int, bool) {
			return tierGeneric, wild, candidate.Kind() == k
		},
	})
}

// RegisterFunc registers ser for every type accepted by pred, at the lowest
// specificity.
func (b *SerializersBuilder) RegisterFunc(pred func(reflect.Type) bool, ser TypeSerializer) *SerializersBuilder {
	return b.add(registration{
		serializer: ser,
		desc:       "predicate",
		match: func(candidate reflect.Type) (matchTier, int, bool) {
			return tierFallback, 0, pred(candidate)
		},
	})
}

// RegisterAll appends every local registration of other.
func (b *SerializersBuilder) RegisterAll(other *Serializers) *SerializersBuilder {
	b.entries = append(b.entries, other.entries...)
	return b
}

// Build freezes the registrations.
func (b *SerializersBuilder) Build() *Serializers {
	entries := make([]registration, len(b.entries))
	copy(entries, b.entries)
	slog.Debug("Built serializer collection.", "entries", len(entries), "chained", b.parent != nil)
	return &Serializers{parent: b.parent, entries: entries}
}

func (b *SerializersBuilder) add(r registration) *SerializersBuilder {
	slog.Debug("Registering type serializer.", "match", r.desc)
	b.entries = append(b.entries, r)
	return b
}

// RegisterType registers ser for T with Register semantics.
func RegisterType[T any](b *SerializersBuilder, ser TypeSerializer) *SerializersBuilder {
	return b.Register(reflect.TypeFor[T](), ser)
}

// RegisterTypeExact registers ser for exactly T.
func RegisterTypeExact[T any](b *SerializersBuilder, ser TypeSerializer) *SerializersBuilder {
	return b.RegisterExact(reflect.TypeFor[T](), ser)
}

var anyType = reflect.TypeFor[any]()

func isAnyType(t reflect.Type) bool {
	return t == anyType || (t.Kind() == reflect.Interface && t.NumMethod() == 0)
}

// shapeMatch reports whether candidate fits pattern and how many wildcard
// positions of pattern were needed.
func shapeMatch(pattern, candidate reflect.Type) (int, bool) {
	if pattern == candidate {
		return 0, true
	}
	if pattern.Kind() == reflect.Interface {
		if isAnyType(pattern) || candidate.Implements(pattern) {
			return 1, true
		}
		return 0, false
	}
	// Named patterns only match themselves.
	if pattern.Name() != "" || pattern.Kind() != candidate.Kind() {
		return 0, false
	}
	switch pattern.Kind() {
	case reflect.Slice, reflect.Pointer, reflect.Chan:
		return shapeMatch(pattern.Elem(), candidate.Elem())
	case reflect.Array:
		if pattern.Len() != candidate.Len() {
			return 0, false
		}
		return shapeMatch(pattern.Elem(), candidate.Elem())
	case reflect.Map:
		kw, ok := shapeMatch(pattern.Key(), candidate.Key())
		if !ok {
			return 0, false
		}
		ew, ok := shapeMatch(pattern.Elem(), candidate.Elem())
		if !ok {
			return 0, false
		}
		return kw + ew, true
	default:
		return 0, false
	}
}
