// FILE: lixenwraith/conftree/options.go
package conftree

import (
	"log/slog"
	"reflect"
	"slices"
	"sync"
)

// MapFactory orders map keys for iteration and encoding. It receives a fresh
// slice in insertion order and may reorder it in place.
type MapFactory func(keys []any) []any

// ListFactory allocates list storage.
type ListFactory func(capacity int) []*Node

// InsertionOrder keeps map keys in the order they were added.
func InsertionOrder(keys []any) []any { return keys }

// SortedKeys orders map keys by their string form, ints numerically.
func SortedKeys(keys []any) []any {
	slices.SortStableFunc(keys, compareKeys)
	return keys
}

// DefaultListFactory allocates a plain slice.
func DefaultListFactory(capacity int) []*Node {
	return make([]*Node, 0, capacity)
}

// Options is shared by every node of a tree. It is immutable: each With
// method returns a new instance, and a tree keeps the instance it was
// created with. Two nodes belong to the same tree only if they share the
// same *Options.
type Options struct {
	serializers  *Serializers
	nativeTypes  map[reflect.Type]struct{} // nil accepts every type
	mapFactory   MapFactory
	listFactory  ListFactory
	header       string
	implicitInit bool
	copyDefaults bool
	mappers      *MapperFactory
	logger       *slog.Logger
}

var (
	defaultOptionsOnce sync.Once
	defaultOptions     *Options
)

// DefaultOptions returns the shared default options.
func DefaultOptions() *Options {
	defaultOptionsOnce.Do(func() {
		defaultOptions = &Options{
			serializers: DefaultSerializers(),
			mapFactory:  InsertionOrder,
			listFactory: DefaultListFactory,
			mappers:     DefaultMapperFactory(),
		}
	})
	return defaultOptions
}

func (o *Options) clone() *Options {
	c := *o
	return &c
}

// Serializers returns the serializer collection used by the tree.
func (o *Options) Serializers() *Serializers { return o.serializers }

// Header returns the header comment written by loaders.
func (o *Options) Header() string { return o.header }

// ImplicitInitialization reports whether reading absent values yields empty
// collections and structs instead of nil.
func (o *Options) ImplicitInitialization() bool { return o.implicitInit }

// CopyDefaults reports whether defaults supplied to GetOr are written back.
func (o *Options) CopyDefaults() bool { return o.copyDefaults }

// MapperFactory returns the object mapper factory used for struct types.
func (o *Options) MapperFactory() *MapperFactory { return o.mappers }

// Logger returns the tree logger, slog.Default() when unset.
func (o *Options) Logger() *slog.Logger {
	if o.logger == nil {
		return slog.Default()
	}
	return o.logger
}

// AcceptsType reports whether values of t can be stored in the tree as is.
func (o *Options) AcceptsType(t reflect.Type) bool {
	if o.nativeTypes == nil {
		return true
	}
	_, ok := o.nativeTypes[t]
	return ok
}

// WithSerializers returns options whose serializers are a child of the current
// collection, populated by fn. Lookups fall back to the current collection.
func (o *Options) WithSerializers(fn func(b *SerializersBuilder)) *Options {
	b := o.serializers.ChildBuilder()
	fn(b)
	c := o.clone()
	c.serializers = b.Build()
	return c
}

// WithSerializerCollection replaces the serializer collection.
func (o *Options) WithSerializerCollection(s *Serializers) *Options {
	if s == o.serializers {
		return o
	}
	c := o.clone()
	c.serializers = s
	return c
}

// WithNativeTypes restricts the types stored directly in the tree. Scalar
// serializers store other values in string form. Passing no types accepts all.
func (o *Options) WithNativeTypes(types ...reflect.Type) *Options {
	c := o.clone()
	if len(types) == 0 {
		c.nativeTypes = nil
		return c
	}
	c.nativeTypes = make(map[reflect.Type]struct{}, len(types))
	for _, t := range types {
		c.nativeTypes[t] = struct{}{}
	}
	return c
}

// WithMapFactory sets the map key ordering.
func (o *Options) WithMapFactory(f MapFactory) *Options {
	if f == nil {
		f = InsertionOrder
	}
	c := o.clone()
	c.mapFactory = f
	return c
}

// WithListFactory sets the list allocator.
func (o *Options) WithListFactory(f ListFactory) *Options {
	if f == nil {
		f = DefaultListFactory
	}
	c := o.clone()
	c.listFactory = f
	return c
}

// WithHeader sets the header comment.
func (o *Options) WithHeader(header string) *Options {
	if header == o.header {
		return o
	}
	c := o.clone()
	c.header = header
	return c
}

// WithImplicitInitialization toggles implicit initialization.
func (o *Options) WithImplicitInitialization(enabled bool) *Options {
	if enabled == o.implicitInit {
		return o
	}
	c := o.clone()
	c.implicitInit = enabled
	return c
}

// WithCopyDefaults toggles writing GetOr defaults into the tree.
func (o *Options) WithCopyDefaults(enabled bool) *Options {
	if enabled == o.copyDefaults {
		return o
	}
	c := o.clone()
	c.copyDefaults = enabled
	return c
}

// WithMapperFactory sets the object mapper factory.
func (o *Options) WithMapperFactory(f *MapperFactory) *Options {
	c := o.clone()
	c.mappers = f
	return c
}

// WithLogger sets the logger.
func (o *Options) WithLogger(l *slog.Logger) *Options {
	c := o.clone()
	c.logger = l
	return c
}
