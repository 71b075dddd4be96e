// FILE: lixenwraith/conftree/mapperfactory.go
package conftree

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
)

// DefaultTagName is the struct tag read by the struct discoverer.
const DefaultTagName = "conf"

// MapperFactory builds and caches object mappers. Mappers are cached per
// type and serializer collection. Concurrent first requests for the same
// key share one build; if two builds do race, the last one stored wins and
// both results are valid.
type MapperFactory struct {
	discoverers []FieldDiscoverer
	naming      NamingScheme
	tagName     string
	constraints map[string]ConstraintFactory
	processors  map[string]ProcessorFactory
	logger      *slog.Logger

	cache sync.Map // mapperKey -> *ObjectMapper
	group singleflight.Group
}

type mapperKey struct {
	typ         reflect.Type
	serializers *Serializers
}

// MapperFactoryBuilder configures a MapperFactory.
type MapperFactoryBuilder struct {
	discoverers []FieldDiscoverer
	naming      NamingScheme
	tagName     string
	constraints map[string]ConstraintFactory
	processors  map[string]ProcessorFactory
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewMapperFactoryBuilder returns a builder with the default constraints
// (validate, matches) and processors (comment).
func NewMapperFactoryBuilder() *MapperFactoryBuilder {
	return &MapperFactoryBuilder{
		naming:      LowerCaseDashed,
		tagName:     DefaultTagName,
		constraints: map[string]ConstraintFactory{"matches": MatchesConstraint},
		processors:  map[string]ProcessorFactory{"comment": CommentProcessor},
	}
}

// AddDiscoverer registers a discoverer consulted before the struct
// discoverer.
func (b *MapperFactoryBuilder) AddDiscoverer(d FieldDiscoverer) *MapperFactoryBuilder {
	b.discoverers = append(b.discoverers, d)
	return b
}

// WithNamingScheme sets the scheme for fields without an explicit name.
func (b *MapperFactoryBuilder) WithNamingScheme(n NamingScheme) *MapperFactoryBuilder {
	b.naming = n
	return b
}

// WithTagName sets the struct tag holding field names and options.
func (b *MapperFactoryBuilder) WithTagName(tag string) *MapperFactoryBuilder {
	b.tagName = tag
	return b
}

// AddConstraint registers a constraint for a struct tag key.
func (b *MapperFactoryBuilder) AddConstraint(tag string, f ConstraintFactory) *MapperFactoryBuilder {
	b.constraints[tag] = f
	return b
}

// AddProcessor registers a processor for a struct tag key.
func (b *MapperFactoryBuilder) AddProcessor(tag string, f ProcessorFactory) *MapperFactoryBuilder {
	b.processors[tag] = f
	return b
}

// WithValidator sets the validator behind the validate tag. Useful for
// custom validations registered on v.
func (b *MapperFactoryBuilder) WithValidator(v *validator.Validate) *MapperFactoryBuilder {
	b.validate = v
	return b
}

// WithLogger sets the logger for build events.
func (b *MapperFactoryBuilder) WithLogger(l *slog.Logger) *MapperFactoryBuilder {
	b.logger = l
	return b
}

// Build creates the factory.
func (b *MapperFactoryBuilder) Build() *MapperFactory {
	v := b.validate
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	constraints := make(map[string]ConstraintFactory, len(b.constraints)+1)
	constraints["validate"] = ValidateConstraint(v)
	for k, f := range b.constraints {
		constraints[k] = f
	}
	processors := make(map[string]ProcessorFactory, len(b.processors))
	for k, f := range b.processors {
		processors[k] = f
	}
	return &MapperFactory{
		discoverers: append([]FieldDiscoverer(nil), b.discoverers...),
		naming:      b.naming,
		tagName:     b.tagName,
		constraints: constraints,
		processors:  processors,
		logger:      b.logger,
	}
}

var (
	defaultMapperFactoryOnce sync.Once
	defaultMapperFactory     *MapperFactory
)

// DefaultMapperFactory returns the shared factory with default settings.
func DefaultMapperFactory() *MapperFactory {
	defaultMapperFactoryOnce.Do(func() {
		defaultMapperFactory = NewMapperFactoryBuilder().Build()
	})
	return defaultMapperFactory
}

func (f *MapperFactory) log() *slog.Logger {
	if f.logger == nil {
		return slog.Default()
	}
	return f.logger
}

// Get returns the mapper for t whose field serializers resolve from s.
// Build errors, such as a field type without a serializer, are returned on
// every call and never cached.
func (f *MapperFactory) Get(t reflect.Type, s *Serializers) (*ObjectMapper, error) {
	key := mapperKey{typ: t, serializers: s}
	if m, ok := f.cache.Load(key); ok {
		return m.(*ObjectMapper), nil
	}
	// Function-local types share a name, so key on type identity.
	flightKey := fmt.Sprintf("%p|%p", s, t)
	v, err, _ := f.group.Do(flightKey, func() (any, error) {
		if m, ok := f.cache.Load(key); ok {
			return m, nil
		}
		m, err := f.build(t, s)
		if err != nil {
			return nil, err
		}
		f.cache.Store(key, m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ObjectMapper), nil
}

func (f *MapperFactory) build(t reflect.Type, s *Serializers) (*ObjectMapper, error) {
	cfg := DiscoveryConfig{Naming: f.naming, TagName: f.tagName}

	var discovery *Discovery
	for _, d := range f.discoverers {
		found, err := d.Discover(t, cfg)
		if err != nil {
			return nil, &SerializationError{Type: t, Message: "field discovery failed", Err: err}
		}
		if found == nil {
			continue
		}
		if discovery != nil {
			return nil, &SerializationError{Type: t, Err: ErrAmbiguousDiscoverer}
		}
		discovery = found
	}
	if discovery == nil {
		found, err := structDiscoverer{}.Discover(t, cfg)
		if err != nil {
			return nil, &SerializationError{Type: t, Message: "field discovery failed", Err: err}
		}
		if found == nil {
			return nil, &SerializationError{Type: t, Message: "no field discoverer applies", Err: ErrNoSerializer}
		}
		discovery = found
	}

	m := &ObjectMapper{typ: t, factory: discovery.Factory}
	var errs []error
	for _, df := range discovery.Fields {
		mf := &mappedField{DiscoveredField: df, serializer: s.Get(df.Type)}
		if mf.serializer == nil {
			errs = append(errs, &SerializationError{Type: df.Type, Field: df.Name, Err: ErrNoSerializer})
			continue
		}
		if err := f.bindTags(mf); err != nil {
			errs = append(errs, &SerializationError{Type: df.Type, Field: df.Name, Err: err})
			continue
		}
		m.fields = append(m.fields, mf)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to build mapper for %s: %w", t, errors.Join(errs...))
	}

	f.log().Debug("Built object mapper.", "type", t.String(), "fields", len(m.fields))
	return m, nil
}

// bindTags creates constraints and processors in tag declaration order.
func (f *MapperFactory) bindTags(mf *mappedField) error {
	for _, key := range tagKeys(mf.Tag) {
		value := mf.Tag.Get(key)
		if cf, ok := f.constraints[key]; ok {
			c, err := cf(value, mf.Type)
			if err != nil {
				return fmt.Errorf("%s constraint: %w", key, err)
			}
			mf.constraints = append(mf.constraints, namedConstraint{tag: key, check: c})
		}
		if pf, ok := f.processors[key]; ok {
			p, err := pf(value, mf.Type)
			if err != nil {
				return fmt.Errorf("%s processor: %w", key, err)
			}
			mf.processors = append(mf.processors, p)
		}
	}
	return nil
}
