// FILE: lixenwraith/conftree/builder.go
package conftree

import (
	"errors"
	"fmt"
	"os"
	"reflect"
)

// Builder provides a fluent interface for building a layered configuration
// Reference from defaults, a file, environment variables and arguments.
type Builder struct {
	opts       LoadOptions
	nodeOpts   *Options
	defaults   any
	file       string
	format     Format
	security   *SecurityOptions
	args       []string
	err        error
	validators []ValidatorFunc
}

// NewBuilder creates a new configuration builder
func NewBuilder() *Builder {
	return &Builder{
		opts:       DefaultLoadOptions(),
		nodeOpts:   DefaultOptions(),
		format:     FormatAuto,
		args:       os.Args[1:],
		validators: make([]ValidatorFunc, 0),
	}
}

// WithDefaults sets the default layer: a *Node, or a struct (or pointer to
// one) saved through the object mapper.
func (b *Builder) WithDefaults(defaults any) *Builder {
	b.defaults = defaults
	return b
}

// WithOptions sets the node options of the built tree.
func (b *Builder) WithOptions(opts *Options) *Builder {
	if opts != nil {
		b.nodeOpts = opts
	}
	return b
}

// WithEnvPrefix sets the environment variable prefix
func (b *Builder) WithEnvPrefix(prefix string) *Builder {
	b.opts.EnvPrefix = prefix
	return b
}

// WithFile sets the configuration file path
func (b *Builder) WithFile(path string) *Builder {
	b.file = path
	return b
}

// WithFormat fixes the file format instead of detecting it
func (b *Builder) WithFormat(format string) *Builder {
	f, err := ParseFormat(format)
	if err != nil {
		b.err = err
		return b
	}
	b.format = f
	return b
}

// WithSecurity applies file restrictions to the configuration file
func (b *Builder) WithSecurity(sec *SecurityOptions) *Builder {
	b.security = sec
	return b
}

// WithArgs sets the command-line arguments
func (b *Builder) WithArgs(args []string) *Builder {
	b.args = args
	return b
}

// WithSources sets the precedence order for configuration sources
func (b *Builder) WithSources(sources ...Source) *Builder {
	b.opts.Sources = sources
	return b
}

// WithEnvTransform sets a custom environment variable transformer
func (b *Builder) WithEnvTransform(fn EnvTransformFunc) *Builder {
	b.opts.EnvTransform = fn
	return b
}

// WithEnvWhitelist limits which paths are checked for env vars
func (b *Builder) WithEnvWhitelist(paths ...string) *Builder {
	if b.opts.EnvWhitelist == nil {
		b.opts.EnvWhitelist = make(map[string]bool)
	}
	for _, path := range paths {
		b.opts.EnvWhitelist[path] = true
	}
	return b
}

// WithValidator adds a validation function that runs on every merged tree.
// Multiple validators are executed in the order they are added
func (b *Builder) WithValidator(fn ValidatorFunc) *Builder {
	if fn != nil {
		b.validators = append(b.validators, fn)
	}
	return b
}

// Loader returns the layered loader the builder would use.
func (b *Builder) Loader() (*LayeredLoader, error) {
	if b.err != nil {
		return nil, b.err
	}
	defaults, err := b.defaultsNode()
	if err != nil {
		return nil, fmt.Errorf("failed to register defaults: %w", err)
	}
	l := &LayeredLoader{
		defaults:   defaults,
		args:       b.args,
		load:       b.opts,
		opts:       b.nodeOpts,
		validators: b.validators,
	}
	if b.file != "" {
		l.file = NewFileLoader(b.file).
			WithFormat(b.format).
			WithOptions(b.nodeOpts).
			WithSecurity(b.security)
	}
	return l, nil
}

func (b *Builder) defaultsNode() (*Node, error) {
	switch d := b.defaults.(type) {
	case nil:
		return nil, nil
	case *Node:
		return d.WithOptions(b.nodeOpts), nil
	default:
		n := NewRoot(b.nodeOpts)
		if err := n.Set(d); err != nil {
			return nil, err
		}
		return n, nil
	}
}

// Build creates the Reference with all specified options. A configured file
// that does not exist yields a usable Reference along with ErrConfigNotFound.
func (b *Builder) Build() (*Reference, error) {
	loader, err := b.Loader()
	if err != nil {
		return nil, err
	}
	ref, err := NewReference(loader)
	if err != nil {
		return nil, err
	}
	if b.file != "" {
		if _, statErr := os.Stat(b.file); errors.Is(statErr, os.ErrNotExist) {
			// Not fatal: the app can run with defaults/env
			return ref, ErrConfigNotFound
		}
	}
	return ref, nil
}

// MustBuild is like Build but panics on error
func (b *Builder) MustBuild() *Reference {
	ref, err := b.Build()
	if err != nil {
		// Ignore ErrConfigNotFound as it is not a fatal error for MustBuild.
		if !errors.Is(err, ErrConfigNotFound) {
			panic(fmt.Sprintf("config build failed: %v", err))
		}
	}
	return ref
}

// BuildAndScan builds and maps the final configuration into the provided
// target pointer. Fields absent from the tree keep their current values.
func (b *Builder) BuildAndScan(target any) error {
	ref, err := b.Build()
	if err != nil && !errors.Is(err, ErrConfigNotFound) {
		return err
	}

	if scanErr := Scan(ref.Node(), target); scanErr != nil {
		return fmt.Errorf("failed to scan final config into target: %w", scanErr)
	}

	// ErrConfigNotFound or nil
	return err
}

// Scan maps n into target, a non-nil pointer. Structs are loaded in place
// so fields absent from n keep their values; other types are replaced.
func Scan(n *Node, target any) error {
	ptr := reflect.ValueOf(target)
	if ptr.Kind() != reflect.Pointer || ptr.IsNil() {
		return fmt.Errorf("scan target must be a non-nil pointer, got %T", target)
	}
	t := ptr.Elem().Type()
	if t.Kind() == reflect.Struct {
		m, err := mapperForNode(t, n.opts)
		if err == nil && m.factory != nil {
			if _, ok := m.factory.(MutableInstanceFactory); ok {
				return m.LoadInto(n, target)
			}
		}
	}
	v, err := n.Get(t)
	if err != nil {
		return err
	}
	if v != nil {
		ptr.Elem().Set(reflect.ValueOf(v))
	}
	return nil
}
