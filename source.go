// FILE: lixenwraith/conftree/source.go
package conftree

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Source represents a configuration source, used to define load precedence
type Source string

const (
	// SourceDefault represents use of registered default values
	SourceDefault Source = "default"
	// SourceFile represents values loaded from a configuration file
	SourceFile Source = "file"
	// SourceEnv represents values loaded from environment variables
	SourceEnv Source = "env"
	// SourceCLI represents values loaded from command-line arguments
	SourceCLI Source = "cli"
)

// EnvTransformFunc converts a configuration path to an environment variable name
type EnvTransformFunc func(path string) string

// ValidatorFunc checks a fully merged tree. A non-nil error rejects the load.
type ValidatorFunc func(root *Node) error

// LoadOptions configures how configuration is loaded from multiple sources
type LoadOptions struct {
	// Sources defines the precedence order (first = highest priority)
	// Default: [SourceCLI, SourceEnv, SourceFile, SourceDefault]
	Sources []Source

	// EnvPrefix is prepended to environment variable names
	// Example: "MYAPP_" transforms "server.port" to "MYAPP_SERVER_PORT"
	EnvPrefix string

	// EnvTransform customizes how paths map to environment variables
	// If nil, uses default transformation (dots to underscores, uppercase)
	EnvTransform EnvTransformFunc

	// EnvWhitelist limits which paths are checked for env vars (nil = all)
	EnvWhitelist map[string]bool
}

// DefaultLoadOptions returns the standard load options
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		Sources: []Source{SourceCLI, SourceEnv, SourceFile, SourceDefault},
	}
}

// LayeredLoader merges defaults, a file, environment variables and
// command-line arguments into one tree. Higher layers overwrite scalars and
// lists of lower ones and maps are merged key by key. Validators run on
// every merged result, so a reload that fails validation is rejected.
//
// Environment variables are only consulted for leaf paths present in the
// default or file layers.
type LayeredLoader struct {
	defaults   *Node
	file       *FileLoader
	args       []string
	load       LoadOptions
	opts       *Options
	validators []ValidatorFunc
}

// Path returns the file path, or "" without a file layer.
func (l *LayeredLoader) Path() string {
	if l.file == nil {
		return ""
	}
	return l.file.Path()
}

// Load rebuilds every layer and merges them in precedence order.
func (l *LayeredLoader) Load() (*Node, error) {
	layers := make(map[Source]*Node, len(l.load.Sources))
	var loadErrors []error

	// Lower layers first; env needs to know the default and file paths.
	for _, src := range []Source{SourceDefault, SourceFile, SourceEnv, SourceCLI} {
		if !l.enabled(src) {
			continue
		}
		n, err := l.Layer(src, layers)
		if err != nil {
			loadErrors = append(loadErrors, fmt.Errorf("%s: %w", src, err))
			continue
		}
		layers[src] = n
	}
	if len(loadErrors) > 0 {
		return nil, errors.Join(loadErrors...)
	}

	root := NewRoot(l.opts)
	for i := len(l.load.Sources) - 1; i >= 0; i-- {
		layer, ok := layers[l.load.Sources[i]]
		if !ok {
			continue
		}
		if err := overlay(root, layer); err != nil {
			return nil, fmt.Errorf("failed to merge %s layer: %w", l.load.Sources[i], err)
		}
	}
	// File-level header survives the merge.
	if layer, ok := layers[SourceFile]; ok && layer.opts.header != "" && root.opts.header == "" {
		root = root.WithOptions(root.opts.WithHeader(layer.opts.header))
	}

	for _, validate := range l.validators {
		if err := validate(root); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return root, nil
}

// Save writes the merged tree to the file layer.
func (l *LayeredLoader) Save(n *Node) error {
	if l.file == nil {
		return fmt.Errorf("%w: no configuration file to save to", ErrConfigNotFound)
	}
	return l.file.Save(n)
}

// Layer loads a single source. lower holds already-loaded layers, used by
// the environment layer to discover paths; it may be nil.
func (l *LayeredLoader) Layer(src Source, lower map[Source]*Node) (*Node, error) {
	switch src {
	case SourceDefault:
		if l.defaults == nil {
			return NewRoot(l.opts), nil
		}
		return l.defaults.WithOptions(l.opts), nil
	case SourceFile:
		if l.file == nil {
			return NewRoot(l.opts), nil
		}
		return l.file.Load()
	case SourceEnv:
		known := NewRoot(l.opts)
		for _, s := range []Source{SourceDefault, SourceFile} {
			if n, ok := lower[s]; ok {
				if err := overlay(known, n); err != nil {
					return nil, err
				}
			}
		}
		return loadEnv(known, l.load, l.opts)
	case SourceCLI:
		return parseArgs(l.args, l.opts)
	default:
		return nil, fmt.Errorf("unknown configuration source %q", src)
	}
}

func (l *LayeredLoader) enabled(src Source) bool {
	for _, s := range l.load.Sources {
		if s == src {
			return true
		}
	}
	return false
}

// overlay writes src onto dst: maps merge recursively, anything else
// replaces. Null values in src never clear dst.
func overlay(dst, src *Node) error {
	if src.IsNull() {
		return nil
	}
	dst.SetCommentIfAbsent(src.comment)
	if !src.IsMap() || !(dst.IsMap() || dst.IsList()) {
		return dst.From(src)
	}
	for _, c := range src.Children() {
		key := c.key
		if dst.IsList() {
			// Index overrides such as --servers.0=x address list elements.
			idx, err := strconv.Atoi(keyString(key))
			if err != nil {
				return dst.From(src)
			}
			key = idx
		}
		if err := overlay(dst.Node(key), c); err != nil {
			return err
		}
	}
	return nil
}

// defaultEnvTransform creates the default environment variable transformer
func defaultEnvTransform(prefix string) EnvTransformFunc {
	return func(path string) string {
		env := strings.ReplaceAll(path, ".", "_")
		env = strings.ReplaceAll(env, "-", "_")
		env = strings.ToUpper(env)
		if prefix != "" {
			env = prefix + env
		}
		return env
	}
}

// loadEnv builds a layer from the environment variables matching the leaf
// paths of known. Values are stored as strings; typed reads convert them.
func loadEnv(known *Node, opts LoadOptions, nodeOpts *Options) (*Node, error) {
	transform := opts.EnvTransform
	if transform == nil {
		transform = defaultEnvTransform(opts.EnvPrefix)
	}

	layer := NewRoot(nodeOpts)
	err := known.Walk(func(c *Node) error {
		if c.IsMap() || c.IsList() || c.IsNull() || c.parent == nil {
			return nil
		}
		name := c.Path().String()
		if opts.EnvWhitelist != nil && !opts.EnvWhitelist[name] {
			return nil
		}
		value, exists := os.LookupEnv(transform(name))
		if !exists {
			return nil
		}
		if len(value) > MaxValueSize {
			return fmt.Errorf("%w: %s", ErrValueSize, transform(name))
		}
		// String keys throughout; overlay maps numeric keys onto list indexes.
		var path []any
		for _, k := range c.Path() {
			path = append(path, keyString(k))
		}
		return layer.Node(path...).SetRaw(value)
	})
	if err != nil {
		return nil, err
	}
	return layer, nil
}

// parseArgs processes command-line arguments into a tree. Flags take the
// forms --a.b=value, --a.b value and --flag (true). Non-flag arguments are
// skipped.
func parseArgs(args []string, nodeOpts *Options) (*Node, error) {
	root := NewRoot(nodeOpts)
	i := 0
	for i < len(args) {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			// Skip non-flag arguments
			i++
			continue
		}

		argContent := strings.TrimPrefix(arg, "--")
		if argContent == "" {
			// Skip "--" argument if used as a separator
			i++
			continue
		}

		var keyPath string
		var valueStr string

		// Check for "--key=value" format
		if strings.Contains(argContent, "=") {
			parts := strings.SplitN(argContent, "=", 2)
			keyPath = parts[0]
			valueStr = parts[1]
			i++
		} else {
			keyPath = argContent
			// Boolean flag if next arg is another flag or end of args
			if i+1 >= len(args) || strings.HasPrefix(args[i+1], "--") {
				valueStr = "true"
				i++
			} else {
				valueStr = args[i+1]
				i += 2
			}
		}

		if keyPath == "" {
			// Skip invalid flags like --=value
			continue
		}
		if len(valueStr) > MaxValueSize {
			return nil, fmt.Errorf("%w: %w", ErrCLIParse, ErrValueSize)
		}

		segments := strings.Split(keyPath, ".")
		path := make([]any, len(segments))
		for j, segment := range segments {
			if !isValidKeySegment(segment) {
				return nil, fmt.Errorf("%w: invalid command-line key segment %q in path %q", ErrCLIParse, segment, keyPath)
			}
			path[j] = segment
		}

		// Always store as a string, typed reads convert.
		if err := root.Node(path...).SetRaw(valueStr); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCLIParse, err)
		}
	}
	return root, nil
}
