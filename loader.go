// FILE: lixenwraith/conftree/loader.go
package conftree

import (
	"errors"
	"fmt"
	"sync"
)

// Loader reads and writes a whole configuration tree.
type Loader interface {
	// Load returns a fresh tree. Callers own the result.
	Load() (*Node, error)
	// Save persists n. Loaders that cannot persist return an error.
	Save(n *Node) error
}

// FileLoader loads a tree from a TOML, JSON or YAML file.
type FileLoader struct {
	path     string
	format   Format
	opts     *Options
	security *SecurityOptions
}

// NewFileLoader returns a loader for path with automatic format detection
// and default node options.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{
		path:   path,
		format: FormatAuto,
		opts:   DefaultOptions(),
	}
}

// WithFormat fixes the file format instead of detecting it.
func (l *FileLoader) WithFormat(format Format) *FileLoader {
	c := *l
	c.format = format
	return &c
}

// WithOptions sets the options of loaded trees.
func (l *FileLoader) WithOptions(opts *Options) *FileLoader {
	c := *l
	if opts == nil {
		opts = DefaultOptions()
	}
	c.opts = opts
	return &c
}

// WithSecurity applies file restrictions to every read.
func (l *FileLoader) WithSecurity(sec *SecurityOptions) *FileLoader {
	c := *l
	c.security = sec
	return &c
}

// Path returns the file path.
func (l *FileLoader) Path() string { return l.path }

// Format returns the configured format; auto until a load resolves it.
func (l *FileLoader) Format() Format { return l.format }

// resolveFormat picks the configured format, then extension, then content.
func (l *FileLoader) resolveFormat(data []byte) Format {
	if l.format != "" && l.format != FormatAuto {
		return l.format
	}
	if f := DetectFormat(l.path); f != "" {
		return f
	}
	if data != nil {
		return DetectFormatFromContent(data)
	}
	return ""
}

// Load reads the file. A missing or empty file yields an empty tree.
func (l *FileLoader) Load() (*Node, error) {
	data, err := readConfigFile(l.path, l.security)
	if errors.Is(err, ErrConfigNotFound) {
		l.opts.Logger().Debug("Configuration file not found, starting empty.", "path", l.path)
		return NewRoot(l.opts), nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return NewRoot(l.opts), nil
	}

	format := l.resolveFormat(data)
	if format == "" {
		return nil, fmt.Errorf("%w: cannot detect format of '%s'", ErrUnsupportedFormat, l.path)
	}
	n, err := DecodeNode(data, format, l.opts)
	if err != nil {
		var pe *ParsingError
		if errors.As(err, &pe) && pe.File == "" {
			pe.File = l.path
		}
		return nil, fmt.Errorf("failed to parse %s config file '%s': %w", format, l.path, err)
	}
	return n, nil
}

// Save writes n atomically. The format defaults to TOML when neither the
// loader nor the file extension names one.
func (l *FileLoader) Save(n *Node) error {
	format := l.resolveFormat(nil)
	if format == "" {
		format = FormatTOML
	}
	data, err := EncodeNode(n, format)
	if err != nil {
		return err
	}
	if err := atomicWriteFile(l.path, data); err != nil {
		return fmt.Errorf("failed to save config file '%s': %w", l.path, err)
	}
	return nil
}

// MemoryLoader keeps a tree in memory. Load returns a copy of the stored
// tree and Save replaces it.
type MemoryLoader struct {
	mu   sync.Mutex
	node *Node
	opts *Options
}

// NewMemoryLoader returns a loader seeded with a copy of n. A nil n starts
// with an empty tree.
func NewMemoryLoader(n *Node) *MemoryLoader {
	l := &MemoryLoader{opts: DefaultOptions()}
	if n != nil {
		l.opts = n.opts
		l.node = n.Copy()
	}
	return l
}

// Load returns a copy of the stored tree.
func (l *MemoryLoader) Load() (*Node, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.node == nil {
		return NewRoot(l.opts), nil
	}
	return l.node.Copy(), nil
}

// Save stores a copy of n.
func (l *MemoryLoader) Save(n *Node) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.node = n.Copy()
	return nil
}
