// FILE: lixenwraith/conftree/convenience.go
package conftree

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

// Quick builds a Reference from struct defaults, an environment prefix and an
// optional file, with the standard precedence CLI > Env > File > Default.
func Quick(structDefaults any, envPrefix, configFile string) (*Reference, error) {
	opts := DefaultLoadOptions()
	opts.EnvPrefix = envPrefix
	return QuickCustom(structDefaults, opts, configFile)
}

// QuickCustom is Quick with custom load options
func QuickCustom(structDefaults any, opts LoadOptions, configFile string) (*Reference, error) {
	if len(opts.Sources) == 0 {
		opts.Sources = DefaultLoadOptions().Sources
	}
	b := NewBuilder().
		WithDefaults(structDefaults).
		WithFile(configFile)
	b.opts = opts
	return b.Build()
}

// MustQuick is like Quick but panics on error
func MustQuick(structDefaults any, envPrefix, configFile string) *Reference {
	ref, err := Quick(structDefaults, envPrefix, configFile)
	if err != nil && ref == nil {
		panic(fmt.Sprintf("config initialization failed: %v", err))
	}
	return ref
}

// GenerateFlags creates flag.FlagSet entries for every scalar leaf under n,
// named by dotted path and typed by the current value.
func GenerateFlags(n *Node) *flag.FlagSet {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	leaves := flattenLeaves(n)
	paths := make([]string, 0, len(leaves))
	for p := range leaves {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	for _, path := range paths {
		usage := fmt.Sprintf("Config: %s", path)
		switch v := leaves[path].(type) {
		case bool:
			fs.Bool(path, v, usage)
		case int64:
			fs.Int64(path, v, usage)
		case int:
			fs.Int(path, v, usage)
		case float64:
			fs.Float64(path, v, usage)
		case string:
			fs.String(path, v, usage)
		default:
			s, _ := toString(v)
			fs.String(path, s, usage)
		}
	}
	return fs
}

// BindFlags writes every flag set on the command line into the reference.
func BindFlags(ref *Reference, fs *flag.FlagSet) error {
	type pair struct {
		path  Path
		value string
	}
	var (
		set  []pair
		errs []error
	)
	fs.Visit(func(f *flag.Flag) {
		p, err := ParsePath(f.Name)
		if err != nil {
			errs = append(errs, fmt.Errorf("flag %s: %w", f.Name, err))
			return
		}
		set = append(set, pair{p, f.Value.String()})
	})
	if len(errs) > 0 {
		return fmt.Errorf("failed to bind %d flags: %w", len(errs), errs[0])
	}
	if len(set) == 0 {
		return nil
	}
	return ref.Update(func(root *Node) error {
		for _, s := range set {
			if err := root.Node(s.path...).SetRaw(s.value); err != nil {
				return fmt.Errorf("flag %s: %w", s.path, err)
			}
		}
		return nil
	})
}

// RequirePaths returns a validator failing when any of the dotted paths is
// absent from the merged tree.
func RequirePaths(required ...string) ValidatorFunc {
	return func(root *Node) error {
		var missing []string
		for _, path := range required {
			p, err := ParsePath(path)
			if err != nil {
				return err
			}
			if root.Node(p...).IsNull() {
				missing = append(missing, path)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
		}
		return nil
	}
}

// Debug returns a formatted string showing each leaf value and the layers
// that provide it.
func (l *LayeredLoader) Debug() string {
	var b strings.Builder
	b.WriteString("Configuration Debug Info:\n")
	b.WriteString(fmt.Sprintf("Precedence: %v\n", l.load.Sources))

	layers := make(map[Source]map[string]any)
	lower := make(map[Source]*Node)
	for _, src := range []Source{SourceDefault, SourceFile, SourceEnv, SourceCLI} {
		if !l.enabled(src) {
			continue
		}
		n, err := l.Layer(src, lower)
		if err != nil {
			b.WriteString(fmt.Sprintf("  %s: error: %v\n", src, err))
			continue
		}
		lower[src] = n
		layers[src] = flattenLeaves(n)
	}

	merged, err := l.Load()
	if err != nil {
		b.WriteString(fmt.Sprintf("Merged: error: %v\n", err))
		return b.String()
	}
	current := flattenLeaves(merged)
	paths := make([]string, 0, len(current))
	for p := range current {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	b.WriteString("Current values:\n")
	for _, path := range paths {
		b.WriteString(fmt.Sprintf("  %s:\n", path))
		b.WriteString(fmt.Sprintf("    Current: %v\n", current[path]))
		for _, src := range l.load.Sources {
			if v, ok := layers[src][path]; ok {
				b.WriteString(fmt.Sprintf("    %s: %v\n", src, v))
			}
		}
	}
	return b.String()
}

// Dump writes n to w in the given format, stdout when w is nil.
func Dump(n *Node, w io.Writer, format Format) error {
	if w == nil {
		w = os.Stdout
	}
	data, err := EncodeNode(n, format)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
