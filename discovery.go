// FILE: lixenwraith/conftree/discovery.go
package conftree

import (
	"os"
	"path/filepath"
	"strings"
)

// FileDiscoveryOptions controls where DiscoverFile looks for a configuration
// file. An explicit path from CLIFlag or EnvVar is returned as is, even if the
// file does not exist yet; search paths only yield existing regular files.
type FileDiscoveryOptions struct {
	Name       string   // file base name without extension
	Extensions []string // tried in order within each directory
	Paths      []string // searched before the working directory and XDG

	EnvVar  string // variable holding an explicit path
	CLIFlag string // flag holding an explicit path, as --flag value or --flag=value

	UseXDG        bool
	UseCurrentDir bool
}

// DefaultDiscoveryOptions returns sensible defaults
func DefaultDiscoveryOptions(appName string) FileDiscoveryOptions {
	return FileDiscoveryOptions{
		Name:          appName,
		Extensions:    []string{".toml", ".yaml", ".yml", ".json", ".conf", ".config"},
		EnvVar:        strings.ToUpper(strings.ReplaceAll(appName, "-", "_")) + "_CONFIG",
		CLIFlag:       "--config",
		UseXDG:        true,
		UseCurrentDir: true,
	}
}

// WithFileDiscovery sets the configuration file from the first match of
// DiscoverFile. Finding nothing leaves the builder unchanged. Call it after
// WithArgs so the CLI flag is seen.
func (b *Builder) WithFileDiscovery(opts FileDiscoveryOptions) *Builder {
	path := DiscoverFile(opts, b.args)
	if path == "" {
		b.nodeOpts.Logger().Debug("No configuration file discovered.", "name", opts.Name)
		return b
	}
	b.nodeOpts.Logger().Debug("Discovered configuration file.", "path", path)
	b.file = path
	return b
}

// DiscoverFile looks for a configuration file: the CLI flag in args first,
// then the environment variable, then the search paths. It returns "" if
// no file is found.
func DiscoverFile(opts FileDiscoveryOptions, args []string) string {
	if opts.CLIFlag != "" {
		for i, arg := range args {
			if arg == opts.CLIFlag && i+1 < len(args) {
				return args[i+1]
			}
			if strings.HasPrefix(arg, opts.CLIFlag+"=") {
				return strings.TrimPrefix(arg, opts.CLIFlag+"=")
			}
		}
	}

	if opts.EnvVar != "" {
		if path := os.Getenv(opts.EnvVar); path != "" {
			return path
		}
	}

	for _, dir := range searchPaths(opts) {
		for _, ext := range opts.Extensions {
			path := filepath.Join(dir, opts.Name+ext)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path
			}
		}
	}
	return ""
}

// searchPaths orders custom paths, then the working directory, then XDG.
func searchPaths(opts FileDiscoveryOptions) []string {
	paths := append([]string(nil), opts.Paths...)
	if opts.UseCurrentDir {
		if cwd, err := os.Getwd(); err == nil {
			paths = append(paths, cwd)
		}
	}
	if opts.UseXDG {
		paths = append(paths, getXDGConfigPaths(opts.Name)...)
	}
	return paths
}

// getXDGConfigPaths returns XDG-compliant config search paths
func getXDGConfigPaths(appName string) []string {
	var paths []string

	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		paths = append(paths, filepath.Join(xdgHome, appName))
	} else if home := os.Getenv("HOME"); home != "" {
		paths = append(paths, filepath.Join(home, ".config", appName))
	}

	if xdgDirs := os.Getenv("XDG_CONFIG_DIRS"); xdgDirs != "" {
		for _, dir := range filepath.SplitList(xdgDirs) {
			paths = append(paths, filepath.Join(dir, appName))
		}
	} else {
		paths = append(paths,
			filepath.Join("/etc/xdg", appName),
			filepath.Join("/etc", appName),
		)
	}
	return paths
}
