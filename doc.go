// FILE: lixenwraith/conftree/doc.go

// Package conftree provides a hierarchical configuration data model: a tree
// of nodes holding scalars, ordered maps and lists, a registry of type
// serializers that convert between nodes and Go values, an object mapper for
// structs, and live references that reload configuration atomically.
//
// Features:
//   - Virtual nodes: navigating to a missing path never changes the tree;
//     the first write attaches the path
//   - Merge with cycle detection, deep copy and comments per node
//   - Serializer registry with exact, generic and fallback matching
//   - Object mapping with `conf`, `comment`, `validate` and `matches` tags
//   - TOML, JSON and YAML loaders with atomic save
//   - Layered sources: defaults, file, environment and command line
//   - References with copy-on-write updates, typed values and file watching
//   - Path-pattern transformations and versioned migrations
//
// Quick Start:
//
//	type Config struct {
//	    Server struct {
//	        Host string `conf:"host"`
//	        Port int    `conf:"port" validate:"min=1,max=65535"`
//	    }
//	}
//
//	defaults := Config{}
//	defaults.Server.Host = "localhost"
//	defaults.Server.Port = 8080
//
//	ref, err := conftree.Quick(defaults, "MYAPP_", "config.toml")
//	if err != nil && !errors.Is(err, conftree.ErrConfigNotFound) {
//	    log.Fatal(err)
//	}
//
//	host := ref.Node().Node("server", "host").String("")
//	port := ref.Node().Node("server", "port").Int(0)
//
// Default Precedence (highest to lowest):
//  1. Command-line arguments (--server.port=9090)
//  2. Environment variables (MYAPP_SERVER_PORT=9090)
//  3. Configuration file (config.toml)
//  4. Default values
//
// Working with nodes directly:
//
//	root := conftree.NewRoot(conftree.DefaultOptions())
//	_ = root.Node("server", "ports").SetRaw([]any{80, 443})
//	ports, err := conftree.GetAs[[]int](root.Node("server", "ports"))
//
// Typed live values:
//
//	port, err := conftree.ValueAt[int](ref, "server", "port")
//	port.Subscribe(func(p int) { log.Printf("port is now %d", p) })
//
// Concurrency: a Node tree has a single writer. A Reference publishes whole
// trees atomically, so readers may call Node and Get from any goroutine;
// writes go through Update.
package conftree
