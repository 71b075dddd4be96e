// FILE: lixenwraith/conftree/example/main.go
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/lixenwraith/conftree"
)

// AppConfig exercises nested structs, tags, constraints and comments.
type AppConfig struct {
	Server struct {
		Host     string        `conf:"host" comment:"Address to bind"`
		Port     int           `conf:"port" validate:"min=1,max=65535"`
		LogLevel string        `conf:"log-level" matches:"^(debug|info|warn|error)$"`
		Timeout  time.Duration `conf:"timeout"`
	} `conf:"server"`
	FeatureFlags map[string]bool `conf:"feature-flags" comment:"Toggles read at startup"`
	Peers        []string        `conf:"peers"`
}

func (c *AppConfig) SetDefaults() {
	c.Server.Host = "localhost"
	c.Server.Port = 8080
	c.Server.LogLevel = "info"
	c.Server.Timeout = 5 * time.Second
}

const configFilePath = "config.yaml"

func main() {
	// =========================================================================
	// PART 1: INITIAL SETUP
	// Write a configuration file from typed defaults.
	// =========================================================================
	log.Println("---")
	log.Println("➡️  PART 1: Creating initial configuration file...")

	defer func() {
		log.Println("---")
		log.Println("🧹 Cleaning up...")
		os.Remove(configFilePath)
		os.Unsetenv("APP_SERVER_PORT")
		log.Printf("Removed %s and unset APP_SERVER_PORT.", configFilePath)
	}()

	initial := AppConfig{}
	initial.SetDefaults()
	initial.FeatureFlags = map[string]bool{"enable-metrics": true}
	initial.Peers = []string{"10.0.0.1", "10.0.0.2"}

	opts := conftree.DefaultOptions().WithHeader("Example application configuration")
	root := conftree.NewRoot(opts)
	if err := conftree.SetTyped(root, initial); err != nil {
		log.Fatalf("❌ Failed to serialize defaults: %v", err)
	}
	if err := conftree.NewFileLoader(configFilePath).Save(root); err != nil {
		log.Fatalf("❌ Failed during initial file creation: %v", err)
	}
	log.Printf("✅ Initial configuration saved to %s.", configFilePath)

	// =========================================================================
	// PART 2: LAYERED CONFIGURATION USING THE BUILDER
	// Environment and CLI override the file, which overrides defaults.
	// =========================================================================
	log.Println("---")
	log.Println("➡️  PART 2: Building layered configuration...")

	os.Setenv("APP_SERVER_PORT", "9090")
	defaults := &AppConfig{}
	defaults.SetDefaults()
	ref, err := conftree.NewBuilder().
		WithDefaults(defaults).
		WithFile(configFilePath).
		WithEnvPrefix("APP_").
		WithArgs([]string{"--server.log-level=debug"}).
		WithValidator(conftree.RequirePaths("server.host", "server.port")).
		Build()
	if err != nil && !errors.Is(err, conftree.ErrConfigNotFound) {
		log.Fatalf("❌ Build failed: %v", err)
	}
	defer ref.Close()

	cfg, err := conftree.GetAs[AppConfig](ref.Node())
	if err != nil {
		log.Fatalf("❌ Mapping failed: %v", err)
	}
	log.Printf("✅ Server: %s:%d (log level %s, timeout %s)",
		cfg.Server.Host, cfg.Server.Port, cfg.Server.LogLevel, cfg.Server.Timeout)
	log.Printf("   Peers: %v, flags: %v", cfg.Peers, cfg.FeatureFlags)

	// =========================================================================
	// PART 3: LIVE VALUES
	// A typed value follows updates to the reference.
	// =========================================================================
	log.Println("---")
	log.Println("➡️  PART 3: Typed live values...")

	port, err := conftree.ValueAt[int](ref, "server", "port")
	if err != nil {
		log.Fatalf("❌ ValueAt failed: %v", err)
	}
	cancel := port.Subscribe(func(p int) {
		log.Printf("🔔 Port changed to %d", p)
	})
	defer cancel()

	if err := port.Set(9443); err != nil {
		log.Fatalf("❌ Set failed: %v", err)
	}
	current, _ := port.Get()
	log.Printf("✅ Port is now %d, soft read says %d", current, ref.Node().Node("server", "port").Int(0))

	// Constraints apply when the tree is mapped back to the struct.
	if err := port.Set(70000); err != nil {
		log.Fatalf("❌ Set failed: %v", err)
	}
	if _, err := conftree.GetAs[AppConfig](ref.Node()); err != nil {
		log.Printf("✅ Mapping rejects invalid port: %v", err)
	}

	// =========================================================================
	// PART 4: DUMP
	// =========================================================================
	log.Println("---")
	log.Println("➡️  PART 4: Final configuration as TOML:")
	if err := conftree.Dump(ref.Node(), os.Stdout, conftree.FormatTOML); err != nil {
		log.Fatalf("❌ Dump failed: %v", err)
	}
	fmt.Println()
}
