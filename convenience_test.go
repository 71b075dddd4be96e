// FILE: lixenwraith/conftree/convenience_test.go
package conftree

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestQuickFunctions tests the convenience Quick* functions
func TestQuickFunctions(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "quick.toml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
host = "quickhost"
port = 7777
`), 0644))

	type QuickConfig struct {
		Host string
		Port int
		SSL  bool
	}

	defaults := &QuickConfig{
		Host: "localhost",
		Port: 8080,
		SSL:  false,
	}

	setArgs := func(t *testing.T, args ...string) {
		oldArgs := os.Args
		os.Args = append([]string{"cmd"}, args...)
		t.Cleanup(func() { os.Args = oldArgs })
	}

	t.Run("Quick", func(t *testing.T) {
		setArgs(t, "--port=9999")

		ref, err := Quick(defaults, "QUICK_", configFile)
		require.NoError(t, err)
		defer ref.Close()

		// CLI should override
		assert.Equal(t, "9999", ref.Node().Node("port").Raw())
		// File value
		assert.Equal(t, "quickhost", ref.Node().Node("host").Raw())
		// Default value
		assert.Equal(t, false, ref.Node().Node("ssl").Raw())
	})

	t.Run("QuickCustom", func(t *testing.T) {
		setArgs(t, "--port=9999")
		t.Setenv("CUSTOM_HOST", "envhost")

		opts := LoadOptions{
			Sources:   []Source{SourceFile, SourceDefault}, // Only file and defaults
			EnvPrefix: "CUSTOM_",
		}

		ref, err := QuickCustom(defaults, opts, configFile)
		require.NoError(t, err)
		defer ref.Close()

		assert.Equal(t, int64(7777), ref.Node().Node("port").Raw())
		assert.Equal(t, "quickhost", ref.Node().Node("host").Raw())
	})

	t.Run("QuickMissingFile", func(t *testing.T) {
		setArgs(t)

		ref, err := Quick(defaults, "QUICK_", filepath.Join(tmpDir, "nope.toml"))
		assert.ErrorIs(t, err, ErrConfigNotFound)
		require.NotNil(t, ref)
		defer ref.Close()
		assert.Equal(t, "localhost", ref.Node().Node("host").Raw())
	})

	t.Run("MustQuickPanic", func(t *testing.T) {
		setArgs(t)
		broken := filepath.Join(tmpDir, "broken.toml")
		require.NoError(t, os.WriteFile(broken, []byte("host = \n"), 0644))

		assert.Panics(t, func() {
			MustQuick(defaults, "QUICK_", broken)
		})
		assert.NotPanics(t, func() {
			ref := MustQuick(defaults, "QUICK_", filepath.Join(tmpDir, "nope.toml"))
			ref.Close()
		})
	})
}

// TestFlagIntegration tests the flag package helpers
func TestFlagIntegration(t *testing.T) {
	newRef := func(t *testing.T) *Reference {
		root := rawTree(t, map[string]any{
			"server": map[string]any{"host": "localhost", "port": 8080, "debug": false},
			"ratio":  0.5,
			"tags":   []any{},
		})
		ref, err := NewReference(NewMemoryLoader(root))
		require.NoError(t, err)
		t.Cleanup(func() { ref.Close() })
		return ref
	}

	t.Run("GenerateFlags", func(t *testing.T) {
		ref := newRef(t)
		fs := GenerateFlags(ref.Node())

		host := fs.Lookup("server.host")
		require.NotNil(t, host)
		assert.Equal(t, "localhost", host.DefValue)
		assert.Equal(t, "Config: server.host", host.Usage)

		require.NotNil(t, fs.Lookup("server.port"))
		assert.Equal(t, "8080", fs.Lookup("server.port").DefValue)
		assert.Equal(t, "false", fs.Lookup("server.debug").DefValue)
		assert.Equal(t, "0.5", fs.Lookup("ratio").DefValue)
		assert.NotNil(t, fs.Lookup("tags"))
		assert.Nil(t, fs.Lookup("server"))
	})

	t.Run("BindFlags", func(t *testing.T) {
		ref := newRef(t)
		fs := GenerateFlags(ref.Node())
		fs.SetOutput(io.Discard)
		require.NoError(t, fs.Parse([]string{"-server.port=9090", "-server.debug"}))

		require.NoError(t, BindFlags(ref, fs))
		assert.Equal(t, 9090, ref.Node().Node("server", "port").Int(0))
		assert.True(t, ref.Node().Node("server", "debug").Bool(false))
		// Unset flags leave values alone
		assert.Equal(t, "localhost", ref.Node().Node("server", "host").Raw())
		assert.True(t, ref.Dirty())
	})

	t.Run("BindFlagsNothingSet", func(t *testing.T) {
		ref := newRef(t)
		fs := GenerateFlags(ref.Node())
		require.NoError(t, fs.Parse(nil))

		require.NoError(t, BindFlags(ref, fs))
		assert.False(t, ref.Dirty())
	})

	t.Run("BindFlagsError", func(t *testing.T) {
		ref := newRef(t)
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		fs.String("bad..path", "", "")
		require.NoError(t, fs.Parse([]string{"-bad..path=x"}))

		err := BindFlags(ref, fs)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to bind 1 flags")
	})
}

// TestValidation tests the RequirePaths validator
func TestValidation(t *testing.T) {
	root := rawTree(t, map[string]any{
		"database": map[string]any{"url": "postgres://localhost"},
	})

	t.Run("ValidationPasses", func(t *testing.T) {
		assert.NoError(t, RequirePaths("database.url", "database")(root))
	})

	t.Run("ValidationFails", func(t *testing.T) {
		err := RequirePaths("database.url", "server.port", "api.key")(root)
		require.Error(t, err)
		assert.Equal(t, "missing required configuration: server.port, api.key", err.Error())
	})

	t.Run("ValidationInvalidPath", func(t *testing.T) {
		assert.Error(t, RequirePaths("bad..path")(root))
	})

	t.Run("ValidationDoesNotAttach", func(t *testing.T) {
		_ = RequirePaths("ghost.key")(root)
		assert.False(t, root.HasChild("ghost"))
	})
}

// TestDebugAndDump tests the inspection helpers
func TestDebugAndDump(t *testing.T) {
	defaults := rawTree(t, map[string]any{"host": "localhost", "port": 8080})

	t.Run("Debug", func(t *testing.T) {
		loader, err := NewBuilder().
			WithDefaults(defaults).
			WithEnvPrefix("CONFTREE_DEBUG_").
			WithArgs([]string{"--port=9999"}).
			Loader()
		require.NoError(t, err)

		debug := loader.Debug()
		assert.Contains(t, debug, "Configuration Debug Info:")
		assert.Contains(t, debug, "Precedence: [cli env file default]")
		assert.Contains(t, debug, "  port:\n    Current: 9999\n    cli: 9999\n    default: 8080\n")
		assert.Contains(t, debug, "  host:\n    Current: localhost\n    default: localhost\n")
	})

	t.Run("DebugReportsErrors", func(t *testing.T) {
		loader, err := NewBuilder().
			WithArgs([]string{"--bad key=1"}).
			Loader()
		require.NoError(t, err)

		debug := loader.Debug()
		assert.Contains(t, debug, "cli: error:")
		assert.Contains(t, debug, "Merged: error:")
	})

	t.Run("Dump", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Dump(defaults, &buf, FormatJSON))

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "localhost", decoded["host"])
		assert.Equal(t, float64(8080), decoded["port"])

		buf.Reset()
		require.NoError(t, Dump(defaults, &buf, FormatTOML))
		assert.Contains(t, buf.String(), `host = "localhost"`)
	})

	t.Run("DumpUnsupportedFormat", func(t *testing.T) {
		assert.ErrorIs(t, Dump(defaults, io.Discard, Format("ini")), ErrUnsupportedFormat)
	})
}
