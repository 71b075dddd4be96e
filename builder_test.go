// FILE: lixenwraith/conftree/builder_test.go
package conftree

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBuilder tests the builder pattern
func TestBuilder(t *testing.T) {
	t.Run("BasicBuilder", func(t *testing.T) {
		type Config struct {
			Host string
			Port int
		}

		defaults := &Config{
			Host: "localhost",
			Port: 8080,
		}

		ref, err := NewBuilder().
			WithDefaults(defaults).
			WithEnvPrefix("TEST_").
			WithArgs(nil).
			Build()

		require.NoError(t, err)
		require.NotNil(t, ref)
		defer ref.Close()

		assert.Equal(t, "localhost", ref.Node().Node("host").Raw())
		assert.Equal(t, int64(8080), ref.Node().Node("port").Raw())
	})

	t.Run("BuilderWithAllOptions", func(t *testing.T) {
		tmpDir := t.TempDir()
		configFile := filepath.Join(tmpDir, "test.toml")
		require.NoError(t, os.WriteFile(configFile, []byte("[server]\nhostname = \"filehost\"\n"), 0644))

		type Server struct {
			Host string `conf:"hostname"`
			Port int
		}
		type Config struct {
			Server Server
		}
		defaults := &Config{Server: Server{Host: "defaulthost", Port: 3000}}

		// Custom env transform
		envTransform := func(path string) string {
			return "CUSTOM_" + path
		}
		t.Setenv("CUSTOM_server.hostname", "envhost")
		t.Setenv("CUSTOM_server.port", "9000")

		build := func(args []string, sources ...Source) *Reference {
			ref, err := NewBuilder().
				WithDefaults(defaults).
				WithEnvPrefix("APP_").
				WithFile(configFile).
				WithArgs(args).
				WithSources(sources...).
				WithEnvTransform(envTransform).
				WithEnvWhitelist("server.hostname").
				Build()
			require.NoError(t, err)
			t.Cleanup(func() { ref.Close() })
			return ref
		}

		// CLI should take precedence
		ref := build([]string{"--server.hostname=clihost"}, SourceCLI, SourceFile, SourceEnv, SourceDefault)
		assert.Equal(t, "clihost", ref.Node().Node("server", "hostname").Raw())

		// File above env
		ref = build(nil, SourceCLI, SourceFile, SourceEnv, SourceDefault)
		assert.Equal(t, "filehost", ref.Node().Node("server", "hostname").Raw())

		// Env above file
		ref = build(nil, SourceCLI, SourceEnv, SourceFile, SourceDefault)
		assert.Equal(t, "envhost", ref.Node().Node("server", "hostname").Raw())

		// Port is not whitelisted
		assert.Equal(t, 3000, ref.Node().Node("server", "port").Int(0))
	})

	t.Run("BuilderWithTarget", func(t *testing.T) {
		type Config struct {
			Name  string
			Port  int
			Debug bool
		}

		target := Config{Debug: true}
		err := NewBuilder().
			WithEnvPrefix("CONFTREE_TEST_").
			WithDefaults(rawTree(t, map[string]any{"name": "svc", "port": 80})).
			WithFile(filepath.Join(t.TempDir(), "missing.toml")).
			WithArgs([]string{"--port", "8443"}).
			BuildAndScan(&target)

		assert.ErrorIs(t, err, ErrConfigNotFound)
		assert.Equal(t, Config{Name: "svc", Port: 8443, Debug: true}, target)
	})

	t.Run("BuilderWithValidator", func(t *testing.T) {
		type Config struct {
			Port int
		}

		portCheck := func(root *Node) error {
			port, err := GetAs[int](root.Node("port"))
			if err != nil {
				return err
			}
			if port < 1024 {
				return errors.New("port must be >= 1024")
			}
			return nil
		}

		ref, err := NewBuilder().
			WithEnvPrefix("CONFTREE_TEST_").
			WithDefaults(Config{Port: 8080}).
			WithArgs(nil).
			WithValidator(portCheck).
			WithValidator(RequirePaths("port")).
			Build()
		require.NoError(t, err)
		ref.Close()

		_, err = NewBuilder().
			WithEnvPrefix("CONFTREE_TEST_").
			WithDefaults(Config{Port: 8080}).
			WithArgs([]string{"--port=80"}).
			WithValidator(portCheck).
			Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration validation failed")
		assert.Contains(t, err.Error(), "port must be >= 1024")

		_, err = NewBuilder().
			WithEnvPrefix("CONFTREE_TEST_").
			WithArgs(nil).
			WithValidator(RequirePaths("database.url", "port")).
			Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing required configuration: database.url, port")
	})

	t.Run("BuilderErrorAccumulation", func(t *testing.T) {
		_, err := NewBuilder().
			WithFormat("xml").
			WithArgs(nil).
			Build()
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("BuilderBadArgs", func(t *testing.T) {
		_, err := NewBuilder().
			WithArgs([]string{"--bad key=1"}).
			Build()
		assert.ErrorIs(t, err, ErrCLIParse)
	})

	t.Run("MustBuildPanic", func(t *testing.T) {
		assert.Panics(t, func() {
			NewBuilder().WithFormat("xml").MustBuild()
		})
		assert.NotPanics(t, func() {
			ref := NewBuilder().
				WithEnvPrefix("CONFTREE_TEST_").
				WithFile(filepath.Join(t.TempDir(), "absent.toml")).
				WithArgs(nil).
				MustBuild()
			ref.Close()
		})
	})

	t.Run("MissingFileStillUsable", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "later.yaml")
		ref, err := NewBuilder().
			WithEnvPrefix("CONFTREE_TEST_").
			WithDefaults(rawTree(t, map[string]any{"mode": "dev"})).
			WithFile(path).
			WithArgs(nil).
			Build()
		assert.ErrorIs(t, err, ErrConfigNotFound)
		require.NotNil(t, ref)
		defer ref.Close()
		assert.Equal(t, "dev", ref.Node().Node("mode").Raw())

		// Saving creates the file in the file's own format.
		require.NoError(t, ref.Update(func(root *Node) error {
			return root.Node("mode").SetRaw("prod")
		}))
		require.NoError(t, ref.Save())
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "mode: prod")
	})

	t.Run("SaveWithoutFile", func(t *testing.T) {
		ref, err := NewBuilder().WithArgs(nil).Build()
		require.NoError(t, err)
		defer ref.Close()
		assert.ErrorIs(t, ref.Save(), ErrConfigNotFound)
	})

	t.Run("OptionsReachTree", func(t *testing.T) {
		opts := DefaultOptions().WithCopyDefaults(true)
		ref, err := NewBuilder().WithOptions(opts).WithArgs(nil).Build()
		require.NoError(t, err)
		defer ref.Close()
		assert.True(t, ref.Node().Options().CopyDefaults())
	})
}

// TestFileDiscovery tests automatic config file discovery
func TestFileDiscovery(t *testing.T) {
	type defaults struct {
		Test string
	}

	t.Run("DiscoveryWithCLIFlag", func(t *testing.T) {
		tmpDir := t.TempDir()
		configFile := filepath.Join(tmpDir, "custom.toml")
		require.NoError(t, os.WriteFile(configFile, []byte(`test = "value"`), 0644))

		opts := DefaultDiscoveryOptions("myapp")

		ref, err := NewBuilder().
			WithEnvPrefix("CONFTREE_TEST_").
			WithDefaults(defaults{Test: "default"}).
			WithArgs([]string{"--config", configFile}).
			WithFileDiscovery(opts).
			Build()

		require.NoError(t, err)
		defer ref.Close()
		assert.Equal(t, "value", ref.Node().Node("test").Raw())
	})

	t.Run("DiscoveryWithEnvVar", func(t *testing.T) {
		tmpDir := t.TempDir()
		configFile := filepath.Join(tmpDir, "env.toml")
		require.NoError(t, os.WriteFile(configFile, []byte(`test = "envvalue"`), 0644))
		t.Setenv("MYAPP_CONFIG", configFile)

		ref, err := NewBuilder().
			WithEnvPrefix("CONFTREE_TEST_").
			WithDefaults(defaults{Test: "default"}).
			WithArgs(nil).
			WithFileDiscovery(DefaultDiscoveryOptions("myapp")).
			Build()

		require.NoError(t, err)
		defer ref.Close()
		assert.Equal(t, "envvalue", ref.Node().Node("test").Raw())
	})

	t.Run("DiscoveryInCurrentDir", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Chdir(tmpDir)
		require.NoError(t, os.WriteFile("myapp.yaml", []byte("test: cwdvalue\n"), 0644))

		opts := FileDiscoveryOptions{
			Name:          "myapp",
			Extensions:    []string{".toml", ".yaml"},
			UseCurrentDir: true,
		}

		ref, err := NewBuilder().
			WithEnvPrefix("CONFTREE_TEST_").
			WithDefaults(defaults{Test: "default"}).
			WithArgs(nil).
			WithFileDiscovery(opts).
			Build()

		require.NoError(t, err)
		defer ref.Close()
		assert.Equal(t, "cwdvalue", ref.Node().Node("test").Raw())
	})

	t.Run("DiscoveryPrecedence", func(t *testing.T) {
		tmpDir := t.TempDir()

		cliFile := filepath.Join(tmpDir, "cli.toml")
		envFile := filepath.Join(tmpDir, "env.toml")
		require.NoError(t, os.WriteFile(cliFile, []byte(`test = "clifile"`), 0644))
		require.NoError(t, os.WriteFile(envFile, []byte(`test = "envfile"`), 0644))

		// CLI should take precedence over env
		t.Setenv("MYAPP_CONFIG", envFile)

		ref, err := NewBuilder().
			WithEnvPrefix("CONFTREE_TEST_").
			WithDefaults(defaults{Test: "default"}).
			WithArgs([]string{"--config=" + cliFile}).
			WithFileDiscovery(DefaultDiscoveryOptions("myapp")).
			Build()

		require.NoError(t, err)
		defer ref.Close()
		assert.Equal(t, "clifile", ref.Node().Node("test").Raw())
	})

	t.Run("NothingFound", func(t *testing.T) {
		t.Chdir(t.TempDir())
		opts := FileDiscoveryOptions{Name: "nothing-here", Extensions: []string{".toml"}, UseCurrentDir: true}
		assert.Equal(t, "", DiscoverFile(opts, nil))
	})

	t.Run("XDGPaths", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/xdg/home")
		t.Setenv("XDG_CONFIG_DIRS", "/xdg/a"+string(os.PathListSeparator)+"/xdg/b")
		assert.Equal(t, []string{
			filepath.Join("/xdg/home", "svc"),
			filepath.Join("/xdg/a", "svc"),
			filepath.Join("/xdg/b", "svc"),
		}, getXDGConfigPaths("svc"))
	})
}

// TestScan tests mapping trees into existing values
func TestScan(t *testing.T) {
	root := rawTree(t, map[string]any{"port": "8080", "tags": []any{"a"}})

	t.Run("Scalar", func(t *testing.T) {
		var port int
		require.NoError(t, Scan(root.Node("port"), &port))
		assert.Equal(t, 8080, port)
	})

	t.Run("AbsentKeepsValue", func(t *testing.T) {
		port := 5
		require.NoError(t, Scan(root.Node("missing"), &port))
		assert.Equal(t, 5, port)
	})

	t.Run("StructInPlace", func(t *testing.T) {
		type cfg struct {
			Port int
			Tags []string
			Name string
		}
		target := cfg{Name: "kept"}
		require.NoError(t, Scan(root, &target))
		assert.Equal(t, cfg{Port: 8080, Tags: []string{"a"}, Name: "kept"}, target)
	})

	t.Run("NonPointer", func(t *testing.T) {
		var port int
		assert.Error(t, Scan(root, port))
	})
}
