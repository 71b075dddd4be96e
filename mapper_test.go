// FILE: lixenwraith/conftree/mapper_test.go
package conftree

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapperBase struct {
	Name string `matches:"^[a-z-]+$" comment:"Service name"`
}

type mapperLimits struct {
	MaxConns int           `conf:"max-conns" validate:"gte=0"`
	Idle     time.Duration `comment:"Idle timeout"`
}

type mapperServer struct {
	mapperBase
	HTTPServerPort int      `validate:"min=1,max=65535" comment:"Listen port"`
	Tags           []string `conf:"labels"`
	Weights        map[string]int
	Limits         mapperLimits
	Backup         *string
	Ignored        string `conf:"-"`
	hidden         string
}

type requiredDB struct {
	Host string `conf:"host,required"`
	Port int
}

type requiredRoot struct {
	DB requiredDB `conf:"db"`
}

type defaultedConfig struct {
	Port    int
	Mode    string
	Enabled bool
}

func (c *defaultedConfig) SetDefaults() {
	c.Port = 8080
	c.Mode = "standalone"
}

// TestObjectMapperRoundTrip tests saving and loading a nested struct
func TestObjectMapperRoundTrip(t *testing.T) {
	backup := "replica"
	in := mapperServer{
		mapperBase:     mapperBase{Name: "edge-proxy"},
		HTTPServerPort: 8443,
		Tags:           []string{"a", "b"},
		Weights:        map[string]int{"x": 1, "y": 2},
		Limits:         mapperLimits{MaxConns: 64, Idle: 90 * time.Second},
		Backup:         &backup,
		Ignored:        "skip",
		hidden:         "skip",
	}

	root := NewRoot(nil)
	require.NoError(t, root.Set(in))

	t.Run("TreeShape", func(t *testing.T) {
		assert.Equal(t, map[string]any{
			"name":             "edge-proxy",
			"http-server-port": int64(8443),
			"labels":           []any{"a", "b"},
			"weights":          map[string]any{"x": int64(1), "y": int64(2)},
			"limits":           map[string]any{"max-conns": int64(64), "idle": "1m30s"},
			"backup":           "replica",
		}, root.Raw())
	})

	t.Run("Comments", func(t *testing.T) {
		assert.Equal(t, "Listen port", root.Node("http-server-port").Comment())
		assert.Equal(t, "Service name", root.Node("name").Comment())
		assert.Equal(t, "Idle timeout", root.Node("limits", "idle").Comment())
	})

	t.Run("LoadBack", func(t *testing.T) {
		out, err := GetAs[mapperServer](root)
		require.NoError(t, err)

		want := in
		want.Ignored, want.hidden = "", ""
		if diff := cmp.Diff(want, out, cmp.AllowUnexported(mapperServer{})); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("ExistingCommentKept", func(t *testing.T) {
		tree := NewRoot(nil)
		tree.Node("http-server-port").SetComment("custom")
		require.NoError(t, tree.Set(in))
		assert.Equal(t, "custom", tree.Node("http-server-port").Comment())
	})

	t.Run("CommentOnVirtualNode", func(t *testing.T) {
		tree := NewRoot(nil)
		tree.Node("limits", "max-conns").SetComment("per worker")
		require.NoError(t, tree.Set(in))
		assert.Equal(t, "per worker", tree.Node("limits", "max-conns").Comment())
		assert.EqualValues(t, in.Limits.MaxConns, tree.Node("limits", "max-conns").Raw())
	})

	t.Run("NilFieldGetsNoComment", func(t *testing.T) {
		type optional struct {
			Proxy *string `comment:"Outbound proxy"`
		}
		tree := NewRoot(nil)
		require.NoError(t, tree.Set(optional{}))
		assert.False(t, tree.HasChild("proxy"))
	})

	t.Run("NilPointerOmitted", func(t *testing.T) {
		tree := NewRoot(nil)
		noBackup := in
		noBackup.Backup = nil
		require.NoError(t, tree.Set(noBackup))
		assert.False(t, tree.HasChild("backup"))
	})
}

// TestObjectMapperErrors tests path-qualified failures
func TestObjectMapperErrors(t *testing.T) {
	t.Run("RequiredField", func(t *testing.T) {
		root := rawTree(t, map[string]any{"db": map[string]any{"port": 5432}})
		_, err := GetAs[requiredRoot](root)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRequired)

		var se *SerializationError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, Path{"db", "host"}, se.Path)
		assert.Equal(t, "host", se.Field)
	})

	t.Run("ValidateConstraint", func(t *testing.T) {
		root := rawTree(t, map[string]any{"name": "api", "http-server-port": 70000})
		_, err := GetAs[mapperServer](root)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConstraint)

		var se *SerializationError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, Path{"http-server-port"}, se.Path)
		assert.Contains(t, se.Message, "max")
	})

	t.Run("MatchesConstraint", func(t *testing.T) {
		root := rawTree(t, map[string]any{"name": "Bad Name!", "http-server-port": 80})
		_, err := GetAs[mapperServer](root)
		assert.ErrorIs(t, err, ErrConstraint)
		assert.Contains(t, err.Error(), "does not match pattern")
	})

	t.Run("WrongFieldType", func(t *testing.T) {
		root := rawTree(t, map[string]any{"limits": map[string]any{"max-conns": "many"}})
		_, err := GetAs[mapperServer](root)

		var se *SerializationError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, Path{"limits", "max-conns"}, se.Path)
	})

	t.Run("ScalarForStruct", func(t *testing.T) {
		root := rawTree(t, map[string]any{"db": "localhost"})
		_, err := GetAs[requiredRoot](root)
		var se *SerializationError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, Path{"db"}, se.Path)
	})

	t.Run("InvalidTagFailsBuild", func(t *testing.T) {
		type badPattern struct {
			Port int `matches:"^[0-9]+$"`
		}
		_, err := MapperFor[badPattern](nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires a string field")
	})

	t.Run("UnsupportedFieldType", func(t *testing.T) {
		type withHooks struct {
			Name string
			Hook func()
			C    chan int
		}
		_, err := MapperFor[withHooks](nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoSerializer)
		assert.Contains(t, err.Error(), "func()")
		assert.Contains(t, err.Error(), "chan int")

		root := NewRoot(nil)
		assert.ErrorIs(t, root.Set(withHooks{Name: "x"}), ErrNoSerializer)
		assert.False(t, root.HasChild("hook"))
	})

	t.Run("DuplicateKeys", func(t *testing.T) {
		type dup struct {
			A string `conf:"key"`
			B string `conf:"key"`
		}
		_, err := MapperFor[dup](nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `both map to key "key"`)
	})
}

// TestObjectMapperDefaults tests defaults, copy-defaults and implicit initialization
func TestObjectMapperDefaults(t *testing.T) {
	t.Run("DefaulterSeedsInstance", func(t *testing.T) {
		root := rawTree(t, map[string]any{"mode": "cluster"})
		cfg, err := GetAs[defaultedConfig](root)
		require.NoError(t, err)
		assert.Equal(t, defaultedConfig{Port: 8080, Mode: "cluster"}, cfg)
		assert.False(t, root.HasChild("port"), "defaults are not written without copy-defaults")
	})

	t.Run("CopyDefaultsWritesBack", func(t *testing.T) {
		root := NewRoot(DefaultOptions().WithCopyDefaults(true))
		require.NoError(t, root.Node("mode").SetRaw("cluster"))

		_, err := GetAs[defaultedConfig](root)
		require.NoError(t, err)
		assert.Equal(t, int64(8080), root.Node("port").Raw())
		assert.Equal(t, false, root.Node("enabled").Raw())
		assert.Equal(t, "cluster", root.Node("mode").Raw())
	})

	t.Run("ImplicitInitialization", func(t *testing.T) {
		root := NewRoot(DefaultOptions().WithImplicitInitialization(true))
		cfg, err := GetAs[defaultedConfig](root.Node("absent"))
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Port)

		tags, err := GetAs[[]string](root.Node("tags"))
		require.NoError(t, err)
		assert.NotNil(t, tags)
		assert.Empty(t, tags)
	})

	t.Run("LoadIntoKeepsUnsetFields", func(t *testing.T) {
		m, err := MapperFor[defaultedConfig](nil)
		require.NoError(t, err)

		target := defaultedConfig{Port: 1, Mode: "keep", Enabled: true}
		root := rawTree(t, map[string]any{"port": 2})
		require.NoError(t, m.LoadInto(root, &target))
		assert.Equal(t, defaultedConfig{Port: 2, Mode: "keep", Enabled: true}, target)
	})
}

type endpoint struct {
	Host string
	Port int
}

var errBadPort = errors.New("port must be positive")

func newEndpoint(host string, port int) (endpoint, error) {
	if port < 0 {
		return endpoint{}, errBadPort
	}
	if port == 0 {
		port = 443
	}
	return endpoint{Host: host, Port: port}, nil
}

func endpointOptions(discoverers ...FieldDiscoverer) *Options {
	b := NewMapperFactoryBuilder()
	for _, d := range discoverers {
		b.AddDiscoverer(d)
	}
	return DefaultOptions().WithMapperFactory(b.Build())
}

// TestConstructorDiscoverer tests constructor-bound types
func TestConstructorDiscoverer(t *testing.T) {
	ctor := Constructor[endpoint](newEndpoint,
		Param{Name: "host", Tag: `validate:"hostname"`},
		Param{Name: "port", Optional: true},
	)
	opts := endpointOptions(ctor)

	t.Run("Load", func(t *testing.T) {
		root := NewRoot(opts)
		require.NoError(t, root.SetRaw(map[string]any{"host": "example.com"}))
		ep, err := GetAs[endpoint](root)
		require.NoError(t, err)
		assert.Equal(t, endpoint{Host: "example.com", Port: 443}, ep)
	})

	t.Run("MissingParameter", func(t *testing.T) {
		root := NewRoot(opts)
		require.NoError(t, root.SetRaw(map[string]any{"port": 80}))
		_, err := GetAs[endpoint](root)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingField)

		var se *SerializationError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, Path{"host"}, se.Path)
	})

	t.Run("ConstructorError", func(t *testing.T) {
		root := NewRoot(opts)
		require.NoError(t, root.SetRaw(map[string]any{"host": "example.com", "port": -1}))
		_, err := GetAs[endpoint](root)
		assert.ErrorIs(t, err, errBadPort)
	})

	t.Run("ParameterConstraint", func(t *testing.T) {
		root := NewRoot(opts)
		require.NoError(t, root.SetRaw(map[string]any{"host": "not a host"}))
		_, err := GetAs[endpoint](root)
		assert.ErrorIs(t, err, ErrConstraint)
	})

	t.Run("SaveReadsFields", func(t *testing.T) {
		root := NewRoot(opts)
		require.NoError(t, root.Set(endpoint{Host: "h.example", Port: 8}))
		assert.Equal(t, map[string]any{"host": "h.example", "port": int64(8)}, root.Raw())
	})

	t.Run("NoEmptyInstances", func(t *testing.T) {
		m, err := MapperFor[endpoint](opts)
		require.NoError(t, err)
		assert.False(t, m.Untyped().CanCreateInstances())
		assert.Error(t, m.Untyped().LoadInto(NewRoot(opts), &endpoint{}))
	})

	t.Run("Ambiguous", func(t *testing.T) {
		_, err := MapperFor[endpoint](endpointOptions(ctor, ctor))
		assert.ErrorIs(t, err, ErrAmbiguousDiscoverer)
	})

	t.Run("BadSignature", func(t *testing.T) {
		bad := Constructor[endpoint](func(host string) endpoint { return endpoint{Host: host} },
			Param{Name: "host"}, Param{Name: "port"})
		_, err := MapperFor[endpoint](endpointOptions(bad))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be a func taking 2 parameters")
	})
}

// TestMapperFactory tests naming, custom tags and caching
func TestMapperFactory(t *testing.T) {
	type naming struct {
		HTTPServerPort int
		UserID         string
	}

	t.Run("NamingSchemes", func(t *testing.T) {
		for _, tc := range []struct {
			scheme NamingScheme
			want   []string
		}{
			{LowerCaseDashed, []string{"http-server-port", "user-id"}},
			{SnakeCase, []string{"http_server_port", "user_id"}},
			{CamelCase, []string{"httpServerPort", "userId"}},
			{Passthrough, []string{"HTTPServerPort", "UserID"}},
		} {
			f := NewMapperFactoryBuilder().WithNamingScheme(tc.scheme).Build()
			m, err := MapperFor[naming](DefaultOptions().WithMapperFactory(f))
			require.NoError(t, err)

			var names []string
			for _, fi := range m.Untyped().Fields() {
				names = append(names, fi.Name)
			}
			assert.Equal(t, tc.want, names)
		}
	})

	t.Run("SameNamedLocalTypes", func(t *testing.T) {
		first, second := localSettingsA(), localSettingsB()
		require.Equal(t, first.String(), second.String())

		f := NewMapperFactoryBuilder().Build()
		s := DefaultSerializers()
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			for _, typ := range []reflect.Type{first, second} {
				wg.Add(1)
				go func(typ reflect.Type) {
					defer wg.Done()
					m, err := f.Get(typ, s)
					if assert.NoError(t, err) {
						assert.Equal(t, typ, m.Type())
					}
				}(typ)
			}
		}
		wg.Wait()
	})

	t.Run("CustomTagName", func(t *testing.T) {
		type tagged struct {
			Port int `yaml:"listen"`
		}
		f := NewMapperFactoryBuilder().WithTagName("yaml").Build()
		m, err := MapperFor[tagged](DefaultOptions().WithMapperFactory(f))
		require.NoError(t, err)
		assert.Equal(t, "listen", m.Untyped().Fields()[0].Name)
	})

	t.Run("CustomConstraintAndProcessor", func(t *testing.T) {
		type custom struct {
			Level string `oneof:"low high" upper:""`
		}
		f := NewMapperFactoryBuilder().
			AddConstraint("oneof", func(tag string, _ reflect.Type) (Constraint, error) {
				return func(v reflect.Value) error {
					for _, allowed := range []string{"low", "high"} {
						if v.String() == allowed {
							return nil
						}
					}
					return errors.New("not allowed")
				}, nil
			}).
			AddProcessor("upper", func(string, reflect.Type) (Processor, error) {
				return func(n *Node) { n.SetComment("processed " + n.String("")) }, nil
			}).
			Build()
		opts := DefaultOptions().WithMapperFactory(f)

		root := NewRoot(opts)
		require.NoError(t, root.Set(custom{Level: "low"}))
		assert.Equal(t, "processed low", root.Node("level").Comment())

		require.NoError(t, root.Node("level").SetRaw("mid"))
		_, err := GetAs[custom](root)
		assert.ErrorIs(t, err, ErrConstraint)
	})

	t.Run("CachedPerCollection", func(t *testing.T) {
		f := NewMapperFactoryBuilder().Build()
		opts := DefaultOptions().WithMapperFactory(f)

		var wg sync.WaitGroup
		results := make([]*ObjectMapper, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				m, err := MapperFor[defaultedConfig](opts)
				assert.NoError(t, err)
				results[i] = m.Untyped()
			}(i)
		}
		wg.Wait()
		for _, m := range results[1:] {
			assert.Same(t, results[0], m)
		}

		other := opts.WithSerializers(func(*SerializersBuilder) {})
		m, err := MapperFor[defaultedConfig](other)
		require.NoError(t, err)
		assert.NotSame(t, results[0], m.Untyped())
	})
}

func localSettingsA() reflect.Type {
	type settings struct{ Port int }
	return reflect.TypeOf(settings{})
}

func localSettingsB() reflect.Type {
	type settings struct{ Host string }
	return reflect.TypeOf(settings{})
}
