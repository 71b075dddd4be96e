// FILE: lixenwraith/conftree/scalars.go
package conftree

import (
	"encoding"
	"fmt"
	"math"
	"net"
	"net/url"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
)

var (
	defaultSerializersOnce sync.Once
	defaultSerializers     *Serializers
)

// DefaultSerializers returns the shared root collection with the built-in
// serializers. Custom collections usually chain to it through ChildBuilder.
func DefaultSerializers() *Serializers {
	defaultSerializersOnce.Do(func() {
		b := NewSerializersBuilder()
		registerScalars(b)
		registerCollections(b)
		defaultSerializers = b.Build()
	})
	return defaultSerializers
}

func registerScalars(b *SerializersBuilder) {
	RegisterTypeExact[time.Duration](b, NewScalar(hookScalar[time.Duration](mapstructure.StringToTimeDurationHookFunc()), func(d time.Duration) any {
		return d.String()
	}))
	RegisterTypeExact[time.Time](b, NewScalar(hookScalar[time.Time](mapstructure.StringToTimeHookFunc(time.RFC3339)), nil))
	RegisterTypeExact[net.IP](b, NewScalar(hookScalar[net.IP](stringToNetIPHookFunc()), func(ip net.IP) any {
		return ip.String()
	}))
	RegisterTypeExact[net.IPNet](b, NewScalar(hookScalar[net.IPNet](stringToNetIPNetHookFunc()), func(n net.IPNet) any {
		return n.String()
	}))
	RegisterTypeExact[*net.IPNet](b, NewScalar(hookScalar[*net.IPNet](stringToNetIPNetHookFunc()), func(n *net.IPNet) any {
		return n.String()
	}))
	RegisterTypeExact[url.URL](b, NewScalar(hookScalar[url.URL](stringToURLHookFunc()), func(u url.URL) any {
		return u.String()
	}))
	RegisterTypeExact[*url.URL](b, NewScalar(hookScalar[*url.URL](stringToURLHookFunc()), func(u *url.URL) any {
		return u.String()
	}))
	RegisterTypeExact[*regexp.Regexp](b, NewScalar(func(raw any) (*regexp.Regexp, error) {
		s, err := toString(raw)
		if err != nil {
			return nil, err
		}
		return regexp.Compile(s)
	}, func(re *regexp.Regexp) any {
		return re.String()
	}))
	RegisterTypeExact[uuid.UUID](b, NewScalar(func(raw any) (uuid.UUID, error) {
		s, err := toString(raw)
		if err != nil {
			return uuid.Nil, err
		}
		return uuid.Parse(s)
	}, func(u uuid.UUID) any {
		return u.String()
	}))

	// Before the kind registrations so named scalars with text forms use them.
	b.Register(textMarshalerType, textSerializer{})

	b.RegisterKind(reflect.String, NewScalar(toString, nil))
	b.RegisterKind(reflect.Bool, NewScalar(toBool, nil))
	for _, k := range []reflect.Kind{reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64} {
		b.RegisterKind(k, NewScalar(toInt64, nil))
	}
	for _, k := range []reflect.Kind{reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64} {
		b.RegisterKind(k, NewScalar(toUint64, nil))
	}
	for _, k := range []reflect.Kind{reflect.Float32, reflect.Float64} {
		b.RegisterKind(k, NewScalar(toFloat64, nil))
	}
}

// hookScalar converts raw values with a mapstructure decode hook. Values that
// already have type T pass through.
func hookScalar[T any](hook mapstructure.DecodeHookFunc) func(raw any) (T, error) {
	return func(raw any) (T, error) {
		var zero T
		if v, ok := raw.(T); ok {
			return v, nil
		}
		// Hooks only act on strings; numbers and the like go through their
		// string form, e.g. a TOML integer for a duration in nanoseconds.
		if _, isString := raw.(string); !isString {
			if _, isDuration := any(zero).(time.Duration); isDuration {
				ns, err := toInt64(raw)
				if err != nil {
					return zero, err
				}
				return any(time.Duration(ns)).(T), nil
			}
			s, err := toString(raw)
			if err != nil {
				return zero, err
			}
			raw = s
		}
		out, err := mapstructure.DecodeHookExec(hook, reflect.ValueOf(raw), reflect.New(reflect.TypeFor[T]()).Elem())
		if err != nil {
			return zero, err
		}
		v, ok := out.(T)
		if !ok {
			return zero, fmt.Errorf("cannot convert %T to %s", raw, reflect.TypeFor[T]())
		}
		return v, nil
	}
}

// stringToNetIPHookFunc handles net.IP conversion
func stringToNetIPHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeFor[net.IP]() {
			return data, nil
		}

		str := data.(string)
		if len(str) > 45 { // Max IPv6 length
			return nil, fmt.Errorf("invalid IP length: %d", len(str))
		}
		ip := net.ParseIP(str)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP address: %s", str)
		}
		return ip, nil
	}
}

// stringToNetIPNetHookFunc handles net.IPNet conversion
func stringToNetIPNetHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		isPtr := t.Kind() == reflect.Pointer
		targetType := t
		if isPtr {
			targetType = t.Elem()
		}
		if targetType != reflect.TypeFor[net.IPNet]() {
			return data, nil
		}

		str := data.(string)
		if len(str) > 49 { // Max IPv6 CIDR length
			return nil, fmt.Errorf("invalid CIDR length: %d", len(str))
		}
		_, ipnet, err := net.ParseCIDR(str)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR: %w", err)
		}
		if isPtr {
			return ipnet, nil
		}
		return *ipnet, nil
	}
}

// stringToURLHookFunc handles url.URL conversion
func stringToURLHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		isPtr := t.Kind() == reflect.Pointer
		targetType := t
		if isPtr {
			targetType = t.Elem()
		}
		if targetType != reflect.TypeFor[url.URL]() {
			return data, nil
		}

		str := data.(string)
		if len(str) > 2048 {
			return nil, fmt.Errorf("URL too long: %d bytes", len(str))
		}
		u, err := url.Parse(str)
		if err != nil {
			return nil, fmt.Errorf("invalid URL: %w", err)
		}
		if isPtr {
			return u, nil
		}
		return *u, nil
	}
}

// toString converts a stored scalar to its string form.
func toString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	}
	return "", fmt.Errorf("cannot convert type %T to string", raw)
}

func toBool(raw any) (bool, error) {
	if s, ok := raw.(string); ok {
		if b, ok := parseBool(s); ok {
			return b, nil
		}
		return false, fmt.Errorf("cannot convert string %q to bool", s)
	}
	var out bool
	if err := mapstructure.WeakDecode(raw, &out); err != nil {
		return false, err
	}
	return out, nil
}

func toInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case float32, float64:
		f := reflect.ValueOf(v).Float()
		if f != math.Trunc(f) {
			return 0, fmt.Errorf("cannot convert %v to an integer without truncation", f)
		}
	case string:
		raw = strings.TrimSpace(v)
	case bool:
		return 0, fmt.Errorf("cannot convert bool to an integer")
	}
	var out int64
	if err := mapstructure.WeakDecode(raw, &out); err != nil {
		return 0, err
	}
	return out, nil
}

func toUint64(raw any) (uint64, error) {
	i, err := toInt64(raw)
	if err == nil {
		if i < 0 {
			return 0, fmt.Errorf("cannot convert negative %d to an unsigned integer", i)
		}
		return uint64(i), nil
	}
	// Values above MaxInt64.
	var out uint64
	if uerr := mapstructure.WeakDecode(raw, &out); uerr != nil {
		return 0, err
	}
	return out, nil
}

func toFloat64(raw any) (float64, error) {
	if s, ok := raw.(string); ok {
		raw = strings.TrimSpace(s)
	}
	var out float64
	if err := mapstructure.WeakDecode(raw, &out); err != nil {
		return 0, err
	}
	return out, nil
}

var (
	textMarshalerType   = reflect.TypeFor[encoding.TextMarshaler]()
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
)

// textSerializer stores types implementing encoding.TextMarshaler in their
// text form. Reading requires *T to implement encoding.TextUnmarshaler.
type textSerializer struct{}

func (textSerializer) Deserialize(t reflect.Type, n *Node) (any, error) {
	target, isPtr := t, false
	switch {
	case reflect.PointerTo(t).Implements(textUnmarshalerType):
	case t.Kind() == reflect.Pointer && t.Implements(textUnmarshalerType):
		target, isPtr = t.Elem(), true
	default:
		return nil, serializationErrorf(n, t, "type cannot be read from text")
	}
	raw, err := scalarOf(t, n)
	if err != nil {
		return nil, err
	}
	s, err := toString(raw)
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(target)
	if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
		return nil, err
	}
	if isPtr {
		return ptr.Interface(), nil
	}
	return ptr.Elem().Interface(), nil
}

func (textSerializer) Serialize(t reflect.Type, v any, n *Node) error {
	m, ok := v.(encoding.TextMarshaler)
	if !ok {
		return serializationErrorf(n, t, "%T does not implement encoding.TextMarshaler", v)
	}
	text, err := m.MarshalText()
	if err != nil {
		return err
	}
	return storeScalar(n, string(text))
}

// enumSerializer maps names to values of T.
type enumSerializer[T comparable] struct {
	byName map[string]T
	names  map[T]string
}

// NewEnum builds a serializer for a set of named values. Lookup ignores case
// and the separators '-', '_' and ' '. Values are written under the name
// given in names.
func NewEnum[T comparable](names map[string]T) TypeSerializer {
	e := &enumSerializer[T]{byName: make(map[string]T, len(names)), names: make(map[T]string, len(names))}
	for name, v := range names {
		e.byName[enumKey(name)] = v
		e.names[v] = name
	}
	return e
}

func enumKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', ' ':
			return -1
		}
		return r
	}, strings.ToLower(s))
}

func (e *enumSerializer[T]) Deserialize(t reflect.Type, n *Node) (any, error) {
	raw, err := scalarOf(t, n)
	if err != nil {
		return nil, err
	}
	s, err := toString(raw)
	if err != nil {
		return nil, err
	}
	v, ok := e.byName[enumKey(s)]
	if !ok {
		return nil, serializationErrorf(n, t, "invalid enum constant %q", s)
	}
	return v, nil
}

func (e *enumSerializer[T]) Serialize(t reflect.Type, v any, n *Node) error {
	typed, ok := v.(T)
	if !ok {
		return serializationErrorf(n, t, "expected %s, got %T", reflect.TypeFor[T](), v)
	}
	name, ok := e.names[typed]
	if !ok {
		return serializationErrorf(n, t, "value %v is not a known constant", v)
	}
	return storeScalar(n, name)
}
