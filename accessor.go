// FILE: lixenwraith/conftree/accessor.go
package conftree

import (
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Soft accessors never fail: any value that cannot be coerced yields def.
// Strings are parsed with strconv, which is locale independent.

// String returns the scalar as a string, converting common types.
func (n *Node) String(def string) string {
	if n.value.kind != kindScalar {
		return def
	}
	s, err := toString(n.value.scalar)
	if err != nil {
		return def
	}
	return s
}

// Int returns the scalar as an int, or def.
func (n *Node) Int(def int) int {
	i, ok := n.int64Value()
	if !ok || i < math.MinInt || i > math.MaxInt {
		return def
	}
	return int(i)
}

// Int64 returns the scalar as an int64, or def.
func (n *Node) Int64(def int64) int64 {
	if i, ok := n.int64Value(); ok {
		return i
	}
	return def
}

func (n *Node) int64Value() (int64, bool) {
	if n.value.kind != kindScalar {
		return 0, false
	}
	v := reflect.ValueOf(n.value.scalar)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := v.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	case reflect.Float32, reflect.Float64:
		// Only integral floats widen; 1.5 is not an int.
		f := v.Float()
		if !floatFitsInt64(f) {
			return 0, false
		}
		return int64(f), true
	case reflect.String:
		s := strings.TrimSpace(v.String())
		if i, err := strconv.ParseInt(s, 0, 64); err == nil { // base 0 accepts "0xFF"
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && floatFitsInt64(f) {
			return int64(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// floatFitsInt64 reports whether f is integral and inside [-2^63, 2^63).
// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
func floatFitsInt64(f float64) bool {
	return f == math.Trunc(f) && f >= -(1<<63) && f < 1<<63
}

// Float64 returns the scalar as a float64, or def.
func (n *Node) Float64(def float64) float64 {
	if n.value.kind != kindScalar {
		return def
	}
	v := reflect.ValueOf(n.value.scalar)
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint())
	case reflect.String:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.String()), 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns the scalar as a bool, or def. Strings accept strconv.ParseBool
// forms plus "yes"/"no" and "on"/"off"; numbers are true when non-zero.
func (n *Node) Bool(def bool) bool {
	if n.value.kind != kindScalar {
		return def
	}
	v := reflect.ValueOf(n.value.scalar)
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.String:
		if b, ok := parseBool(v.String()); ok {
			return b
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return v.Float() != 0
	}
	return def
}

func parseBool(s string) (bool, bool) {
	s = strings.TrimSpace(s)
	if b, err := strconv.ParseBool(s); err == nil {
		return b, true
	}
	switch strings.ToLower(s) {
	case "yes", "y", "on":
		return true, true
	case "no", "n", "off":
		return false, true
	}
	return false, false
}
