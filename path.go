// FILE: lixenwraith/conftree/path.go
package conftree

import (
	"fmt"
	"strconv"
	"strings"
)

// Path is a sequence of node keys from a root to a node.
// Elements are map keys (usually strings) or int list indexes.
type Path []any

// String renders the path in dot notation, e.g. "server.ports.0".
// The root path renders as "<root>".
func (p Path) String() string {
	if len(p) == 0 {
		return "<root>"
	}
	parts := make([]string, len(p))
	for i, el := range p {
		parts[i] = keyString(el)
	}
	return strings.Join(parts, ".")
}

// Child returns a new path with key appended.
func (p Path) Child(key any) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, key)
}

// ParsePath splits a dot-separated path. Segments made only of digits become
// int list indexes.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return Path{}, nil
	}
	segments := strings.Split(s, ".")
	out := make(Path, 0, len(segments))
	for _, segment := range segments {
		if !isValidKeySegment(segment) {
			return nil, fmt.Errorf("invalid path segment %q in path %q", segment, s)
		}
		if idx, err := strconv.Atoi(segment); err == nil && idx >= 0 {
			out = append(out, idx)
			continue
		}
		out = append(out, segment)
	}
	return out, nil
}

// keyString renders a node key for paths, env names and string-keyed maps.
func keyString(key any) string {
	switch k := key.(type) {
	case string:
		return k
	case int:
		return strconv.Itoa(k)
	case nil:
		return ""
	default:
		return fmt.Sprint(k)
	}
}

// isValidKeySegment checks that a path segment is a bare key:
// ASCII letters, digits, underscores and dashes.
func isValidKeySegment(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		isDigit := r >= '0' && r <= '9'
		if !(isLetter || isDigit || r == '_' || r == '-') {
			return false
		}
	}
	return true
}
