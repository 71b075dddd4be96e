// FILE: lixenwraith/conftree/errors.go
package conftree

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrConfigNotFound is returned when a configuration file does not exist.
	// It is not fatal for builders, which fall back to the remaining sources.
	ErrConfigNotFound = errors.New("configuration file not found")
	// ErrCLIParse wraps failures parsing command-line overrides.
	ErrCLIParse = errors.New("failed to parse command-line arguments")
	// ErrUnsupportedFormat is returned for unknown or undetectable formats.
	ErrUnsupportedFormat = errors.New("unsupported configuration format")

	ErrNoSerializer        = errors.New("no serializer registered for type")
	ErrMergeCycle          = errors.New("merge would create a cycle")
	ErrNotList             = errors.New("node does not hold a list")
	ErrIndexOutOfRange     = errors.New("list index out of range")
	ErrRequired            = errors.New("a value is required for this field")
	ErrConstraint          = errors.New("constraint violated")
	ErrMissingField        = errors.New("missing value for constructor parameter")
	ErrAmbiguousDiscoverer = errors.New("more than one field discoverer applies to type")
	ErrClosed              = errors.New("reference is closed")
)

// SerializationError is the path-qualified error raised by typed node access,
// object mapping, constraint checks and structural tree operations.
type SerializationError struct {
	Path    Path
	Type    reflect.Type
	Field   string
	Message string
	Err     error

	pathSet bool
}

func (e *SerializationError) Error() string {
	var sb strings.Builder
	sb.WriteString("serialization error")
	if e.pathSet || len(e.Path) > 0 {
		sb.WriteString(" at ")
		sb.WriteString(e.Path.String())
	}
	if e.Type != nil {
		sb.WriteString(" (")
		sb.WriteString(e.Type.String())
		sb.WriteString(")")
	}
	if e.Field != "" {
		sb.WriteString(" field ")
		sb.WriteString(e.Field)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// initPath records the node path unless an inner frame already did.
func (e *SerializationError) initPath(p Path) {
	if !e.pathSet {
		e.Path = p
		e.pathSet = true
	}
}

func (e *SerializationError) initType(t reflect.Type) {
	if e.Type == nil {
		e.Type = t
	}
}

// serializationErrorf builds an error for a node, formatting the message.
func serializationErrorf(n *Node, t reflect.Type, format string, args ...any) *SerializationError {
	e := &SerializationError{Type: t, Message: fmt.Sprintf(format, args...)}
	if n != nil {
		e.initPath(n.Path())
	}
	return e
}

// wrapSerialization converts err into a SerializationError carrying n's path.
// Existing SerializationErrors keep their innermost path.
func wrapSerialization(n *Node, t reflect.Type, err error) error {
	if err == nil {
		return nil
	}
	var se *SerializationError
	if errors.As(err, &se) {
		if n != nil {
			se.initPath(n.Path())
		}
		se.initType(t)
		return se
	}
	e := &SerializationError{Type: t, Err: err}
	if n != nil {
		e.initPath(n.Path())
	}
	return e
}

// ParsingError reports a format loader failure with source position when known.
type ParsingError struct {
	File   string
	Line   int
	Column int
	Err    error
}

func (e *ParsingError) Error() string {
	loc := e.File
	if loc == "" {
		loc = "<input>"
	}
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", loc, e.Line, e.Column)
	}
	return fmt.Sprintf("failed to parse %s: %v", loc, e.Err)
}

func (e *ParsingError) Unwrap() error {
	return e.Err
}
