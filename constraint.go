// FILE: lixenwraith/conftree/constraint.go
package conftree

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Constraint checks a deserialized field value. A non-nil error is the
// human-readable reason for rejection.
type Constraint func(value reflect.Value) error

// ConstraintFactory builds a Constraint from a tag value at mapper build time.
type ConstraintFactory func(tagValue string, fieldType reflect.Type) (Constraint, error)

// Processor runs on a field's node after the field has been written.
type Processor func(n *Node)

// ProcessorFactory builds a Processor from a tag value at mapper build time.
type ProcessorFactory func(tagValue string, fieldType reflect.Type) (Processor, error)

// ValidateConstraint checks values with go-playground/validator tag syntax,
// e.g. `validate:"min=1,max=65535"`.
func ValidateConstraint(v *validator.Validate) ConstraintFactory {
	return func(tagValue string, _ reflect.Type) (Constraint, error) {
		return func(value reflect.Value) error {
			err := v.Var(value.Interface(), tagValue)
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				reasons := make([]string, 0, len(verrs))
				for _, fe := range verrs {
					if fe.Param() != "" {
						reasons = append(reasons, fmt.Sprintf("failed %q (%s)", fe.Tag(), fe.Param()))
					} else {
						reasons = append(reasons, fmt.Sprintf("failed %q", fe.Tag()))
					}
				}
				return errors.New(strings.Join(reasons, ", "))
			}
			return err
		}, nil
	}
}

// MatchesConstraint requires string values to match a regular expression,
// e.g. `matches:"^[a-z]+$"`. The pattern is compiled at build time.
func MatchesConstraint(tagValue string, fieldType reflect.Type) (Constraint, error) {
	if fieldType.Kind() != reflect.String {
		return nil, fmt.Errorf("matches constraint requires a string field, got %s", fieldType)
	}
	re, err := regexp.Compile(tagValue)
	if err != nil {
		return nil, fmt.Errorf("invalid matches pattern: %w", err)
	}
	return func(value reflect.Value) error {
		if !re.MatchString(value.String()) {
			return fmt.Errorf("value %q does not match pattern %q", value.String(), re.String())
		}
		return nil
	}, nil
}

// CommentProcessor attaches the tag value as the node comment unless the
// node already carries one, e.g. `comment:"Listen port"`.
func CommentProcessor(tagValue string, _ reflect.Type) (Processor, error) {
	return func(n *Node) {
		n.SetCommentIfAbsent(tagValue)
	}, nil
}

// tagKeys returns the keys of a struct tag in declaration order.
// It follows the parsing rules of reflect.StructTag.Lookup.
func tagKeys(tag reflect.StructTag) []string {
	var keys []string
	for tag != "" {
		i := 0
		for i < len(tag) && tag[i] == ' ' {
			i++
		}
		tag = tag[i:]
		if tag == "" {
			break
		}

		i = 0
		for i < len(tag) && tag[i] > ' ' && tag[i] != ':' && tag[i] != '"' && tag[i] != 0x7f {
			i++
		}
		if i == 0 || i+1 >= len(tag) || tag[i] != ':' || tag[i+1] != '"' {
			break
		}
		name := string(tag[:i])
		tag = tag[i+1:]

		// Scan quoted value.
		i = 1
		for i < len(tag) && tag[i] != '"' {
			if tag[i] == '\\' {
				i++
			}
			i++
		}
		if i >= len(tag) {
			break
		}
		tag = tag[i+1:]
		keys = append(keys, name)
	}
	return keys
}
