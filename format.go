// FILE: lixenwraith/conftree/format.go
package conftree

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format names a configuration file syntax.
type Format string

const (
	FormatAuto Format = "auto"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name. The empty string means auto.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatTOML, FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// DetectFormat determines format from file extension
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", ".tml":
		return FormatTOML
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		// .conf, .config and others need content detection
		return ""
	}
}

// DetectFormatFromContent attempts to detect format by parsing
func DetectFormatFromContent(data []byte) Format {
	// Try JSON first (strict format)
	var jsonTest any
	if err := json.Unmarshal(data, &jsonTest); err == nil {
		return FormatJSON
	}

	// TOML before YAML: most TOML documents are not valid YAML, but a
	// "key = value" line is a valid YAML scalar.
	var tomlTest map[string]any
	if err := toml.Unmarshal(data, &tomlTest); err == nil {
		return FormatTOML
	}

	var yamlTest any
	if err := yaml.Unmarshal(data, &yamlTest); err == nil {
		return FormatYAML
	}

	return ""
}

// DecodeNode parses data into a new tree bound to opts. A header comment in
// the source is recorded in the tree's options.
func DecodeNode(data []byte, format Format, opts *Options) (*Node, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if format == "" || format == FormatAuto {
		format = DetectFormatFromContent(data)
	}
	switch format {
	case FormatTOML:
		return decodeTOML(data, opts)
	case FormatJSON:
		return decodeJSON(data, opts)
	case FormatYAML:
		return decodeYAML(data, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// EncodeNode serializes the tree. Comments are written for YAML, and the
// options header for YAML and TOML.
func EncodeNode(n *Node, format Format) ([]byte, error) {
	switch format {
	case FormatTOML:
		return encodeTOML(n)
	case FormatJSON:
		return encodeJSON(n)
	case FormatYAML:
		return encodeYAML(n)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// TOML

func decodeTOML(data []byte, opts *Options) (*Node, error) {
	var raw map[string]any
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, tomlParsingError(err)
	}
	header := leadingComment(data, "#")
	root := NewRoot(opts.WithHeader(header))

	// Insert in document order; arrays and values are set whole, so keys
	// below them are skipped.
	var done []toml.Key
	for _, key := range md.Keys() {
		if underAny(key, done) {
			continue
		}
		v, ok := lookupTOML(raw, key)
		if !ok {
			continue
		}
		if m, isMap := v.(map[string]any); isMap && len(m) > 0 {
			continue // table header, children follow
		}
		if err := root.Node(keyPath(key)...).SetRaw(v); err != nil {
			return nil, err
		}
		done = append(done, key)
	}
	// Keys the metadata did not list still belong in the tree.
	if err := fillMissing(root, raw); err != nil {
		return nil, err
	}
	return root, nil
}

func fillMissing(n *Node, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v := m[k]
		if !n.HasChild(k) {
			if err := n.Node(k).SetRaw(v); err != nil {
				return err
			}
			continue
		}
		if sub, ok := v.(map[string]any); ok {
			if err := fillMissing(n.Node(k), sub); err != nil {
				return err
			}
		}
	}
	return nil
}

func lookupTOML(m map[string]any, key toml.Key) (any, bool) {
	var cur any = m
	for _, k := range key {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = mm[k]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func underAny(key toml.Key, prefixes []toml.Key) bool {
	for _, p := range prefixes {
		if len(key) > len(p) && slices.Equal(key[:len(p)], p) {
			return true
		}
	}
	return false
}

func keyPath(key toml.Key) []any {
	out := make([]any, len(key))
	for i, k := range key {
		out[i] = k
	}
	return out
}

func tomlParsingError(err error) error {
	var pe toml.ParseError
	if errors.As(err, &pe) {
		return &ParsingError{Line: pe.Position.Line, Err: errors.New(pe.Message)}
	}
	return &ParsingError{Err: err}
}

func encodeTOML(n *Node) ([]byte, error) {
	raw := n.Raw()
	if raw == nil {
		raw = map[string]any{}
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("TOML requires a table at the root, got %s", n.value.kind)
	}
	var buf bytes.Buffer
	writeHeader(&buf, n.opts.header, "#")
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return nil, fmt.Errorf("failed to marshal config data to TOML: %w", err)
	}
	return buf.Bytes(), nil
}

// JSON

func decodeJSON(data []byte, opts *Options) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber() // Preserve number precision
	root := NewRoot(opts)
	if err := decodeJSONValue(dec, root); err != nil {
		return nil, jsonParsingError(data, dec, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, jsonParsingError(data, dec, errors.New("unexpected data after top-level value"))
	}
	return root, nil
}

// decodeJSONValue reads one value into n, keeping object key order.
func decodeJSONValue(dec *json.Decoder, n *Node) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			if err := n.attachIfNecessary(); err != nil {
				return err
			}
			n.replaceValue(mapValue())
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return err
				}
				key, _ := keyTok.(string)
				if err := decodeJSONValue(dec, n.Node(key)); err != nil {
					return err
				}
			}
		case '[':
			if err := n.attachIfNecessary(); err != nil {
				return err
			}
			n.replaceValue(listValue(n, 0))
			for i := 0; dec.More(); i++ {
				child := n.Node(i)
				if err := decodeJSONValue(dec, child); err != nil {
					return err
				}
				// Keep null elements in place.
				if err := child.attachIfNecessary(); err != nil {
					return err
				}
			}
		}
		_, err := dec.Token() // closing delimiter
		return err
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return n.SetRaw(i)
		}
		f, err := t.Float64()
		if err != nil {
			return err
		}
		return n.SetRaw(f)
	case nil:
		return nil
	default:
		return n.SetRaw(t)
	}
}

func jsonParsingError(data []byte, dec *json.Decoder, err error) error {
	offset := dec.InputOffset()
	var se *json.SyntaxError
	if errors.As(err, &se) {
		offset = se.Offset
	}
	line, col := lineCol(data, offset)
	return &ParsingError{Line: line, Column: col, Err: err}
}

func lineCol(data []byte, offset int64) (int, int) {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	before := data[:offset]
	line := bytes.Count(before, []byte("\n")) + 1
	col := int(offset) - bytes.LastIndexByte(before, '\n')
	return line, col
}

func encodeJSON(n *Node) ([]byte, error) {
	var compact bytes.Buffer
	if err := writeJSONValue(&compact, n); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
		return nil, fmt.Errorf("failed to indent JSON: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func writeJSONValue(buf *bytes.Buffer, n *Node) error {
	switch n.value.kind {
	case kindMap:
		buf.WriteByte('{')
		for i, c := range n.Children() {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(keyString(c.key))
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeJSONValue(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case kindList:
		buf.WriteByte('[')
		for i, c := range n.value.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONValue(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case kindScalar:
		b, err := json.Marshal(n.value.scalar)
		if err != nil {
			return fmt.Errorf("failed to marshal %s to JSON: %w", n.Path(), err)
		}
		buf.Write(b)
	default:
		buf.WriteString("null")
	}
	return nil
}

// YAML

var yamlLineRe = regexp.MustCompile(`line (\d+)`)

func decodeYAML(data []byte, opts *Options) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		pe := &ParsingError{Err: err}
		if m := yamlLineRe.FindStringSubmatch(err.Error()); m != nil {
			pe.Line, _ = strconv.Atoi(m[1])
		}
		return nil, pe
	}
	if doc.Kind == 0 {
		return NewRoot(opts), nil // empty document
	}
	header := stripComment(doc.HeadComment, "#")
	root := NewRoot(opts.WithHeader(header))
	if len(doc.Content) == 0 {
		return root, nil
	}
	if err := fromYAML(doc.Content[0], root); err != nil {
		return nil, err
	}
	return root, nil
}

func fromYAML(y *yaml.Node, n *Node) error {
	switch y.Kind {
	case yaml.AliasNode:
		return fromYAML(y.Alias, n)
	case yaml.MappingNode:
		if err := n.attachIfNecessary(); err != nil {
			return err
		}
		n.replaceValue(mapValue())
		for i := 0; i+1 < len(y.Content); i += 2 {
			k, v := y.Content[i], y.Content[i+1]
			if k.Value == "<<" && (k.Tag == "!!merge" || k.Tag == "") {
				if err := mergeYAML(v, n); err != nil {
					return err
				}
				continue
			}
			child := n.Node(k.Value)
			if err := fromYAML(v, child); err != nil {
				return err
			}
			if comment := stripComment(k.HeadComment, "#"); comment != "" {
				child.SetComment(comment)
			}
		}
	case yaml.SequenceNode:
		if err := n.attachIfNecessary(); err != nil {
			return err
		}
		n.replaceValue(listValue(n, len(y.Content)))
		for i, item := range y.Content {
			child := n.Node(i)
			if err := fromYAML(item, child); err != nil {
				return err
			}
			if err := child.attachIfNecessary(); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
		var v any
		if err := y.Decode(&v); err != nil {
			return &ParsingError{Line: y.Line, Column: y.Column, Err: err}
		}
		if i, ok := v.(int); ok {
			v = int64(i)
		}
		if v == nil {
			return nil
		}
		return n.SetRaw(v)
	}
	return nil
}

// mergeYAML applies a "<<" merge key: existing keys win.
func mergeYAML(v *yaml.Node, n *Node) error {
	sources := []*yaml.Node{v}
	if v.Kind == yaml.SequenceNode {
		sources = v.Content
	}
	for _, src := range sources {
		tmp := NewRoot(n.opts)
		if err := fromYAML(src, tmp); err != nil {
			return err
		}
		for _, c := range tmp.Children() {
			if !n.HasChild(c.key) {
				if err := n.Node(c.key).From(c); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func encodeYAML(n *Node) ([]byte, error) {
	doc := &yaml.Node{Kind: yaml.DocumentNode}
	body, err := toYAML(n)
	if err != nil {
		return nil, err
	}
	doc.Content = []*yaml.Node{body}
	if h := n.opts.header; h != "" {
		doc.HeadComment = h
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to marshal config data to YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toYAML(n *Node) (*yaml.Node, error) {
	switch n.value.kind {
	case kindMap:
		out := &yaml.Node{Kind: yaml.MappingNode}
		for _, c := range n.Children() {
			key := &yaml.Node{Kind: yaml.ScalarNode, Value: keyString(c.key), HeadComment: c.comment}
			val, err := toYAML(c)
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, key, val)
		}
		return out, nil
	case kindList:
		out := &yaml.Node{Kind: yaml.SequenceNode}
		for _, c := range n.value.list {
			val, err := toYAML(c)
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, val)
		}
		return out, nil
	case kindScalar:
		out := &yaml.Node{}
		if err := out.Encode(n.value.scalar); err != nil {
			return nil, fmt.Errorf("failed to marshal %s to YAML: %w", n.Path(), err)
		}
		return out, nil
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	}
}

// Comments

// leadingComment collects the comment lines at the top of data, up to the
// first blank or non-comment line.
func leadingComment(data []byte, marker string) string {
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, marker) {
			break
		}
		lines = append(lines, strings.TrimSpace(strings.TrimPrefix(trimmed, marker)))
	}
	return strings.Join(lines, "\n")
}

func stripComment(c, marker string) string {
	if c == "" {
		return ""
	}
	lines := strings.Split(c, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), marker))
	}
	return strings.Join(lines, "\n")
}

func writeHeader(buf *bytes.Buffer, header, marker string) {
	if header == "" {
		return
	}
	for _, line := range strings.Split(header, "\n") {
		buf.WriteString(marker)
		if line != "" {
			buf.WriteByte(' ')
			buf.WriteString(line)
		}
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
}
