// FILE: lixenwraith/conftree/naming.go
package conftree

import (
	"strings"
	"unicode"
)

// NamingScheme turns Go field names into node keys when no explicit name is
// given in the field tag.
type NamingScheme interface {
	Coerce(name string) string
}

// NamingFunc adapts a function to NamingScheme.
type NamingFunc func(name string) string

func (f NamingFunc) Coerce(name string) string { return f(name) }

var (
	// LowerCaseDashed maps "HTTPServerPort" to "http-server-port".
	LowerCaseDashed NamingScheme = NamingFunc(func(name string) string {
		return strings.Join(lowerWords(name), "-")
	})
	// SnakeCase maps "HTTPServerPort" to "http_server_port".
	SnakeCase NamingScheme = NamingFunc(func(name string) string {
		return strings.Join(lowerWords(name), "_")
	})
	// CamelCase maps "HTTPServerPort" to "httpServerPort".
	CamelCase NamingScheme = NamingFunc(func(name string) string {
		words := lowerWords(name)
		for i := 1; i < len(words); i++ {
			words[i] = strings.ToUpper(words[i][:1]) + words[i][1:]
		}
		return strings.Join(words, "")
	})
	// Passthrough keeps the Go name.
	Passthrough NamingScheme = NamingFunc(func(name string) string { return name })
)

func lowerWords(name string) []string {
	words := splitWords(name)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return words
}

// splitWords splits an identifier at case changes, underscores and dashes. Runs of capitals stay together:
// "HTTPServer" gives "HTTP", "Server".
func splitWords(name string) []string {
	var (
		words []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(name)
	for i, r := range runes {
		if r == '_' || r == '-' || r == ' ' {
			flush()
			continue
		}
		if i > 0 && len(cur) > 0 {
			prev := runes[i-1]
			switch {
			case unicode.IsUpper(r) && unicode.IsLower(prev):
				flush()
			case unicode.IsUpper(r) && unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}
