// Package router renders broker channel names from topic templates.
//
// A template is literal text with {{field}} placeholders:
//
//	events.{{action}}.{{region}}
//
// Placeholders are replaced with the record's raw field values. No escaping is
// applied since the result is a routing key, not markup. {{{field}}} and
// {{&field}} are accepted as aliases of {{field}} so existing mustache-style
// templates keep working. Fields that are absent from the record render as
// the empty string; the caller validates the rendered name.
package router

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTemplate is returned for malformed templates
var ErrTemplate = errors.New("malformed topic template")

// Lookup resolves a placeholder name to its value
type Lookup interface {
	Get(name string) (string, bool)
}

type segment struct {
	text  string
	field bool
}

// Template is a parsed topic template
type Template struct {
	source   string
	segments []segment
}

// Parse tokenizes a template into literal and placeholder segments
func Parse(src string) (*Template, error) {
	t := &Template{source: src}

	rest := src
	for len(rest) > 0 {
		open := strings.Index(rest, "{{")
		if open < 0 {
			t.segments = append(t.segments, segment{text: rest})
			break
		}
		if open > 0 {
			t.segments = append(t.segments, segment{text: rest[:open]})
		}
		rest = rest[open+2:]

		closing := "}}"
		if strings.HasPrefix(rest, "{") {
			rest = rest[1:]
			closing = "}}}"
		} else if strings.HasPrefix(rest, "&") {
			rest = rest[1:]
		}

		end := strings.Index(rest, closing)
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated placeholder in %q", ErrTemplate, src)
		}

		name := strings.TrimSpace(rest[:end])
		if name == "" {
			return nil, fmt.Errorf("%w: empty placeholder in %q", ErrTemplate, src)
		}
		if strings.ContainsAny(name, "{}") {
			return nil, fmt.Errorf("%w: invalid placeholder %q in %q", ErrTemplate, name, src)
		}

		t.segments = append(t.segments, segment{text: name, field: true})
		rest = rest[end+len(closing):]
	}

	return t, nil
}

// MustParse is like Parse but panics on error
func MustParse(src string) *Template {
	t, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return t
}

// Render substitutes every placeholder with its value from rec
func (t *Template) Render(rec Lookup) string {
	var b strings.Builder
	for _, s := range t.segments {
		if !s.field {
			b.WriteString(s.text)
			continue
		}
		if v, ok := rec.Get(s.text); ok {
			b.WriteString(v)
		}
	}
	return b.String()
}

// Fields returns the placeholder names in template order
func (t *Template) Fields() []string {
	var names []string
	for _, s := range t.segments {
		if s.field {
			names = append(names, s.text)
		}
	}
	return names
}

// String returns the template source
func (t *Template) String() string {
	return t.source
}
