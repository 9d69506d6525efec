// Package privacy masks sensitive substrings in post text before it is
// rendered or sent to a text-generation service.
package privacy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	redactedPlaceholder = "[REDACTED]"
	builtinPrefix       = "builtin:"
)

// builtins are named patterns usable as "builtin:<name>" in config.
var builtins = map[string]string{
	"email":  `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
	"phone":  `\+\d[\d\s().\-]{7,}\d`,
	"bearer": `(?i)bearer\s+[A-Za-z0-9._~+/\-]+=*`,
	"ipv4":   `\b(?:\d{1,3}\.){3}\d{1,3}\b`,
}

// Builtins returns the names of the built-in patterns in sorted order.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Redactor replaces pattern matches with a placeholder. A nil *Redactor is
// valid and redacts nothing.
type Redactor struct {
	patterns []*regexp.Regexp
}

// New compiles patterns. Entries of the form "builtin:<name>" expand to a
// built-in pattern; anything else is a regular expression.
func New(patterns []string) (*Redactor, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		expr := p
		if name, ok := strings.CutPrefix(p, builtinPrefix); ok {
			b, found := builtins[name]
			if !found {
				return nil, fmt.Errorf("unknown builtin redact pattern %q (have %s)", name, strings.Join(Builtins(), ", "))
			}
			expr = b
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &Redactor{patterns: compiled}, nil
}

// Len returns the number of compiled patterns.
func (r *Redactor) Len() int {
	if r == nil {
		return 0
	}
	return len(r.patterns)
}

// Redact replaces every match with [REDACTED] and reports how many
// replacements were made.
func (r *Redactor) Redact(text string) (string, int) {
	if r == nil || text == "" {
		return text, 0
	}
	total := 0
	for _, re := range r.patterns {
		n := 0
		text = re.ReplaceAllStringFunc(text, func(string) string {
			n++
			return redactedPlaceholder
		})
		total += n
	}
	return text, total
}
