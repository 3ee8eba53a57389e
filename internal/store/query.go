package store

import (
	"strings"
	"unicode"
)

// DefaultMaxMatches is the hard result cap applied when a query leaves
// MaxMatches and Limit unset.
const DefaultMaxMatches = 10000

// effectiveLimit returns the number of hits a query may return.
func effectiveLimit(q Query) int {
	limit := q.Limit
	if q.MaxMatches > 0 && (limit <= 0 || q.MaxMatches < limit) {
		limit = q.MaxMatches
	}
	if limit <= 0 {
		limit = DefaultMaxMatches
	}
	return limit
}

// unescape removes the backslash escapes added by the query escaper so the
// backend sees the literal text.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	escaped := false
	for _, r := range s {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}

// queryTokens splits escaped clause text into literal terms. Terms without
// a letter or digit carry nothing the analyzers index and are dropped.
func queryTokens(text string) []string {
	fields := strings.Fields(unescape(text))
	tokens := fields[:0]
	for _, f := range fields {
		if strings.IndexFunc(f, isWordRune) >= 0 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
