// Package match decides which skills are relevant to a free-text prompt.
//
// Matching is a pure function of the prompt tokens, a skill's name, and a
// bounded prefix of its content. It holds no state.
package match

import (
	"bytes"
	"sort"
	"strings"
	"unicode"
)

const (
	// DefaultMinTokenLen is the shortest token kept by Tokenize.
	DefaultMinTokenLen = 3
	// DefaultPrefixWindow is how many leading content bytes are searched.
	DefaultPrefixWindow = 4096
)

// Tokens is a deduplicated, lower-cased token list in first-seen order.
// An empty Tokens matches nothing.
type Tokens []string

// Tokenize splits text on anything that is not a letter or digit, lower-cases
// each piece, drops pieces shorter than minLen runes, and removes duplicates.
func Tokenize(text string, minLen int) Tokens {
	if minLen <= 0 {
		minLen = DefaultMinTokenLen
	}
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := make(Tokens, 0, len(fields))
	for _, f := range fields {
		tok := strings.ToLower(f)
		if len([]rune(tok)) < minLen || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// Empty reports whether there are no tokens.
func (t Tokens) Empty() bool {
	return len(t) == 0
}

// Sorted returns a sorted copy of the tokens.
func (t Tokens) Sorted() []string {
	out := append([]string(nil), t...)
	sort.Strings(out)
	return out
}

// Prefix returns the first window bytes of content.
func Prefix(content []byte, window int) []byte {
	if window <= 0 {
		window = DefaultPrefixWindow
	}
	if len(content) > window {
		return content[:window]
	}
	return content
}

// Result describes why a skill matched.
type Result struct {
	Matched bool
	Token   string
	InName  bool
}

// Match reports whether any token occurs, case-insensitively, in name or in
// prefix. The name is checked first.
func Match(tokens Tokens, name string, prefix []byte) Result {
	if tokens.Empty() {
		return Result{}
	}
	lowerName := strings.ToLower(name)
	for _, tok := range tokens {
		if strings.Contains(lowerName, tok) {
			return Result{Matched: true, Token: tok, InName: true}
		}
	}
	lowerPrefix := bytes.ToLower(prefix)
	for _, tok := range tokens {
		if bytes.Contains(lowerPrefix, []byte(tok)) {
			return Result{Matched: true, Token: tok}
		}
	}
	return Result{}
}
