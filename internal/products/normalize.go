// Package products turns raw recognition candidates into a clean product list.
package products

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultRejectTerms mark a candidate the recognition engine could not read.
var DefaultRejectTerms = []string{
	"unknown",
	"error",
	"unidentified",
	"not clear",
	"cannot identify",
}

// DefaultMinLength is the shortest trimmed candidate accepted as a name.
const DefaultMinLength = 3

// Normalizer cleans candidate names. The zero value is not usable; use NewNormalizer.
type Normalizer struct {
	rejectTerms []string
	minLength   int
}

// NewNormalizer creates a normalizer with the given rejection vocabulary and
// minimum length. Terms are matched case-insensitively as substrings.
func NewNormalizer(rejectTerms []string, minLength int) *Normalizer {
	terms := make([]string, 0, len(rejectTerms))
	for _, t := range rejectTerms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			terms = append(terms, t)
		}
	}
	return &Normalizer{
		rejectTerms: terms,
		minLength:   minLength,
	}
}

// DefaultNormalizer returns a normalizer using DefaultRejectTerms and DefaultMinLength.
func DefaultNormalizer() *Normalizer {
	return NewNormalizer(DefaultRejectTerms, DefaultMinLength)
}

// Normalize returns the canonical name for raw, or false if raw is rejected.
func (n *Normalizer) Normalize(raw string) (string, bool) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", false
	}

	lower := strings.ToLower(name)
	for _, term := range n.rejectTerms {
		if strings.Contains(lower, term) {
			return "", false
		}
	}

	if utf8.RuneCountInString(name) < n.minLength {
		return "", false
	}

	// strings.Fields splits on any whitespace run, which also trims
	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	if len(words) == 0 {
		return "", false
	}
	for i, w := range words {
		words[i] = titleWord(w)
	}
	return strings.Join(words, " "), true
}

// titleWord upper-cases the first letter of every letter run and lower-cases
// the rest, so "coca-cola's" becomes "Coca-Cola'S" the same way Python's
// str.title() treats non-letter boundaries.
func titleWord(w string) string {
	var b strings.Builder
	b.Grow(len(w))
	prevLetter := false
	for _, r := range w {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToTitle(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}
