// Package textnorm holds the normalization used to build and probe lookup keys.
package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	lower = cases.Lower(language.Catalan)

	// Typographic apostrophes and the fullwidth middle dot fold to their ASCII/Latin-1 forms.
	foldMarks = runes.Map(func(r rune) rune {
		switch r {
		case '’', '‘', 'ʼ', '`':
			return '\''
		case '‧', '·':
			return '·'
		}
		return r
	})

	keyChain = transform.Chain(norm.NFC, foldMarks)
)

// Key returns the lookup key for a phrase: NFC, lowercase, apostrophes folded,
// inner whitespace collapsed to one space. Diacritics are kept.
func Key(s string) string {
	folded, _, err := transform.String(keyChain, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(lower.String(folded)), " ")
}

// JoinKey builds the key for a token window.
func JoinKey(tokens []string) string {
	return Key(strings.Join(tokens, " "))
}

// WordCount is the number of whitespace-separated tokens in a normalized phrase.
func WordCount(s string) int {
	n := len(strings.Fields(s))
	if n == 0 {
		return 1
	}
	return n
}

// Clean strips control characters (except newlines and tabs) and applies NFC.
func Clean(s string) string {
	s = norm.NFC.String(s)
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// RuneIndex converts byte offsets of one string into rune offsets.
type RuneIndex struct {
	text string
}

// NewRuneIndex indexes text for byte to rune offset conversion.
func NewRuneIndex(text string) RuneIndex { return RuneIndex{text: text} }

// Rune returns the rune offset of byte offset b.
func (ri RuneIndex) Rune(b int) int {
	if b <= 0 {
		return 0
	}
	if b > len(ri.text) {
		b = len(ri.text)
	}
	return utf8.RuneCountInString(ri.text[:b])
}
