// Package match runs the deterministic detection tiers over a token stream:
// exact and stem lookups, then vector retrieval on what is left.
package match

import (
	"fmt"
	"strings"

	"github.com/optim-dev/aina/pkg/terminology/glossary"
	"github.com/optim-dev/aina/pkg/terminology/ingest"
)

// Method records which tier produced a candidate.
type Method uint8

const (
	Exact Method = iota + 1
	Stem
	Vector
	Generative
)

var methodNames = map[Method]string{
	Exact:      "exact",
	Stem:       "stem",
	Vector:     "vector",
	Generative: "generative",
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("method(%d)", uint8(m))
}

func (m Method) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Method) UnmarshalText(b []byte) error {
	for k, v := range methodNames {
		if v == string(b) {
			*m = k
			return nil
		}
	}
	return fmt.Errorf("unknown method %q", b)
}

// Candidate is one detected span before composition. Start and End are
// byte offsets into the analyzed text.
type Candidate struct {
	Start   int
	End     int
	Surface string
	Method  Method
	// Entry is nil only for generative findings that name no glossary term.
	Entry      *glossary.Entry
	Score      float64
	Context    string
	Unverified bool

	// Token positions [TokenStart, TokenEnd) for token-based tiers.
	TokenStart int
	TokenEnd   int
	Lemma      string
	POS        string

	// Set by the generative tier.
	IssueKind     string
	SuggestedTerm string
}

// Len is the span length in bytes.
func (c Candidate) Len() int { return c.End - c.Start }

// Overlaps reports whether two spans share at least one byte.
func (c Candidate) Overlaps(o Candidate) bool {
	return c.Start < o.End && o.Start < c.End
}

// Snippet returns the text around tokens[from:to], widened by window tokens
// on each side.
func Snippet(text string, tokens []ingest.Token, from, to, window int) string {
	if len(tokens) == 0 || from >= to {
		return ""
	}
	lo := max(from-window, 0)
	hi := min(to+window, len(tokens))
	return strings.TrimSpace(text[tokens[lo].Start:tokens[hi-1].End])
}

// ByteSnippet returns the text around [start,end) widened to roughly radius
// bytes on each side, snapped to rune and word boundaries.
func ByteSnippet(text string, start, end, radius int) string {
	lo := max(start-radius, 0)
	hi := min(end+radius, len(text))
	for lo > 0 && !isBoundary(text, lo) {
		lo--
	}
	for hi < len(text) && !isBoundary(text, hi) {
		hi++
	}
	return strings.TrimSpace(text[lo:hi])
}

func isBoundary(text string, i int) bool {
	return text[i] == ' ' || text[i] == '\n' || text[i] == '\t'
}

func windowLemma(tokens []ingest.Token) (lemma, pos string) {
	if len(tokens) == 1 {
		return tokens[0].Lemma, tokens[0].POS
	}
	lemmas := make([]string, len(tokens))
	for i, t := range tokens {
		lemmas[i] = t.Lemma
	}
	return strings.Join(lemmas, " "), ingest.POSPhrase
}

func surfaces(tokens []ingest.Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Surface
	}
	return out
}
