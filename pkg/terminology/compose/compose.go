// Package compose reconciles candidates from every tier into at most one
// correction per character range.
package compose

import (
	"sort"

	"github.com/optim-dev/aina/pkg/terminology/glossary"
	"github.com/optim-dev/aina/pkg/terminology/match"
	"github.com/optim-dev/aina/pkg/terminology/textnorm"
)

// Severity grades a suggestion for display.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Score cut-offs used to grade severity.
const (
	StrongScore = 0.95
	FairScore   = 0.85
)

// Lower value wins an overlap.
var priority = map[match.Method]int{
	match.Exact:      0,
	match.Stem:       1,
	match.Vector:     2,
	match.Generative: 3,
}

// Priority returns the rank of a method; lower ranks win overlaps.
func Priority(m match.Method) int {
	if p, ok := priority[m]; ok {
		return p
	}
	return len(priority)
}

// Span is a half-open [Start, End) range.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Suggestion is one proposed correction. Span counts runes; ByteSpan counts
// bytes of the UTF-8 input.
type Suggestion struct {
	Span            Span              `json:"span"`
	ByteSpan        Span              `json:"byteSpan"`
	Surface         string            `json:"surfaceText"`
	RecommendedTerm string            `json:"recommendedTerm"`
	Category        glossary.Category `json:"category,omitempty"`
	Severity        Severity          `json:"severity"`
	Justification   string            `json:"justification,omitempty"`
	Examples        []string          `json:"examples,omitempty"`
	Method          match.Method      `json:"method"`
	Score           float64           `json:"score"`
	EntryID         string            `json:"entryId,omitempty"`
	Unverified      bool              `json:"unverified"`
	Context         string            `json:"context,omitempty"`
	IssueKind       string            `json:"issueKind,omitempty"`
}

// Options tune the output.
type Options struct {
	// MaxExamples caps the examples copied from the entry. Zero keeps them all.
	MaxExamples int
}

// SeverityOf grades a candidate from its method, score and entry category.
func SeverityOf(c match.Candidate) Severity {
	if c.Method == match.Generative {
		return SeverityInfo
	}
	switch {
	case c.Score >= StrongScore:
		if c.Entry != nil && c.Entry.Category.Lexical() {
			return SeverityError
		}
		return SeverityWarning
	case c.Score >= FairScore:
		return SeverityWarning
	}
	return SeverityInfo
}

// Compose keeps the best candidate of every overlapping group and returns
// the survivors in document order. The input slice is not modified.
func Compose(text string, candidates []match.Candidate, opts Options) []Suggestion {
	ranked := make([]match.Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool { return better(ranked[i], ranked[j]) })

	var kept []match.Candidate
	for _, c := range ranked {
		if c.End <= c.Start {
			continue
		}
		clash := false
		for _, k := range kept {
			if c.Overlaps(k) {
				clash = true
				break
			}
		}
		if !clash {
			kept = append(kept, c)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })

	runes := textnorm.NewRuneIndex(text)
	out := make([]Suggestion, 0, len(kept))
	for _, c := range kept {
		out = append(out, suggestion(c, runes, opts))
	}
	return out
}

// better orders by method priority, then score, then span length, then start.
func better(a, b match.Candidate) bool {
	if pa, pb := Priority(a.Method), Priority(b.Method); pa != pb {
		return pa < pb
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Len() != b.Len() {
		return a.Len() > b.Len()
	}
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return entryID(a) < entryID(b)
}

func suggestion(c match.Candidate, runes textnorm.RuneIndex, opts Options) Suggestion {
	s := Suggestion{
		Span:       Span{Start: runes.Rune(c.Start), End: runes.Rune(c.End)},
		ByteSpan:   Span{Start: c.Start, End: c.End},
		Surface:    c.Surface,
		Severity:   SeverityOf(c),
		Method:     c.Method,
		Score:      c.Score,
		Unverified: c.Unverified,
		Context:    c.Context,
		IssueKind:  c.IssueKind,
	}
	if c.Entry == nil {
		s.RecommendedTerm = c.SuggestedTerm
		return s
	}
	e := c.Entry
	s.RecommendedTerm = e.RecommendedTerm
	s.Category = e.Category
	s.Justification = e.Justification
	s.EntryID = e.ID
	examples := e.Examples
	if opts.MaxExamples > 0 && len(examples) > opts.MaxExamples {
		examples = examples[:opts.MaxExamples]
	}
	s.Examples = append([]string(nil), examples...)
	return s
}

func entryID(c match.Candidate) string {
	if c.Entry == nil {
		return ""
	}
	return c.Entry.ID
}
