package compose

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optim-dev/aina/pkg/terminology/glossary"
	"github.com/optim-dev/aina/pkg/terminology/match"
)

var (
	verb = &glossary.Entry{ID: "V-001", RecommendedTerm: "exhaurir", Category: glossary.Verb,
		Justification: "Castellanisme.", Examples: []string{"S'ha exhaurit el termini.", "Cal exhaurir la via."}}
	locution = &glossary.Entry{ID: "L-001", RecommendedTerm: "a fi que", Category: glossary.Locution}
	noun     = &glossary.Entry{ID: "N-001", RecommendedTerm: "termini", Category: glossary.Noun}
)

func cand(start, end int, m match.Method, e *glossary.Entry, score float64) match.Candidate {
	return match.Candidate{Start: start, End: end, Method: m, Entry: e, Score: score}
}

func TestSeverityTable(t *testing.T) {
	cases := []struct {
		c    match.Candidate
		want Severity
	}{
		{cand(0, 1, match.Exact, verb, 1.0), SeverityError},
		{cand(0, 1, match.Exact, locution, 1.0), SeverityWarning},
		{cand(0, 1, match.Vector, noun, 0.95), SeverityError},
		{cand(0, 1, match.Vector, noun, 0.90), SeverityWarning},
		{cand(0, 1, match.Vector, locution, 0.85), SeverityWarning},
		{cand(0, 1, match.Vector, noun, 0.84), SeverityInfo},
		{cand(0, 1, match.Generative, nil, 1.0), SeverityInfo},
		{cand(0, 1, match.Generative, verb, 0.99), SeverityInfo},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SeverityOf(tc.c), "%s %.2f", tc.c.Method, tc.c.Score)
	}
}

func TestPriorityOrder(t *testing.T) {
	assert.Less(t, Priority(match.Exact), Priority(match.Stem))
	assert.Less(t, Priority(match.Stem), Priority(match.Vector))
	assert.Less(t, Priority(match.Vector), Priority(match.Generative))
}

func TestOverlapResolvedByPriorityThenScore(t *testing.T) {
	text := "cal agotar la via administrativa"
	cands := []match.Candidate{
		cand(4, 13, match.Vector, noun, 0.99),
		cand(4, 10, match.Exact, verb, 1.0),
		cand(14, 17, match.Vector, noun, 0.81),
		cand(14, 32, match.Vector, locution, 0.88),
	}
	out := Compose(text, cands, Options{})
	require.Len(t, out, 2)
	assert.Equal(t, match.Exact, out[0].Method)
	assert.Equal(t, "V-001", out[0].EntryID)
	assert.Equal(t, "L-001", out[1].EntryID)
	assert.Equal(t, 0.88, out[1].Score)
}

func TestEqualScoreLongerSpanWins(t *testing.T) {
	out := Compose("a fi de que", []match.Candidate{
		cand(0, 4, match.Vector, noun, 0.9),
		cand(0, 11, match.Vector, locution, 0.9),
	}, Options{})
	require.Len(t, out, 1)
	assert.Equal(t, "L-001", out[0].EntryID)
}

func TestEqualEverythingEarlierStartWins(t *testing.T) {
	out := Compose("abcdef", []match.Candidate{
		cand(2, 5, match.Vector, noun, 0.9),
		cand(1, 4, match.Vector, noun, 0.9),
	}, Options{})
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].ByteSpan.Start)
}

func TestDocumentOrderAndNoOverlap(t *testing.T) {
	text := "uno dos tres cuatro cinco"
	cands := []match.Candidate{
		cand(20, 25, match.Stem, verb, 1),
		cand(0, 3, match.Vector, noun, 0.9),
		cand(8, 12, match.Exact, verb, 1),
		cand(9, 19, match.Generative, nil, 0.5),
	}
	out := Compose(text, cands, Options{})
	require.Len(t, out, 3)
	for i := 1; i < len(out); i++ {
		assert.Less(t, out[i-1].ByteSpan.End, out[i].ByteSpan.Start+1)
	}
	assert.Equal(t, []int{0, 8, 20}, []int{out[0].ByteSpan.Start, out[1].ByteSpan.Start, out[2].ByteSpan.Start})
}

func TestRuneSpans(t *testing.T) {
	text := "Sol·licitud: cal agotar"
	start := len("Sol·licitud: cal ")
	out := Compose(text, []match.Candidate{cand(start, start+6, match.Exact, verb, 1)}, Options{})
	require.Len(t, out, 1)
	assert.Equal(t, Span{Start: 17, End: 23}, out[0].Span)
	assert.Equal(t, Span{Start: start, End: start + 6}, out[0].ByteSpan)
}

func TestGenerativeSuggestion(t *testing.T) {
	c := match.Candidate{Start: 0, End: 7, Surface: "demanar", Method: match.Generative, Score: 0.7,
		Unverified: true, SuggestedTerm: "sol·licitar", IssueKind: "registre"}
	out := Compose("demanar", []match.Candidate{c}, Options{})
	require.Len(t, out, 1)
	s := out[0]
	assert.True(t, s.Unverified)
	assert.Equal(t, "sol·licitar", s.RecommendedTerm)
	assert.Equal(t, SeverityInfo, s.Severity)
	assert.Empty(t, s.EntryID)
	assert.Equal(t, "registre", s.IssueKind)
}

func TestEntryFieldsCopied(t *testing.T) {
	out := Compose("agotar", []match.Candidate{cand(0, 6, match.Exact, verb, 1)}, Options{MaxExamples: 1})
	require.Len(t, out, 1)
	s := out[0]
	assert.Equal(t, "exhaurir", s.RecommendedTerm)
	assert.Equal(t, glossary.Verb, s.Category)
	assert.Equal(t, "Castellanisme.", s.Justification)
	assert.Equal(t, []string{"S'ha exhaurit el termini."}, s.Examples)

	s.Examples[0] = "changed"
	assert.Equal(t, "S'ha exhaurit el termini.", verb.Examples[0])
}

func TestSuggestionJSONFields(t *testing.T) {
	c := cand(0, 6, match.Exact, verb, 1)
	c.Surface = "agotar"
	out := Compose("agotar", []match.Candidate{c}, Options{})
	require.Len(t, out, 1)

	data, err := json.Marshal(out[0])
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "agotar", fields["surfaceText"])
	assert.Equal(t, "exhaurir", fields["recommendedTerm"])
	assert.Equal(t, "exact", fields["method"])
	assert.NotContains(t, fields, "surface")
}

func TestComposeDeterministicAndPure(t *testing.T) {
	cands := []match.Candidate{
		cand(0, 3, match.Vector, noun, 0.9),
		cand(0, 3, match.Vector, verb, 0.9),
		cand(2, 6, match.Stem, verb, 1),
	}
	before := append([]match.Candidate(nil), cands...)
	first := Compose("abcdefgh", cands, Options{})
	assert.Equal(t, before, cands)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Compose("abcdefgh", cands, Options{}))
	}
	require.Len(t, first, 1)
	assert.Equal(t, match.Stem, first[0].Method)
}

func TestEmptySpansDropped(t *testing.T) {
	assert.Empty(t, Compose("x", []match.Candidate{cand(1, 1, match.Exact, verb, 1)}, Options{}))
}
