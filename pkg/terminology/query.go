package terminology

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/optim-dev/aina/pkg/terminology/embed"
	"github.com/optim-dev/aina/pkg/terminology/glossary"
	"github.com/optim-dev/aina/pkg/terminology/index"
	"github.com/optim-dev/aina/pkg/terminology/ingest"
	"github.com/optim-dev/aina/pkg/terminology/internalerr"
	"github.com/optim-dev/aina/pkg/terminology/match"
)

// SearchMatch is one glossary hit of the vector tier, in the field layout of
// the glossary CSV.
type SearchMatch struct {
	ID                string   `json:"id"`
	RecommendedTerm   string   `json:"terme_recomanat"`
	Similarity        float64  `json:"similitud"`
	Context           string   `json:"context"`
	Variants          string   `json:"variants"`
	Category          string   `json:"categoria"`
	Domain            string   `json:"ambit"`
	Comment           string   `json:"comentari"`
	Source            string   `json:"font"`
	Example1          string   `json:"exemple_1"`
	Example2          string   `json:"exemple_2"`
	Example3          string   `json:"exemple_3"`
	CounterExample1   string   `json:"exemple_incorrecte_1"`
	CounterExample2   string   `json:"exemple_incorrecte_2"`
	NonNormativeForms []string `json:"-"`
}

// SearchResult groups the matches of one queried phrase.
type SearchResult struct {
	Original string        `json:"original"`
	Matches  []SearchMatch `json:"matches"`
}

// Search runs only the vector tier over explicit phrases. Every phrase gets
// a result, possibly with no matches. A nil threshold selects the default.
func (e *Engine) Search(ctx context.Context, phrases []string, k int, threshold *float64) ([]SearchResult, error) {
	snap := e.holder.Load()
	if snap == nil {
		return nil, internalerr.ErrIndexNotLoaded
	}
	if err := validate(Request{K: k, Threshold: threshold}); err != nil {
		return nil, err
	}
	th := match.DefaultThreshold
	if threshold != nil {
		th = *threshold
	}
	keys := make([]string, len(phrases))
	for i, p := range phrases {
		keys[i] = index.WordKey(p)
	}

	vctx, cancel := context.WithTimeout(ctx, e.encoderTimeout)
	defer cancel()
	hits, err := e.vector.Search(vctx, snap, keys, k, th)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, len(phrases))
	for i, p := range phrases {
		out[i] = SearchResult{Original: p, Matches: []SearchMatch{}}
		if i >= len(hits) {
			continue
		}
		for _, h := range hits[i] {
			out[i].Matches = append(out[i].Matches, searchMatch(h))
		}
	}
	return out, nil
}

func searchMatch(h match.ScoredEntry) SearchMatch {
	e := h.Entry
	at := func(s []string, i int) string {
		if i < len(s) {
			return s[i]
		}
		return ""
	}
	return SearchMatch{
		ID:                e.ID,
		RecommendedTerm:   e.RecommendedTerm,
		Similarity:        h.Score,
		Context:           e.UsageContext,
		Variants:          strings.Join(e.NonNormativeVariants, ", "),
		Category:          string(e.Category),
		Domain:            e.Domain,
		Comment:           e.Justification,
		Source:            e.Source,
		Example1:          at(e.Examples, 0),
		Example2:          at(e.Examples, 1),
		Example3:          at(e.Examples, 2),
		CounterExample1:   at(e.CounterExamples, 0),
		CounterExample2:   at(e.CounterExamples, 1),
		NonNormativeForms: e.NonNormativeVariants,
	}
}

// TermCandidate is a tier-1 detection reported by token position.
type TermCandidate struct {
	Term            string `json:"term"`
	Lemma           string `json:"lemma"`
	Position        int    `json:"position"`
	Context         string `json:"context"`
	POSTag          string `json:"pos_tag"`
	GlossaryID      string `json:"glossary_id"`
	RecommendedTerm string `json:"terme_recomanat"`
	Category        string `json:"categoria"`
	Source          string `json:"source"`
}

// CandidateReport is the outcome of Candidates.
type CandidateReport struct {
	Candidates []TermCandidate `json:"candidates"`
	Analyzer   string          `json:"nlp_model_used"`
	Degraded   bool            `json:"-"`
}

// Candidates runs tier 1 only and lists its hits in token order. The context
// is the surrounding window of token surfaces joined by single spaces.
func (e *Engine) Candidates(ctx context.Context, text string, window int) (*CandidateReport, error) {
	snap := e.holder.Load()
	if snap == nil {
		return nil, internalerr.ErrIndexNotLoaded
	}
	if err := validate(Request{ContextWindow: window}); err != nil {
		return nil, err
	}
	window = contextWindow(window)
	seq, err := e.tokenizer.Tokenize(ctx, text)
	if err != nil {
		return nil, err
	}
	tokens := seq.Collect()
	cands, _ := e.exact.Match(snap, text, tokens, window)

	report := &CandidateReport{Candidates: []TermCandidate{}, Analyzer: seq.Analyzer, Degraded: seq.Degraded}
	for _, c := range cands {
		report.Candidates = append(report.Candidates, TermCandidate{
			Term:            c.Surface,
			Lemma:           c.Lemma,
			Position:        c.TokenStart,
			Context:         tokenContext(tokens, c.TokenStart, c.TokenEnd, window),
			POSTag:          c.POS,
			GlossaryID:      c.Entry.ID,
			RecommendedTerm: c.Entry.RecommendedTerm,
			Category:        string(c.Entry.Category),
			Source:          "nlp",
		})
	}
	return report, nil
}

func tokenContext(tokens []ingest.Token, from, to, window int) string {
	lo := max(from-window, 0)
	hi := min(to+window, len(tokens))
	words := make([]string, 0, hi-lo)
	for _, t := range tokens[lo:hi] {
		words = append(words, t.Surface)
	}
	return strings.Join(words, " ")
}

// Health summarizes what the engine can serve right now.
type Health struct {
	Status               string `json:"status"`
	ModelLoaded          bool   `json:"model_loaded"`
	ModelName            string `json:"model_name"`
	IndexLoaded          bool   `json:"index_loaded"`
	IndexVersion         string `json:"index_version"`
	GlossaryEntries      int    `json:"glossary_entries"`
	ReadyForSearch       bool   `json:"ready_for_search"`
	NLPModelLoaded       bool   `json:"nlp_model_loaded"`
	NLPModelName         string `json:"nlp_model_name"`
	VariantsCount        int    `json:"variants_count"`
	ReadyForNLPDetection bool   `json:"ready_for_nlp_detection"`
}

// Health probes the analyzer and reports the served index.
func (e *Engine) Health(ctx context.Context) Health {
	h := Health{
		Status:       "degraded",
		ModelLoaded:  e.vector.Encoder != nil,
		ModelName:    e.vector.Encoder.ModelID(),
		NLPModelName: e.tokenizer.Name(),
	}
	h.NLPModelLoaded = e.tokenizer.Primary().Ready(ctx) == nil
	if snap := e.holder.Load(); snap != nil {
		st := snap.Stats()
		h.IndexLoaded = true
		h.IndexVersion = snap.Version
		h.GlossaryEntries = st.Entries
		h.VariantsCount = st.Variants
		h.ReadyForSearch = h.ModelLoaded && st.VectorRows > 0
		h.ReadyForNLPDetection = st.ExactKeys > 0
	}
	if h.IndexLoaded && h.ReadyForSearch {
		h.Status = "healthy"
	}
	return h
}

// Encoder returns the query encoder.
func (e *Engine) Encoder() embed.Encoder { return e.vector.Encoder }

// Entry looks up a served glossary entry by id.
func (e *Engine) Entry(id string) (*glossary.Entry, error) {
	snap := e.holder.Load()
	if snap == nil {
		return nil, internalerr.ErrIndexNotLoaded
	}
	entry, ok := snap.Entries().ByID(id)
	if !ok {
		return nil, internalerr.ErrNotFound
	}
	return entry, nil
}

// indexFold finds needle in text at or after byte offset from, ignoring case
// and treating typographic and ASCII apostrophes as equal. It returns the
// byte range of the occurrence.
func indexFold(text, needle string, from int) (int, int, bool) {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return 0, 0, false
	}
	for start := from; start < len(text); {
		if end, ok := prefixFold(text[start:], needle); ok {
			return start, start + end, true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		start += size
	}
	return 0, 0, false
}

func prefixFold(s, prefix string) (int, bool) {
	i := 0
	for _, want := range prefix {
		if i >= len(s) {
			return 0, false
		}
		got, size := utf8.DecodeRuneInString(s[i:])
		if !runeFold(got, want) {
			return 0, false
		}
		i += size
	}
	return i, true
}

func runeFold(a, b rune) bool {
	if a == b || isApostrophe(a) && isApostrophe(b) {
		return true
	}
	return unicode.ToLower(a) == unicode.ToLower(b)
}

func isApostrophe(r rune) bool {
	return r == '\'' || r == '’' || r == 'ʼ'
}
