package match

import (
	"context"
	"fmt"
	"strings"

	"github.com/optim-dev/aina/pkg/terminology/embed"
	"github.com/optim-dev/aina/pkg/terminology/glossary"
	"github.com/optim-dev/aina/pkg/terminology/index"
	"github.com/optim-dev/aina/pkg/terminology/ingest"
	"github.com/optim-dev/aina/pkg/terminology/stem"
	"github.com/optim-dev/aina/pkg/terminology/stoplist"
	"github.com/optim-dev/aina/pkg/terminology/textnorm"
)

const (
	DefaultK         = 5
	DefaultThreshold = 0.80
	maxVectorWindow  = 3
)

// VectorOptions are the per-request knobs of the vector tier.
type VectorOptions struct {
	K int
	// Threshold is the minimum similarity; nil selects DefaultThreshold.
	Threshold     *float64
	ContextWindow int
}

func (o VectorOptions) k() int {
	if o.K <= 0 {
		return DefaultK
	}
	return o.K
}

func (o VectorOptions) threshold() float64 {
	if o.Threshold == nil {
		return DefaultThreshold
	}
	return *o.Threshold
}

// ScoredEntry is one vector search result.
type ScoredEntry struct {
	Entry *glossary.Entry
	// Index is the entry position in the snapshot.
	Index int
	Score float64
}

// VectorMatcher is the second tier: it embeds short windows of unresolved
// tokens and looks them up in the snapshot's vector table.
type VectorMatcher struct {
	Encoder embed.Encoder
	Stops   *stoplist.Manager
	// Stemmer recognizes inflected forms of a recommended term; nil uses the
	// Catalan stemmer.
	Stemmer   stem.Stemmer
	BatchSize int
	// ObserveBatch, when set, receives the size of every encoder batch.
	ObserveBatch func(n int)
}

type span struct {
	from, to int
}

// windows lists the distinct phrases the vector tier would embed and every
// token window each phrase occurs at. Phrases come back in first-seen order.
func (m *VectorMatcher) windows(tokens []ingest.Token, resolved []bool) ([]string, map[string][]span) {
	var phrases []string
	at := make(map[string][]span)
	usable := func(i int) bool {
		return !tokens[i].IsPunct() && (resolved == nil || !resolved[i])
	}
	edge := func(t ingest.Token) bool {
		return t.POS != ingest.POSNumber && !m.Stops.IsStop(t.Surface)
	}
	for i := range tokens {
		for n := 1; n <= maxVectorWindow && i+n <= len(tokens); n++ {
			if !usable(i + n - 1) {
				break
			}
			if !edge(tokens[i]) || !edge(tokens[i+n-1]) {
				continue
			}
			key := textnorm.JoinKey(surfaces(tokens[i : i+n]))
			if _, seen := at[key]; !seen {
				phrases = append(phrases, key)
			}
			at[key] = append(at[key], span{from: i, to: i + n})
		}
	}
	return phrases, at
}

// Search embeds phrases and returns, for each one, up to k entries scoring at
// least threshold, best first. A non-positive k selects DefaultK; threshold
// is used as given.
func (m *VectorMatcher) Search(ctx context.Context, snap *index.Snapshot, phrases []string, k int, threshold float64) ([][]ScoredEntry, error) {
	if len(phrases) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = DefaultK
	}
	rows, err := embed.Batched(ctx, m.Encoder, phrases, m.batchSize(), m.ObserveBatch)
	if err != nil {
		return nil, err
	}
	out := make([][]ScoredEntry, len(phrases))
	for i, q := range rows {
		if len(q) != snap.Dims {
			return nil, embed.Unavailable(fmt.Errorf("query has %d dims, index %s has %d", len(q), snap.Version, snap.Dims))
		}
		for _, h := range snap.Vectors().Search(q, k) {
			if float64(h.Score) < threshold {
				break
			}
			out[i] = append(out[i], ScoredEntry{Entry: snap.Entry(h.Entry), Index: h.Entry, Score: clamp01(float64(h.Score))})
		}
	}
	return out, nil
}

// Match returns vector candidates for every window that tier 1 left
// unresolved. Hits on a window that is the entry's own recommended term, or
// an inflection of it, are dropped.
func (m *VectorMatcher) Match(ctx context.Context, snap *index.Snapshot, text string, tokens []ingest.Token, resolved []bool, opts VectorOptions) ([]Candidate, error) {
	phrases, at := m.windows(tokens, resolved)
	results, err := m.Search(ctx, snap, phrases, opts.k(), opts.threshold())
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for i, phrase := range phrases {
		for _, hit := range results[i] {
			if snap.RecommendedKey(hit.Index) == phrase {
				continue
			}
			for _, w := range at[phrase] {
				if m.inflects(snap.RecommendedKey(hit.Index), tokens[w.from:w.to]) {
					continue
				}
				lemma, pos := windowLemma(tokens[w.from:w.to])
				start, end := tokens[w.from].Start, tokens[w.to-1].End
				out = append(out, Candidate{
					Start:      start,
					End:        end,
					Surface:    text[start:end],
					Method:     Vector,
					Entry:      hit.Entry,
					Score:      hit.Score,
					Context:    Snippet(text, tokens, w.from, w.to, opts.ContextWindow),
					TokenStart: w.from,
					TokenEnd:   w.to,
					Lemma:      lemma,
					POS:        pos,
				})
			}
		}
	}
	return out, nil
}

// inflects reports whether the window is word for word a form of the
// recommended key, comparing stems of each token's surface and lemma.
func (m *VectorMatcher) inflects(recKey string, window []ingest.Token) bool {
	words := strings.Fields(recKey)
	if len(words) != len(window) {
		return false
	}
	st := m.Stemmer
	if st == nil {
		st = stem.New()
	}
	for j, w := range words {
		want := st.Stem(w)
		if want == "" {
			return false
		}
		tok := window[j]
		if st.Stem(tok.Surface) != want && (tok.Lemma == "" || st.Stem(tok.Lemma) != want) {
			return false
		}
	}
	return true
}

func (m *VectorMatcher) batchSize() int {
	if m.BatchSize > 0 {
		return m.BatchSize
	}
	return index.DefaultBatchSize
}

func clamp01(x float64) float64 {
	return min(max(x, 0), 1)
}
