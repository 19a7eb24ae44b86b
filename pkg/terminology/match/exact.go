package match

import (
	"github.com/optim-dev/aina/pkg/terminology/glossary"
	"github.com/optim-dev/aina/pkg/terminology/index"
	"github.com/optim-dev/aina/pkg/terminology/ingest"
	"github.com/optim-dev/aina/pkg/terminology/stem"
	"github.com/optim-dev/aina/pkg/terminology/stoplist"
	"github.com/optim-dev/aina/pkg/terminology/textnorm"
)

// DefaultContextWindow is the number of tokens kept on each side of a match.
const DefaultContextWindow = 3

// ExactMatcher is the first tier. It does no I/O.
type ExactMatcher struct {
	Stemmer stem.Stemmer
	Stops   *stoplist.Manager
}

// NewExactMatcher returns a matcher with the Catalan stemmer and stop list.
func NewExactMatcher() *ExactMatcher {
	return &ExactMatcher{Stemmer: stem.New(), Stops: stoplist.Catalan()}
}

// Match walks the tokens greedily, longest window first, and returns the
// candidates in token order together with the mask of tokens it resolved.
// Windows start on a word and only span punctuation that a key itself
// carries. A window hitting a recommended-term key is resolved without
// producing a candidate.
func (m *ExactMatcher) Match(snap *index.Snapshot, text string, tokens []ingest.Token, window int) ([]Candidate, []bool) {
	resolved := make([]bool, len(tokens))
	var out []Candidate

	for i := 0; i < len(tokens); {
		if tokens[i].IsPunct() {
			i++
			continue
		}

		n := min(snap.MaxNgram, len(tokens)-i)
		for ; n >= 1; n-- {
			ref, ok := snap.LookupExact(textnorm.JoinKey(surfaces(tokens[i : i+n])))
			if !ok {
				continue
			}
			for j := i; j < i+n; j++ {
				resolved[j] = true
			}
			if ref.Kind == index.KindVariant {
				out = append(out, m.candidate(text, tokens, i, i+n, window, Exact, snap.Entry(ref.Entry)))
			}
			break
		}
		if n >= 1 {
			i += n
			continue
		}

		if c, ok := m.probeStem(snap, text, tokens, i, window); ok {
			resolved[i] = true
			out = append(out, c)
		}
		i++
	}
	return out, resolved
}

func (m *ExactMatcher) probeStem(snap *index.Snapshot, text string, tokens []ingest.Token, i, window int) (Candidate, bool) {
	tok := tokens[i]
	if m.Stemmer == nil || tok.POS == ingest.POSNumber || m.Stops.IsStop(tok.Surface) {
		return Candidate{}, false
	}
	keys := []string{textnorm.Key(tok.Lemma), textnorm.Key(tok.Surface)}
	for k, key := range keys {
		if key == "" || (k == 1 && key == keys[0]) {
			continue
		}
		if e, ok := snap.LookupStem(m.Stemmer.Stem(key)); ok {
			return m.candidate(text, tokens, i, i+1, window, Stem, e), true
		}
	}
	return Candidate{}, false
}

func (m *ExactMatcher) candidate(text string, tokens []ingest.Token, from, to, window int, method Method, e *glossary.Entry) Candidate {
	lemma, pos := windowLemma(tokens[from:to])
	return Candidate{
		Start:      tokens[from].Start,
		End:        tokens[to-1].End,
		Surface:    text[tokens[from].Start:tokens[to-1].End],
		Method:     method,
		Entry:      e,
		Score:      1.0,
		Context:    Snippet(text, tokens, from, to, window),
		TokenStart: from,
		TokenEnd:   to,
		Lemma:      lemma,
		POS:        pos,
	}
}
