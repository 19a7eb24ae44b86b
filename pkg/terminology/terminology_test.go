package terminology

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optim-dev/aina/internal/logging"
	"github.com/optim-dev/aina/pkg/terminology/compose"
	"github.com/optim-dev/aina/pkg/terminology/embed"
	"github.com/optim-dev/aina/pkg/terminology/fallback"
	"github.com/optim-dev/aina/pkg/terminology/glossary"
	"github.com/optim-dev/aina/pkg/terminology/index"
	"github.com/optim-dev/aina/pkg/terminology/ingest"
	"github.com/optim-dev/aina/pkg/terminology/internalerr"
	"github.com/optim-dev/aina/pkg/terminology/match"
	"github.com/optim-dev/aina/pkg/terminology/stem"
)

type tableEncoder struct {
	mu   sync.Mutex
	rows map[string][]float32
	fail bool
}

func (e *tableEncoder) Encode(_ context.Context, phrases []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return nil, embed.Unavailable(errors.New("connection refused"))
	}
	out := make([][]float32, len(phrases))
	for i, p := range phrases {
		if v, ok := e.rows[p]; ok {
			out[i] = v
			continue
		}
		out[i] = []float32{0.57735, 0.57735, 0.57735}
	}
	return out, nil
}

func (e *tableEncoder) Dimension() int { return 3 }

func (e *tableEncoder) ModelID() string { return "table" }

func newTableEncoder() *tableEncoder {
	return &tableEncoder{rows: map[string][]float32{
		"exhaurir":    {1, 0, 0},
		"a fi que":    {0, 1, 0},
		"sol·licitud": {0, 0, 1},
		"esgotar":     {0.9, 0.43589, 0},
	}}
}

func entries() []glossary.Entry {
	return []glossary.Entry{
		{ID: "V-001", RecommendedTerm: "exhaurir", Category: glossary.Verb, NonNormativeVariants: []string{"agotar"},
			Justification: "Castellanisme.", Examples: []string{"S'ha exhaurit el termini."}},
		{ID: "L-001", RecommendedTerm: "a fi que", Category: glossary.Locution, NonNormativeVariants: []string{"a fi de que"}},
		{ID: "N-001", RecommendedTerm: "sol·licitud", Category: glossary.Noun, NonNormativeVariants: []string{"solicitud"}},
	}
}

// recorder counts observer callbacks.
type recorder struct {
	mu        sync.Mutex
	finished  []State
	degraded  []string
	fallbacks []string
}

func (r *recorder) RequestFinished(s State, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, s)
}

func (r *recorder) StageFinished(State, time.Duration) {}

func (r *recorder) Candidates(string, int) {}

func (r *recorder) Degraded(tier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.degraded = append(r.degraded, tier)
}

func (r *recorder) FallbackCall(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, outcome)
}

func (r *recorder) EncoderBatch(int) {}

// brokenAnalyzer always fails so the light analyzer takes over.
type brokenAnalyzer struct{}

func (brokenAnalyzer) Name() string { return "ca_core_news_trf" }

func (brokenAnalyzer) Ready(context.Context) error { return errors.New("sidecar down") }

func (brokenAnalyzer) Analyze(context.Context, string) (iter.Seq[ingest.Token], error) {
	return nil, errors.New("sidecar down")
}

type fixture struct {
	engine *Engine
	enc    *tableEncoder
	obs    *recorder
	calls  *atomic.Int32
}

func newFixture(t *testing.T, detect fallback.DetectorFunc, mutate func(*Options)) *fixture {
	t.Helper()
	enc := newTableEncoder()
	snap, err := (&index.Builder{Encoder: enc, Stemmer: stem.New(), Log: logging.NewNop()}).Build(context.Background(), entries())
	require.NoError(t, err)
	holder := &index.Holder{}
	holder.Swap(snap)

	calls := &atomic.Int32{}
	var det fallback.Detector
	if detect != nil {
		det = fallback.DetectorFunc(func(ctx context.Context, text string) ([]fallback.Finding, error) {
			calls.Add(1)
			return detect(ctx, text)
		})
	}
	obs := &recorder{}
	opts := Options{Holder: holder, Encoder: enc, Fallback: det, Log: logging.NewNop(), Observer: obs}
	if mutate != nil {
		mutate(&opts)
	}
	e, err := New(opts)
	require.NoError(t, err)
	return &fixture{engine: e, enc: enc, obs: obs, calls: calls}
}

func noFindings(context.Context, string) ([]fallback.Finding, error) { return nil, nil }

func TestNewRequiresHolderAndEncoder(t *testing.T) {
	_, err := New(Options{Encoder: newTableEncoder()})
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
	_, err = New(Options{Holder: &index.Holder{}})
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
}

func TestDetectExactVariant(t *testing.T) {
	f := newFixture(t, noFindings, nil)
	text := "Cal agotar la via administrativa."
	resp, err := f.engine.Detect(context.Background(), Request{Text: text})
	require.NoError(t, err)

	assert.Equal(t, StateDone, resp.State)
	assert.Equal(t, []State{StateReceived, StateTier1, StateTier2, StateComposing, StateDone}, resp.Trace)
	assert.Empty(t, resp.DegradedTiers)
	assert.Equal(t, f.engine.Snapshot().Version, resp.IndexVersion)
	require.Len(t, resp.Suggestions, 1)
	s := resp.Suggestions[0]
	assert.Equal(t, "agotar", s.Surface)
	assert.Equal(t, "exhaurir", s.RecommendedTerm)
	assert.Equal(t, match.Exact, s.Method)
	assert.Equal(t, 1.0, s.Score)
	assert.Equal(t, compose.SeverityError, s.Severity)
	assert.Equal(t, compose.Span{Start: 4, End: 10}, s.Span)
	assert.Zero(t, f.calls.Load(), "fallback must not run when tiers found something")
}

func TestDetectMultiwordLocution(t *testing.T) {
	f := newFixture(t, noFindings, nil)
	resp, err := f.engine.Detect(context.Background(), Request{Text: "Ho enviem a fi de que ho reviseu."})
	require.NoError(t, err)
	require.Len(t, resp.Suggestions, 1)
	assert.Equal(t, "a fi de que", resp.Suggestions[0].Surface)
	assert.Equal(t, "a fi que", resp.Suggestions[0].RecommendedTerm)
	assert.Equal(t, compose.SeverityWarning, resp.Suggestions[0].Severity)
}

func TestDetectNoSelfFlag(t *testing.T) {
	f := newFixture(t, noFindings, nil)
	resp, err := f.engine.Detect(context.Background(), Request{Text: "Cal exhaurir la via a fi que la sol·licitud prosperi."})
	require.NoError(t, err)
	assert.Empty(t, resp.Suggestions)
}

func TestDetectParaphraseThreshold(t *testing.T) {
	f := newFixture(t, noFindings, nil)
	text := "Cal esgotar la via."

	resp, err := f.engine.Detect(context.Background(), Request{Text: text, Threshold: Threshold(0.85)})
	require.NoError(t, err)
	require.Len(t, resp.Suggestions, 1)
	assert.Equal(t, match.Vector, resp.Suggestions[0].Method)
	assert.Equal(t, "V-001", resp.Suggestions[0].EntryID)
	assert.InDelta(t, 0.9, resp.Suggestions[0].Score, 1e-4)

	resp, err = f.engine.Detect(context.Background(), Request{Text: text, Threshold: Threshold(0.95)})
	require.NoError(t, err)
	assert.Empty(t, resp.Suggestions)
}

func TestDetectInflectedRecommendedTermNotFlagged(t *testing.T) {
	f := newFixture(t, noFindings, nil)
	f.enc.mu.Lock()
	f.enc.rows["exhaureix"] = []float32{0.95, 0.31225, 0}
	f.enc.mu.Unlock()

	resp, err := f.engine.Detect(context.Background(), Request{Text: "El termini s'exhaureix avui."})
	require.NoError(t, err)
	assert.Equal(t, StateDone, resp.State)
	assert.Empty(t, resp.Suggestions)
}

func TestDetectFallbackOnlyWhenEmpty(t *testing.T) {
	f := newFixture(t, func(context.Context, string) ([]fallback.Finding, error) {
		return []fallback.Finding{{SurfaceText: "demanar", IssueKind: "registre", SuggestedTerm: "sol·licitud", Confidence: 0.7}}, nil
	}, nil)

	resp, err := f.engine.Detect(context.Background(), Request{Text: "Volem Demanar una pròrroga."})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, []State{StateReceived, StateTier1, StateTier2, StateTier3, StateComposing, StateDone}, resp.Trace)
	require.Len(t, resp.Suggestions, 1)
	s := resp.Suggestions[0]
	assert.Equal(t, "Demanar", s.Surface)
	assert.True(t, s.Unverified)
	assert.Equal(t, compose.SeverityInfo, s.Severity)
	assert.Equal(t, "N-001", s.EntryID, "suggested term resolved against the exact table")
	assert.Equal(t, []string{FallbackOK}, f.obs.fallbacks)
}

func TestDetectFallbackFailureDegrades(t *testing.T) {
	f := newFixture(t, func(context.Context, string) ([]fallback.Finding, error) {
		return nil, internalerr.ErrFallbackTimeout
	}, nil)
	resp, err := f.engine.Detect(context.Background(), Request{Text: "Res a dir."})
	require.NoError(t, err)
	assert.Equal(t, StatePartiallyDone, resp.State)
	assert.Equal(t, []string{TierGenerative}, resp.DegradedTiers)
	assert.Empty(t, resp.Suggestions)
	assert.Equal(t, []string{FallbackTimeout}, f.obs.fallbacks)
}

func TestDetectEncoderDownDegradesVector(t *testing.T) {
	f := newFixture(t, noFindings, nil)
	f.enc.fail = true
	resp, err := f.engine.Detect(context.Background(), Request{Text: "Cal agotar la via."})
	require.NoError(t, err)
	assert.Equal(t, StatePartiallyDone, resp.State)
	assert.Equal(t, []string{TierVector}, resp.DegradedTiers)
	require.Len(t, resp.Suggestions, 1, "tier 1 results survive")
	assert.Equal(t, []string{TierVector}, f.obs.degraded)
}

func TestDetectAnalyzerDegradation(t *testing.T) {
	f := newFixture(t, noFindings, func(o *Options) {
		o.Tokenizer = ingest.NewLemmaTokenizer(brokenAnalyzer{}, nil, logging.NewNop())
	})
	resp, err := f.engine.Detect(context.Background(), Request{Text: "Cal agotar la via."})
	require.NoError(t, err)
	assert.Equal(t, StatePartiallyDone, resp.State)
	assert.Equal(t, []string{TierAnalyzer}, resp.DegradedTiers)
	assert.Equal(t, "rule", resp.Analyzer)
	assert.Len(t, resp.Suggestions, 1)
}

func TestDetectWithoutIndexFails(t *testing.T) {
	e, err := New(Options{Holder: &index.Holder{}, Encoder: newTableEncoder(), Log: logging.NewNop()})
	require.NoError(t, err)
	resp, err := e.Detect(context.Background(), Request{Text: "agotar"})
	require.ErrorIs(t, err, internalerr.ErrIndexNotLoaded)
	assert.Equal(t, StateFailed, resp.State)
	assert.Equal(t, []State{StateReceived, StateFailed}, resp.Trace)
}

func TestDetectRejectsBadInput(t *testing.T) {
	f := newFixture(t, noFindings, nil)
	for _, req := range []Request{
		{Text: "x", Language: "es"},
		{Text: "x", Threshold: Threshold(1.5)},
		{Text: "x", K: -1},
		{Text: "x", ContextWindow: -2},
	} {
		resp, err := f.engine.Detect(context.Background(), req)
		assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
		assert.Equal(t, StateFailed, resp.State)
	}
}

func TestDetectBlankTextSkipsFallback(t *testing.T) {
	f := newFixture(t, noFindings, nil)
	resp, err := f.engine.Detect(context.Background(), Request{Text: "   "})
	require.NoError(t, err)
	assert.Equal(t, StateDone, resp.State)
	assert.Empty(t, resp.Suggestions)
	assert.Zero(t, f.calls.Load())
}

func TestDetectIdempotent(t *testing.T) {
	f := newFixture(t, noFindings, nil)
	req := Request{Text: "Cal agotar la via a fi de que la solicitud arribi.", Threshold: Threshold(0.85)}
	first, err := f.engine.Detect(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := f.engine.Detect(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Len(t, first.Suggestions, 3)
}

func TestDetectBatchKeepsOrder(t *testing.T) {
	f := newFixture(t, noFindings, nil)
	reqs := []Request{
		{Text: "Cal agotar la via."},
		{Text: "x", Language: "fr"},
		{Text: "La solicitud és aquí."},
	}
	out, err := f.engine.DetectBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "exhaurir", out[0].Response.Suggestions[0].RecommendedTerm)
	assert.ErrorIs(t, out[1].Err, internalerr.ErrInvalidInput)
	assert.Equal(t, "sol·licitud", out[2].Response.Suggestions[0].RecommendedTerm)
	assert.Len(t, f.obs.finished, 3)
}

func TestSearchShapes(t *testing.T) {
	f := newFixture(t, noFindings, nil)
	out, err := f.engine.Search(context.Background(), []string{"Esgotar", "taula"}, 5, Threshold(0.8))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Esgotar", out[0].Original)
	require.Len(t, out[0].Matches, 1)
	m := out[0].Matches[0]
	assert.Equal(t, "V-001", m.ID)
	assert.Equal(t, "exhaurir", m.RecommendedTerm)
	assert.Equal(t, "agotar", m.Variants)
	assert.Equal(t, "S'ha exhaurit el termini.", m.Example1)
	assert.NotNil(t, out[1].Matches)
	assert.Empty(t, out[1].Matches)
}

func TestSearchZeroThreshold(t *testing.T) {
	f := newFixture(t, noFindings, nil)
	out, err := f.engine.Search(context.Background(), []string{"taula"}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, out[0].Matches)

	out, err = f.engine.Search(context.Background(), []string{"taula"}, 5, Threshold(0))
	require.NoError(t, err)
	assert.Len(t, out[0].Matches, 3)

	_, err = f.engine.Search(context.Background(), []string{"taula"}, 5, Threshold(-0.1))
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
}

func TestCandidatesByPosition(t *testing.T) {
	f := newFixture(t, noFindings, nil)
	report, err := f.engine.Candidates(context.Background(), "Cal agotar la via a fi de que la solicitud arribi", 1)
	require.NoError(t, err)
	require.Len(t, report.Candidates, 3)

	first := report.Candidates[0]
	assert.Equal(t, "agotar", first.Term)
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, "Cal agotar la", first.Context)
	assert.Equal(t, "V-001", first.GlossaryID)
	assert.Equal(t, "nlp", first.Source)

	assert.Equal(t, ingest.POSPhrase, report.Candidates[1].POSTag)
	assert.Equal(t, 4, report.Candidates[1].Position)
	assert.Equal(t, "solicitud", report.Candidates[2].Term)
	assert.Equal(t, "rule", report.Analyzer)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, noFindings, nil)
	h := f.engine.Health(context.Background())
	assert.Equal(t, "healthy", h.Status)
	assert.True(t, h.IndexLoaded)
	assert.True(t, h.ReadyForSearch)
	assert.Equal(t, 3, h.GlossaryEntries)
	assert.Equal(t, 3, h.VariantsCount)
	assert.Equal(t, "table", h.ModelName)

	empty, err := New(Options{Holder: &index.Holder{}, Encoder: newTableEncoder()})
	require.NoError(t, err)
	assert.Equal(t, "degraded", empty.Health(context.Background()).Status)
}

func TestEntryLookup(t *testing.T) {
	f := newFixture(t, noFindings, nil)
	e, err := f.engine.Entry("L-001")
	require.NoError(t, err)
	assert.Equal(t, "a fi que", e.RecommendedTerm)
	_, err = f.engine.Entry("X-404")
	assert.ErrorIs(t, err, internalerr.ErrNotFound)
}

func TestIndexFold(t *testing.T) {
	start, end, ok := indexFold("Ho DEMANEM d’acord", "d'acord", 0)
	require.True(t, ok)
	assert.Equal(t, "d’acord", "Ho DEMANEM d’acord"[start:end])

	start, _, ok = indexFold("demanar i demanar", "Demanar", 1)
	require.True(t, ok)
	assert.Equal(t, 10, start)

	_, _, ok = indexFold("res", "", 0)
	assert.False(t, ok)
}

func TestPlaceFindingsClaimsDistinctOccurrences(t *testing.T) {
	f := newFixture(t, noFindings, nil)
	text := "demanar i demanar"
	cands := placeFindings(f.engine.Snapshot(), text, []fallback.Finding{
		{SurfaceText: "demanar", Confidence: 0.5},
		{SurfaceText: "demanar", Confidence: 0.5},
		{SurfaceText: "absent", Confidence: 0.5},
	})
	require.Len(t, cands, 2)
	assert.Equal(t, 0, cands[0].Start)
	assert.Equal(t, 10, cands[1].Start)
	assert.Nil(t, cands[0].Entry)
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(StateTier2, StateComposing))
	assert.True(t, CanTransition(StateTier2, StateTier3))
	assert.False(t, CanTransition(StateTier1, StateComposing))
	assert.True(t, CanTransition(StateComposing, StateFailed))
	assert.False(t, CanTransition(StateDone, StateFailed))

	r := newRun()
	assert.Panics(t, func() { r.to(StateDone) })
}
