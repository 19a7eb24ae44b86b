// Package terminology is the detection engine facade. It runs the tiers in
// order over one immutable index snapshot and composes the result.
package terminology

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/optim-dev/aina/internal/logging"
	"github.com/optim-dev/aina/pkg/terminology/compose"
	"github.com/optim-dev/aina/pkg/terminology/embed"
	"github.com/optim-dev/aina/pkg/terminology/fallback"
	"github.com/optim-dev/aina/pkg/terminology/index"
	"github.com/optim-dev/aina/pkg/terminology/ingest"
	"github.com/optim-dev/aina/pkg/terminology/internalerr"
	"github.com/optim-dev/aina/pkg/terminology/match"
	"github.com/optim-dev/aina/pkg/terminology/stem"
	"github.com/optim-dev/aina/pkg/terminology/stoplist"
)

const (
	DefaultEncoderTimeout   = 10 * time.Second
	DefaultBatchConcurrency = 4
	fallbackContextRadius   = 60
)

// Request is one document to check.
type Request struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	// K and Threshold tune the vector tier. A zero K or a nil Threshold
	// selects the default; an explicit threshold of 0 is honoured.
	K         int      `json:"k,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	// ContextWindow is the number of tokens of context kept on each side; zero selects 3.
	ContextWindow int `json:"contextWindow,omitempty"`
}

// Response is the outcome of one detection.
type Response struct {
	IndexVersion  string               `json:"indexVersion"`
	State         State                `json:"state"`
	DegradedTiers []string             `json:"degradedTiers"`
	Suggestions   []compose.Suggestion `json:"suggestions"`
	Analyzer      string               `json:"analyzer"`
	Trace         []State              `json:"trace"`
}

// Options wires an Engine.
type Options struct {
	Holder    *index.Holder
	Tokenizer *ingest.LemmaTokenizer
	Encoder   embed.Encoder
	// Fallback may be nil, which disables the generative tier.
	Fallback fallback.Detector
	Stemmer  stem.Stemmer
	Stops    *stoplist.Manager
	Log      logging.Logger
	Observer Observer

	EncoderTimeout   time.Duration
	BatchSize        int
	BatchConcurrency int
	MaxExamples      int
}

// Engine runs detections. It is safe for concurrent use.
type Engine struct {
	holder    *index.Holder
	tokenizer *ingest.LemmaTokenizer
	exact     *match.ExactMatcher
	vector    *match.VectorMatcher
	fallback  fallback.Detector
	log       logging.Logger
	obs       Observer

	encoderTimeout   time.Duration
	batchConcurrency int
	composeOpts      compose.Options
}

// New validates opts and returns an engine.
func New(opts Options) (*Engine, error) {
	if opts.Holder == nil {
		return nil, fmt.Errorf("%w: index holder required", internalerr.ErrInvalidConfig)
	}
	if opts.Encoder == nil {
		return nil, fmt.Errorf("%w: encoder required", internalerr.ErrInvalidConfig)
	}
	log := logging.OrDefault(opts.Log).Named("engine")
	if opts.Tokenizer == nil {
		opts.Tokenizer = ingest.NewLemmaTokenizer(nil, nil, log)
	}
	if opts.Stemmer == nil {
		opts.Stemmer = stem.New()
	}
	if opts.Stops == nil {
		opts.Stops = stoplist.Catalan()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.EncoderTimeout <= 0 {
		opts.EncoderTimeout = DefaultEncoderTimeout
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = DefaultBatchConcurrency
	}
	obs := opts.Observer
	return &Engine{
		holder:    opts.Holder,
		tokenizer: opts.Tokenizer,
		exact:     &match.ExactMatcher{Stemmer: opts.Stemmer, Stops: opts.Stops},
		vector: &match.VectorMatcher{
			Encoder:      opts.Encoder,
			Stops:        opts.Stops,
			Stemmer:      opts.Stemmer,
			BatchSize:    opts.BatchSize,
			ObserveBatch: obs.EncoderBatch,
		},
		fallback:         opts.Fallback,
		log:              log,
		obs:              obs,
		encoderTimeout:   opts.EncoderTimeout,
		batchConcurrency: opts.BatchConcurrency,
		composeOpts:      compose.Options{MaxExamples: opts.MaxExamples},
	}, nil
}

// Threshold returns a pointer to v for Request.Threshold.
func Threshold(v float64) *float64 { return &v }

// Snapshot returns the index currently served, or nil.
func (e *Engine) Snapshot() *index.Snapshot { return e.holder.Load() }

// Tokenizer exposes the configured tokenizer for health reporting.
func (e *Engine) Tokenizer() *ingest.LemmaTokenizer { return e.tokenizer }

func validate(req Request) error {
	if req.Language != "" && !strings.EqualFold(req.Language, "ca") {
		return fmt.Errorf("%w: language %q not supported", internalerr.ErrInvalidInput, req.Language)
	}
	if req.K < 0 {
		return fmt.Errorf("%w: k must not be negative", internalerr.ErrInvalidInput)
	}
	if t := req.Threshold; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("%w: threshold must be within [0,1]", internalerr.ErrInvalidInput)
	}
	if req.ContextWindow < 0 {
		return fmt.Errorf("%w: contextWindow must not be negative", internalerr.ErrInvalidInput)
	}
	return nil
}

func contextWindow(n int) int {
	if n == 0 {
		return match.DefaultContextWindow
	}
	return n
}

// Detect runs the full pipeline on one document. Degraded tiers are reported
// in the response; only fatal conditions return an error, together with a
// response in the Failed state.
func (e *Engine) Detect(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	r := newRun()
	resp := &Response{}
	fail := func(err error) (*Response, error) {
		r.to(StateFailed)
		resp.State, resp.Trace, resp.DegradedTiers = r.state, r.trace, nonNil(r.degraded)
		e.obs.RequestFinished(r.state, time.Since(start))
		e.log.Warn("detection failed", logging.String("index_version", resp.IndexVersion), logging.Err(err))
		return resp, err
	}

	snap := e.holder.Load()
	if snap == nil {
		return fail(internalerr.ErrIndexNotLoaded)
	}
	resp.IndexVersion = snap.Version
	if err := validate(req); err != nil {
		return fail(err)
	}
	window := contextWindow(req.ContextWindow)

	// Tier 1
	r.to(StateTier1)
	stage := time.Now()
	seq, err := e.tokenizer.Tokenize(ctx, req.Text)
	if err != nil {
		return fail(err)
	}
	resp.Analyzer = seq.Analyzer
	if seq.Degraded {
		r.degrade(TierAnalyzer)
		e.obs.Degraded(TierAnalyzer)
	}
	tokens := seq.Collect()
	candidates, resolved := e.exact.Match(snap, req.Text, tokens, window)
	e.obs.Candidates(TierExactStem, len(candidates))
	e.obs.StageFinished(StateTier1, time.Since(stage))

	// Tier 2
	r.to(StateTier2)
	stage = time.Now()
	vctx, cancel := context.WithTimeout(ctx, e.encoderTimeout)
	vcands, err := e.vector.Match(vctx, snap, req.Text, tokens, resolved, match.VectorOptions{
		K: req.K, Threshold: req.Threshold, ContextWindow: window,
	})
	cancel()
	switch {
	case err == nil:
		candidates = append(candidates, vcands...)
		e.obs.Candidates(TierVector, len(vcands))
	case ctx.Err() != nil:
		return fail(ctx.Err())
	default:
		r.degrade(TierVector)
		e.obs.Degraded(TierVector)
		e.log.Warn("vector tier skipped", logging.String("index_version", snap.Version), logging.Err(err))
	}
	e.obs.StageFinished(StateTier2, time.Since(stage))

	// Tier 3
	if len(candidates) == 0 {
		r.to(StateTier3)
		stage = time.Now()
		gcands, err := e.generative(ctx, snap, req.Text)
		switch {
		case err == nil:
			candidates = gcands
			e.obs.Candidates(TierGenerative, len(gcands))
		case ctx.Err() != nil:
			return fail(ctx.Err())
		default:
			r.degrade(TierGenerative)
			e.obs.Degraded(TierGenerative)
			e.log.Warn("generative tier failed", logging.Err(err))
		}
		e.obs.StageFinished(StateTier3, time.Since(stage))
	}

	r.to(StateComposing)
	stage = time.Now()
	resp.Suggestions = compose.Compose(req.Text, candidates, e.composeOpts)
	e.obs.StageFinished(StateComposing, time.Since(stage))

	r.finish()
	resp.State, resp.Trace, resp.DegradedTiers = r.state, r.trace, nonNil(r.degraded)
	e.obs.RequestFinished(r.state, time.Since(start))
	e.log.Debug("detection finished",
		logging.String("index_version", snap.Version),
		logging.String("state", string(r.state)),
		logging.Int("suggestions", len(resp.Suggestions)),
		logging.Duration("took", time.Since(start)))
	return resp, nil
}

// TierExactStem labels tier-1 candidate counts.
const TierExactStem = "exact_stem"

// generative calls the fallback detector once and maps its findings onto
// the text. A nil detector or blank text produces nothing.
func (e *Engine) generative(ctx context.Context, snap *index.Snapshot, text string) ([]match.Candidate, error) {
	if e.fallback == nil || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	findings, err := e.fallback.Detect(ctx, text)
	switch {
	case errors.Is(err, internalerr.ErrFallbackTimeout):
		e.obs.FallbackCall(FallbackTimeout)
		return nil, err
	case err != nil:
		e.obs.FallbackCall(FallbackError)
		return nil, err
	}
	e.obs.FallbackCall(FallbackOK)
	return placeFindings(snap, text, findings), nil
}

// placeFindings maps every finding to the first occurrence of its surface
// text not already claimed by an earlier finding. Findings that cannot be
// located are dropped.
func placeFindings(snap *index.Snapshot, text string, findings []fallback.Finding) []match.Candidate {
	var out []match.Candidate
	for _, f := range findings {
		start, end, ok := -1, -1, false
		for from := 0; from < len(text); {
			s, en, found := indexFold(text, f.SurfaceText, from)
			if !found {
				break
			}
			if !claimed(out, s, en) {
				start, end, ok = s, en, true
				break
			}
			from = s + 1
		}
		if !ok {
			continue
		}
		c := match.Candidate{
			Start:         start,
			End:           end,
			Surface:       text[start:end],
			Method:        match.Generative,
			Score:         f.Confidence,
			Context:       match.ByteSnippet(text, start, end, fallbackContextRadius),
			Unverified:    true,
			IssueKind:     f.IssueKind,
			SuggestedTerm: f.SuggestedTerm,
		}
		if f.SuggestedTerm != "" {
			key, _ := index.PhraseKey(f.SuggestedTerm)
			if ref, hit := snap.LookupExact(key); hit && ref.Kind == index.KindRecommended {
				c.Entry = snap.Entry(ref.Entry)
			}
		}
		out = append(out, c)
	}
	return out
}

func claimed(cands []match.Candidate, start, end int) bool {
	for _, c := range cands {
		if start < c.End && c.Start < end {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// BatchResult pairs a response with the error of its document.
type BatchResult struct {
	Response *Response
	Err      error
}

// DetectBatch checks several documents concurrently, bounded by the
// configured concurrency. Results keep the input order. The returned error
// is only set when the batch as a whole could not run.
func (e *Engine) DetectBatch(ctx context.Context, reqs []Request) ([]BatchResult, error) {
	if e.holder.Load() == nil {
		return nil, internalerr.ErrIndexNotLoaded
	}
	out := make([]BatchResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.batchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := e.Detect(gctx, req)
			out[i] = BatchResult{Response: resp, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}
