package ingest

import (
	"context"
	"errors"
	"iter"
	"slices"

	"github.com/optim-dev/aina/internal/logging"
)

// Sequence is the tokenization of one text.
type Sequence struct {
	seq iter.Seq[Token]

	// Analyzer names the analyzer that produced the tokens.
	Analyzer string
	// Degraded is set when the primary analyzer failed and the light one was used.
	Degraded bool
}

// All returns the tokens. The sequence may be ranged over repeatedly.
func (s Sequence) All() iter.Seq[Token] { return s.seq }

// Collect materializes the sequence.
func (s Sequence) Collect() []Token { return slices.Collect(s.seq) }

// LemmaTokenizer runs the configured analyzer and falls back to the light
// analyzer for a request when the primary one fails.
type LemmaTokenizer struct {
	primary Analyzer
	light   Analyzer
	log     logging.Logger
}

// NewLemmaTokenizer builds a tokenizer. light may be nil when primary never
// fails (the rule analyzer), and defaults to a lexicon-free RuleAnalyzer.
func NewLemmaTokenizer(primary, light Analyzer, log logging.Logger) *LemmaTokenizer {
	if light == nil {
		light = NewRuleAnalyzer(nil)
	}
	if primary == nil {
		primary = light
	}
	return &LemmaTokenizer{primary: primary, light: light, log: logging.OrDefault(log).Named("tokenizer")}
}

// Name returns the primary analyzer name.
func (t *LemmaTokenizer) Name() string { return t.primary.Name() }

// Primary exposes the configured analyzer for health reporting.
func (t *LemmaTokenizer) Primary() Analyzer { return t.primary }

// Tokenize analyzes text. It only fails when the context is done or both
// analyzers fail.
func (t *LemmaTokenizer) Tokenize(ctx context.Context, text string) (Sequence, error) {
	seq, err := t.primary.Analyze(ctx, text)
	if err == nil {
		return Sequence{seq: seq, Analyzer: t.primary.Name()}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Sequence{}, ctxErr
	}
	if t.light == t.primary {
		return Sequence{}, err
	}
	t.log.Warn("primary analyzer failed, using light analyzer",
		logging.String("primary", t.primary.Name()), logging.String("light", t.light.Name()), logging.Err(err))

	seq, lightErr := t.light.Analyze(ctx, text)
	if lightErr != nil {
		return Sequence{}, errors.Join(err, lightErr)
	}
	return Sequence{seq: seq, Analyzer: t.light.Name(), Degraded: true}, nil
}

// Select returns the first analyzer whose readiness probe succeeds, mirroring
// the trf -> sm -> light model fallback at startup. The last candidate is
// returned when none is ready.
func Select(ctx context.Context, log logging.Logger, candidates ...Analyzer) Analyzer {
	log = logging.OrDefault(log)
	for i, a := range candidates {
		if a == nil {
			continue
		}
		err := a.Ready(ctx)
		if err == nil {
			log.Info("analyzer selected", logging.String("analyzer", a.Name()))
			return a
		}
		if i < len(candidates)-1 {
			log.Warn("analyzer not ready, trying next", logging.String("analyzer", a.Name()), logging.Err(err))
		}
	}
	if len(candidates) == 0 {
		return NewRuleAnalyzer(nil)
	}
	return candidates[len(candidates)-1]
}
