// Package ingest turns raw Catalan text into lemmatized tokens with byte spans.
package ingest

import (
	"context"
	"iter"
)

// Token is one analyzed word or punctuation mark.
// Start and End are byte offsets into the analyzed text.
type Token struct {
	Surface string
	Lemma   string
	POS     string
	Start   int
	End     int
}

// Part-of-speech tags emitted by the rule analyzer (Universal Dependencies names).
const (
	POSPunct   = "PUNCT"
	POSSpace   = "SPACE"
	POSNumber  = "NUM"
	POSUnknown = "X"
	POSPhrase  = "MWE"
)

// IsPunct reports whether the token is punctuation or whitespace.
func (t Token) IsPunct() bool {
	return t.POS == POSPunct || t.POS == POSSpace || t.POS == "SYM"
}

// Analyzer is the morphological analysis port.
type Analyzer interface {
	// Name identifies the analyzer or model in responses and logs.
	Name() string
	// Ready probes whether the analyzer can serve requests.
	Ready(ctx context.Context) error
	// Analyze returns a finite sequence that can be ranged over any number of times.
	Analyze(ctx context.Context, text string) (iter.Seq[Token], error)
}
