package ingest

import (
	"context"
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/optim-dev/aina/pkg/terminology/lexicon"
	"github.com/optim-dev/aina/pkg/terminology/textnorm"
)

// RuleAnalyzer is the light analyzer: a rune scanner plus an optional
// form->lemma lexicon. Tokens are produced lazily while ranging.
type RuleAnalyzer struct {
	lexicon *lexicon.Lexicon
	name    string
}

// NewRuleAnalyzer creates the light analyzer. lex may be nil, in which case
// the lemma is the normalized surface form.
func NewRuleAnalyzer(lex *lexicon.Lexicon) *RuleAnalyzer {
	name := "rule"
	if lex != nil {
		name = "rule+lexicon"
	}
	return &RuleAnalyzer{lexicon: lex, name: name}
}

func (a *RuleAnalyzer) Name() string { return a.name }

func (a *RuleAnalyzer) Ready(context.Context) error { return nil }

// Analyze never fails; the error is part of the Analyzer contract.
func (a *RuleAnalyzer) Analyze(_ context.Context, text string) (iter.Seq[Token], error) {
	return func(yield func(Token) bool) {
		scan(text, func(start, end int, punct bool) bool {
			return yield(a.token(text[start:end], start, end, punct))
		})
	}, nil
}

// Words splits a phrase the way the rule analyzer does and returns the
// non-punctuation surfaces. Index keys are built from it so that glossary
// phrases and analyzed text share one segmentation.
func Words(phrase string) []string {
	var out []string
	scan(phrase, func(start, end int, punct bool) bool {
		if !punct {
			out = append(out, phrase[start:end])
		}
		return true
	})
	return out
}

// Segments splits a phrase like Words but keeps punctuation marks as
// segments of their own.
func Segments(phrase string) []string {
	var out []string
	scan(phrase, func(start, end int, _ bool) bool {
		out = append(out, phrase[start:end])
		return true
	})
	return out
}

func (a *RuleAnalyzer) token(surface string, start, end int, punct bool) Token {
	tok := Token{Surface: surface, Start: start, End: end}
	switch {
	case punct:
		tok.Lemma = surface
		tok.POS = POSPunct
		return tok
	case isNumericOnly(surface):
		tok.Lemma = surface
		tok.POS = POSNumber
		return tok
	}
	tok.Lemma = textnorm.Key(surface)
	tok.POS = POSUnknown
	if a.lexicon != nil {
		if an, ok := a.lexicon.Lemma(surface); ok {
			tok.Lemma = an.Lemma
			if an.POS != "" {
				tok.POS = an.POS
			}
		}
	}
	return tok
}

// scan splits text into words and single-rune punctuation marks, skipping
// whitespace. Hyphens, middle dots and decimal separators stay inside a word
// when a word character follows. An apostrophe after a single elidable letter
// (l', d', s', m', t', n') closes that token; any other apostrophe starts an
// enclitic token such as 'l or 'ns.
func scan(text string, emit func(start, end int, punct bool) bool) {
	start := -1
	var prev rune
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		next, _ := utf8.DecodeRuneInString(text[i+size:])

		switch {
		case isWordRune(r):
			if start < 0 {
				start = i
			}
		case start >= 0 && isJoiner(r, prev, next):
		case start >= 0 && isApostrophe(r) && isWordRune(next):
			if isElidable(text[start:i]) {
				if !emit(start, i+size, false) {
					return
				}
				start = -1
			} else {
				if !emit(start, i, false) {
					return
				}
				start = i
			}
		default:
			if start >= 0 {
				if !emit(start, i, false) {
					return
				}
				start = -1
			}
			if !unicode.IsSpace(r) {
				if !emit(i, i+size, true) {
					return
				}
			}
		}
		prev = r
		i += size
	}
	if start >= 0 {
		emit(start, len(text), false)
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Mn, r)
}

func isJoiner(r, prev, next rune) bool {
	switch r {
	case '-', '·', '‧':
		return isWordRune(next)
	case '.', ',':
		return unicode.IsDigit(prev) && unicode.IsDigit(next)
	}
	return false
}

func isApostrophe(r rune) bool {
	return r == '\'' || r == '’' || r == 'ʼ'
}

func isElidable(word string) bool {
	switch strings.ToLower(word) {
	case "l", "d", "s", "m", "t", "n":
		return true
	}
	return false
}

// isNumericOnly returns true if the token contains only digits and separators.
func isNumericOnly(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '-' && r != '.' && r != ',' {
			return false
		}
	}
	return true
}
