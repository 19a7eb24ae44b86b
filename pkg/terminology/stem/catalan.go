// Package stem reduces Catalan word forms to a shared stem by suffix stripping.
//
// Only inflection is removed (plural marks, verb endings, enclitic pronouns);
// derivational suffixes are kept so that, for example, "agotament" and
// "agotar" stay distinct.
package stem

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/optim-dev/aina/pkg/terminology/textnorm"
)

// Stemmer maps one token to its stem. Implementations must be deterministic.
type Stemmer interface {
	Stem(word string) string
}

// Catalan is a rule-based stemmer for Catalan. The zero value is ready to use.
type Catalan struct{}

// New returns the Catalan stemmer.
func New() Catalan { return Catalan{} }

var (
	enclitics = []string{
		"-les", "-los", "-la", "-lo", "-li", "-ls", "-me", "-te", "-se", "-nos", "-vos", "-ne", "-hi", "-ho", "-us", "-n", "-m", "-t", "-s",
		"'ls", "'ns", "'l", "'n", "'m", "'t", "'s", "'hi", "'ho",
	}

	nominal = []struct{ from, to string }{
		{"cions", "ci"}, {"ció", "ci"},
		{"sions", "si"}, {"sió", "si"},
		{"ques", "c"}, {"gues", "g"}, {"ces", "ç"}, {"ges", "g"},
	}

	verbal = byLength([]string{
		"aríem", "aríeu", "eríem", "eríeu", "iríem", "iríeu",
		"éssim", "éssiu", "àssim", "àssiu", "íssim", "íssiu",
		"arien", "aries", "erien", "eries", "irien", "iries",
		"essin", "essis", "assin", "assis", "issin", "issis",
		"eixen", "eixes", "eixin", "eixis", "eixo", "eixi", "eix",
		"àvem", "àveu", "arem", "areu", "aran", "aràs", "aria", "aren", "ares",
		"aven", "aves", "ades", "udes", "ides", "íem", "íeu",
		"ada", "ats", "ant", "ent", "int", "ava", "ien", "ies", "arà", "aré",
		"ida", "its", "uda", "uts",
		"ar", "er", "ir", "re", "at", "it", "ut", "em", "eu", "en", "ia",
	})

	residual = byLength([]string{"os", "es", "s", "a", "o", "e", "i"})

	accents = strings.NewReplacer("à", "a", "á", "a", "è", "e", "é", "e", "í", "i", "ï", "i", "ò", "o", "ó", "o", "ú", "u", "ü", "u")
)

func byLength(list []string) []string {
	out := append([]string(nil), list...)
	sort.SliceStable(out, func(i, j int) bool {
		return utf8.RuneCountInString(out[i]) > utf8.RuneCountInString(out[j])
	})
	return out
}

// Stem returns the stem of one token. Multi-word input is stemmed as one string.
func (Catalan) Stem(word string) string {
	w := textnorm.Key(word)
	if w == "" {
		return ""
	}
	w = stripEnclitics(w)

	r1 := regionStart(w)

	// 1. plural and nominal normalization
	for _, n := range nominal {
		if strings.HasSuffix(w, n.from) && len(w)-len(n.from) >= r1 {
			w = strings.TrimSuffix(w, n.from) + n.to
			return accents.Replace(w)
		}
	}

	// 2. verb endings
	for _, suf := range verbal {
		if strings.HasSuffix(w, suf) && len(w)-len(suf) >= r1 {
			return accents.Replace(strings.TrimSuffix(w, suf))
		}
	}

	// 3. residual vowels and plural s
	for _, suf := range residual {
		if strings.HasSuffix(w, suf) && len(w)-len(suf) >= r1 {
			w = strings.TrimSuffix(w, suf)
			break
		}
	}
	return accents.Replace(w)
}

func stripEnclitics(w string) string {
	for changed := true; changed; {
		changed = false
		for _, e := range enclitics {
			if strings.HasSuffix(w, e) && len(w) > len(e)+1 {
				w = strings.TrimSuffix(w, e)
				changed = true
				break
			}
		}
	}
	return strings.Trim(w, "-'")
}

// regionStart returns the byte offset of R1: the position after the first
// consonant that follows a vowel. A word without such a consonant has an empty R1.
func regionStart(w string) int {
	prevVowel := false
	for i, r := range w {
		v := isVowel(r)
		if prevVowel && !v {
			return i + utf8.RuneLen(r)
		}
		prevVowel = v
	}
	return len(w)
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u', 'à', 'á', 'è', 'é', 'í', 'ï', 'ò', 'ó', 'ú', 'ü':
		return true
	}
	return false
}
