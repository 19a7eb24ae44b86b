// Package lexicon maps inflected Catalan word forms to their lemma.
//
// It backs the light analyzer when no morphological model is available:
//   - lemma -> every known form (including the lemma itself)
//   - form -> lemma, plus an optional part-of-speech tag
package lexicon

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/optim-dev/aina/pkg/terminology/textnorm"
)

// Lexicon is read-only after loading and safe for concurrent readers.
type Lexicon struct {
	forms        map[string][]string
	reverseIndex map[string]Analysis
}

// Analysis is what the lexicon knows about one form.
type Analysis struct {
	Lemma string
	POS   string
}

// New creates an empty lexicon.
func New() *Lexicon {
	return &Lexicon{
		forms:        make(map[string][]string),
		reverseIndex: make(map[string]Analysis),
	}
}

// LoadFromYAML loads lemma groups from a YAML file.
//
// Expected format:
//
//	lemmas:
//	  - lemma: agotar
//	    pos: VERB
//	    forms: [agota, agoten, agotava, agotat]
func LoadFromYAML(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Lemmas []struct {
			Lemma string   `yaml:"lemma"`
			POS   string   `yaml:"pos"`
			Forms []string `yaml:"forms"`
		} `yaml:"lemmas"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("lexicon %s: %w", path, err)
	}

	lex := New()
	for _, g := range doc.Lemmas {
		lex.AddGroup(g.Lemma, g.POS, g.Forms)
	}
	return lex, nil
}

// LoadTSV reads "form<TAB>lemma[<TAB>pos]" lines, the layout exported by
// FreeLing and spaCy lookup tables. Blank lines and # comments are skipped.
func LoadTSV(r io.Reader) (*Lexicon, error) {
	lex := New()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.Split(text, "\t")
		if len(parts) < 2 {
			return nil, fmt.Errorf("lexicon line %d: want form<TAB>lemma", line)
		}
		pos := ""
		if len(parts) > 2 {
			pos = strings.TrimSpace(parts[2])
		}
		lex.add(parts[1], pos, parts[0])
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lex, nil
}

// LoadFile picks the loader from the file extension (.yaml/.yml or TSV otherwise).
func LoadFile(path string) (*Lexicon, error) {
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return LoadFromYAML(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadTSV(f)
}

// AddGroup registers a lemma with its forms. The lemma always maps to itself.
func (l *Lexicon) AddGroup(lemma, pos string, forms []string) {
	l.add(lemma, pos, lemma)
	for _, f := range forms {
		l.add(lemma, pos, f)
	}
}

func (l *Lexicon) add(lemma, pos, form string) {
	lemma = textnorm.Key(lemma)
	form = textnorm.Key(form)
	if lemma == "" || form == "" {
		return
	}
	// First analysis of an ambiguous form wins.
	if _, exists := l.reverseIndex[form]; exists {
		return
	}
	l.reverseIndex[form] = Analysis{Lemma: lemma, POS: pos}
	l.forms[lemma] = append(l.forms[lemma], form)
}

// Lemma returns the lemma of a form, if known.
func (l *Lexicon) Lemma(form string) (Analysis, bool) {
	a, ok := l.reverseIndex[textnorm.Key(form)]
	return a, ok
}

// Forms returns every known form of a lemma, or nil.
func (l *Lexicon) Forms(lemma string) []string {
	return l.forms[textnorm.Key(lemma)]
}

// Stats returns statistics about the lexicon contents.
func (l *Lexicon) Stats() Stats {
	return Stats{Lemmas: len(l.forms), Forms: len(l.reverseIndex)}
}

// Stats holds lexicon size counters.
type Stats struct {
	Lemmas int
	Forms  int
}
