package lexicon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lemmas.yaml")
	yaml := `lemmas:
  - lemma: agotar
    pos: VERB
    forms: [agota, agoten, Agotava]
  - lemma: factura
    pos: NOUN
    forms: [factures]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	lex, err := LoadFromYAML(path)
	require.NoError(t, err)

	a, ok := lex.Lemma("agotava")
	require.True(t, ok)
	assert.Equal(t, "agotar", a.Lemma)
	assert.Equal(t, "VERB", a.POS)

	a, ok = lex.Lemma("agotar")
	require.True(t, ok)
	assert.Equal(t, "agotar", a.Lemma)

	assert.Equal(t, []string{"agotar", "agota", "agoten", "agotava"}, lex.Forms("agotar"))
	assert.Equal(t, Stats{Lemmas: 2, Forms: 6}, lex.Stats())
}

func TestLoadTSV(t *testing.T) {
	in := "# form\tlemma\tpos\nconformen\tconformar\tVERB\n\nconformem\tconformar\n"
	lex, err := LoadTSV(strings.NewReader(in))
	require.NoError(t, err)

	a, ok := lex.Lemma("Conformen")
	require.True(t, ok)
	assert.Equal(t, "conformar", a.Lemma)

	_, ok = lex.Lemma("desconegut")
	assert.False(t, ok)
}

func TestLoadTSVRejectsMalformed(t *testing.T) {
	_, err := LoadTSV(strings.NewReader("nomesunacolumna\n"))
	assert.Error(t, err)
}

func TestAmbiguousFormKeepsFirst(t *testing.T) {
	lex := New()
	lex.AddGroup("ser", "AUX", []string{"és"})
	lex.AddGroup("esser", "AUX", []string{"és"})

	a, _ := lex.Lemma("és")
	assert.Equal(t, "ser", a.Lemma)
}
