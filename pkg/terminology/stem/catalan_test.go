package stem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerbFormsShareStem(t *testing.T) {
	s := New()
	want := s.Stem("agotar")
	assert.Equal(t, "agot", want)
	for _, form := range []string{"agota", "agoten", "agotava", "agotaven", "agotat", "agotada", "agotades", "agotarà", "agotaria", "agotar-lo", "Agotem"} {
		assert.Equal(t, want, s.Stem(form), "form %q", form)
	}
}

func TestNominalPlurals(t *testing.T) {
	s := New()
	assert.Equal(t, s.Stem("factura"), s.Stem("factures"))
	assert.Equal(t, s.Stem("pràctica"), s.Stem("pràctiques"))
	assert.Equal(t, s.Stem("certificació"), s.Stem("certificacions"))
}

func TestDerivationKept(t *testing.T) {
	s := New()
	assert.NotEqual(t, s.Stem("agotar"), s.Stem("agotament"))
}

func TestShortWordsUntouched(t *testing.T) {
	s := New()
	assert.Equal(t, "mar", s.Stem("mar"))
	assert.Equal(t, "via", s.Stem("via"))
	assert.Equal(t, "", s.Stem("  "))
}

func TestStemDeterministic(t *testing.T) {
	s := New()
	words := []string{"exhaurir", "sol·licitud", "tramitacions", "conformen", "d'acord"}
	first := make([]string, len(words))
	for i, w := range words {
		first[i] = s.Stem(w)
	}
	for round := 0; round < 5; round++ {
		for i, w := range words {
			assert.Equal(t, first[i], s.Stem(w))
		}
	}
}

func TestDistinctEntriesStayDistinct(t *testing.T) {
	s := New()
	assert.Equal(t, "exhaur", s.Stem("exhaurir"))
	assert.NotEqual(t, s.Stem("exhaurir"), s.Stem("agotar"))
}
