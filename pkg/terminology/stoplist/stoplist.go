// Package stoplist holds the Catalan function words that never start or end
// a candidate phrase and are never stem-probed.
package stoplist

import (
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/optim-dev/aina/pkg/terminology/textnorm"
)

// Manager is a set of stop words keyed by normalized form.
type Manager struct {
	stops map[string]struct{}
}

// catalanDefaults covers articles, elided forms, prepositions, conjunctions,
// clitic pronouns and the most frequent auxiliaries.
var catalanDefaults = []string{
	"el", "la", "els", "les", "l'", "lo", "los", "un", "una", "uns", "unes",
	"de", "d'", "del", "dels", "a", "al", "als", "per", "pel", "pels", "amb", "en", "entre", "sense", "sobre", "fins", "cap", "des", "dins", "contra", "segons",
	"i", "o", "ni", "que", "qui", "què", "com", "si", "però", "sinó", "perquè", "quan", "on", "doncs",
	"em", "et", "es", "ens", "us", "li", "hi", "ho", "en", "m'", "t'", "s'", "n'",
	"jo", "tu", "ell", "ella", "nosaltres", "vosaltres", "ells", "elles",
	"aquest", "aquesta", "aquests", "aquestes", "aquell", "aquella", "aquells", "aquelles", "aquí", "allà",
	"meu", "teu", "seu", "seva", "seus", "seves", "nostre", "nostra", "vostre", "vostra",
	"és", "són", "era", "eren", "ser", "ha", "han", "hem", "heu", "he", "has", "haver", "estat", "està", "estan",
	"no", "més", "molt", "tot", "tota", "tots", "totes", "també", "ja", "encara",
}

// NewManager creates a stop list from the given words.
func NewManager(initial []string) *Manager {
	m := &Manager{stops: make(map[string]struct{}, len(initial))}
	for _, s := range initial {
		m.Add(s)
	}
	return m
}

// Catalan returns the built-in Catalan stop list.
func Catalan() *Manager {
	return NewManager(catalanDefaults)
}

// LoadYAML reads a {terms: [...]} file and merges it over the Catalan defaults.
func LoadYAML(path string) (*Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sl struct {
		Terms  []string `yaml:"terms"`
		Remove []string `yaml:"remove"`
	}
	if err := yaml.Unmarshal(data, &sl); err != nil {
		return nil, err
	}
	m := Catalan()
	for _, t := range sl.Terms {
		m.Add(t)
	}
	for _, t := range sl.Remove {
		m.Remove(t)
	}
	return m, nil
}

// IsStop checks if a token is a stop word.
func (m *Manager) IsStop(token string) bool {
	if m == nil {
		return false
	}
	_, ok := m.stops[textnorm.Key(token)]
	return ok
}

// Add adds a token to the stop list.
func (m *Manager) Add(token string) {
	if k := textnorm.Key(token); k != "" {
		m.stops[k] = struct{}{}
	}
}

// Remove removes a token from the stop list.
func (m *Manager) Remove(token string) {
	delete(m.stops, textnorm.Key(token))
}

// All returns all stop words, sorted.
func (m *Manager) All() []string {
	result := make([]string, 0, len(m.stops))
	for s := range m.stops {
		result = append(result, s)
	}
	sort.Strings(result)
	return result
}
