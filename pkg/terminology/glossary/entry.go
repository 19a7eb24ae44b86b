// Package glossary loads and validates the curated table of normative terms.
package glossary

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/optim-dev/aina/pkg/terminology/internalerr"
	"github.com/optim-dev/aina/pkg/terminology/textnorm"
)

// Category is the grammatical class of a recommendation.
type Category string

const (
	Noun       Category = "noun"
	Verb       Category = "verb"
	Adjective  Category = "adjective"
	Locution   Category = "locution"
	Expression Category = "expression"
)

var categoryAliases = map[string]Category{
	"noun": Noun, "nom": Noun, "substantiu": Noun,
	"verb": Verb,
	"adjective": Adjective, "adjectiu": Adjective,
	"locution": Locution, "locució": Locution, "locucio": Locution,
	"expression": Expression, "expressió": Expression, "expressio": Expression,
}

// ParseCategory accepts the English enum names and their Catalan labels.
func ParseCategory(s string) (Category, bool) {
	c, ok := categoryAliases[textnorm.Key(s)]
	return c, ok
}

// Lexical reports whether the category is a single part of speech rather than a phrase.
func (c Category) Lexical() bool {
	return c == Noun || c == Verb || c == Adjective
}

// IDPrefix is the letter curators put in front of ids of this category,
// as in V-001 for a verb.
func (c Category) IDPrefix() string {
	switch c {
	case Noun:
		return "N"
	case Verb:
		return "V"
	case Adjective:
		return "A"
	case Locution:
		return "L"
	case Expression:
		return "E"
	}
	return ""
}

// Entry is one normative recommendation.
type Entry struct {
	ID                   string   `json:"id" yaml:"id"`
	RecommendedTerm      string   `json:"recommendedTerm" yaml:"recommended_term"`
	Category             Category `json:"category" yaml:"category"`
	NonNormativeVariants []string `json:"nonNormativeVariants" yaml:"variants"`
	Domain               string   `json:"domain,omitempty" yaml:"domain,omitempty"`
	UsageContext         string   `json:"usageContext,omitempty" yaml:"usage_context,omitempty"`
	Justification        string   `json:"justification,omitempty" yaml:"justification,omitempty"`
	Source               string   `json:"source,omitempty" yaml:"source,omitempty"`
	Examples             []string `json:"examples,omitempty" yaml:"examples,omitempty"`
	CounterExamples      []string `json:"counterExamples,omitempty" yaml:"counter_examples,omitempty"`
}

// PrefixMismatch reports whether the id lacks the prefix of its category.
// Ids are curated by hand, so a mismatch is reported but not rejected.
func (e Entry) PrefixMismatch() bool {
	p := e.Category.IDPrefix()
	return p != "" && !strings.HasPrefix(strings.ToUpper(e.ID), p+"-")
}

// Validate checks every entry and normalizes variant lists in place:
// blank and duplicate variants are dropped. It returns the first violation.
func Validate(entries []Entry) error {
	seen := make(map[string]int, len(entries))
	for i := range entries {
		e := &entries[i]
		e.ID = strings.TrimSpace(e.ID)
		e.RecommendedTerm = strings.TrimSpace(e.RecommendedTerm)
		row := i + 1

		if e.ID == "" {
			return &internalerr.SchemaError{Row: row, Field: "id", Reason: "required"}
		}
		if e.RecommendedTerm == "" {
			return &internalerr.SchemaError{Row: row, EntryID: e.ID, Field: "recommendedTerm", Reason: "required"}
		}
		cat, ok := ParseCategory(string(e.Category))
		if !ok {
			return &internalerr.SchemaError{Row: row, EntryID: e.ID, Field: "category", Reason: fmt.Sprintf("unknown category %q", e.Category)}
		}
		e.Category = cat
		if prev, dup := seen[e.ID]; dup {
			return &internalerr.SchemaError{Row: row, EntryID: e.ID, Field: "id", Reason: fmt.Sprintf("duplicates row %d", prev)}
		}
		seen[e.ID] = row

		recKey := textnorm.Key(e.RecommendedTerm)
		variants := make([]string, 0, len(e.NonNormativeVariants))
		keys := make(map[string]struct{}, len(e.NonNormativeVariants))
		for _, v := range e.NonNormativeVariants {
			v = strings.TrimSpace(v)
			k := textnorm.Key(v)
			if k == "" {
				continue
			}
			if k == recKey {
				return &internalerr.SchemaError{Row: row, EntryID: e.ID, Field: "nonNormativeVariants", Reason: "contains the recommended term"}
			}
			if _, dup := keys[k]; dup {
				continue
			}
			keys[k] = struct{}{}
			variants = append(variants, v)
		}
		e.NonNormativeVariants = variants
	}
	return nil
}

// Checksum is a stable digest of the entries, used to tag builds.
func Checksum(entries []Entry) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, e := range entries {
		_ = enc.Encode(e)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Store is the validated, read-only glossary. Safe for concurrent readers.
type Store struct {
	entries []Entry
	byID    map[string]int
}

// NewStore validates entries and indexes them by id.
func NewStore(entries []Entry) (*Store, error) {
	owned := make([]Entry, len(entries))
	copy(owned, entries)
	if err := Validate(owned); err != nil {
		return nil, err
	}
	byID := make(map[string]int, len(owned))
	for i, e := range owned {
		byID[e.ID] = i
	}
	return &Store{entries: owned, byID: byID}, nil
}

// Len returns the number of entries.
func (s *Store) Len() int { return len(s.entries) }

// All returns the entries in source order. Callers must not modify them.
func (s *Store) All() []Entry { return s.entries }

// At returns the entry at position i.
func (s *Store) At(i int) *Entry { return &s.entries[i] }

// ByID looks an entry up by its identifier.
func (s *Store) ByID(id string) (*Entry, bool) {
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return &s.entries[i], true
}
