// Package index compiles a validated glossary into the immutable lookup
// tables used by the matchers: exact n-gram keys, Catalan stems and dense
// vectors.
package index

import (
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/optim-dev/aina/pkg/terminology/glossary"
)

// KeyKind tells a variant key from a normative one.
type KeyKind uint8

const (
	KindVariant KeyKind = iota + 1
	KindRecommended
)

func (k KeyKind) String() string {
	switch k {
	case KindVariant:
		return "variant"
	case KindRecommended:
		return "recommended"
	}
	return "unknown"
}

// ExactRef is the value stored under an exact key.
type ExactRef struct {
	Entry int
	Kind  KeyKind
}

// Snapshot is one compiled index. It is never modified after Build or
// ReadArtifact returns, so any number of requests may share it.
type Snapshot struct {
	Version          string
	CreatedAt        time.Time
	ModelID          string
	Dims             int
	MaxNgram         int
	GlossaryChecksum string
	IncludeContext   bool
	IncludeVariants  bool

	entries *glossary.Store
	exact   map[string]ExactRef
	stems   map[string]int
	vectors *VectorTable
	recKeys []string
}

// NewVersion returns a fresh, time-ordered version tag.
func NewVersion() string {
	return ulid.Make().String()
}

// Entries is the glossary the snapshot was built from.
func (s *Snapshot) Entries() *glossary.Store { return s.entries }

// Entry returns the entry at position i.
func (s *Snapshot) Entry(i int) *glossary.Entry { return s.entries.At(i) }

// Vectors is the dense table searched by the vector tier.
func (s *Snapshot) Vectors() *VectorTable { return s.vectors }

// LookupExact probes the exact table with an already normalized key.
func (s *Snapshot) LookupExact(key string) (ExactRef, bool) {
	ref, ok := s.exact[key]
	return ref, ok
}

// LookupStem probes the stem table.
func (s *Snapshot) LookupStem(st string) (*glossary.Entry, bool) {
	i, ok := s.stems[st]
	if !ok {
		return nil, false
	}
	return s.entries.At(i), true
}

// RecommendedKey is entry i's recommended term as a WordKey.
func (s *Snapshot) RecommendedKey(i int) string { return s.recKeys[i] }

func (s *Snapshot) deriveKeys() {
	s.recKeys = make([]string, s.entries.Len())
	for i, e := range s.entries.All() {
		s.recKeys[i] = WordKey(e.RecommendedTerm)
	}
}

// Stats summarizes table sizes.
type Stats struct {
	Entries    int `json:"entries"`
	ExactKeys  int `json:"exactKeys"`
	Variants   int `json:"variants"`
	StemKeys   int `json:"stemKeys"`
	VectorRows int `json:"vectorRows"`
	Dims       int `json:"dims"`
	MaxNgram   int `json:"maxNgram"`
}

func (s *Snapshot) Stats() Stats {
	st := Stats{
		Entries:   s.entries.Len(),
		ExactKeys: len(s.exact),
		StemKeys:  len(s.stems),
		Dims:      s.Dims,
		MaxNgram:  s.MaxNgram,
	}
	for _, ref := range s.exact {
		if ref.Kind == KindVariant {
			st.Variants++
		}
	}
	if s.vectors != nil {
		st.VectorRows = s.vectors.Len()
	}
	return st
}

// Holder publishes the current snapshot. Readers Load once per request and
// keep using that pointer even if a rebuild swaps in a newer one.
type Holder struct {
	p atomic.Pointer[Snapshot]
}

// Load returns the current snapshot or nil before the first Swap.
func (h *Holder) Load() *Snapshot { return h.p.Load() }

// Swap installs next and returns the snapshot it replaced.
func (h *Holder) Swap(next *Snapshot) *Snapshot { return h.p.Swap(next) }
