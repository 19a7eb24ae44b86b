package index

import (
	"fmt"
	"sort"
)

// RowKind tells what text a vector row was encoded from.
type RowKind uint8

const (
	RowTerm RowKind = iota + 1
	RowContext
	// RowVariant rows hold one non-normative variant of the entry.
	RowVariant
	// RowExample rows hold the first sentence of a counter-example.
	RowExample
)

// VectorTable is a flat table of unit-norm rows stored contiguously, with a
// parallel slice of entry positions. Search is an exhaustive inner product.
type VectorTable struct {
	dims  int
	data  []float32
	entry []int
	kind  []RowKind
}

// NewVectorTable wraps rows already laid out back to back.
func NewVectorTable(dims int, data []float32, entry []int, kind []RowKind) (*VectorTable, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("vector table: dims must be positive, got %d", dims)
	}
	if len(data) != dims*len(entry) || len(kind) != len(entry) {
		return nil, fmt.Errorf("vector table: %d floats for %d rows of %d dims", len(data), len(entry), dims)
	}
	return &VectorTable{dims: dims, data: data, entry: entry, kind: kind}, nil
}

func (t *VectorTable) Len() int { return len(t.entry) }

func (t *VectorTable) Dims() int { return t.dims }

// Row returns row i. The slice aliases the table and must not be modified.
func (t *VectorTable) Row(i int) []float32 { return t.data[i*t.dims : (i+1)*t.dims] }

// RowEntry returns the entry position and kind of row i.
func (t *VectorTable) RowEntry(i int) (int, RowKind) { return t.entry[i], t.kind[i] }

// Hit is one search result. Score is the inner product, which equals cosine
// similarity for unit vectors.
type Hit struct {
	Entry int
	Row   int
	Score float32
}

// Search returns at most k hits ordered by descending score, one per entry.
// When an entry has several rows only its best row is reported.
func (t *VectorTable) Search(q []float32, k int) []Hit {
	if k <= 0 || len(q) != t.dims || t.Len() == 0 {
		return nil
	}
	best := make(map[int]Hit)
	for r := 0; r < t.Len(); r++ {
		row := t.Row(r)
		var s float32
		for i, x := range q {
			s += x * row[i]
		}
		e := t.entry[r]
		if h, ok := best[e]; !ok || s > h.Score {
			best[e] = Hit{Entry: e, Row: r, Score: s}
		}
	}
	hits := make([]Hit, 0, len(best))
	for _, h := range best {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Entry < hits[j].Entry
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
