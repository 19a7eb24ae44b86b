package index

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/edsrzf/mmap-go"

	"github.com/optim-dev/aina/pkg/terminology/glossary"
	"github.com/optim-dev/aina/pkg/terminology/internalerr"
)

// Artifact file names inside a build directory.
const (
	ManifestFile = "manifest.json"
	GlossaryFile = "glossary.json"
	TablesFile   = "tables.json"
	VectorsFile  = "vectors.f32"

	artifactFormat = 2
)

// ArtifactFiles lists every file WriteArtifact produces.
var ArtifactFiles = []string{ManifestFile, GlossaryFile, TablesFile, VectorsFile}

// Manifest describes a written snapshot.
type Manifest struct {
	Format           int       `json:"format"`
	Version          string    `json:"version"`
	CreatedAt        time.Time `json:"createdAt"`
	ModelID          string    `json:"modelId"`
	Dims             int       `json:"dims"`
	MaxNgram         int       `json:"maxNgram"`
	Entries          int       `json:"entries"`
	Rows             int       `json:"rows"`
	GlossaryChecksum string    `json:"glossaryChecksum"`
	IncludeContext   bool      `json:"includeContext"`
	IncludeVariants  bool      `json:"includeVariants"`
}

type tablesFile struct {
	Exact []exactRow `json:"exact"`
	Stems []stemRow  `json:"stems"`
	Rows  []rowRef   `json:"rows"`
}

type exactRow struct {
	Key   string  `json:"key"`
	Entry int     `json:"entry"`
	Kind  KeyKind `json:"kind"`
}

type stemRow struct {
	Stem  string `json:"stem"`
	Entry int    `json:"entry"`
}

type rowRef struct {
	Entry int     `json:"entry"`
	Kind  RowKind `json:"kind"`
}

// Manifest returns the metadata written alongside the tables.
func (s *Snapshot) Manifest() Manifest {
	m := Manifest{
		Format:           artifactFormat,
		Version:          s.Version,
		CreatedAt:        s.CreatedAt,
		ModelID:          s.ModelID,
		Dims:             s.Dims,
		MaxNgram:         s.MaxNgram,
		Entries:          s.entries.Len(),
		GlossaryChecksum: s.GlossaryChecksum,
		IncludeContext:   s.IncludeContext,
		IncludeVariants:  s.IncludeVariants,
	}
	if s.vectors != nil {
		m.Rows = s.vectors.Len()
	}
	return m
}

// WriteArtifact writes the snapshot into dir, creating it if needed.
func (s *Snapshot) WriteArtifact(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tables := tablesFile{}
	for key, ref := range s.exact {
		tables.Exact = append(tables.Exact, exactRow{Key: key, Entry: ref.Entry, Kind: ref.Kind})
	}
	for st, i := range s.stems {
		tables.Stems = append(tables.Stems, stemRow{Stem: st, Entry: i})
	}
	sort.Slice(tables.Exact, func(i, j int) bool { return tables.Exact[i].Key < tables.Exact[j].Key })
	sort.Slice(tables.Stems, func(i, j int) bool { return tables.Stems[i].Stem < tables.Stems[j].Stem })
	for r := 0; r < s.vectors.Len(); r++ {
		e, k := s.vectors.RowEntry(r)
		tables.Rows = append(tables.Rows, rowRef{Entry: e, Kind: k})
	}

	if err := writeJSON(filepath.Join(dir, GlossaryFile), s.entries.All()); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, TablesFile), tables); err != nil {
		return err
	}
	if err := writeVectors(filepath.Join(dir, VectorsFile), s.vectors.data); err != nil {
		return err
	}
	// The manifest goes last so a directory without one is known to be incomplete.
	return writeJSON(filepath.Join(dir, ManifestFile), s.Manifest())
}

// ReadManifest reads only the manifest of an artifact directory.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	if err := readJSON(filepath.Join(dir, ManifestFile), &m); err != nil {
		return m, err
	}
	if m.Format != artifactFormat {
		return m, fmt.Errorf("artifact format %d not supported", m.Format)
	}
	return m, nil
}

// ReadArtifact loads a snapshot written by WriteArtifact. Errors are
// *internalerr.BuildError since a bad artifact prevents serving.
func ReadArtifact(dir string) (*Snapshot, error) {
	fail := func(err error) (*Snapshot, error) {
		return nil, &internalerr.BuildError{Stage: "load", Err: err}
	}

	m, err := ReadManifest(dir)
	if err != nil {
		return fail(err)
	}
	var entries []glossary.Entry
	if err := readJSON(filepath.Join(dir, GlossaryFile), &entries); err != nil {
		return fail(err)
	}
	store, err := glossary.NewStore(entries)
	if err != nil {
		return fail(err)
	}
	if store.Len() != m.Entries {
		return fail(fmt.Errorf("manifest lists %d entries, glossary has %d", m.Entries, store.Len()))
	}

	var tables tablesFile
	if err := readJSON(filepath.Join(dir, TablesFile), &tables); err != nil {
		return fail(err)
	}
	inRange := func(i int) bool { return i >= 0 && i < store.Len() }

	snap := &Snapshot{
		Version:          m.Version,
		CreatedAt:        m.CreatedAt,
		ModelID:          m.ModelID,
		Dims:             m.Dims,
		MaxNgram:         m.MaxNgram,
		GlossaryChecksum: m.GlossaryChecksum,
		IncludeContext:   m.IncludeContext,
		IncludeVariants:  m.IncludeVariants,
		entries:          store,
		exact:            make(map[string]ExactRef, len(tables.Exact)),
		stems:            make(map[string]int, len(tables.Stems)),
	}
	for _, row := range tables.Exact {
		if !inRange(row.Entry) {
			return fail(fmt.Errorf("exact key %q points at entry %d", row.Key, row.Entry))
		}
		snap.exact[row.Key] = ExactRef{Entry: row.Entry, Kind: row.Kind}
	}
	for _, row := range tables.Stems {
		if !inRange(row.Entry) {
			return fail(fmt.Errorf("stem %q points at entry %d", row.Stem, row.Entry))
		}
		snap.stems[row.Stem] = row.Entry
	}

	entry := make([]int, len(tables.Rows))
	kind := make([]RowKind, len(tables.Rows))
	for i, r := range tables.Rows {
		if !inRange(r.Entry) {
			return fail(fmt.Errorf("vector row %d points at entry %d", i, r.Entry))
		}
		entry[i], kind[i] = r.Entry, r.Kind
	}
	if len(entry) != m.Rows {
		return fail(fmt.Errorf("manifest lists %d rows, tables have %d", m.Rows, len(entry)))
	}
	data, err := readVectors(filepath.Join(dir, VectorsFile), m.Rows*m.Dims)
	if err != nil {
		return fail(err)
	}
	snap.vectors, err = NewVectorTable(m.Dims, data, entry, kind)
	if err != nil {
		return fail(err)
	}
	snap.deriveKeys()
	return snap, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeVectors(path string, data []float32) error {
	buf := make([]byte, 4*len(data))
	for i, x := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readVectors maps the file, copies the floats out and unmaps, so the
// returned slice outlives the mapping.
func readVectors(path string, n int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() != int64(4*n) {
		return nil, fmt.Errorf("%s has %d bytes, want %d", filepath.Base(path), info.Size(), 4*n)
	}
	if n == 0 {
		return []float32{}, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", filepath.Base(path), err)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(m[4*i:]))
	}
	if err := m.Unmap(); err != nil {
		return nil, errors.Join(fmt.Errorf("unmap %s", filepath.Base(path)), err)
	}
	return out, nil
}
