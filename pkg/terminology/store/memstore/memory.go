package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/optim-dev/aina/pkg/terminology/glossary"
	"github.com/optim-dev/aina/pkg/terminology/internalerr"
	"github.com/optim-dev/aina/pkg/terminology/store"
)

// Store is an in-memory implementation of store.Catalog for tests and
// single-process runs without a catalog file.
type Store struct {
	mu      sync.RWMutex
	builds  map[string]store.Build
	entries map[string][]glossary.Entry
	active  string
}

// New creates a new in-memory catalog.
func New() *Store {
	return &Store{
		builds:  make(map[string]store.Build),
		entries: make(map[string][]glossary.Entry),
	}
}

// Close implements store.Catalog.
func (s *Store) Close() error { return nil }

// RecordBuild implements store.Catalog.
func (s *Store) RecordBuild(_ context.Context, b store.Build, entries []glossary.Entry) error {
	if b.Version == "" {
		return fmt.Errorf("%w: build version required", internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.builds[b.Version]; ok {
		return fmt.Errorf("%w: build %s already recorded", internalerr.ErrInvalidInput, b.Version)
	}
	b.Active = false
	s.builds[b.Version] = b
	s.entries[b.Version] = copyEntries(entries)
	return nil
}

// GetBuild implements store.Catalog.
func (s *Store) GetBuild(_ context.Context, version string) (store.Build, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.builds[version]
	if !ok {
		return store.Build{}, false, nil
	}
	b.Active = version == s.active
	return b, true, nil
}

// ListBuilds implements store.Catalog.
func (s *Store) ListBuilds(_ context.Context, limit int) ([]store.Build, error) {
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Build, 0, len(s.builds))
	for v, b := range s.builds {
		b.Active = v == s.active
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Activate implements store.Catalog.
func (s *Store) Activate(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.builds[version]; !ok {
		return fmt.Errorf("build %s: %w", version, internalerr.ErrNotFound)
	}
	s.active = version
	return nil
}

// Active implements store.Catalog.
func (s *Store) Active(ctx context.Context) (store.Build, bool, error) {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()
	if active == "" {
		return store.Build{}, false, nil
	}
	return s.GetBuild(ctx, active)
}

// Entries implements store.Catalog.
func (s *Store) Entries(_ context.Context, version string) ([]glossary.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyEntries(s.entries[version]), nil
}

// EntryHistory implements store.Catalog.
func (s *Store) EntryHistory(_ context.Context, id string) ([]store.EntryRevision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.EntryRevision
	for v, list := range s.entries {
		for _, e := range list {
			if e.ID == id {
				out = append(out, store.EntryRevision{Version: v, CreatedAt: s.builds[v].CreatedAt, Entry: copyEntry(e)})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func copyEntries(in []glossary.Entry) []glossary.Entry {
	if in == nil {
		return nil
	}
	out := make([]glossary.Entry, len(in))
	for i, e := range in {
		out[i] = copyEntry(e)
	}
	return out
}

func copyEntry(e glossary.Entry) glossary.Entry {
	e.NonNormativeVariants = append([]string(nil), e.NonNormativeVariants...)
	e.Examples = append([]string(nil), e.Examples...)
	e.CounterExamples = append([]string(nil), e.CounterExamples...)
	return e
}
