// Package lifecycle owns the served index: it loads or builds the first
// snapshot, rebuilds on demand or when the glossary file changes, records
// every build in the catalog and swaps the result in atomically.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/optim-dev/aina/internal/logging"
	"github.com/optim-dev/aina/pkg/terminology/artifact"
	"github.com/optim-dev/aina/pkg/terminology/glossary"
	"github.com/optim-dev/aina/pkg/terminology/index"
	"github.com/optim-dev/aina/pkg/terminology/internalerr"
	"github.com/optim-dev/aina/pkg/terminology/store"
)

// DefaultDebounce is the quiet period before a changed glossary is rebuilt.
const DefaultDebounce = 2 * time.Second

// Manager coordinates builds. Artifacts and Catalog are optional.
type Manager struct {
	Holder       *index.Holder
	Builder      *index.Builder
	Catalog      store.Catalog
	Artifacts    artifact.Store
	GlossaryPath string
	Log          logging.Logger
	// OnSwap, when set, is called with every snapshot that starts being served.
	OnSwap func(*index.Snapshot)

	group singleflight.Group
	mu    sync.Mutex
}

func (m *Manager) log() logging.Logger {
	return logging.OrDefault(m.Log).Named("lifecycle")
}

// Bootstrap makes a snapshot available. Unless build is set, the latest
// published artifact is tried first; the glossary is built when there is none.
func (m *Manager) Bootstrap(ctx context.Context, build bool) (*index.Snapshot, error) {
	if !build && m.Artifacts != nil {
		snap, err := m.Artifacts.Load(ctx, "")
		switch {
		case err == nil:
			m.log().Info("index loaded from artifact",
				logging.String("version", snap.Version),
				logging.String("model", snap.ModelID))
			if err := m.record(ctx, snap, "artifact"); err != nil {
				return nil, err
			}
			m.swap(snap)
			return snap, nil
		case errors.Is(err, internalerr.ErrNotFound):
			m.log().Info("no published index, building from glossary")
		default:
			return nil, fmt.Errorf("load artifact: %w", err)
		}
	}
	if m.GlossaryPath == "" {
		return nil, fmt.Errorf("%w: no artifact and no glossary path", internalerr.ErrIndexNotLoaded)
	}
	return m.Rebuild(ctx)
}

// Rebuild reloads the glossary file and builds from it. Concurrent calls
// share one build.
func (m *Manager) Rebuild(ctx context.Context) (*index.Snapshot, error) {
	v, err, shared := m.group.Do("rebuild", func() (interface{}, error) {
		entries, err := glossary.Load(m.GlossaryPath)
		if err != nil {
			return nil, err
		}
		return m.RebuildFrom(ctx, entries, m.GlossaryPath)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.log().Debug("rebuild coalesced")
	}
	return v.(*index.Snapshot), nil
}

// RebuildFrom builds from entries, publishes and records the result, then
// swaps it in. The previous snapshot stays in service on any failure.
func (m *Manager) RebuildFrom(ctx context.Context, entries []glossary.Entry, source string) (*index.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	snap, err := m.Builder.Build(ctx, entries)
	if err != nil {
		return nil, err
	}
	if m.Artifacts != nil {
		if err := m.Artifacts.Publish(ctx, snap); err != nil {
			return nil, fmt.Errorf("publish %s: %w", snap.Version, err)
		}
	}
	if err := m.record(ctx, snap, source); err != nil {
		return nil, err
	}
	m.swap(snap)

	st := snap.Stats()
	m.log().Info("index rebuilt",
		logging.String("version", snap.Version),
		logging.String("source", source),
		logging.Int("entries", st.Entries),
		logging.Int("variants", st.Variants),
		logging.Int("vector_rows", st.VectorRows),
		logging.Duration("took", time.Since(start)))
	return snap, nil
}

// BuildRecord describes a snapshot for the catalog.
func BuildRecord(snap *index.Snapshot, source string) store.Build {
	st := snap.Stats()
	return store.Build{
		Version:          snap.Version,
		CreatedAt:        snap.CreatedAt,
		GlossaryChecksum: snap.GlossaryChecksum,
		Source:           source,
		ModelID:          snap.ModelID,
		Dims:             snap.Dims,
		Entries:          st.Entries,
		Variants:         st.Variants,
		VectorRows:       st.VectorRows,
		MaxNgram:         snap.MaxNgram,
	}
}

func (m *Manager) record(ctx context.Context, snap *index.Snapshot, source string) error {
	if m.Catalog == nil {
		return nil
	}
	_, known, err := m.Catalog.GetBuild(ctx, snap.Version)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if !known {
		if err := m.Catalog.RecordBuild(ctx, BuildRecord(snap, source), snap.Entries().All()); err != nil {
			return fmt.Errorf("catalog: record %s: %w", snap.Version, err)
		}
	}
	if err := m.Catalog.Activate(ctx, snap.Version); err != nil {
		return fmt.Errorf("catalog: activate %s: %w", snap.Version, err)
	}
	return nil
}

func (m *Manager) swap(snap *index.Snapshot) {
	old := m.Holder.Swap(snap)
	if old != nil {
		m.log().Debug("snapshot replaced", logging.String("previous", old.Version), logging.String("current", snap.Version))
	}
	if m.OnSwap != nil {
		m.OnSwap(snap)
	}
}

// Watch rebuilds whenever the glossary file changes, after debounce of
// quiet. It blocks until ctx is done. Failed rebuilds are logged and the
// current snapshot keeps serving.
func (m *Manager) Watch(ctx context.Context, debounce time.Duration) error {
	if m.GlossaryPath == "" {
		return fmt.Errorf("%w: nothing to watch", internalerr.ErrInvalidConfig)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Editors replace files by rename, so the directory is watched.
	target, err := filepath.Abs(m.GlossaryPath)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(target)); err != nil {
		return err
	}
	log := m.log()
	log.Info("watching glossary", logging.String("path", target), logging.Duration("debounce", debounce))

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", logging.Err(err))
		case <-timer.C:
			if _, err := os.Stat(target); err != nil {
				log.Warn("glossary missing, keeping current index", logging.Err(err))
				continue
			}
			if _, err := m.Rebuild(ctx); err != nil {
				log.Error("glossary rebuild failed, keeping current index", logging.Err(err))
			}
		}
	}
}
