// Package artifact publishes built index snapshots and loads them back,
// either from a local directory tree or from an S3-compatible bucket.
// Both layouts are <root>/<version>/<file> plus a LATEST pointer holding the
// most recently published version.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/optim-dev/aina/pkg/terminology/index"
	"github.com/optim-dev/aina/pkg/terminology/internalerr"
)

// LatestFile names the pointer to the newest version.
const LatestFile = "LATEST"

// Store publishes and loads versioned snapshots.
type Store interface {
	Publish(ctx context.Context, snap *index.Snapshot) error
	// Load reads a version; an empty version means the latest one.
	Load(ctx context.Context, version string) (*index.Snapshot, error)
	Latest(ctx context.Context) (string, error)
}

// FileStore keeps artifacts under a local root directory.
type FileStore struct {
	Root string
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore { return &FileStore{Root: dir} }

// Publish writes the snapshot to <root>/<version> and moves LATEST to it.
func (f *FileStore) Publish(_ context.Context, snap *index.Snapshot) error {
	if err := validVersion(snap.Version); err != nil {
		return err
	}
	if err := snap.WriteArtifact(filepath.Join(f.Root, snap.Version)); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(f.Root, LatestFile), []byte(snap.Version+"\n"))
}

// Load implements Store.
func (f *FileStore) Load(ctx context.Context, version string) (*index.Snapshot, error) {
	if version == "" {
		latest, err := f.Latest(ctx)
		if err != nil {
			return nil, err
		}
		version = latest
	}
	if err := validVersion(version); err != nil {
		return nil, err
	}
	return index.ReadArtifact(filepath.Join(f.Root, version))
}

// Latest implements Store.
func (f *FileStore) Latest(context.Context) (string, error) {
	b, err := os.ReadFile(filepath.Join(f.Root, LatestFile))
	if os.IsNotExist(err) {
		return "", fmt.Errorf("no published index under %s: %w", f.Root, internalerr.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return parseLatest(b)
}

func parseLatest(b []byte) (string, error) {
	v := strings.TrimSpace(string(b))
	if err := validVersion(v); err != nil {
		return "", fmt.Errorf("LATEST pointer: %w", err)
	}
	return v, nil
}

// validVersion rejects anything that could escape the root when joined.
func validVersion(v string) error {
	if v == "" || v == "." || v == ".." || strings.ContainsAny(v, `/\`) {
		return fmt.Errorf("%w: bad index version %q", internalerr.ErrInvalidInput, v)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".latest-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
