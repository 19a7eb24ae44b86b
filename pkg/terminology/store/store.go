// Package store defines the build catalog: every index build, the version
// being served, and the glossary entries each build was made from.
package store

import (
	"context"
	"time"

	"github.com/optim-dev/aina/pkg/terminology/glossary"
)

// Catalog is the persistence interface for index builds.
type Catalog interface {
	Close() error

	// Builds
	RecordBuild(ctx context.Context, b Build, entries []glossary.Entry) error
	GetBuild(ctx context.Context, version string) (Build, bool, error)
	ListBuilds(ctx context.Context, limit int) ([]Build, error)

	// Activation
	Activate(ctx context.Context, version string) error
	Active(ctx context.Context) (Build, bool, error)

	// Entry snapshots
	Entries(ctx context.Context, version string) ([]glossary.Entry, error)
	EntryHistory(ctx context.Context, id string) ([]EntryRevision, error)
}

// Build describes one index build.
type Build struct {
	Version          string    `json:"version"`
	CreatedAt        time.Time `json:"createdAt"`
	GlossaryChecksum string    `json:"glossaryChecksum"`
	Source           string    `json:"source"`
	ModelID          string    `json:"modelId"`
	Dims             int       `json:"dims"`
	Entries          int       `json:"entries"`
	Variants         int       `json:"variants"`
	VectorRows       int       `json:"vectorRows"`
	MaxNgram         int       `json:"maxNgram"`
	Active           bool      `json:"active"`
}

// EntryRevision is an entry as it was recorded by one build.
type EntryRevision struct {
	Version   string         `json:"version"`
	CreatedAt time.Time      `json:"createdAt"`
	Entry     glossary.Entry `json:"entry"`
}

// DefaultListLimit bounds ListBuilds when no limit is given.
const DefaultListLimit = 20
