package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/optim-dev/aina/pkg/terminology/glossary"
	"github.com/optim-dev/aina/pkg/terminology/internalerr"
	"github.com/optim-dev/aina/pkg/terminology/store"
)

// sqliteCatalog implements store.Catalog using SQLite
type sqliteCatalog struct {
	db *sql.DB
}

// Open opens a SQLite catalog with WAL mode enabled.
func Open(ctx context.Context, path string) (store.Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &sqliteCatalog{db: db}, nil
}

// Close closes the database connection
func (s *sqliteCatalog) Close() error {
	return s.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS builds (
	version TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	glossary_checksum TEXT NOT NULL,
	source TEXT,
	model_id TEXT NOT NULL,
	dims INTEGER NOT NULL,
	entries INTEGER NOT NULL,
	variants INTEGER NOT NULL,
	vector_rows INTEGER NOT NULL,
	max_ngram INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS build_entries (
	version TEXT NOT NULL,
	entry_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	body TEXT NOT NULL,
	PRIMARY KEY(version, entry_id),
	FOREIGN KEY(version) REFERENCES builds(version) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS build_entries_by_id ON build_entries(entry_id);

CREATE TABLE IF NOT EXISTS active_build (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	version TEXT NOT NULL,
	activated_at TEXT NOT NULL,
	FOREIGN KEY(version) REFERENCES builds(version)
);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// RecordBuild stores a build and a copy of its entries in one transaction.
func (s *sqliteCatalog) RecordBuild(ctx context.Context, b store.Build, entries []glossary.Entry) error {
	if b.Version == "" {
		return fmt.Errorf("%w: build version required", internalerr.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO builds (version, created_at, glossary_checksum, source, model_id, dims, entries, variants, vector_rows, max_ngram)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		b.Version,
		b.CreatedAt.UTC().Format(time.RFC3339Nano),
		b.GlossaryChecksum,
		b.Source,
		b.ModelID,
		b.Dims,
		b.Entries,
		b.Variants,
		b.VectorRows,
		b.MaxNgram,
	)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO build_entries (version, entry_id, position, body) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, e := range entries {
		body, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, b.Version, e.ID, i, string(body)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const buildColumns = `b.version, b.created_at, b.glossary_checksum, b.source, b.model_id, b.dims,
	b.entries, b.variants, b.vector_rows, b.max_ngram, a.version IS NOT NULL`

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (store.Build, error) {
	var (
		b       store.Build
		created string
		source  sql.NullString
	)
	err := row.Scan(&b.Version, &created, &b.GlossaryChecksum, &source, &b.ModelID, &b.Dims,
		&b.Entries, &b.Variants, &b.VectorRows, &b.MaxNgram, &b.Active)
	if err != nil {
		return store.Build{}, err
	}
	b.Source = source.String
	b.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	return b, err
}

// GetBuild retrieves a build by version
func (s *sqliteCatalog) GetBuild(ctx context.Context, version string) (store.Build, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+buildColumns+`
FROM builds b
LEFT JOIN active_build a ON a.version = b.version
WHERE b.version = ?;
`, version)
	b, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Build{}, false, nil
	}
	if err != nil {
		return store.Build{}, false, err
	}
	return b, true, nil
}

// ListBuilds returns the most recent builds first.
func (s *sqliteCatalog) ListBuilds(ctx context.Context, limit int) ([]store.Build, error) {
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+buildColumns+`
FROM builds b
LEFT JOIN active_build a ON a.version = b.version
ORDER BY b.version DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Activate marks a recorded build as the one being served.
func (s *sqliteCatalog) Activate(ctx context.Context, version string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM builds WHERE version = ?`, version).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("build %s: %w", version, internalerr.ErrNotFound)
	}
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO active_build (id, version, activated_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET version=excluded.version, activated_at=excluded.activated_at;
`, version, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// Active returns the build currently served.
func (s *sqliteCatalog) Active(ctx context.Context) (store.Build, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+buildColumns+`
FROM active_build a
JOIN builds b ON a.version = b.version
WHERE a.id = 1;
`)
	b, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Build{}, false, nil
	}
	if err != nil {
		return store.Build{}, false, err
	}
	return b, true, nil
}

// Entries returns the entries recorded for a build, in glossary order.
func (s *sqliteCatalog) Entries(ctx context.Context, version string) ([]glossary.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT body FROM build_entries WHERE version = ? ORDER BY position;
`, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []glossary.Entry
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var e glossary.Entry
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("decode entry of %s: %w", version, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EntryHistory lists every recorded revision of an entry, oldest first.
func (s *sqliteCatalog) EntryHistory(ctx context.Context, id string) ([]store.EntryRevision, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT e.version, b.created_at, e.body
FROM build_entries e
JOIN builds b ON b.version = e.version
WHERE e.entry_id = ?
ORDER BY e.version;
`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.EntryRevision
	for rows.Next() {
		var (
			rev     store.EntryRevision
			created string
			body    string
		)
		if err := rows.Scan(&rev.Version, &created, &body); err != nil {
			return nil, err
		}
		if rev.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(body), &rev.Entry); err != nil {
			return nil, fmt.Errorf("decode entry %s of %s: %w", id, rev.Version, err)
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}
