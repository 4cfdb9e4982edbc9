package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spigell/resumekit-rag/internal/embedcache"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS embeddings (
	key        TEXT PRIMARY KEY,
	model      TEXT NOT NULL,
	dim        INTEGER NOT NULL,
	vector     BLOB NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS embeddings_model ON embeddings(model);
`

// CacheStore is an embedcache.Store backed by a SQLite file.
type CacheStore struct {
	db   *sql.DB
	path string
}

var _ embedcache.Store = (*CacheStore)(nil)

// OpenCacheStore opens or creates the cache database at path.
func OpenCacheStore(path string) (*CacheStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := openDB(path, "journal_mode(WAL)", "busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating embeddings table: %w", err)
	}

	return &CacheStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *CacheStore) Path() string {
	return s.path
}

// Load returns every entry stored for model. A row whose blob does not match
// its recorded dimension fails the whole load.
func (s *CacheStore) Load(ctx context.Context, model string) ([]embedcache.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, model, dim, vector FROM embeddings WHERE model = ?`, model)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	var entries []embedcache.Entry
	for rows.Next() {
		var (
			entry embedcache.Entry
			dim   int
			blob  []byte
		)
		if err := rows.Scan(&entry.Key, &entry.Model, &dim, &blob); err != nil {
			return nil, fmt.Errorf("scanning embedding: %w", err)
		}

		vector, err := bytesToFloat32Slice(blob)
		if err != nil {
			return nil, fmt.Errorf("embedding %s: %w", entry.Key, err)
		}
		if len(vector) != dim {
			return nil, fmt.Errorf("embedding %s: stored dimension %d, decoded %d", entry.Key, dim, len(vector))
		}

		entry.Vector = vector
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating embeddings: %w", err)
	}

	return entries, nil
}

// Append stores entries, keeping rows that already exist untouched.
func (s *CacheStore) Append(ctx context.Context, entries []embedcache.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO embeddings (key, model, dim, vector, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, entry := range entries {
		if _, err := stmt.ExecContext(ctx, entry.Key, entry.Model, len(entry.Vector), float32SliceToBytes(entry.Vector), now); err != nil {
			return fmt.Errorf("inserting embedding %s: %w", entry.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing embeddings: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *CacheStore) Close() error {
	return s.db.Close()
}
