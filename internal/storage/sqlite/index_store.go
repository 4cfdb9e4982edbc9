package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/resumekit-rag/internal/corpus"
	"github.com/spigell/resumekit-rag/internal/index"
)

// ErrNoIndex is returned by LoadIndex when nothing has been persisted yet.
var ErrNoIndex = errors.New("no persisted index")

const indexSchema = `
CREATE TABLE meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE entries (
	chunk_id  TEXT PRIMARY KEY,
	doc_key   TEXT NOT NULL,
	doc_order INTEGER NOT NULL,
	seq       INTEGER NOT NULL,
	language  TEXT NOT NULL,
	market    TEXT NOT NULL,
	industry  TEXT NOT NULL,
	role      TEXT NOT NULL,
	category  TEXT NOT NULL,
	text      TEXT NOT NULL,
	vector    BLOB
);
`

// SaveIndex writes ix to path. The file is built next to path and renamed into
// place, so a reader never sees a partially written index.
func SaveIndex(ctx context.Context, path string, ix *index.Index) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale temp index: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	db, err := openDB(tmp)
	if err != nil {
		return err
	}

	if err := writeIndex(ctx, db, ix); err != nil {
		db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("closing index database: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publishing index: %w", err)
	}
	return nil
}

func writeIndex(ctx context.Context, db *sql.DB, ix *index.Index) error {
	if _, err := db.ExecContext(ctx, indexSchema); err != nil {
		return fmt.Errorf("creating index tables: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	meta := ix.Meta()
	values := map[string]string{
		"build-id":    meta.BuildID,
		"model":       meta.Model,
		"built-at":    meta.BuiltAt.UTC().Format(time.RFC3339Nano),
		"fingerprint": meta.Fingerprint,
		"semantic":    strconv.FormatBool(meta.Semantic),
		"dimension":   strconv.Itoa(meta.Dimension),
		"chunks":      strconv.Itoa(meta.Chunks),
	}
	for key, value := range values {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("writing meta %s: %w", key, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries
		(chunk_id, doc_key, doc_order, seq, language, market, industry, role, category, text, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range ix.Entries() {
		c := entry.Chunk
		md := c.Metadata
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocKey, c.DocOrder, c.Seq,
			string(md.Language), string(md.Market), string(md.Industry), string(md.Role), string(md.Category),
			c.Text, float32SliceToBytes(entry.Vector)); err != nil {
			return fmt.Errorf("writing entry %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing index: %w", err)
	}
	return nil
}

// LoadIndex reads an index written by SaveIndex.
func LoadIndex(ctx context.Context, path string) (*index.Index, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoIndex
		}
		return nil, fmt.Errorf("checking index file: %w", err)
	}

	db, err := openDB(path, "query_only(1)")
	if err != nil {
		return nil, err
	}
	defer db.Close()

	meta, err := readMeta(ctx, db)
	if err != nil {
		return nil, err
	}

	entries, err := readEntries(ctx, db)
	if err != nil {
		return nil, err
	}

	ix, err := index.Build(entries, meta)
	if err != nil {
		return nil, fmt.Errorf("rebuilding persisted index: %w", err)
	}
	if ix.Meta().Chunks != meta.Chunks || ix.Meta().Semantic != meta.Semantic {
		return nil, fmt.Errorf("persisted index is inconsistent: meta lists %d chunks, found %d", meta.Chunks, ix.Len())
	}

	return ix, nil
}

func readMeta(ctx context.Context, db *sql.DB) (index.Meta, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return index.Meta{}, fmt.Errorf("querying meta: %w", err)
	}
	defer rows.Close()

	raw := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return index.Meta{}, fmt.Errorf("scanning meta: %w", err)
		}
		raw[key] = value
	}
	if err := rows.Err(); err != nil {
		return index.Meta{}, fmt.Errorf("iterating meta: %w", err)
	}

	var meta index.Meta
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		WeaklyTypedInput: true,
		Result:           &meta,
	})
	if err != nil {
		return index.Meta{}, fmt.Errorf("creating meta decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return index.Meta{}, fmt.Errorf("decoding meta: %w", err)
	}

	return meta, nil
}

func readEntries(ctx context.Context, db *sql.DB) ([]index.Entry, error) {
	rows, err := db.QueryContext(ctx, `SELECT chunk_id, doc_key, doc_order, seq,
		language, market, industry, role, category, text, vector FROM entries ORDER BY chunk_id`)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var entries []index.Entry
	for rows.Next() {
		var c corpus.Chunk
		var language, market, industry, role, category string
		var blob []byte
		if err := rows.Scan(&c.ID, &c.DocKey, &c.DocOrder, &c.Seq,
			&language, &market, &industry, &role, &category, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}

		md, err := parseMetadata(language, market, industry, role, category)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", c.ID, err)
		}
		c.Metadata = md

		vector, err := bytesToFloat32Slice(blob)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", c.ID, err)
		}

		entries = append(entries, index.Entry{Chunk: c, Vector: vector})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}

	return entries, nil
}

func parseMetadata(language, market, industry, role, category string) (corpus.Metadata, error) {
	var md corpus.Metadata
	var err error

	if md.Language, err = corpus.ParseLanguage(language); err != nil {
		return md, err
	}
	if md.Market, err = corpus.ParseMarket(market); err != nil {
		return md, err
	}
	if md.Industry, err = corpus.ParseIndustry(industry); err != nil {
		return md, err
	}
	if md.Role, err = corpus.ParseRole(role); err != nil {
		return md, err
	}
	if md.Category, err = corpus.ParseCategory(category); err != nil {
		return md, err
	}
	return md, nil
}
