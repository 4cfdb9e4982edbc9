// Package sqlite persists the embedding cache and built indexes in SQLite files.
package sqlite

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

const (
	CacheFile = "embeddings.db"
	IndexFile = "index.db"

	// MetadataOnlyDir holds indexes built without a provider.
	MetadataOnlyDir = "none"
)

var unsafeSlugChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// ModelDir returns the directory holding state for model under dataDir. An
// empty model maps to the metadata-only directory.
func ModelDir(dataDir, model string) string {
	slug := unsafeSlugChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(model)), "_")
	slug = strings.Trim(slug, "._")
	if slug == "" {
		slug = MetadataOnlyDir
	}
	return filepath.Join(dataDir, slug)
}

func openDB(path string, pragmas ...string) (*sql.DB, error) {
	dsn := path
	if len(pragmas) > 0 {
		dsn += "?_pragma=" + strings.Join(pragmas, "&_pragma=")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	return db, nil
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector blob has %d bytes, not a multiple of 4", len(data))
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats, nil
}
