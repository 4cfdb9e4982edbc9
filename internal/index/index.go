// Package index holds the immutable, searchable snapshot of the chunked corpus.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/spigell/resumekit-rag/internal/corpus"
)

var (
	// ErrDimensionMismatch is returned when a query vector does not match the index.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrNotSemantic is returned when searching an index built without vectors.
	ErrNotSemantic = errors.New("index has no vectors")
)

// Entry is a chunk and its unit-length embedding. Vector is nil in a
// metadata-only index.
type Entry struct {
	Chunk  corpus.Chunk
	Vector []float32
}

// Meta describes how an index was built.
type Meta struct {
	BuildID     string    `mapstructure:"build-id"`
	Model       string    `mapstructure:"model"`
	BuiltAt     time.Time `mapstructure:"built-at"`
	Fingerprint string    `mapstructure:"fingerprint"`
	Semantic    bool      `mapstructure:"semantic"`
	Dimension   int       `mapstructure:"dimension"`
	Chunks      int       `mapstructure:"chunks"`
}

// Index is an immutable set of entries sorted by chunk ID. It is safe for
// concurrent readers.
type Index struct {
	meta    Meta
	entries []Entry
}

// Hit is a search result.
type Hit struct {
	Entry      *Entry
	Similarity float64
}

// Build validates entries and returns a new index. Vectors are copied and
// normalised. Either every entry carries a vector or none does.
func Build(entries []Entry, meta Meta) (*Index, error) {
	out := make([]Entry, len(entries))
	seen := make(map[string]struct{}, len(entries))

	withVectors := 0
	dimension := 0
	for i, entry := range entries {
		if entry.Chunk.ID == "" {
			return nil, fmt.Errorf("entry %d has empty chunk id", i)
		}
		if _, dup := seen[entry.Chunk.ID]; dup {
			return nil, fmt.Errorf("duplicate chunk id %q", entry.Chunk.ID)
		}
		seen[entry.Chunk.ID] = struct{}{}

		out[i] = Entry{Chunk: entry.Chunk}
		if len(entry.Vector) == 0 {
			continue
		}

		if withVectors > 0 && len(entry.Vector) != dimension {
			return nil, fmt.Errorf("%w: chunk %q has dimension %d, expected %d",
				ErrDimensionMismatch, entry.Chunk.ID, len(entry.Vector), dimension)
		}
		dimension = len(entry.Vector)
		withVectors++

		normalized, err := normalize(entry.Vector)
		if err != nil {
			return nil, fmt.Errorf("chunk %q: %w", entry.Chunk.ID, err)
		}
		out[i].Vector = normalized
	}

	if withVectors > 0 && withVectors != len(entries) {
		return nil, fmt.Errorf("%d of %d entries have no vector", len(entries)-withVectors, len(entries))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Chunk.ID < out[j].Chunk.ID })

	meta.Semantic = withVectors > 0
	meta.Dimension = dimension
	meta.Chunks = len(out)
	if !meta.Semantic {
		meta.Model = ""
	}

	return &Index{meta: meta, entries: out}, nil
}

// Meta returns the build metadata.
func (ix *Index) Meta() Meta {
	return ix.meta
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Semantic reports whether the index carries vectors.
func (ix *Index) Semantic() bool {
	return ix.meta.Semantic
}

// Dimension returns the vector dimension, or 0 for a metadata-only index.
func (ix *Index) Dimension() int {
	return ix.meta.Dimension
}

// Entries returns the entries in chunk ID order. Callers must not modify them.
func (ix *Index) Entries() []Entry {
	return ix.entries
}

// Filter returns the entries allow accepts, in chunk ID order.
func (ix *Index) Filter(allow func(*Entry) bool) []*Entry {
	var out []*Entry
	for i := range ix.entries {
		if allow == nil || allow(&ix.entries[i]) {
			out = append(out, &ix.entries[i])
		}
	}
	return out
}

// Search ranks the entries allow accepts by cosine similarity to query, highest
// first with ties broken by chunk ID. k <= 0 returns every allowed entry.
func (ix *Index) Search(query []float32, k int, allow func(*Entry) bool) ([]Hit, error) {
	if !ix.meta.Semantic {
		return nil, ErrNotSemantic
	}
	if len(query) != ix.meta.Dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, index has %d",
			ErrDimensionMismatch, len(query), ix.meta.Dimension)
	}

	normalized, err := normalize(query)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(ix.entries))
	for i := range ix.entries {
		entry := &ix.entries[i]
		if allow != nil && !allow(entry) {
			continue
		}
		hits = append(hits, Hit{Entry: entry, Similarity: dot(normalized, entry.Vector)})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Entry.Chunk.ID < hits[j].Entry.Chunk.ID
	})

	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, errors.New("vector has no usable magnitude")
	}

	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
