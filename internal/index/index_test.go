package index

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/resumekit-rag/internal/corpus"
)

func entry(id string, vector ...float32) Entry {
	return Entry{Chunk: corpus.Chunk{ID: id, DocKey: id, Text: id}, Vector: vector}
}

func TestBuildSortsAndNormalizes(t *testing.T) {
	original := []float32{3, 4}
	ix, err := Build([]Entry{entry("b", 0, 2), entry("a", original...)}, Meta{Model: "m", BuildID: "id"})
	require.NoError(t, err)

	entries := ix.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Chunk.ID)
	assert.InDelta(t, 0.6, entries[0].Vector[0], 1e-6)
	assert.InDelta(t, 0.8, entries[0].Vector[1], 1e-6)
	assert.Equal(t, []float32{3, 4}, original, "input vectors must not be modified")

	meta := ix.Meta()
	assert.True(t, meta.Semantic)
	assert.Equal(t, 2, meta.Dimension)
	assert.Equal(t, 2, meta.Chunks)
	assert.Equal(t, "m", meta.Model)
}

func TestBuildMetadataOnly(t *testing.T) {
	ix, err := Build([]Entry{entry("a"), entry("b")}, Meta{Model: "m"})
	require.NoError(t, err)

	assert.False(t, ix.Semantic())
	assert.Equal(t, 0, ix.Dimension())
	assert.Empty(t, ix.Meta().Model)

	_, err = ix.Search([]float32{1}, 1, nil)
	assert.ErrorIs(t, err, ErrNotSemantic)
}

func TestBuildRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		target  error
	}{
		{name: "duplicate id", entries: []Entry{entry("a", 1), entry("a", 1)}},
		{name: "mixed dimension", entries: []Entry{entry("a", 1, 0), entry("b", 1)}, target: ErrDimensionMismatch},
		{name: "partial vectors", entries: []Entry{entry("a", 1), entry("b")}},
		{name: "zero vector", entries: []Entry{entry("a", 0, 0)}},
		{name: "empty id", entries: []Entry{entry("", 1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix, err := Build(tt.entries, Meta{})
			require.Error(t, err)
			assert.Nil(t, ix)
			if tt.target != nil {
				assert.True(t, errors.Is(err, tt.target))
			}
		})
	}
}

func TestSearchOrdersBySimilarityThenID(t *testing.T) {
	ix, err := Build([]Entry{
		entry("c", 1, 0),
		entry("a", 1, 0),
		entry("b", 0, 1),
		entry("d", 1, 1),
	}, Meta{})
	require.NoError(t, err)

	hits, err := ix.Search([]float32{2, 0}, 0, nil)
	require.NoError(t, err)
	require.Len(t, hits, 4)

	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.Entry.Chunk.ID
	}
	assert.Equal(t, []string{"a", "c", "d", "b"}, ids)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.InDelta(t, math.Sqrt2/2, hits[2].Similarity, 1e-6)
	assert.InDelta(t, 0.0, hits[3].Similarity, 1e-6)
}

func TestSearchAppliesFilterAndLimit(t *testing.T) {
	ix, err := Build([]Entry{entry("a", 1, 0), entry("b", 1, 0.1), entry("c", 0, 1)}, Meta{})
	require.NoError(t, err)

	hits, err := ix.Search([]float32{1, 0}, 1, func(e *Entry) bool { return e.Chunk.ID != "a" })
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].Entry.Chunk.ID)
}

func TestSearchDimensionMismatch(t *testing.T) {
	ix, err := Build([]Entry{entry("a", 1, 0)}, Meta{})
	require.NoError(t, err)

	_, err = ix.Search([]float32{1, 0, 0}, 1, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFilterKeepsIDOrder(t *testing.T) {
	ix, err := Build([]Entry{entry("b"), entry("a"), entry("c")}, Meta{})
	require.NoError(t, err)

	got := ix.Filter(func(e *Entry) bool { return e.Chunk.ID != "b" })
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Chunk.ID)
	assert.Equal(t, "c", got[1].Chunk.ID)
	assert.Len(t, ix.Filter(nil), 3)
}

func TestSnapshot(t *testing.T) {
	var snap Snapshot

	_, err := snap.Current()
	require.ErrorIs(t, err, ErrNotReady)
	assert.False(t, snap.Ready())

	first, err := Build([]Entry{entry("a")}, Meta{BuildID: "first"})
	require.NoError(t, err)
	second, err := Build([]Entry{entry("a"), entry("b")}, Meta{BuildID: "second"})
	require.NoError(t, err)

	assert.Nil(t, snap.Swap(first))
	held, err := snap.Current()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ix, err := snap.Current()
			assert.NoError(t, err)
			assert.NotNil(t, ix)
		}()
	}
	assert.Equal(t, first, snap.Swap(second))
	wg.Wait()

	current, err := snap.Current()
	require.NoError(t, err)
	assert.Equal(t, "second", current.Meta().BuildID)
	assert.Equal(t, "first", held.Meta().BuildID, "readers keep their snapshot")
	assert.Equal(t, 1, held.Len())
}
