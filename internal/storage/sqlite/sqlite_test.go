package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/resumekit-rag/internal/corpus"
	"github.com/spigell/resumekit-rag/internal/embedcache"
	"github.com/spigell/resumekit-rag/internal/index"
)

func TestModelDir(t *testing.T) {
	tests := []struct {
		model  string
		expect string
	}{
		{model: "text-embedding-3-small", expect: "text-embedding-3-small"},
		{model: "models/Gemini Embedding:001", expect: "models_gemini_embedding_001"},
		{model: "", expect: MetadataOnlyDir},
		{model: "///", expect: MetadataOnlyDir},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, filepath.Join("data", tt.expect), ModelDir("data", tt.model))
		})
	}
}

func TestCacheStoreAppendAndLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "model", CacheFile)

	store, err := OpenCacheStore(path)
	require.NoError(t, err)

	entries := []embedcache.Entry{
		{Key: "k1", Model: "model-a", Vector: []float32{0.1, 0.2, 0.3}},
		{Key: "k2", Model: "model-b", Vector: []float32{1, 2}},
	}
	require.NoError(t, store.Append(ctx, entries))

	// Existing keys are ignored rather than overwritten.
	require.NoError(t, store.Append(ctx, []embedcache.Entry{{Key: "k1", Model: "model-a", Vector: []float32{9, 9, 9}}}))
	require.NoError(t, store.Close())

	reopened, err := OpenCacheStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx, "model-a")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "k1", loaded[0].Key)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, loaded[0].Vector)
}

func TestCacheStoreWorksWithCache(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), CacheFile)

	store, err := OpenCacheStore(path)
	require.NoError(t, err)

	calls := 0
	compute := func(_ context.Context, texts []string) ([][]float32, error) {
		calls++
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, float32(i)}
		}
		return out, nil
	}

	cache := embedcache.Open(ctx, store, "model-a", nil, nil)
	_, err = cache.GetOrCompute(ctx, compute, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.NoError(t, cache.Close(ctx))

	store, err = OpenCacheStore(path)
	require.NoError(t, err)
	cache = embedcache.Open(ctx, store, "model-a", nil, nil)
	defer cache.Close(ctx)

	_, err = cache.GetOrCompute(ctx, compute, []string{"beta", "alpha"})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func testIndex(t *testing.T, withVectors bool) *index.Index {
	t.Helper()

	md := corpus.ExtractMetadata("russian_backend_guidelines")
	chunks := []corpus.Chunk{
		{ID: corpus.ChunkID("russian_backend_guidelines", 0), DocKey: "russian_backend_guidelines", Seq: 0, Text: "first", Metadata: md},
		{ID: corpus.ChunkID("russian_backend_guidelines", 1), DocKey: "russian_backend_guidelines", Seq: 1, Text: "second", Metadata: md},
		{ID: corpus.ChunkID("english_us_ats", 0), DocKey: "english_us_ats", DocOrder: 1, Text: "third", Metadata: corpus.ExtractMetadata("english_us_ats")},
	}

	entries := make([]index.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = index.Entry{Chunk: c}
		if withVectors {
			entries[i].Vector = []float32{float32(i + 1), 1, 0}
		}
	}

	ix, err := index.Build(entries, index.Meta{
		BuildID:     "build-1",
		Model:       "model-a",
		BuiltAt:     time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
		Fingerprint: "abc123",
	})
	require.NoError(t, err)
	return ix
}

func TestSaveAndLoadIndex(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "model-a", IndexFile)
	original := testIndex(t, true)

	require.NoError(t, SaveIndex(ctx, path, original))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not remain")

	loaded, err := LoadIndex(ctx, path)
	require.NoError(t, err)

	assert.Equal(t, original.Meta(), loaded.Meta())
	require.Equal(t, original.Len(), loaded.Len())
	for i, entry := range original.Entries() {
		got := loaded.Entries()[i]
		assert.Equal(t, entry.Chunk, got.Chunk)
		require.Len(t, got.Vector, len(entry.Vector))
		for j := range entry.Vector {
			assert.InDelta(t, entry.Vector[j], got.Vector[j], 1e-6)
		}
	}
}

func TestSaveIndexReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), IndexFile)

	require.NoError(t, SaveIndex(ctx, path, testIndex(t, true)))
	require.NoError(t, SaveIndex(ctx, path, testIndex(t, false)))

	loaded, err := LoadIndex(ctx, path)
	require.NoError(t, err)
	assert.False(t, loaded.Semantic())
	assert.Equal(t, 3, loaded.Len())
	assert.Empty(t, loaded.Meta().Model)
}

func TestLoadIndexMissing(t *testing.T) {
	_, err := LoadIndex(context.Background(), filepath.Join(t.TempDir(), IndexFile))
	assert.ErrorIs(t, err, ErrNoIndex)
}

func TestVectorBlobEncoding(t *testing.T) {
	original := []float32{0.1, -0.5, 100.5}
	decoded, err := bytesToFloat32Slice(float32SliceToBytes(original))
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	_, err = bytesToFloat32Slice([]byte{1, 2, 3})
	assert.Error(t, err)

	empty, err := bytesToFloat32Slice(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}
