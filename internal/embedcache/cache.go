// Package embedcache memoizes embeddings by text content and model.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/spigell/resumekit-rag/internal/ai"
	"github.com/spigell/resumekit-rag/internal/metrics"
)

// ErrCacheLoad marks a persisted cache that could not be read. It is logged and
// the cache starts empty.
var ErrCacheLoad = errors.New("embedding cache load failed")

// Entry is one cached embedding.
type Entry struct {
	Key    string
	Model  string
	Vector []float32
}

// Store persists cache entries.
type Store interface {
	Load(ctx context.Context, model string) ([]Entry, error)
	Append(ctx context.Context, entries []Entry) error
	Close() error
}

// Stats summarises cache usage.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int
}

// Cache maps (text, model) to a vector. Entries are only added, never changed.
type Cache struct {
	model   string
	store   Store
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries map[string][]float32
	pending []Entry
	hits    int64
	misses  int64
}

// Key returns the cache key of text under model.
func Key(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Open loads persisted entries for model from store. A nil store keeps the
// cache in memory only.
func Open(ctx context.Context, store Store, model string, logger *zap.Logger, m *metrics.Metrics) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cache{
		model:   model,
		store:   store,
		logger:  logger.With(zap.String("component", "embedding_cache"), zap.String("model", model)),
		metrics: m,
		entries: make(map[string][]float32),
	}

	if store == nil {
		return c
	}

	entries, err := store.Load(ctx, model)
	if err != nil {
		c.logger.Warn("starting with empty embedding cache", zap.Error(fmt.Errorf("%w: %v", ErrCacheLoad, err)))
		return c
	}

	for _, entry := range entries {
		if entry.Model != model || len(entry.Vector) == 0 {
			continue
		}
		c.entries[entry.Key] = entry.Vector
	}
	c.metrics.SetCacheSize(len(c.entries))
	c.logger.Info("embedding cache loaded", zap.Int("entries", len(c.entries)))

	return c
}

// Model returns the model the cache serves.
func (c *Cache) Model() string {
	return c.model
}

// GetOrCompute returns vectors for texts in input order. Cached texts are served
// without calling compute; all misses are passed to compute in a single call.
func (c *Cache) GetOrCompute(ctx context.Context, compute ai.EmbedFunc, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var missing []int
	c.mu.RLock()
	for i, text := range texts {
		keys[i] = Key(c.model, text)
		if vector, ok := c.entries[keys[i]]; ok {
			vectors[i] = vector
			continue
		}
		missing = append(missing, i)
	}
	c.mu.RUnlock()

	hits := len(texts) - len(missing)
	c.mu.Lock()
	c.hits += int64(hits)
	c.misses += int64(len(missing))
	c.mu.Unlock()
	c.metrics.RecordCacheLookup(hits, len(missing))

	if len(missing) == 0 {
		return vectors, nil
	}
	if compute == nil {
		return nil, ai.ErrProviderUnavailable
	}

	// Identical texts in one request are embedded once.
	var uniqueTexts []string
	positions := make(map[string][]int)
	for _, i := range missing {
		if _, seen := positions[keys[i]]; !seen {
			uniqueTexts = append(uniqueTexts, texts[i])
		}
		positions[keys[i]] = append(positions[keys[i]], i)
	}

	computed, err := compute(ctx, uniqueTexts)
	if err != nil {
		return nil, err
	}
	if err := ai.ValidateVectors(uniqueTexts, computed); err != nil {
		return nil, err
	}

	c.mu.Lock()
	for j, text := range uniqueTexts {
		key := Key(c.model, text)
		vector := computed[j]
		c.entries[key] = vector
		c.pending = append(c.pending, Entry{Key: key, Model: c.model, Vector: vector})
		for _, i := range positions[key] {
			vectors[i] = vector
		}
	}
	size := len(c.entries)
	c.mu.Unlock()
	c.metrics.SetCacheSize(size)

	return vectors, nil
}

// Flush appends entries computed since the last flush to the store.
func (c *Cache) Flush(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	if err := c.store.Append(ctx, pending); err != nil {
		c.mu.Lock()
		c.pending = append(pending, c.pending...)
		c.mu.Unlock()
		return fmt.Errorf("flush embedding cache: %w", err)
	}

	c.logger.Debug("embedding cache flushed", zap.Int("entries", len(pending)))
	return nil
}

// Close flushes pending entries and closes the store.
func (c *Cache) Close(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	flushErr := c.Flush(ctx)
	return errors.Join(flushErr, c.store.Close())
}

// Stats returns usage counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Hits: c.hits, Misses: c.misses, Size: len(c.entries)}
}
