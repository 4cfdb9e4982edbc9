// Package engine wires the corpus, embedding cache, index and retriever into
// the guidance retrieval service.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spigell/resumekit-rag/internal/ai"
	"github.com/spigell/resumekit-rag/internal/corpus"
	"github.com/spigell/resumekit-rag/internal/embedcache"
	"github.com/spigell/resumekit-rag/internal/index"
	"github.com/spigell/resumekit-rag/internal/logger"
	"github.com/spigell/resumekit-rag/internal/metrics"
	"github.com/spigell/resumekit-rag/internal/retriever"
	"github.com/spigell/resumekit-rag/internal/storage/sqlite"
)

// ErrIndexNotReady is returned to queries issued before the first index is published.
var ErrIndexNotReady = index.ErrNotReady

const (
	defaultBatchSize = 32
	buildKey         = "build"
	previewRunes     = 80
)

// Options configures an Engine.
type Options struct {
	Enabled    bool
	CorpusRoot string
	Chunk      corpus.ChunkOptions
	// DataDir holds persisted caches and indexes. Empty disables persistence.
	DataDir         string
	BatchSize       int
	ProviderTimeout time.Duration
	Retriever       retriever.Config
}

// Excerpt is a retrieved piece of guidance as handed to prompt builders.
type Excerpt struct {
	Text      string              `json:"text"`
	Category  corpus.Category     `json:"category"`
	MatchKind retriever.MatchKind `json:"match_kind"`
	ChunkID   string              `json:"chunk_id"`
	Score     float64             `json:"score"`
}

// Status describes the engine for operators.
type Status struct {
	Enabled   bool             `json:"enabled"`
	Ready     bool             `json:"ready"`
	Building  bool             `json:"building"`
	Provider  string           `json:"provider_model,omitempty"`
	Index     *index.Meta      `json:"index,omitempty"`
	Cache     embedcache.Stats `json:"cache"`
	LastError string           `json:"last_error,omitempty"`
}

// Engine owns the published index and serves retrievals against it.
type Engine struct {
	opts      Options
	embedder  ai.Embedder
	cache     *embedcache.Cache
	retriever *retriever.Retriever
	logger    *zap.Logger
	metrics   *metrics.Metrics

	snapshot index.Snapshot
	builds   singleflight.Group
	building atomic.Bool

	mu      sync.Mutex
	lastErr error
	closed  bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an Engine. A nil embedder runs the engine with metadata-only
// ranking. The embedding cache is opened from DataDir when an embedder is set.
func New(ctx context.Context, opts Options, embedder ai.Embedder, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = ai.DefaultTimeout
	}
	logger = logger.With(zap.String("component", "engine"))

	baseCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:      opts,
		embedder:  embedder,
		retriever: retriever.New(opts.Retriever, logger, m),
		logger:    logger,
		metrics:   m,
		baseCtx:   baseCtx,
		cancel:    cancel,
	}

	if embedder != nil {
		e.cache = embedcache.Open(ctx, e.openCacheStore(embedder.Model()), embedder.Model(), logger, m)
	}

	return e
}

func (e *Engine) openCacheStore(model string) embedcache.Store {
	if e.opts.DataDir == "" {
		return nil
	}

	path := filepath.Join(sqlite.ModelDir(e.opts.DataDir, model), sqlite.CacheFile)
	store, err := sqlite.OpenCacheStore(path)
	if err != nil {
		e.logger.Warn("embedding cache is memory only",
			zap.String("path", path),
			zap.Error(fmt.Errorf("%w: %v", embedcache.ErrCacheLoad, err)),
		)
		return nil
	}
	return store
}

// Enabled reports whether retrieval is switched on.
func (e *Engine) Enabled() bool {
	return e.opts.Enabled
}

// Start publishes the persisted index when it matches the current corpus and
// model, and otherwise starts a build in the background. A corpus that cannot
// be loaded is returned as an error.
func (e *Engine) Start(ctx context.Context) error {
	if !e.opts.Enabled {
		e.logger.Info("retrieval engine disabled")
		return nil
	}

	loaded, err := e.LoadPersisted(ctx)
	if err != nil {
		return err
	}
	if !loaded {
		e.Rebuild()
	}
	return nil
}

// LoadPersisted publishes the persisted index if it is still valid for the
// corpus on disk and the configured model. It reports whether an index was
// published.
func (e *Engine) LoadPersisted(ctx context.Context) (bool, error) {
	if !e.opts.Enabled {
		return false, nil
	}

	docs, err := corpus.Load(ctx, e.opts.CorpusRoot, corpus.LoadOptions{})
	if err != nil {
		e.setLastErr(err)
		return false, fmt.Errorf("loading corpus: %w", err)
	}

	ix, ok := e.loadPersisted(ctx, e.fingerprint(docs))
	if !ok {
		return false, nil
	}

	e.publish(ix)
	e.logger.Info("persisted index loaded",
		zap.String("build_id", ix.Meta().BuildID),
		zap.Int("chunks", ix.Len()),
		zap.Bool("semantic", ix.Semantic()),
	)
	return true, nil
}

func (e *Engine) loadPersisted(ctx context.Context, fingerprint string) (*index.Index, bool) {
	path := e.indexPath(e.model())
	if path == "" {
		return nil, false
	}

	ix, err := sqlite.LoadIndex(ctx, path)
	switch {
	case errors.Is(err, sqlite.ErrNoIndex):
		return nil, false
	case err != nil:
		e.logger.Warn("ignoring unreadable persisted index", zap.String("path", path), zap.Error(err))
		return nil, false
	}

	meta := ix.Meta()
	if meta.Fingerprint != fingerprint || meta.Model != e.model() {
		e.logger.Info("persisted index is stale",
			zap.String("path", path),
			zap.String("model", meta.Model),
		)
		return nil, false
	}
	return ix, true
}

// Rebuild starts a background build unless one is already running. It does
// nothing once Close has been called.
func (e *Engine) Rebuild() {
	if !e.opts.Enabled {
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.logger.Debug("engine closed, skipping rebuild")
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		if _, err := e.Build(e.baseCtx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error("index build failed, keeping previous index", zap.Error(err))
		}
	}()
}

// Build loads and indexes the corpus and publishes the result. Concurrent
// calls share one build. On failure the published index is left untouched.
func (e *Engine) Build(ctx context.Context) (index.Meta, error) {
	res, err, shared := e.builds.Do(buildKey, func() (any, error) {
		e.building.Store(true)
		defer e.building.Store(false)

		started := time.Now()
		meta, err := e.build(ctx)
		e.metrics.RecordBuild(time.Since(started), err)
		e.setLastErr(err)
		return meta, err
	})
	if shared {
		e.logger.Debug("joined running index build")
	}
	if err != nil {
		return index.Meta{}, err
	}
	return res.(index.Meta), nil
}

func (e *Engine) build(ctx context.Context) (index.Meta, error) {
	docs, err := corpus.Load(ctx, e.opts.CorpusRoot, corpus.LoadOptions{})
	if err != nil {
		return index.Meta{}, fmt.Errorf("loading corpus: %w", err)
	}

	chunks := corpus.ChunkAll(docs, e.opts.Chunk)
	e.logger.Info("corpus loaded", zap.Int("documents", len(docs)), zap.Int("chunks", len(chunks)))

	session := ai.NewSession(e.embedder, e.opts.ProviderTimeout, e.logger, e.metrics)
	vectors, err := e.embedChunks(ctx, session, chunks)
	switch {
	case errors.Is(err, ai.ErrProviderUnavailable):
		e.logger.Warn("building metadata-only index", zap.Error(err))
		vectors = nil
	case err != nil:
		return index.Meta{}, fmt.Errorf("embedding chunks: %w", err)
	}

	entries := make([]index.Entry, len(chunks))
	for i, chunk := range chunks {
		entries[i] = index.Entry{Chunk: chunk}
		if vectors != nil {
			entries[i].Vector = vectors[i]
		}
	}

	ix, err := index.Build(entries, index.Meta{
		BuildID:     uuid.NewString(),
		Model:       session.Model(),
		BuiltAt:     time.Now().UTC(),
		Fingerprint: e.fingerprint(docs),
	})
	if err != nil {
		return index.Meta{}, fmt.Errorf("building index: %w", err)
	}

	meta := ix.Meta()
	log := logger.WithBuildFields(e.logger, meta.BuildID, meta.Fingerprint)

	if path := e.indexPath(meta.Model); path != "" {
		if err := sqlite.SaveIndex(ctx, path, ix); err != nil {
			log.Warn("index not persisted", zap.String("path", path), zap.Error(err))
		}
	}

	e.publish(ix)

	if e.cache != nil {
		if err := e.cache.Flush(ctx); err != nil {
			log.Warn("embedding cache not persisted", zap.Error(err))
		}
	}

	log.Info("index published",
		zap.Int("chunks", meta.Chunks),
		zap.Bool("semantic", meta.Semantic),
		zap.Int("dimension", meta.Dimension),
	)
	return meta, nil
}

// embedChunks returns one vector per chunk or ErrProviderUnavailable.
func (e *Engine) embedChunks(ctx context.Context, session *ai.Session, chunks []corpus.Chunk) ([][]float32, error) {
	if e.cache == nil || !session.Available() {
		return nil, ai.ErrProviderUnavailable
	}

	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(chunks))

		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, chunk.Text)
		}

		batch, err := e.cache.GetOrCompute(ctx, session.Embed, texts)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (e *Engine) publish(ix *index.Index) {
	e.snapshot.Swap(ix)
	e.metrics.SetIndex(ix.Len(), ix.Semantic())
}

// Retrieve ranks guidance for q against the published index. A disabled
// engine returns no results.
func (e *Engine) Retrieve(ctx context.Context, q retriever.Query) ([]retriever.Result, error) {
	if !e.opts.Enabled {
		return nil, nil
	}

	ix, err := e.snapshot.Current()
	if err != nil {
		return nil, ErrIndexNotReady
	}

	results, err := e.retriever.Retrieve(ctx, ix, q, e.queryEmbedder(ix))
	if err != nil {
		return nil, err
	}

	if ce := e.logger.Check(zap.DebugLevel, "retrieved guidance"); ce != nil {
		previews := make([]string, 0, len(results))
		for _, res := range results {
			previews = append(previews, res.Preview(previewRunes))
		}
		ce.Write(zap.String("build_id", ix.Meta().BuildID), zap.Strings("previews", previews))
	}
	return results, nil
}

// queryEmbedder returns nil when the index cannot be searched with the
// configured provider. Query vectors bypass the embedding cache, which only
// holds corpus chunks.
func (e *Engine) queryEmbedder(ix *index.Index) ai.EmbedFunc {
	if e.embedder == nil || !ix.Semantic() || ix.Meta().Model != e.embedder.Model() {
		return nil
	}

	session := ai.NewSession(e.embedder, e.opts.ProviderTimeout, e.logger, e.metrics)
	return session.EmbedQuery
}

// RetrieveGuidance is the entry point for prompt builders. An empty result
// means no guidance is available.
func (e *Engine) RetrieveGuidance(ctx context.Context, language, role, jobDescription string, topK int) ([]Excerpt, error) {
	results, err := e.Retrieve(ctx, retriever.Query{
		Language:       corpus.Language(language),
		Role:           corpus.Role(role),
		JobDescription: jobDescription,
		TopK:           topK,
	})
	if err != nil {
		return nil, err
	}

	return Excerpts(results), nil
}

// Excerpts converts ranked results to excerpts, keeping their order.
func Excerpts(results []retriever.Result) []Excerpt {
	excerpts := make([]Excerpt, 0, len(results))
	for _, res := range results {
		excerpts = append(excerpts, Excerpt{
			Text:      res.Chunk.Text,
			Category:  res.Chunk.Metadata.Category,
			MatchKind: res.MatchKind,
			ChunkID:   res.Chunk.ID,
			Score:     res.Score,
		})
	}
	return excerpts
}

// Status reports the engine state.
func (e *Engine) Status() Status {
	st := Status{
		Enabled:  e.opts.Enabled,
		Building: e.building.Load(),
		Provider: e.model(),
	}
	if ix, err := e.snapshot.Current(); err == nil {
		meta := ix.Meta()
		st.Ready = true
		st.Index = &meta
	}
	if e.cache != nil {
		st.Cache = e.cache.Stats()
	}

	e.mu.Lock()
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	e.mu.Unlock()

	return st
}

// Close stops background builds and persists the embedding cache.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()

	if e.cache == nil {
		return nil
	}
	if err := e.cache.Close(ctx); err != nil {
		return fmt.Errorf("closing embedding cache: %w", err)
	}
	return nil
}

func (e *Engine) setLastErr(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

func (e *Engine) model() string {
	if e.embedder == nil {
		return ""
	}
	return e.embedder.Model()
}

func (e *Engine) indexPath(model string) string {
	if e.opts.DataDir == "" {
		return ""
	}
	return filepath.Join(sqlite.ModelDir(e.opts.DataDir, model), sqlite.IndexFile)
}

// fingerprint identifies the corpus content together with the chunking
// settings that shape the index.
func (e *Engine) fingerprint(docs []corpus.Document) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d",
		corpus.Fingerprint(docs), e.opts.Chunk.TargetRunes, e.opts.Chunk.MaxRunes)))
	return hex.EncodeToString(sum[:])
}
