// Package retriever ranks guidance chunks for a tailoring request.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/resumekit-rag/internal/ai"
	"github.com/spigell/resumekit-rag/internal/corpus"
	"github.com/spigell/resumekit-rag/internal/filtering"
	"github.com/spigell/resumekit-rag/internal/index"
	"github.com/spigell/resumekit-rag/internal/metrics"
	"github.com/spigell/resumekit-rag/internal/utils"
)

// ErrInvalidQuery is the only error Retrieve returns.
var ErrInvalidQuery = errors.New("invalid query")

// MatchKind tells how a result was selected.
type MatchKind string

const (
	MatchExact    MatchKind = "metadata_exact"
	MatchSemantic MatchKind = "semantic"
	MatchFallback MatchKind = "metadata_fallback"
)

// Ranking modes, as reported to metrics.
const (
	ModeSemantic = "semantic"
	ModeDegraded = "degraded"
)

// Query is a tailoring request.
type Query struct {
	Language       corpus.Language
	Role           corpus.Role
	JobDescription string
	// TopK limits the results. Zero means the configured default.
	TopK int
}

// Result is a ranked chunk. Similarity is zero in degraded mode.
type Result struct {
	Chunk      corpus.Chunk
	Score      float64
	Similarity float64
	MatchKind  MatchKind
}

// Config holds the ranking constants.
type Config struct {
	TopK                int               `mapstructure:"top-k"`
	SimilarityThreshold float64           `mapstructure:"similarity-threshold"`
	ExactMatchBonus     float64           `mapstructure:"exact-match-bonus"`
	FilterMatchBonus    float64           `mapstructure:"filter-match-bonus"`
	CategoryPriority    []corpus.Category `mapstructure:"category-priority"`
	QueryMaxRunes       int               `mapstructure:"query-max-runes"`
}

// DefaultConfig returns the default ranking constants.
func DefaultConfig() Config {
	return Config{
		TopK:                3,
		SimilarityThreshold: 0.25,
		ExactMatchBonus:     0.10,
		FilterMatchBonus:    0.05,
		CategoryPriority:    append([]corpus.Category(nil), corpus.DefaultCategoryPriority...),
		QueryMaxRunes:       1000,
	}
}

// Retriever is stateless apart from its configuration and is safe for
// concurrent use.
type Retriever struct {
	cfg          Config
	categoryRank map[corpus.Category]int
	filters      []filtering.Filter
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// New creates a Retriever. Zero fields of cfg take their defaults.
func New(cfg Config, logger *zap.Logger, m *metrics.Metrics) *Retriever {
	defaults := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = defaults.TopK
	}
	if cfg.QueryMaxRunes <= 0 {
		cfg.QueryMaxRunes = defaults.QueryMaxRunes
	}
	if len(cfg.CategoryPriority) == 0 {
		cfg.CategoryPriority = defaults.CategoryPriority
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rank := make(map[corpus.Category]int, len(cfg.CategoryPriority))
	for i, category := range cfg.CategoryPriority {
		if _, ok := rank[category]; !ok {
			rank[category] = i
		}
	}

	return &Retriever{
		cfg:          cfg,
		categoryRank: rank,
		filters:      filtering.Default(),
		logger:       logger.With(zap.String("component", "retriever")),
		metrics:      m,
	}
}

// Config returns the effective configuration.
func (r *Retriever) Config() Config {
	return r.cfg
}

// Retrieve ranks the chunks of ix for q. When embed is nil, fails, or the index
// cannot be searched with its vectors, the metadata-only ranking is used. Only
// a malformed query produces an error.
func (r *Retriever) Retrieve(ctx context.Context, ix *index.Index, q Query, embed ai.EmbedFunc) ([]Result, error) {
	q, err := r.normalize(q)
	if err != nil {
		return nil, err
	}

	filtered, err := filtering.Run(ctx, &filtering.Config{Language: q.Language, Role: q.Role},
		filtering.Deps{Logger: r.logger}, r.filters, ix.Filter(nil))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	log := r.logger.With(
		zap.String("language", string(q.Language)),
		zap.String("role", string(q.Role)),
		zap.Int("top_k", q.TopK),
		zap.Int("filtered", len(filtered)),
	)

	if results, ok := r.semantic(ctx, log, ix, q, filtered, embed); ok {
		r.metrics.RecordRetrieval(ModeSemantic)
		log.Debug("semantic retrieval", zap.Int("results", len(results)))
		return results, nil
	}

	r.metrics.RecordRetrieval(ModeDegraded)
	results := r.degraded(q, filtered)
	log.Debug("degraded retrieval", zap.Int("results", len(results)))
	return results, nil
}

func (r *Retriever) normalize(q Query) (Query, error) {
	language, err := corpus.ParseLanguage(orGeneral(string(q.Language)))
	if err != nil {
		return q, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	role, err := corpus.ParseRole(orGeneral(string(q.Role)))
	if err != nil {
		return q, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if q.TopK < 0 {
		return q, fmt.Errorf("%w: top_k must not be negative, got %d", ErrInvalidQuery, q.TopK)
	}
	if q.TopK == 0 {
		q.TopK = r.cfg.TopK
	}

	q.Language = language
	q.Role = role
	q.JobDescription = strings.TrimSpace(q.JobDescription)
	return q, nil
}

func orGeneral(s string) string {
	if strings.TrimSpace(s) == "" {
		return corpus.General
	}
	return s
}

// semantic returns false when the query must be served by the metadata-only
// ranking instead.
func (r *Retriever) semantic(ctx context.Context, log *zap.Logger, ix *index.Index, q Query, filtered []*index.Entry, embed ai.EmbedFunc) ([]Result, bool) {
	switch {
	case embed == nil:
		log.Debug("no embedding provider for query")
		return nil, false
	case !ix.Semantic():
		log.Debug("index has no vectors")
		return nil, false
	case q.JobDescription == "":
		log.Debug("empty job description")
		return nil, false
	}

	text := utils.TruncateRunes(q.JobDescription, r.cfg.QueryMaxRunes, "")
	vectors, err := embed(ctx, []string{text})
	if err != nil {
		log.Info("query embedding failed, using metadata ranking", zap.Error(err))
		return nil, false
	}
	if len(vectors) != 1 {
		log.Warn("query embedding returned unexpected vector count", zap.Int("vectors", len(vectors)))
		return nil, false
	}

	hits, err := ix.Search(vectors[0], 0, nil)
	if err != nil {
		log.Warn("semantic search failed, using metadata ranking", zap.Error(err))
		return nil, false
	}

	passed := make(map[string]struct{}, len(filtered))
	for _, entry := range filtered {
		passed[entry.Chunk.ID] = struct{}{}
	}
	wholeIndex := len(filtered) < q.TopK

	// Chunks outside the filtered set only fill the tail of the ranking.
	type candidate struct {
		Result
		outside bool
	}

	candidates := make([]candidate, 0, len(hits))
	for _, hit := range hits {
		chunk := hit.Entry.Chunk

		c := candidate{Result: Result{Chunk: chunk, Similarity: hit.Similarity, MatchKind: MatchSemantic}}
		var bonus float64
		if _, ok := passed[chunk.ID]; ok {
			if isExact(q, chunk.Metadata) {
				c.MatchKind, bonus = MatchExact, r.cfg.ExactMatchBonus
			} else {
				bonus = r.cfg.FilterMatchBonus
			}
		} else if wholeIndex {
			c.outside = true
		} else {
			continue
		}

		if c.MatchKind != MatchExact && hit.Similarity < r.cfg.SimilarityThreshold {
			continue
		}

		c.Score = hit.Similarity + bonus
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.outside != b.outside {
			return !a.outside
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Chunk.ID < b.Chunk.ID
	})

	results := make([]Result, 0, min(len(candidates), q.TopK))
	for _, c := range candidates {
		if len(results) == q.TopK {
			break
		}
		results = append(results, c.Result)
	}
	return results, true
}

// degraded ranks the filtered set without vectors: category priority first,
// then the most specific metadata, then document order and chunk sequence.
func (r *Retriever) degraded(q Query, filtered []*index.Entry) []Result {
	ranked := make([]*index.Entry, len(filtered))
	copy(ranked, filtered)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].Chunk, ranked[j].Chunk
		if ca, cb := r.categoryOrder(a.Metadata.Category), r.categoryOrder(b.Metadata.Category); ca != cb {
			return ca < cb
		}
		if sa, sb := specificity(q, a.Metadata), specificity(q, b.Metadata); sa != sb {
			return sa > sb
		}
		if a.DocOrder != b.DocOrder {
			return a.DocOrder < b.DocOrder
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.ID < b.ID
	})

	if len(ranked) > q.TopK {
		ranked = ranked[:q.TopK]
	}

	results := make([]Result, 0, len(ranked))
	for _, entry := range ranked {
		results = append(results, Result{
			Chunk:     entry.Chunk,
			Score:     float64(specificity(q, entry.Chunk.Metadata)),
			MatchKind: MatchFallback,
		})
	}
	return results
}

func (r *Retriever) categoryOrder(c corpus.Category) int {
	if rank, ok := r.categoryRank[c]; ok {
		return rank
	}
	return len(r.categoryRank)
}

func isExact(q Query, md corpus.Metadata) bool {
	return md.Language == q.Language && md.Role == q.Role
}

// specificity counts the query dimensions a chunk matches exactly rather than
// through the general wildcard.
func specificity(q Query, md corpus.Metadata) int {
	n := 0
	if md.Language == q.Language {
		n++
	}
	if md.Role == q.Role {
		n++
	}
	return n
}

// Preview returns a short log-friendly excerpt of a result.
func (res Result) Preview(limit int) string {
	return utils.TruncateForLog(res.Chunk.Text, limit)
}
