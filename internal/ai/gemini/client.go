package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/spigell/resumekit-rag/internal/ai"
	"github.com/spigell/resumekit-rag/internal/logger"
)

const (
	defaultModel = "gemini-embedding-001"
	providerName = "gemini"

	// maxBatch is the request size limit of the batch embedding endpoint.
	maxBatch = 100

	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Embedder produces document embeddings with the Gemini API.
type Embedder struct {
	models     contentEmbedder
	modelName  string
	dimensions int32
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Options configures an Embedder.
type Options struct {
	APIKey string
	Model  string
	// Dimensions truncates output vectors when positive.
	Dimensions int
	// RequestsPerMinute paces batch requests when positive.
	RequestsPerMinute int
	Logger            *zap.Logger
}

// NewEmbedder creates an Embedder configured for the Gemini API backend.
func NewEmbedder(ctx context.Context, opts Options) (*Embedder, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newEmbedder(client.Models, opts), nil
}

func newEmbedder(models contentEmbedder, opts Options) *Embedder {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}

	e := &Embedder{
		models:     models,
		modelName:  model,
		dimensions: int32(opts.Dimensions),
		logger:     logger.WithProviderFields(opts.Logger, providerName, ai.ModelIdentity(model, opts.Dimensions)),
	}
	if opts.RequestsPerMinute > 0 {
		e.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return e
}

// Embed returns one document vector per text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, texts, taskRetrievalDocument)
}

// EmbedQuery returns one search query vector per text, in input order.
func (e *Embedder) EmbedQuery(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, texts, taskRetrievalQuery)
}

func (e *Embedder) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	if e == nil || e.models == nil {
		return nil, errors.New("gemini embedder is not initialized")
	}

	config := &genai.EmbedContentConfig{TaskType: task}
	if e.dimensions > 0 {
		dims := e.dimensions
		config.OutputDimensionality = &dims
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))

		contents := make([]*genai.Content, 0, end-start)
		for _, text := range texts[start:end] {
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("waiting for rate limit: %w", err)
			}
		}

		resp, err := e.models.EmbedContent(ctx, e.modelName, contents, config)
		if err != nil {
			return nil, fmt.Errorf("embed content: %w", err)
		}
		if resp == nil || len(resp.Embeddings) != len(contents) {
			return nil, fmt.Errorf("gemini api returned %d embeddings for %d texts", embeddingCount(resp), len(contents))
		}

		for _, embedding := range resp.Embeddings {
			if embedding == nil || len(embedding.Values) == 0 {
				return nil, errors.New("gemini api returned empty embedding")
			}
			vectors = append(vectors, embedding.Values)
		}

		e.logger.Debug("gemini embeddings received",
			zap.String("task_type", task),
			zap.Int("batch_start", start),
			zap.Int("batch_size", len(contents)),
		)
	}

	return vectors, nil
}

// Model names the embedding space, including the output dimensionality when
// it is truncated.
func (e *Embedder) Model() string {
	if e == nil {
		return ""
	}
	return ai.ModelIdentity(e.modelName, int(e.dimensions))
}

func embeddingCount(resp *genai.EmbedContentResponse) int {
	if resp == nil {
		return 0
	}
	return len(resp.Embeddings)
}
