// Package openai embeds texts through any OpenAI-compatible embeddings endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/spigell/resumekit-rag/internal/logger"
)

const (
	DefaultModel   = "text-embedding-3-small"
	DefaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"
)

// Options configures an Embedder.
type Options struct {
	APIKey    string
	BaseURL   string
	Model     string
	BatchSize int
	Logger    *zap.Logger
}

// Embedder wraps a langchaingo embedder backed by the OpenAI client.
type Embedder struct {
	embedder  embeddings.Embedder
	modelName string
	logger    *zap.Logger
}

// NewEmbedder creates an Embedder. The API key is required.
func NewEmbedder(opts Options) (*Embedder, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}

	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}

	llm, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithEmbeddingModel(model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}

	embedderOpts := []embeddings.Option{embeddings.WithStripNewLines(false)}
	if opts.BatchSize > 0 {
		embedderOpts = append(embedderOpts, embeddings.WithBatchSize(opts.BatchSize))
	}

	embedder, err := embeddings.NewEmbedder(llm, embedderOpts...)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	return &Embedder{
		embedder:  embedder,
		modelName: model,
		logger:    logger.WithProviderFields(opts.Logger, providerName, model),
	}, nil
}

// Embed returns one vector per text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e == nil || e.embedder == nil {
		return nil, errors.New("openai embedder is not initialized")
	}

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}

	e.logger.Debug("openai embeddings received", zap.Int("texts", len(texts)))
	return vectors, nil
}

func (e *Embedder) Model() string {
	if e == nil {
		return ""
	}
	return e.modelName
}
