package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/resumekit-rag/internal/ai"
	"github.com/spigell/resumekit-rag/internal/ai/gemini"
	"github.com/spigell/resumekit-rag/internal/ai/openai"
	"github.com/spigell/resumekit-rag/internal/engine"
	"github.com/spigell/resumekit-rag/internal/logger"
	"github.com/spigell/resumekit-rag/internal/metrics"
	"github.com/spigell/resumekit-rag/internal/secrets"
)

const (
	providerGemini = "gemini"
	providerOpenAI = "openai"
	providerNone   = "none"
)

// setup builds the logger and reads the configuration, exiting on failure.
func setup() (*zap.Logger, *Config) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	if config == nil || config.RAG == nil || config.Corpus == nil || config.Embedding == nil {
		logger.Fatal("config is required")
	}
	if config.Storage == nil {
		config.Storage = &StorageConfig{}
	}

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(config), "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	return logger, config
}

// redacted returns a copy of config without inline secrets.
func redacted(config *Config) Config {
	c := *config
	if e := config.Embedding; e != nil {
		embedding := *e
		if e.Gemini != nil {
			g := *e.Gemini
			g.APIKey = mask(g.APIKey)
			embedding.Gemini = &g
		}
		if e.OpenAI != nil {
			o := *e.OpenAI
			o.APIKey = mask(o.APIKey)
			embedding.OpenAI = &o
		}
		c.Embedding = &embedding
	}
	return c
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

// newEmbedder returns nil when no provider is configured or its credentials
// are missing. The engine then ranks by metadata only.
func newEmbedder(ctx context.Context, cfg *EmbeddingConfig, logger *zap.Logger) (ai.Embedder, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	switch provider {
	case "", providerNone:
		logger.Info("no embedding provider configured, using metadata ranking")
		return nil, nil
	case providerGemini:
		gcfg := cfg.Gemini
		if gcfg == nil {
			gcfg = &GeminiConfig{}
		}

		apiKey, err := secrets.Load(secrets.Source{
			Name:  "gemini api key",
			File:  gcfg.APIKeyFile,
			Env:   "GEMINI_API_KEY",
			Value: gcfg.APIKey,
		})
		if err != nil {
			logger.Warn("gemini embeddings disabled",
				zap.Error(err),
				zap.String("hint", "set GEMINI_API_KEY_FILE, GEMINI_API_KEY or embedding.gemini.api-key-file"),
			)
			return nil, nil
		}

		return gemini.NewEmbedder(ctx, gemini.Options{
			APIKey:            apiKey,
			Model:             gcfg.Model,
			Dimensions:        gcfg.Dimensions,
			RequestsPerMinute: gcfg.RequestsPerMinute,
			Logger:            logger,
		})
	case providerOpenAI:
		ocfg := cfg.OpenAI
		if ocfg == nil {
			ocfg = &OpenAIConfig{}
		}

		apiKey, err := secrets.Load(secrets.Source{
			Name:  "openai api key",
			File:  ocfg.APIKeyFile,
			Value: ocfg.APIKey,
		})
		if err != nil {
			logger.Warn("openai embeddings disabled",
				zap.Error(err),
				zap.String("hint", "set OPENAI_API_KEY or embedding.openai.api-key-file"),
			)
			return nil, nil
		}

		return openai.NewEmbedder(openai.Options{
			APIKey:    apiKey,
			BaseURL:   ocfg.BaseURL,
			Model:     ocfg.Model,
			BatchSize: ocfg.BatchSize,
			Logger:    logger,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// newEngine wires the engine from configuration. Metrics are registered on reg.
func newEngine(ctx context.Context, config *Config, logger *zap.Logger, reg prometheus.Registerer) *engine.Engine {
	embedder, err := newEmbedder(ctx, config.Embedding, logger)
	if err != nil {
		logger.Fatal("creating embedding provider", zap.Error(err))
	}

	opts := engine.Options{
		Enabled:         config.RAG.Enabled,
		CorpusRoot:      config.Corpus.Root,
		Chunk:           config.Corpus.chunkOptions(),
		DataDir:         config.Storage.DataDir,
		BatchSize:       config.Embedding.BatchSize,
		ProviderTimeout: config.Embedding.Timeout,
		Retriever:       config.RAG.Config,
	}

	return engine.New(ctx, opts, embedder, logger, metrics.New(reg))
}
