package ai

import (
	"context"
	"errors"
	"fmt"
)

// ErrProviderUnavailable signals that embeddings cannot be obtained for the
// rest of the session. Callers switch to metadata-only ranking when they see it.
var ErrProviderUnavailable = errors.New("embedding provider unavailable")

// Embedder turns texts into vectors. Implementations return exactly one vector
// per input text, in input order. Model identifies the embedding space: two
// embedders with the same Model must produce comparable vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// QueryEmbedder is implemented by providers that embed search queries
// differently from indexed documents.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, texts []string) ([][]float32, error)
}

// ModelIdentity names the embedding space of model truncated to dimensions.
// Zero dimensions means the model's native size.
func ModelIdentity(model string, dimensions int) string {
	if dimensions <= 0 {
		return model
	}
	return fmt.Sprintf("%s@%d", model, dimensions)
}

// EmbedFunc is the function form of Embedder.Embed.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// ValidateVectors checks a provider response against the request.
func ValidateVectors(texts []string, vectors [][]float32) error {
	if len(vectors) != len(texts) {
		return fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(texts))
	}

	dim := -1
	for i, vector := range vectors {
		if len(vector) == 0 {
			return fmt.Errorf("provider returned empty vector at position %d", i)
		}
		if dim >= 0 && len(vector) != dim {
			return fmt.Errorf("provider returned vectors of mixed dimension %d and %d", dim, len(vector))
		}
		dim = len(vector)
	}
	return nil
}
