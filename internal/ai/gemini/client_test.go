package gemini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

type embedCallRecord struct {
	model    string
	contents []*genai.Content
	config   *genai.EmbedContentConfig
}

type fakeModels struct {
	mu    sync.Mutex
	calls []embedCallRecord
	err   error
}

func (f *fakeModels) EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, embedCallRecord{model: model, contents: contents, config: config})
	if f.err != nil {
		return nil, f.err
	}

	resp := &genai.EmbedContentResponse{}
	for _, content := range contents {
		text := content.Parts[0].Text
		resp.Embeddings = append(resp.Embeddings, &genai.ContentEmbedding{
			Values: []float32{float32(len(text)), 1},
		})
	}
	return resp, nil
}

func TestEmbedderBatchesRequests(t *testing.T) {
	models := &fakeModels{}
	e := newEmbedder(models, Options{Model: "embed-test", Logger: zap.NewNop()})

	texts := make([]string, maxBatch+5)
	for i := range texts {
		texts[i] = string(make([]byte, i%7+1))
	}

	vectors, err := e.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(vectors) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vectors))
	}
	for i, vector := range vectors {
		if int(vector[0]) != len(texts[i]) {
			t.Fatalf("vector %d out of order: %v", i, vector)
		}
	}

	if len(models.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(models.calls))
	}
	for _, call := range models.calls {
		if call.model != "embed-test" {
			t.Fatalf("unexpected model %q", call.model)
		}
		if call.config == nil || call.config.TaskType != taskRetrievalDocument {
			t.Fatalf("expected retrieval document task type, got %+v", call.config)
		}
		if call.config.OutputDimensionality != nil {
			t.Fatalf("expected default dimensionality")
		}
	}
}

func TestEmbedderSetsDimensions(t *testing.T) {
	models := &fakeModels{}
	e := newEmbedder(models, Options{Dimensions: 768})

	if _, err := e.Embed(context.Background(), []string{"text"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := models.calls[0].config.OutputDimensionality
	if got == nil || *got != 768 {
		t.Fatalf("expected dimensionality 768, got %v", got)
	}
	if e.Model() != defaultModel+"@768" {
		t.Fatalf("expected dimensionality in the model identity, got %q", e.Model())
	}
	if models.calls[0].model != defaultModel {
		t.Fatalf("expected bare model name in the request, got %q", models.calls[0].model)
	}
}

func TestEmbedderModelIdentityFollowsDimensions(t *testing.T) {
	native := newEmbedder(&fakeModels{}, Options{Model: "embed-test"})
	truncated := newEmbedder(&fakeModels{}, Options{Model: "embed-test", Dimensions: 256})

	if native.Model() != "embed-test" {
		t.Fatalf("unexpected native identity %q", native.Model())
	}
	if truncated.Model() == native.Model() {
		t.Fatalf("expected different identities for different dimensionality, both %q", native.Model())
	}
}

func TestEmbedQueryUsesQueryTaskType(t *testing.T) {
	models := &fakeModels{}
	e := newEmbedder(models, Options{})

	vectors, err := e.EmbedQuery(context.Background(), []string{"senior backend engineer"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vectors))
	}
	if got := models.calls[0].config.TaskType; got != taskRetrievalQuery {
		t.Fatalf("expected retrieval query task type, got %q", got)
	}
}

func TestEmbedderReturnsAPIError(t *testing.T) {
	models := &fakeModels{err: genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED"}}
	e := newEmbedder(models, Options{})

	_, err := e.Embed(context.Background(), []string{"text"})
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	if len(models.calls) != 1 {
		t.Fatalf("expected single call without retries, got %d", len(models.calls))
	}
}

func TestNewEmbedderRequiresAPIKey(t *testing.T) {
	if _, err := NewEmbedder(context.Background(), Options{APIKey: "  "}); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestEmbedderPacesBatches(t *testing.T) {
	models := &fakeModels{}
	e := newEmbedder(models, Options{RequestsPerMinute: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := e.Embed(ctx, make([]string, maxBatch+1))
	if err == nil {
		t.Fatal("expected rate limit wait to fail before the deadline")
	}
	if len(models.calls) != 1 {
		t.Fatalf("expected only the first batch to be sent, got %d calls", len(models.calls))
	}
}
