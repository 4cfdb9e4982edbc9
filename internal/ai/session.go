package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/resumekit-rag/internal/logger"
	"github.com/spigell/resumekit-rag/internal/metrics"
)

const DefaultTimeout = 15 * time.Second

// State is the provider health as observed by a session.
type State int

const (
	StateUnknown State = iota
	StateAvailable
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Session guards an Embedder for the lifetime of one build or one query. The
// first failed call marks the provider unavailable and every later call fails
// fast with ErrProviderUnavailable. Failures are never retried.
type Session struct {
	embedder Embedder
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	state State
}

// NewSession wraps embedder. A nil embedder yields a session that is
// unavailable from the start.
func NewSession(embedder Embedder, timeout time.Duration, log *zap.Logger, m *metrics.Metrics) *Session {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	model := ""
	if embedder != nil {
		model = embedder.Model()
	}

	s := &Session{
		embedder: embedder,
		timeout:  timeout,
		logger:   logger.WithProviderFields(log, "", model),
		metrics:  m,
	}
	if embedder == nil {
		s.state = StateUnavailable
	}
	return s
}

// State reports the current provider health.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Available reports whether a call may still reach the provider.
func (s *Session) Available() bool {
	return s.State() != StateUnavailable
}

// Model returns the embedding model, or "" when no provider is configured.
func (s *Session) Model() string {
	if s.embedder == nil {
		return ""
	}
	return s.embedder.Model()
}

// Embed calls the provider under the session timeout. A cancelled parent
// context is returned as is and does not change the session state.
func (s *Session) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return s.call(ctx, texts, false)
}

// EmbedQuery embeds search queries. Providers without a query mode embed
// them as documents.
func (s *Session) EmbedQuery(ctx context.Context, texts []string) ([][]float32, error) {
	return s.call(ctx, texts, true)
}

func (s *Session) call(ctx context.Context, texts []string, query bool) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if !s.Available() {
		s.metrics.RecordProviderCall(metrics.OutcomeSkipped)
		return nil, ErrProviderUnavailable
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	var (
		vectors [][]float32
		err     error
	)
	if qe, ok := s.embedder.(QueryEmbedder); ok && query {
		vectors, err = qe.EmbedQuery(callCtx, texts)
	} else {
		vectors, err = s.embedder.Embed(callCtx, texts)
	}
	if err == nil {
		err = ValidateVectors(texts, vectors)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.markUnavailable(err)
		s.metrics.RecordProviderCall(metrics.OutcomeError)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	s.mu.Lock()
	s.state = StateAvailable
	s.mu.Unlock()

	s.metrics.RecordProviderCall(metrics.OutcomeOK)
	s.logger.Debug("embedded texts",
		zap.Int("texts", len(texts)),
		zap.Int("dimension", len(vectors[0])),
		zap.Duration("elapsed", time.Since(started)),
	)
	return vectors, nil
}

func (s *Session) markUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUnavailable {
		return
	}
	s.state = StateUnavailable
	s.logger.Warn("embedding provider unavailable, switching to metadata ranking", zap.Error(err))
}
