// Package server exposes guidance retrieval over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spigell/resumekit-rag/internal/corpus"
	"github.com/spigell/resumekit-rag/internal/engine"
	"github.com/spigell/resumekit-rag/internal/retriever"
)

// Service is the part of the engine the server needs.
type Service interface {
	Retrieve(ctx context.Context, q retriever.Query) ([]retriever.Result, error)
	Status() engine.Status
	Rebuild()
}

// Config holds HTTP server configuration.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// ExcerptRunes caps each excerpt in the rendered prompt context.
	ExcerptRunes int `mapstructure:"excerpt-runes"`
}

// Server provides HTTP endpoints for guidance retrieval.
type Server struct {
	echo    *echo.Echo
	service Service
	logger  *zap.Logger
	config  *Config
}

// NewServer creates a new HTTP server. A nil gatherer disables /metrics.
func NewServer(service Service, gatherer prometheus.Gatherer, logger *zap.Logger, cfg *Config) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		service: service,
		logger:  logger,
		config:  cfg,
	}
	s.registerRoutes(gatherer)

	return s, nil
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/health", s.handleHealth)
	if gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/retrieve", s.handleRetrieve)
	v1.POST("/rebuild", s.handleRebuild)
}

// RetrieveRequest is the request body for POST /api/v1/retrieve.
type RetrieveRequest struct {
	Language       string `json:"language"`
	Role           string `json:"role"`
	JobDescription string `json:"job_description"`
	TopK           int    `json:"top_k"`
}

// RetrieveResponse is the response body for POST /api/v1/retrieve.
type RetrieveResponse struct {
	Excerpts      []engine.Excerpt `json:"excerpts"`
	PromptContext string           `json:"prompt_context"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.service.Status())
}

func (s *Server) handleRetrieve(c echo.Context) error {
	var req RetrieveRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid retrieve request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	results, err := s.service.Retrieve(c.Request().Context(), retriever.Query{
		Language:       corpus.Language(req.Language),
		Role:           corpus.Role(req.Role),
		JobDescription: req.JobDescription,
		TopK:           req.TopK,
	})
	switch {
	case errors.Is(err, engine.ErrIndexNotReady):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "index is not ready")
	case errors.Is(err, retriever.ErrInvalidQuery):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("retrieval failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "retrieval failed")
	}

	return c.JSON(http.StatusOK, RetrieveResponse{
		Excerpts:      engine.Excerpts(results),
		PromptContext: retriever.FormatPromptContext(results, s.config.ExcerptRunes),
	})
}

func (s *Server) handleRebuild(c echo.Context) error {
	if !s.service.Status().Enabled {
		return echo.NewHTTPError(http.StatusConflict, "retrieval is disabled")
	}

	s.service.Rebuild()
	return c.JSON(http.StatusAccepted, HealthResponse{Status: "rebuilding"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
