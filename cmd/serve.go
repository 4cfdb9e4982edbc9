package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/resumekit-rag/internal/server"
	"github.com/spigell/resumekit-rag/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve guidance retrieval over HTTP and rebuild the index on corpus changes",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, config := setup()
	logger.Info("starting the resumekit-rag server", zap.String("version", version))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng := newEngine(ctx, config, logger, reg)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := eng.Close(closeCtx); err != nil {
			logger.Warn("closing engine", zap.Error(err))
		}
	}()

	if err := eng.Start(ctx); err != nil {
		logger.Fatal("starting retrieval engine", zap.Error(err))
	}

	if config.RAG.Enabled && config.Corpus.Watch {
		w, err := watcher.New(config.Corpus.Root, config.Corpus.WatchDebounce, eng.Rebuild, logger)
		if err != nil {
			logger.Fatal("watching corpus", zap.Error(err))
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("corpus watcher stopped", zap.Error(err))
			}
		}()
	}

	srv, err := server.NewServer(eng, reg, logger, config.Server)
	if err != nil {
		logger.Fatal("creating http server", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			return
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutting down http server", zap.Error(err))
	}
}
