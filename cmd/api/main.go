// Package main implements the LLM-4-VC API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/llm4vc/backend/engine/app"
	"github.com/llm4vc/backend/pkg/config"
	"github.com/llm4vc/backend/pkg/logger"
	"github.com/llm4vc/backend/pkg/metrics"
	"github.com/llm4vc/backend/pkg/mid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger is configured from cfg, so report on stderr directly.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, ServiceName: cfg.ServiceName})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(cfg.ServiceName)

	deps, err := app.New(cfg, log, m)
	if err != nil {
		return err
	}
	defer deps.Close()

	api := &API{
		Collection: deps.Collection,
		Loader:     deps.Loader,
		Embedder:   deps.Ollama,
		Events:     deps.Events,
		Metrics:    m,
		Log:        log,
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newHandler(api, cfg, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // large CSV loads embed row by row
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api server starting",
			zap.String("port", cfg.Port),
			zap.String("collection", cfg.Collection),
			zap.String("ollama", cfg.OllamaURL),
			zap.String("qdrant", cfg.QdrantURL),
		)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			log.Info("shutdown signal received")
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return g.Wait()
}

// newHandler wraps the routes in the middleware stack. Metrics sits inside
// OTel so it sees the pattern ServeMux sets on the request.
func newHandler(api *API, cfg config.Config, log *zap.Logger) http.Handler {
	return mid.Chain(api.Routes(),
		mid.Recover(log),
		mid.Logger(log),
		mid.CORS(cfg.CORSOrigins),
		mid.OTel(cfg.ServiceName),
		mid.Metrics(api.Metrics),
	)
}
