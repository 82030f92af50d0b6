// Command llm4vc is the operator CLI: it loads CSV files, runs queries and
// manages the collection without going through the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/llm4vc/backend/engine/app"
	"github.com/llm4vc/backend/engine/ingest"
	"github.com/llm4vc/backend/engine/semantic"
	"github.com/llm4vc/backend/pkg/config"
	"github.com/llm4vc/backend/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Collection is what the CLI needs from the document collection.
type Collection interface {
	Name() string
	Query(ctx context.Context, texts []string, n int) (semantic.QueryResult, error)
	Reset(ctx context.Context) error
	Info(ctx context.Context) (semantic.Info, error)
}

// FileLoader ingests a CSV file from any path.
type FileLoader interface {
	LoadFile(ctx context.Context, path string, opts ingest.Options) (ingest.Result, error)
}

// backend is the set of services a command runs against.
type backend struct {
	Collection Collection
	Loader     FileLoader
	NATS       *nats.Conn
	Close      func() error
}

// opener builds a backend from the environment.
type opener func() (*backend, error)

func openFromConfig() (*backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		ServiceName: cfg.ServiceName + "-cli",
		Development: true,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a, err := app.New(cfg, log, nil)
	if err != nil {
		return nil, err
	}
	return &backend{
		Collection: a.Collection,
		Loader:     a.Loader,
		NATS:       a.NATS,
		Close: func() error {
			log.Sync()
			return a.Close()
		},
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(openFromConfig).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
