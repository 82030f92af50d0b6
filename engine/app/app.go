// Package app wires configuration into the collection, the ingest loader and
// the embedding client shared by the API server and the CLI.
package app

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/llm4vc/backend/engine/events"
	"github.com/llm4vc/backend/engine/ingest"
	"github.com/llm4vc/backend/engine/semantic"
	"github.com/llm4vc/backend/pkg/config"
	"github.com/llm4vc/backend/pkg/metrics"
	"github.com/llm4vc/backend/pkg/ollama"
	"github.com/llm4vc/backend/pkg/resilience"
)

// App is the set of long-lived dependencies.
type App struct {
	Config     config.Config
	Ollama     *ollama.Client
	Breaker    *resilience.Breaker
	Store      *semantic.VectorStore
	Collection *semantic.Collection
	Loader     *ingest.Loader
	Events     events.Publisher
	// NATS is nil when no NATS URL is configured.
	NATS *nats.Conn

	closers []func() error
}

// New connects to Qdrant and NATS (when configured) and builds the services
// on top. m may be nil.
func New(cfg config.Config, log *zap.Logger, m *metrics.Metrics) (*App, error) {
	a := &App{Config: cfg}

	a.Breaker = resilience.NewBreaker(resilience.BreakerOpts{
		FailThreshold: resilience.DefaultBreakerOpts.FailThreshold,
		Timeout:       resilience.DefaultBreakerOpts.Timeout,
		IsFailure:     ollama.IsUpstreamFailure,
		OnStateChange: func(from, to resilience.State) {
			m.SetBreakerState(int(to))
			log.Warn("embedding breaker state changed",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	a.Ollama = ollama.NewClient(cfg.OllamaURL, cfg.OllamaModel,
		ollama.WithTimeout(cfg.EmbedTimeout),
		ollama.WithRateLimit(cfg.EmbedRate, cfg.EmbedBurst),
		ollama.WithBreaker(a.Breaker),
		ollama.WithMetrics(m),
	)

	store, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("app: qdrant connect: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)
	a.Collection = semantic.NewCollection(store, ollama.NewEmbeddingFunction(a.Ollama))

	pub, nc, closeNATS, err := events.Connect(cfg.NATSURL, cfg.ServiceName)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Events = pub
	a.NATS = nc
	a.closers = append(a.closers, func() error { closeNATS(); return nil })

	a.Loader = ingest.NewLoader(cfg.DataDir, a.Collection,
		ingest.WithBatchSize(cfg.IngestBatchSize),
		ingest.WithEvents(pub),
		ingest.WithMetrics(m),
		ingest.WithLogger(log),
	)
	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
