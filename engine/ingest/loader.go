// Package ingest turns CSV files into documents and writes them to a
// collection.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llm4vc/backend/engine/events"
	"github.com/llm4vc/backend/engine/semantic"
	"github.com/llm4vc/backend/pkg/fn"
	"github.com/llm4vc/backend/pkg/metrics"
)

// DefaultBatchSize is the number of rows sent to the collection per Add.
const DefaultBatchSize = 64

var (
	// ErrNotFound is returned when the named file is not in the data directory.
	ErrNotFound = errors.New("ingest: file not found")
	// ErrInvalidName is returned for names that are not plain .csv file names.
	ErrInvalidName = errors.New("ingest: invalid file name")
)

// Adder is the part of semantic.Collection the loader writes through.
type Adder interface {
	Name() string
	Add(ctx context.Context, req semantic.AddRequest) error
}

// Request names a file in the data directory and how to read it.
type Request struct {
	Filename string
	Options
}

// Result summarises a completed load.
type Result struct {
	Filename      string   `json:"filename"`
	Collection    string   `json:"collection_name"`
	DocumentCount int      `json:"document_count"`
	Columns       []string `json:"columns"`
}

// Loader reads CSV files from a data directory into a collection.
type Loader struct {
	dir       string
	coll      Adder
	batchSize int
	events    events.Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithBatchSize sets how many rows are added per call. Non-positive values are ignored.
func WithBatchSize(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithEvents publishes a CSVLoaded event after each successful load.
func WithEvents(p events.Publisher) Option {
	return func(l *Loader) { l.events = p }
}

// WithMetrics counts ingested documents.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Loader) { l.log = log }
}

// NewLoader creates a Loader for files under dir.
func NewLoader(dir string, coll Adder, opts ...Option) *Loader {
	l := &Loader{
		dir:       dir,
		coll:      coll,
		batchSize: DefaultBatchSize,
		events:    events.Nop{},
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Dir returns the data directory.
func (l *Loader) Dir() string { return l.dir }

// source is a file located on disk, ready to be read.
type source struct {
	name string
	path string
	opts Options
}

// parsed is a source transformed into documents.
type parsed struct {
	name  string
	batch Batch
}

// Load ingests the named file from the data directory.
func (l *Loader) Load(ctx context.Context, req Request) (Result, error) {
	pipeline := fn.Then(
		fn.TracedStage("ingest.resolve", l.resolveStage),
		fn.Then(
			fn.TracedStage("ingest.read", readStage),
			fn.TracedStage("ingest.store", l.storeStage),
		),
	)
	return pipeline(ctx, req).Unwrap()
}

// LoadFile ingests a CSV file at an arbitrary path. It is meant for
// operators; the HTTP API only loads from the data directory.
func (l *Loader) LoadFile(ctx context.Context, path string, opts Options) (Result, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Result{}, fmt.Errorf("ingest: stat %s: %w", path, err)
	}
	pipeline := fn.Then(
		fn.TracedStage("ingest.read", readStage),
		fn.TracedStage("ingest.store", l.storeStage),
	)
	return pipeline(ctx, source{name: filepath.Base(path), path: path, opts: opts}).Unwrap()
}

// List returns the CSV file names in the data directory, sorted.
func (l *Loader) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("ingest: list %s: %w", l.dir, err)
	}
	files := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Resolve maps a file name to its path in the data directory.
func (l *Loader) Resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		return "", fmt.Errorf("%w: %q is not a .csv file", ErrInvalidName, name)
	}
	path := filepath.Join(l.dir, name)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return "", fmt.Errorf("%w: CSV file '%s' not found in %s", ErrNotFound, name, l.dir)
	}
	if err != nil {
		return "", fmt.Errorf("ingest: stat %s: %w", path, err)
	}
	return path, nil
}

func (l *Loader) resolveStage(_ context.Context, req Request) fn.Result[source] {
	path, err := l.Resolve(req.Filename)
	if err != nil {
		return fn.Err[source](err)
	}
	return fn.Ok(source{name: req.Filename, path: path, opts: req.Options})
}

func readStage(_ context.Context, src source) fn.Result[parsed] {
	f, err := os.Open(src.path)
	if err != nil {
		return fn.Errf[parsed]("ingest: open %s: %w", src.name, err)
	}
	defer f.Close()

	batch, err := ReadCSV(f, src.opts)
	if err != nil {
		return fn.Err[parsed](err)
	}
	return fn.Ok(parsed{name: src.name, batch: batch})
}

func (l *Loader) storeStage(ctx context.Context, p parsed) fn.Result[Result] {
	b := p.batch
	stored := 0
	for _, w := range fn.Chunks(b.Len(), l.batchSize) {
		req := semantic.AddRequest{
			Documents: b.Documents[w[0]:w[1]],
			IDs:       b.IDs[w[0]:w[1]],
			Metadatas: b.Metadatas[w[0]:w[1]],
		}
		if err := l.coll.Add(ctx, req); err != nil {
			return fn.Errf[Result]("ingest: %s: rows %d-%d (%d stored before failure): %w", p.name, w[0], w[1]-1, stored, err)
		}
		stored += w[1] - w[0]
		l.metrics.AddDocuments("csv", w[1]-w[0])
	}

	res := Result{
		Filename:      p.name,
		Collection:    l.coll.Name(),
		DocumentCount: stored,
		Columns:       b.Columns,
	}
	l.log.Info("csv loaded",
		zap.String("file", res.Filename),
		zap.String("collection", res.Collection),
		zap.Int("documents", res.DocumentCount),
	)

	ev := events.CSVLoaded{
		Collection: res.Collection,
		Filename:   res.Filename,
		Count:      res.DocumentCount,
		Columns:    res.Columns,
		At:         time.Now().UTC(),
	}
	if err := l.events.Publish(ctx, events.SubjectCSVLoaded, ev); err != nil {
		l.log.Warn("publish csv loaded event", zap.Error(err))
	}
	return fn.Ok(res)
}
