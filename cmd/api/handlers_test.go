package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/llm4vc/backend/engine/events"
	"github.com/llm4vc/backend/engine/ingest"
	"github.com/llm4vc/backend/engine/semantic"
	"github.com/llm4vc/backend/pkg/config"
	"github.com/llm4vc/backend/pkg/metrics"
	"github.com/llm4vc/backend/pkg/ollama"
	"github.com/llm4vc/backend/pkg/resilience"
)

// --- fakes ---

type fakeCollection struct {
	mu       sync.Mutex
	added    []semantic.AddRequest
	queries  []int
	resets   int
	addErr   error
	queryErr error
	resetErr error
	info     semantic.Info
	infoErr  error
	result   semantic.QueryResult
}

func (f *fakeCollection) Name() string { return "welcome_collection" }

func (f *fakeCollection) Add(_ context.Context, req semantic.AddRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, req)
	return nil
}

func (f *fakeCollection) Query(_ context.Context, _ []string, n int) (semantic.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, n)
	return f.result, f.queryErr
}

func (f *fakeCollection) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return f.resetErr
}

func (f *fakeCollection) Info(context.Context) (semantic.Info, error) {
	return f.info, f.infoErr
}

type fakeLoader struct {
	files   []string
	listErr error
	got     ingest.Request
	res     ingest.Result
	loadErr error
}

func (f *fakeLoader) Load(_ context.Context, req ingest.Request) (ingest.Result, error) {
	f.got = req
	return f.res, f.loadErr
}

func (f *fakeLoader) List() ([]string, error) { return f.files, f.listErr }

type fakeEmbedder struct {
	vec       []float32
	err       error
	models    []ollama.Model
	modelsErr error
}

func (f *fakeEmbedder) Embeddings(context.Context, string) ([]float32, error) { return f.vec, f.err }

func (f *fakeEmbedder) ListModels(context.Context) ([]ollama.Model, error) {
	return f.models, f.modelsErr
}

func (f *fakeEmbedder) BaseURL() string { return "http://ollama:11434" }
func (f *fakeEmbedder) Model() string { return "nomic-embed-text" }

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

type fixture struct {
	coll    *fakeCollection
	loader  *fakeLoader
	embed   *fakeEmbedder
	events  *recordingPublisher
	metrics *metrics.Metrics
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		coll:    &fakeCollection{},
		loader:  &fakeLoader{},
		embed:   &fakeEmbedder{},
		events:  &recordingPublisher{},
		metrics: metrics.New("api-test"),
	}
	api := &API{
		Collection: f.coll,
		Loader:     f.loader,
		Embedder:   f.embed,
		Events:     f.events,
		Metrics:    f.metrics,
		Log:        zaptest.NewLogger(t),
	}
	cfg := config.Default()
	f.handler = newHandler(api, cfg, api.Log)
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

// --- tests ---

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", body["status"])
	assert.NotEmpty(t, body["message"])

	rec, body = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "healthy"}, body)

	rec, _ = f.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInfo(t *testing.T) {
	f := newFixture(t)
	f.coll.info = semantic.Info{Name: "welcome_collection", DocumentCount: 42, StoreVersion: "1.12.0"}

	rec, body := f.do(t, http.MethodGet, "/collection/info", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "welcome_collection", body["collection_name"])
	assert.Equal(t, 42.0, body["document_count"])
	assert.Equal(t, "1.12.0", body["vector_store_version"])

	f.coll.infoErr = errors.New("qdrant unavailable")
	rec, body = f.do(t, http.MethodGet, "/collection/info", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "qdrant unavailable", body["message"])
}

func TestAdd(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/collection/add",
		`{"documents":["a","b"],"ids":["1","2"],"metadatas":[{"k":"v"},{"k":"w"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Added 2 documents to collection", body["message"])
	assert.Equal(t, "welcome_collection", body["collection_name"])

	require.Len(t, f.coll.added, 1)
	assert.Equal(t, []string{"a", "b"}, f.coll.added[0].Documents)
	assert.Equal(t, "w", f.coll.added[0].Metadatas[1]["k"])
	assert.Equal(t, []string{events.SubjectDocumentsAdded}, f.events.subjects)
}

func TestAddErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"bad json", `{"documents":`, nil, http.StatusBadRequest},
		{"invalid", `{"documents":["a"],"ids":[]}`, fmt.Errorf("%w: ids", semantic.ErrInvalidRequest), http.StatusBadRequest},
		{"breaker open", `{"documents":["a"],"ids":["1"]}`, fmt.Errorf("embed batch [0]: %w", resilience.ErrCircuitOpen), http.StatusServiceUnavailable},
		{"upstream", `{"documents":["a"],"ids":["1"]}`, errors.New("connection refused"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.coll.addErr = tc.err

			rec, body := f.do(t, http.MethodPost, "/collection/add", tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "error", body["status"])
			assert.NotEmpty(t, body["message"])
			assert.Empty(t, f.events.subjects)
		})
	}
}

func TestQuery(t *testing.T) {
	f := newFixture(t)
	f.coll.result = semantic.QueryResult{
		IDs:       [][]string{{"1"}},
		Documents: [][]string{{"seed stage fintech"}},
		Metadatas: [][]map[string]any{{{"stage": "seed"}}},
		Distances: [][]float32{{0.25}},
	}

	rec, body := f.do(t, http.MethodGet, "/collection/query?query_text=fintech", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "fintech", body["query"])
	results := body["results"].(map[string]any)
	assert.Equal(t, []any{[]any{"seed stage fintech"}}, results["documents"])
	assert.Equal(t, []any{[]any{0.25}}, results["distances"])
	assert.Equal(t, []int{defaultNResults}, f.coll.queries)

	rec, _ = f.do(t, http.MethodGet, "/collection/query?query_text=fintech&n_results=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{defaultNResults, 2}, f.coll.queries)
}

func TestQueryValidation(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{
		"/collection/query",
		"/collection/query?query_text=%20",
		"/collection/query?query_text=x&n_results=0",
		"/collection/query?query_text=x&n_results=abc",
	} {
		rec, body := f.do(t, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, "error", body["status"], target)
	}
	assert.Empty(t, f.coll.queries)
}

func TestClear(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodDelete, "/collection/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, 1, f.coll.resets)
	assert.Equal(t, []string{events.SubjectCollectionCleared}, f.events.subjects)

	rec, _ = f.do(t, http.MethodGet, "/collection/clear", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLoadCSV(t *testing.T) {
	f := newFixture(t)
	f.loader.res = ingest.Result{
		Filename:      "startups.csv",
		Collection:    "welcome_collection",
		DocumentCount: 3,
		Columns:       []string{"id", "name"},
	}

	rec, body := f.do(t, http.MethodPost, "/collection/load-csv?filename=startups.csv&text_column=name&id_column=id", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Loaded 3 documents from startups.csv", body["message"])
	assert.Equal(t, 3.0, body["document_count"])
	assert.Equal(t, []any{"id", "name"}, body["columns"])
	assert.Equal(t, "welcome_collection", body["collection_name"])

	assert.Equal(t, "startups.csv", f.loader.got.Filename)
	assert.Equal(t, "name", f.loader.got.TextColumn)
	assert.Equal(t, "id", f.loader.got.IDColumn)
}

func TestLoadCSVErrors(t *testing.T) {
	cases := []struct {
		name   string
		target string
		err    error
		status int
	}{
		{"no filename", "/collection/load-csv", nil, http.StatusBadRequest},
		{"missing", "/collection/load-csv?filename=x.csv", fmt.Errorf("%w: x.csv", ingest.ErrNotFound), http.StatusNotFound},
		{"empty", "/collection/load-csv?filename=x.csv", ingest.ErrEmpty, http.StatusBadRequest},
		{"malformed", "/collection/load-csv?filename=x.csv", ingest.ErrMalformed, http.StatusBadRequest},
		{"traversal", "/collection/load-csv?filename=..%2Fetc.csv", ingest.ErrInvalidName, http.StatusBadRequest},
		{"store", "/collection/load-csv?filename=x.csv", errors.New("qdrant down"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.loader.loadErr = tc.err

			rec, body := f.do(t, http.MethodPost, tc.target, "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "error", body["status"])
		})
	}
}

func TestLegacyChromaRoutes(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodGet, "/chroma/query?query_text=x", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodDelete, "/chroma/clear", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodGet, "/chroma/info", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListData(t *testing.T) {
	f := newFixture(t)
	f.loader.files = []string{"a.csv", "b.csv"}

	rec, body := f.do(t, http.MethodGet, "/data/list", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, []any{"a.csv", "b.csv"}, body["files"])
	assert.Equal(t, 2.0, body["count"])

	f.loader.listErr = errors.New("permission denied")
	rec, body = f.do(t, http.MethodGet, "/data/list", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error", body["status"])
}

func TestEmbed(t *testing.T) {
	f := newFixture(t)
	f.embed.vec = []float32{0.5, -1, 2}

	rec, body := f.do(t, http.MethodPost, "/embed", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{0.5, -1.0, 2.0}, body["embedding"])
	assert.Equal(t, 3.0, body["dimensions"])
	assert.Equal(t, "nomic-embed-text", body["model"])

	rec, _ = f.do(t, http.MethodPost, "/embed", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = f.do(t, http.MethodPost, "/embed", `nope`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.embed.err = &ollama.StatusError{StatusCode: 500, Message: "model not loaded"}
	rec, body = f.do(t, http.MethodPost, "/embed", `{"text":"hello"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, body["message"], "model not loaded")
}

func TestOllamaStatus(t *testing.T) {
	f := newFixture(t)
	f.embed.models = []ollama.Model{{Name: "nomic-embed-text:latest"}, {Name: "llama3:8b"}}

	rec, body := f.do(t, http.MethodGet, "/ollama/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "http://ollama:11434", body["base_url"])
	assert.Equal(t, "nomic-embed-text", body["embedding_model"])
	assert.Equal(t, []any{"nomic-embed-text:latest", "llama3:8b"}, body["available_models"])

	f.embed.modelsErr = errors.New("dial tcp: connection refused")
	rec, body = f.do(t, http.MethodGet, "/ollama/status", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "http://ollama:11434", body["base_url"])
}

func TestCORSThroughStack(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/collection/query", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/health", "")
	f.do(t, http.MethodPost, "/collection/add", `{"documents":["a"],"ids":["1"]}`)

	rec, _ := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	text := rec.Body.String()
	assert.Contains(t, text, `llm4vc_http_requests_total{method="GET",route="GET /health",service="api-test",status="200"} 1`)
	assert.Contains(t, text, `llm4vc_documents_ingested_total{service="api-test",source="api"} 1`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(semantic.ErrInvalidRequest))
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("wrap: %w", ingest.ErrNotFound)))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(resilience.ErrCircuitOpen))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusBadGateway, statusFor(errors.New("anything else")))
}
