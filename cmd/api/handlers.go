package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llm4vc/backend/engine/events"
	"github.com/llm4vc/backend/engine/ingest"
	"github.com/llm4vc/backend/engine/semantic"
	"github.com/llm4vc/backend/pkg/metrics"
	"github.com/llm4vc/backend/pkg/ollama"
)

const defaultNResults = 5

// Collection is the document collection the API reads and writes.
type Collection interface {
	Name() string
	Add(ctx context.Context, req semantic.AddRequest) error
	Query(ctx context.Context, texts []string, n int) (semantic.QueryResult, error)
	Reset(ctx context.Context) error
	Info(ctx context.Context) (semantic.Info, error)
}

// Loader ingests CSV files from the data directory.
type Loader interface {
	Load(ctx context.Context, req ingest.Request) (ingest.Result, error)
	List() ([]string, error)
}

// Embedder is the embedding service client.
type Embedder interface {
	Embeddings(ctx context.Context, prompt string) ([]float32, error)
	ListModels(ctx context.Context) ([]ollama.Model, error)
	BaseURL() string
	Model() string
}

// API holds the dependencies shared by the HTTP handlers.
type API struct {
	Collection Collection
	Loader     Loader
	Embedder   Embedder
	Events     events.Publisher
	Metrics    *metrics.Metrics
	Log        *zap.Logger
}

// Routes registers every endpoint on a new mux. The /chroma/* paths are kept
// for clients written against the earlier Chroma-backed service.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleRoot)
	mux.HandleFunc("GET /health", handleHealth)

	for _, prefix := range []string{"/collection", "/chroma"} {
		mux.HandleFunc("GET "+prefix+"/info", a.handleInfo)
		mux.HandleFunc("POST "+prefix+"/add", a.handleAdd)
		mux.HandleFunc("GET "+prefix+"/query", a.handleQuery)
		mux.HandleFunc("DELETE "+prefix+"/clear", a.handleClear)
		mux.HandleFunc("POST "+prefix+"/load-csv", a.handleLoadCSV)
	}

	mux.HandleFunc("GET /data/list", a.handleListData)
	mux.HandleFunc("POST /embed", a.handleEmbed)
	mux.HandleFunc("GET /ollama/status", a.handleOllamaStatus)
	mux.Handle("GET /metrics", a.Metrics.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Status: "error", Message: msg})
}

// fail logs err and writes it with the status code it maps to.
func (a *API) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.Log.Error(op+" failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	} else {
		a.Log.Info(op+" rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func (a *API) publish(ctx context.Context, subject string, ev any) {
	if err := a.Events.Publish(ctx, subject, ev); err != nil {
		a.Log.Warn("publish event", zap.String("subject", subject), zap.Error(err))
	}
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to the LLM-4-VC backend",
		"status":  "running",
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.Collection.Info(r.Context())
	if err != nil {
		a.fail(w, r, "collection info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type addResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Collection string `json:"collection_name"`
}

func (a *API) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req semantic.AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := a.Collection.Add(r.Context(), req); err != nil {
		a.fail(w, r, "add documents", err)
		return
	}
	a.Metrics.AddDocuments("api", len(req.Documents))
	a.publish(r.Context(), events.SubjectDocumentsAdded, events.DocumentsAdded{
		Collection: a.Collection.Name(),
		Count:      len(req.Documents),
		At:         time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, addResponse{
		Status:     "success",
		Message:    fmt.Sprintf("Added %d documents to collection", len(req.Documents)),
		Collection: a.Collection.Name(),
	})
}

type queryResponse struct {
	Status  string               `json:"status"`
	Query   string               `json:"query"`
	Results semantic.QueryResult `json:"results"`
}

func (a *API) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("query_text")
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "query_text is required")
		return
	}
	n := defaultNResults
	if raw := q.Get("n_results"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "n_results must be a positive integer")
			return
		}
		n = v
	}

	res, err := a.Collection.Query(r.Context(), []string{text}, n)
	if err != nil {
		a.fail(w, r, "query", err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Status: "success", Query: text, Results: res})
}

func (a *API) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := a.Collection.Reset(r.Context()); err != nil {
		a.fail(w, r, "clear collection", err)
		return
	}
	a.publish(r.Context(), events.SubjectCollectionCleared, events.CollectionCleared{
		Collection: a.Collection.Name(),
		At:         time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Collection cleared successfully",
	})
}

type loadResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	ingest.Result
}

func (a *API) handleLoadCSV(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filename := q.Get("filename")
	if filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}
	res, err := a.Loader.Load(r.Context(), ingest.Request{
		Filename: filename,
		Options: ingest.Options{
			TextColumn: q.Get("text_column"),
			IDColumn:   q.Get("id_column"),
		},
	})
	if err != nil {
		a.fail(w, r, "load csv", err)
		return
	}
	writeJSON(w, http.StatusOK, loadResponse{
		Status:  "success",
		Message: fmt.Sprintf("Loaded %d documents from %s", res.DocumentCount, res.Filename),
		Result:  res,
	})
}

type listResponse struct {
	Status string   `json:"status"`
	Files  []string `json:"files"`
	Count  int      `json:"count"`
}

func (a *API) handleListData(w http.ResponseWriter, r *http.Request) {
	files, err := a.Loader.List()
	if err != nil {
		a.Log.Error("list data dir", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Status: "success", Files: files, Count: len(files)})
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding  []float32 `json:"embedding"`
	Dimensions int       `json:"dimensions"`
	Model      string    `json:"model"`
}

func (a *API) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	vec, err := a.Embedder.Embeddings(r.Context(), req.Text)
	if err != nil {
		a.fail(w, r, "embed", err)
		return
	}
	writeJSON(w, http.StatusOK, embedResponse{Embedding: vec, Dimensions: len(vec), Model: a.Embedder.Model()})
}

type ollamaStatus struct {
	Status          string   `json:"status"`
	BaseURL         string   `json:"base_url"`
	EmbeddingModel  string   `json:"embedding_model"`
	AvailableModels []string `json:"available_models"`
}

func (a *API) handleOllamaStatus(w http.ResponseWriter, r *http.Request) {
	models, err := a.Embedder.ListModels(r.Context())
	if err != nil {
		a.Log.Warn("ollama status", zap.Error(err))
		writeJSON(w, statusFor(err), map[string]string{
			"status":   "error",
			"message":  err.Error(),
			"base_url": a.Embedder.BaseURL(),
		})
		return
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	writeJSON(w, http.StatusOK, ollamaStatus{
		Status:          "healthy",
		BaseURL:         a.Embedder.BaseURL(),
		EmbeddingModel:  a.Embedder.Model(),
		AvailableModels: names,
	})
}
