// Package ollama is a small client for the Ollama HTTP API and the embedding
// function that bridges it to the vector store.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/llm4vc/backend/pkg/metrics"
	"github.com/llm4vc/backend/pkg/resilience"
)

// Client talks to a single Ollama server with a fixed embedding model.
type Client struct {
	baseURL    string
	model      string
	client     *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.Breaker
	metrics    *metrics.Metrics
	maxRetries uint64
	retryBase  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithRateLimit paces outbound requests. A non-positive rate disables pacing.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithBreaker guards embedding calls with a circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithRetry sets how many times a transient failure is retried, with
// Fibonacci backoff starting at base.
func WithRetry(maxRetries uint64, base time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryBase = base
	}
}

// WithMetrics records embedding call outcomes and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates an Ollama client for baseURL using model for embeddings.
func NewClient(baseURL, model string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		client:     &http.Client{Timeout: 30 * time.Second},
		maxRetries: 2,
		retryBase:  250 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the server address the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// Model returns the embedding model name.
func (c *Client) Model() string { return c.model }

// StatusError is returned when Ollama answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ollama: status %d", e.StatusCode)
	}
	return fmt.Sprintf("ollama: status %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// ErrEmptyEmbedding is returned when the server replies without a vector.
var ErrEmptyEmbedding = errors.New("ollama: empty embedding")

type embedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embeddings returns the embedding of prompt under the client's model.
// Transient failures are retried; the breaker, when set, sees one call per
// Embeddings invocation.
func (c *Client) Embeddings(ctx context.Context, prompt string) ([]float32, error) {
	call := func(ctx context.Context) ([]float32, error) {
		return c.embedWithRetry(ctx, prompt)
	}
	if c.breaker == nil {
		return call(ctx)
	}
	return resilience.Do(ctx, c.breaker, call)
}

func (c *Client) embedWithRetry(ctx context.Context, prompt string) ([]float32, error) {
	var out []float32
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewFibonacci(c.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		start := time.Now()
		v, err := c.embedOnce(ctx, prompt)
		c.metrics.ObserveEmbed(err, time.Since(start))
		if err != nil {
			if retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) embedOnce(ctx context.Context, prompt string) ([]float32, error) {
	var result embedResp
	if err := c.do(ctx, http.MethodPost, "/api/embeddings", embedReq{Model: c.model, Prompt: prompt}, &result); err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// Model describes a locally available model.
type Model struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
	ModifiedAt time.Time `json:"modified_at"`
}

// ListModels returns the models the server has pulled.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	var result struct {
		Models []Model `json:"models"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &result); err != nil {
		return nil, fmt.Errorf("ollama list models: %w", err)
	}
	return result.Models, nil
}

// Version returns the server version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var result struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &result); err != nil {
		return "", fmt.Errorf("ollama version: %w", err)
	}
	return result.Version, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode}
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiErr) == nil {
			se.Message = apiErr.Error
		}
		return se
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// retryable reports whether err is worth another attempt. Context errors and
// 4xx replies other than 429 are permanent.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptyEmbedding) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

// IsUpstreamFailure reports whether err indicates the embedding service
// itself is unhealthy, as opposed to a bad request. Used as the breaker's
// failure predicate.
func IsUpstreamFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
