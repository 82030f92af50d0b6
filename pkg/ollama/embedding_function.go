package ollama

import (
	"context"
	"fmt"
)

// EmbeddingFunction turns a batch of texts into vectors through Ollama. The
// server has no batch endpoint, so each text is a separate call, made in
// input order.
type EmbeddingFunction struct {
	client *Client
}

// NewEmbeddingFunction wraps c as an embedding function.
func NewEmbeddingFunction(c *Client) *EmbeddingFunction {
	return &EmbeddingFunction{client: c}
}

// Embed returns one vector per text, aligned with texts. The first failure
// aborts the batch.
func (f *EmbeddingFunction) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f.client.Embeddings(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d]: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// Model returns the embedding model name.
func (f *EmbeddingFunction) Model() string { return f.client.Model() }
