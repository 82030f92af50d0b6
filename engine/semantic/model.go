package semantic

import (
	"context"
	"errors"
)

// EmbeddingFunction maps texts to vectors, one per text and in the same order.
// The Collection calls it for both indexing and querying.
type EmbeddingFunction interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrInvalidRequest marks caller errors (mismatched lengths, duplicate ids).
var ErrInvalidRequest = errors.New("semantic: invalid request")

// SearchResult represents a single vector search hit.
type SearchResult struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Document string         `json:"document"`
	Metadata map[string]any `json:"metadata"`
}

// VectorRecord is a single point to store in Qdrant.
type VectorRecord struct {
	ID        string // caller-facing document id
	Document  string
	Embedding []float32
	Metadata  map[string]any
}

// AddRequest is a batch of documents to index.
type AddRequest struct {
	Documents []string         `json:"documents"`
	IDs       []string         `json:"ids"`
	Metadatas []map[string]any `json:"metadatas,omitempty"`
}

// QueryResult is column-oriented: each outer slice has one entry per query
// text, each inner slice one entry per hit ordered by increasing distance.
type QueryResult struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]string         `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
	Distances [][]float32        `json:"distances"`
}

// Info summarises a collection.
type Info struct {
	Name          string `json:"collection_name"`
	DocumentCount uint64 `json:"document_count"`
	StoreVersion  string `json:"vector_store_version"`
}
