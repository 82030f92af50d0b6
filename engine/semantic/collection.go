package semantic

import (
	"context"
	"fmt"
)

// Store is what a Collection needs from the vector database. *VectorStore
// satisfies it.
type Store interface {
	Name() string
	Exists(ctx context.Context) (bool, error)
	EnsureCollection(ctx context.Context, dims int) error
	DeleteCollection(ctx context.Context) error
	Upsert(ctx context.Context, records []VectorRecord) error
	Search(ctx context.Context, embedding []float32, topK int) ([]SearchResult, error)
	Count(ctx context.Context) (uint64, error)
	ServerVersion(ctx context.Context) (string, error)
}

// Collection binds a Qdrant collection to the embedding function used to
// index and query it. Every Add ensures the collection exists, sized to the
// embedding dimension, so a Reset from any process is followed by a
// recreate on the next Add.
type Collection struct {
	store Store
	embed EmbeddingFunction
}

// NewCollection returns a Collection over store that vectorises text with embed.
func NewCollection(store Store, embed EmbeddingFunction) *Collection {
	return &Collection{store: store, embed: embed}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.store.Name() }

// Add embeds and stores a batch of documents. Re-adding an id replaces it.
func (c *Collection) Add(ctx context.Context, req AddRequest) error {
	if err := validateAdd(req); err != nil {
		return err
	}

	vectors, err := c.embed.Embed(ctx, req.Documents)
	if err != nil {
		return fmt.Errorf("semantic: embed documents: %w", err)
	}
	if len(vectors) != len(req.Documents) {
		return fmt.Errorf("semantic: embedding function returned %d vectors for %d documents", len(vectors), len(req.Documents))
	}
	if err := c.store.EnsureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	records := make([]VectorRecord, len(req.Documents))
	for i := range req.Documents {
		records[i] = VectorRecord{
			ID:        req.IDs[i],
			Document:  req.Documents[i],
			Embedding: vectors[i],
		}
		if len(req.Metadatas) > 0 {
			records[i].Metadata = req.Metadatas[i]
		}
	}
	return c.store.Upsert(ctx, records)
}

func validateAdd(req AddRequest) error {
	if len(req.Documents) == 0 {
		return fmt.Errorf("%w: no documents", ErrInvalidRequest)
	}
	if len(req.IDs) != len(req.Documents) {
		return fmt.Errorf("%w: %d ids for %d documents", ErrInvalidRequest, len(req.IDs), len(req.Documents))
	}
	if len(req.Metadatas) != 0 && len(req.Metadatas) != len(req.Documents) {
		return fmt.Errorf("%w: %d metadatas for %d documents", ErrInvalidRequest, len(req.Metadatas), len(req.Documents))
	}
	seen := make(map[string]struct{}, len(req.IDs))
	for i, id := range req.IDs {
		if id == "" {
			return fmt.Errorf("%w: empty id at index %d", ErrInvalidRequest, i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidRequest, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Query returns the n nearest documents for each query text.
func (c *Collection) Query(ctx context.Context, texts []string, n int) (QueryResult, error) {
	var out QueryResult
	if len(texts) == 0 {
		return out, fmt.Errorf("%w: no query texts", ErrInvalidRequest)
	}
	if n <= 0 {
		return out, fmt.Errorf("%w: n_results must be positive, got %d", ErrInvalidRequest, n)
	}

	out = QueryResult{
		IDs:       make([][]string, len(texts)),
		Documents: make([][]string, len(texts)),
		Metadatas: make([][]map[string]any, len(texts)),
		Distances: make([][]float32, len(texts)),
	}

	exists, err := c.store.Exists(ctx)
	if err != nil {
		return QueryResult{}, err
	}
	if !exists {
		for i := range texts {
			out.IDs[i] = []string{}
			out.Documents[i] = []string{}
			out.Metadatas[i] = []map[string]any{}
			out.Distances[i] = []float32{}
		}
		return out, nil
	}

	vectors, err := c.embed.Embed(ctx, texts)
	if err != nil {
		return QueryResult{}, fmt.Errorf("semantic: embed query: %w", err)
	}
	if len(vectors) != len(texts) {
		return QueryResult{}, fmt.Errorf("semantic: embedding function returned %d vectors for %d queries", len(vectors), len(texts))
	}

	for i, vec := range vectors {
		hits, err := c.store.Search(ctx, vec, n)
		if err != nil {
			return QueryResult{}, err
		}
		out.IDs[i] = make([]string, len(hits))
		out.Documents[i] = make([]string, len(hits))
		out.Metadatas[i] = make([]map[string]any, len(hits))
		out.Distances[i] = make([]float32, len(hits))
		for j, h := range hits {
			out.IDs[i][j] = h.ID
			out.Documents[i][j] = h.Document
			out.Metadatas[i][j] = h.Metadata
			out.Distances[i][j] = 1 - h.Score
		}
	}
	return out, nil
}

// Count returns the number of stored documents; a missing collection has none.
func (c *Collection) Count(ctx context.Context) (uint64, error) {
	exists, err := c.store.Exists(ctx)
	if err != nil || !exists {
		return 0, err
	}
	return c.store.Count(ctx)
}

// Reset drops every document. The collection is recreated by the next Add.
func (c *Collection) Reset(ctx context.Context) error {
	return c.store.DeleteCollection(ctx)
}

// Info reports the collection name, its size and the store's version.
func (c *Collection) Info(ctx context.Context) (Info, error) {
	count, err := c.Count(ctx)
	if err != nil {
		return Info{}, err
	}
	version, err := c.store.ServerVersion(ctx)
	if err != nil {
		return Info{}, err
	}
	return Info{Name: c.store.Name(), DocumentCount: count, StoreVersion: version}, nil
}
