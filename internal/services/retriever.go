package services

import (
	"context"
	"fmt"

	"docbrief/internal/storage"
)

type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) [][]float32
}

type VectorSearcher interface {
	SimilaritySearch(ctx context.Context, userID string, embedding []float32, k int, threshold float64) ([]*storage.ScoredChunk, error)
}

type RetrievalStatus string

const (
	RetrievalOK          RetrievalStatus = "ok"
	RetrievalNoEmbedding RetrievalStatus = "no_embedding"
)

type SearchOptions struct {
	K         int
	Threshold float64
}

var (
	SearchDefaults = SearchOptions{K: 5, Threshold: 0.3}
	// Briefs cast a wider net because the derived query is noisier.
	BriefDefaults = SearchOptions{K: 10, Threshold: 0.2}
)

type Retrieval struct {
	Status RetrievalStatus
	Chunks []*storage.ScoredChunk
}

// Retriever embeds a query and looks up the user's closest chunks.
type Retriever struct {
	embedder BatchEmbedder
	store    VectorSearcher
}

func NewRetriever(embedder BatchEmbedder, store VectorSearcher) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve returns RetrievalNoEmbedding with no chunks when the query cannot be
// embedded. Only store failures are returned as errors.
func (r *Retriever) Retrieve(ctx context.Context, userID, query string, opts SearchOptions) (*Retrieval, error) {
	vectors := r.embedder.EmbedBatch(ctx, []string{query})
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return &Retrieval{Status: RetrievalNoEmbedding}, nil
	}

	chunks, err := r.store.SimilaritySearch(ctx, userID, vectors[0], opts.K, opts.Threshold)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return &Retrieval{Status: RetrievalOK, Chunks: chunks}, nil
}
