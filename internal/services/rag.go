package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docbrief/internal/metrics"
)

// ErrQueryEmbedding means the query could not be embedded, so no search ran.
var ErrQueryEmbedding = errors.New("failed to embed query")

const previewLength = 200

type Source struct {
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	DocumentType  string  `json:"document_type"`
	DocumentURL   string  `json:"document_url"`
	DocumentOwner string  `json:"document_owner"`
	Similarity    float64 `json:"similarity"`
	ChunkPreview  string  `json:"chunk_preview"`
}

type QueryResult struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	Query   string   `json:"query"`
}

type RAGService struct {
	retriever   *Retriever
	synthesizer *Synthesizer
}

func NewRAGService(retriever *Retriever, synthesizer *Synthesizer) *RAGService {
	return &RAGService{
		retriever:   retriever,
		synthesizer: synthesizer,
	}
}

func (r *RAGService) Query(ctx context.Context, userID, query string) (result *QueryResult, err error) {
	start := time.Now()
	defer func() {
		metrics.QueriesProcessed.WithLabelValues(metrics.StatusLabel(err)).Inc()
		metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}()

	slog.Info("RAG query started", "user_id", userID, "query", query)

	retrieval, err := r.retriever.Retrieve(ctx, userID, query, SearchDefaults)
	if err != nil {
		slog.Error("Failed to search similar chunks", "user_id", userID, "error", err)
		return nil, err
	}
	if retrieval.Status == RetrievalNoEmbedding {
		return nil, ErrQueryEmbedding
	}
	slog.Info("Vector search completed", "user_id", userID, "chunks_found", len(retrieval.Chunks))

	answer := r.synthesizer.Answer(ctx, query, retrieval.Chunks)

	sources := make([]Source, 0, len(retrieval.Chunks))
	for _, c := range retrieval.Chunks {
		sources = append(sources, Source{
			DocumentID:    c.DocumentID,
			DocumentTitle: c.DocumentTitle,
			DocumentType:  c.DocumentType,
			DocumentURL:   c.DocumentURL,
			DocumentOwner: c.DocumentOwner,
			Similarity:    c.Similarity,
			ChunkPreview:  preview(c.ChunkText, previewLength),
		})
	}

	return &QueryResult{
		Answer:  answer,
		Sources: sources,
		Query:   query,
	}, nil
}

func preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
