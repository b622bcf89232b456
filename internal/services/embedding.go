package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"docbrief/internal/metrics"
)

type EmbeddingService struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	timeout time.Duration
}

func NewEmbeddingService(apiKey, model string, timeout time.Duration) *EmbeddingService {
	return NewEmbeddingServiceWithClient(openai.NewClient(apiKey), model, timeout)
}

func NewEmbeddingServiceWithClient(client *openai.Client, model string, timeout time.Duration) *EmbeddingService {
	return &EmbeddingService{
		client:  client,
		model:   openai.EmbeddingModel(model),
		timeout: timeout,
	}
}

// EmbedBatch embeds texts in a single API call. The result always has one entry
// per input; every entry is nil when the call fails.
func (e *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out
	}

	vectors, err := e.create(ctx, texts)
	if err != nil {
		metrics.EmbeddingBatches.WithLabelValues("error").Inc()
		slog.Error("Embedding batch failed", "batch_size", len(texts), "error", err)
		return out
	}

	metrics.EmbeddingBatches.WithLabelValues("success").Inc()
	return vectors
}

func (e *EmbeddingService) create(ctx context.Context, texts []string) ([][]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: e.model,
	})
	metrics.EmbeddingBatchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(texts), len(resp.Data))
	}

	embeddings := make([][]float32, len(texts))
	for i, data := range resp.Data {
		idx := data.Index
		if idx < 0 || idx >= len(texts) || embeddings[idx] != nil {
			// Positional order if the indexes are unusable.
			idx = i
		}
		embeddings[idx] = data.Embedding
	}
	return embeddings, nil
}
