package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docbrief/internal/integrations/google"
	"docbrief/internal/locking"
	"docbrief/internal/metrics"
	"docbrief/internal/storage"
)

var (
	ErrAuth      = errors.New("google credential missing or expired, re-authentication required")
	ErrListFiles = errors.New("failed to list drive files")
)

const (
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"

	OutcomeIndexed = "indexed"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"

	sourceTag = "google_drive"
)

type FileSource interface {
	ListFiles(ctx context.Context, accessToken string, limit int) ([]google.DriveFile, error)
	Extract(ctx context.Context, accessToken string, file google.DriveFile) (string, error)
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) [][]float32
}

type ChunkWriter interface {
	ReplaceDocument(ctx context.Context, userID, documentID string, chunks []*storage.DocumentChunk) error
}

type CredentialSource interface {
	GetValidCredential(ctx context.Context, userID, provider string) (string, error)
}

type Config struct {
	BatchSize          int
	FileLimit          int
	EmbeddingBatchSize int
	Params             Params
}

func DefaultConfig() Config {
	p, _ := Preset(DefaultPreset)
	return Config{
		BatchSize:          5,
		FileLimit:          50,
		EmbeddingBatchSize: 20,
		Params:             p,
	}
}

// Request is one step of a resumable indexing run.
type Request struct {
	UserID string
	Offset int
	// Params overrides the configured chunking when set.
	Params *Params
}

type FileResult struct {
	FileID   string `json:"file_id"`
	Name     string `json:"name"`
	Outcome  string `json:"outcome"`
	Reason   string `json:"reason,omitempty"`
	Chunks   int    `json:"chunks"`
	Embedded int    `json:"embedded"`
}

type Report struct {
	Processed int          `json:"processed"`
	Remaining int          `json:"remaining"`
	Total     int          `json:"total"`
	Status    string       `json:"status"`
	Files     []FileResult `json:"files,omitempty"`
}

// Indexer runs the extract, chunk, embed and store pipeline over one batch of
// a user's Drive files. Callers resume with Offset+Processed until Status is complete.
type Indexer struct {
	files       FileSource
	embedder    Embedder
	store       ChunkWriter
	credentials CredentialSource
	locker      locking.Locker
	cfg         Config
}

func NewIndexer(files FileSource, embedder Embedder, store ChunkWriter, credentials CredentialSource, locker locking.Locker, cfg Config) *Indexer {
	if locker == nil {
		locker = locking.NoopLocker{}
	}
	return &Indexer{
		files:       files,
		embedder:    embedder,
		store:       store,
		credentials: credentials,
		locker:      locker,
		cfg:         cfg,
	}
}

func (ix *Indexer) Run(ctx context.Context, req Request) (report *Report, err error) {
	start := time.Now()
	defer func() {
		metrics.IndexRuns.WithLabelValues(metrics.StatusLabel(err)).Inc()
	}()

	params := ix.cfg.Params
	if req.Params != nil {
		params = *req.Params
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	release, err := ix.locker.Acquire(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			slog.Warn("Failed to release indexing lock", "user_id", req.UserID, "error", rerr)
		}
	}()

	token, err := ix.credentials.GetValidCredential(ctx, req.UserID, google.Provider)
	if err != nil {
		if google.IsAuthError(err) {
			return nil, fmt.Errorf("%w: %w", ErrAuth, err)
		}
		return nil, fmt.Errorf("get google credential: %w", err)
	}

	files, err := ix.files.ListFiles(ctx, token, ix.cfg.FileLimit)
	if err != nil {
		if google.IsAuthError(err) {
			return nil, fmt.Errorf("%w: %w", ErrAuth, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrListFiles, err)
	}

	total := len(files)
	offset := min(max(req.Offset, 0), total)
	end := min(offset+ix.cfg.BatchSize, total)
	batch := files[offset:end]

	slog.Info("Indexing batch",
		"user_id", req.UserID,
		"offset", offset,
		"batch", len(batch),
		"total", total,
		"chunk_size", params.Size,
		"chunk_overlap", params.Overlap)

	report = &Report{Total: total, Files: make([]FileResult, 0, len(batch))}
	for _, file := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result := ix.indexFile(ctx, req.UserID, token, file, params)
		metrics.FilesIndexed.WithLabelValues(result.Outcome).Inc()
		report.Files = append(report.Files, result)
	}

	report.Processed = len(batch)
	report.Remaining = max(0, total-offset-report.Processed)
	report.Status = StatusInProgress
	if report.Remaining == 0 {
		report.Status = StatusComplete
	}

	slog.Info("Indexing batch completed",
		"user_id", req.UserID,
		"processed", report.Processed,
		"remaining", report.Remaining,
		"status", report.Status,
		"duration", time.Since(start))

	return report, nil
}

// indexFile never returns an error; every failure is recorded on the result
// so the rest of the batch proceeds.
func (ix *Indexer) indexFile(ctx context.Context, userID, token string, file google.DriveFile, params Params) FileResult {
	result := FileResult{FileID: file.ID, Name: file.Name}
	logger := slog.With("user_id", userID, "file_id", file.ID, "file_name", file.Name)

	text, err := ix.files.Extract(ctx, token, file)
	if err != nil {
		logger.Error("Failed to extract file", "mime_type", file.MimeType, "error", err)
		result.Outcome, result.Reason = OutcomeFailed, "extraction failed"
		return result
	}
	if text == "" {
		logger.Info("Skipping file with no content", "mime_type", file.MimeType)
		result.Outcome, result.Reason = OutcomeSkipped, "no content"
		return result
	}

	texts, err := Chunk(text, file.Name, params)
	if err != nil {
		logger.Error("Failed to chunk file", "error", err)
		result.Outcome, result.Reason = OutcomeFailed, "chunking failed"
		return result
	}
	result.Chunks = len(texts)

	embeddings := ix.embed(ctx, texts)
	for _, e := range embeddings {
		if e != nil {
			result.Embedded++
		}
	}
	if result.Embedded == 0 {
		logger.Warn("Skipping file, no chunk could be embedded", "chunks", len(texts))
		result.Outcome, result.Reason = OutcomeSkipped, "embedding failed"
		return result
	}
	if result.Embedded < len(texts) {
		logger.Warn("Some chunks stored without embeddings", "chunks", len(texts), "embedded", result.Embedded)
	}

	rows := make([]*storage.DocumentChunk, len(texts))
	for i, t := range texts {
		rows[i] = &storage.DocumentChunk{
			UserID:        userID,
			DocumentID:    file.ID,
			DocumentTitle: file.Name,
			DocumentType:  file.DocType(),
			DocumentOwner: file.Owner,
			DocumentURL:   file.URL(),
			ChunkIndex:    i,
			ChunkText:     t,
			Embedding:     embeddings[i],
			Metadata:      map[string]string{"source": sourceTag},
		}
	}

	if err := ix.store.ReplaceDocument(ctx, userID, file.ID, rows); err != nil {
		logger.Error("Failed to store chunks", "error", err)
		result.Outcome, result.Reason = OutcomeFailed, "store failed"
		return result
	}

	metrics.ChunksStored.Add(float64(len(rows)))
	logger.Debug("Indexed file", "chunks", len(rows), "embedded", result.Embedded)
	result.Outcome = OutcomeIndexed
	return result
}

// embed calls the embedder in sub-batches; failed entries stay nil.
func (ix *Indexer) embed(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	size := max(ix.cfg.EmbeddingBatchSize, 1)
	for i := 0; i < len(texts); i += size {
		end := min(i+size, len(texts))
		vecs := ix.embedder.EmbedBatch(ctx, texts[i:end])
		for j := 0; j < end-i; j++ {
			if j < len(vecs) {
				out[i+j] = vecs[j]
			}
		}
	}
	return out
}
