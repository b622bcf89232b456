package handlers

import (
	"context"
	"net/http"

	"docbrief/internal/indexing"
	"docbrief/internal/logging"
	"docbrief/internal/storage"
)

type Indexer interface {
	Run(ctx context.Context, req indexing.Request) (*indexing.Report, error)
}

type IndexStore interface {
	CountsForUser(ctx context.Context, userID string) (storage.ChunkStats, error)
	DeleteUserChunks(ctx context.Context, userID string) (int64, error)
}

type IndexHandler struct {
	indexer       Indexer
	store         IndexStore
	defaultPreset string
}

type IndexRequest struct {
	Offset       int    `json:"offset"`
	Preset       string `json:"preset"`
	ChunkSize    *int   `json:"chunk_size"`
	ChunkOverlap *int   `json:"chunk_overlap"`
}

type IndexStatusResponse struct {
	Chunks    int `json:"chunks"`
	Documents int `json:"documents"`
}

type ClearIndexResponse struct {
	Deleted int64 `json:"deleted"`
}

func NewIndexHandler(indexer Indexer, store IndexStore, defaultPreset string) *IndexHandler {
	return &IndexHandler{indexer: indexer, store: store, defaultPreset: defaultPreset}
}

func (h *IndexHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Offset < 0 {
		writeError(w, r, http.StatusBadRequest, "offset must not be negative")
		return
	}

	run := indexing.Request{UserID: userID(r), Offset: req.Offset}
	if req.Preset != "" || req.ChunkSize != nil || req.ChunkOverlap != nil {
		preset := req.Preset
		if preset == "" {
			preset = h.defaultPreset
		}
		params, err := indexing.ResolveParams(preset, req.ChunkSize, req.ChunkOverlap)
		if err != nil {
			failWith(w, r, err, "Invalid chunk parameters")
			return
		}
		run.Params = &params
	}

	report, err := h.indexer.Run(r.Context(), run)
	if err != nil {
		failWith(w, r, err, "Failed to index Drive files")
		return
	}

	writeJSON(w, r, http.StatusOK, report)
}

func (h *IndexHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	stats, err := h.store.CountsForUser(r.Context(), user)
	if err != nil {
		failWith(w, r, err, "Failed to load index status")
		return
	}

	writeJSON(w, r, http.StatusOK, IndexStatusResponse{Chunks: stats.Chunks, Documents: stats.Documents})
}

func (h *IndexHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	deleted, err := h.store.DeleteUserChunks(r.Context(), user)
	if err != nil {
		failWith(w, r, err, "Failed to clear index")
		return
	}

	logging.LoggerFromContext(r.Context()).Info("Index cleared", "user_id", user, "deleted", deleted)

	writeJSON(w, r, http.StatusOK, ClearIndexResponse{Deleted: deleted})
}
