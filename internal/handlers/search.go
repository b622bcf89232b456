package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"docbrief/internal/services"
)

type Searcher interface {
	Query(ctx context.Context, userID, query string) (*services.QueryResult, error)
}

type SearchHandler struct {
	rag Searcher
}

type SearchRequest struct {
	Query string `json:"query"`
}

func NewSearchHandler(rag Searcher) *SearchHandler {
	return &SearchHandler{rag: rag}
}

func (h *SearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		writeError(w, r, http.StatusBadRequest, "Query is required")
		return
	}

	result, err := h.rag.Query(r.Context(), userID(r), query)
	if err != nil {
		if errors.Is(err, services.ErrQueryEmbedding) {
			failWith(w, r, err, "Failed to generate query embedding")
			return
		}
		failWith(w, r, err, "Search failed")
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}
