package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"docbrief/internal/indexing"
	"docbrief/internal/integrations/google"
	"docbrief/internal/locking"
	"docbrief/internal/logging"
	"docbrief/internal/middleware"
	"docbrief/internal/storage"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.LoggerFromContext(r.Context()).Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Error: msg})
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// failWith maps a service error to its HTTP status and writes the response.
func failWith(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	logger := logging.LoggerFromContext(r.Context())

	switch {
	case errors.Is(err, indexing.ErrInvalidChunkParams):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, indexing.ErrAuth), google.IsAuthError(err):
		logger.Warn("Google credential unusable", "error", err)
		writeError(w, r, http.StatusUnauthorized, "Google account not connected or access expired. Please reconnect your Google account and try again.")
	case errors.Is(err, locking.ErrLocked):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "Not found")
	default:
		logger.Error(fallback, "error", err)
		writeError(w, r, http.StatusInternalServerError, fallback)
	}
}

func userID(r *http.Request) string {
	id, _ := middleware.UserIDFromContext(r.Context())
	return id
}
