package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"docbrief/internal/services"
	"docbrief/internal/storage"
)

const (
	defaultMeetingLimit = 20
	maxMeetingLimit     = 100
)

type Briefer interface {
	Prepare(ctx context.Context, userID string, meetingID uuid.UUID, refresh bool) (*services.BriefResult, error)
}

type CalendarSyncer interface {
	Sync(ctx context.Context, userID string) (*services.SyncResult, error)
	Upcoming(ctx context.Context, userID string, limit int) ([]*storage.Meeting, error)
}

type MeetingHandler struct {
	briefs   Briefer
	calendar CalendarSyncer
}

type BriefRequest struct {
	MeetingID string `json:"meeting_id"`
	Refresh   bool   `json:"refresh"`
}

type MeetingsResponse struct {
	Meetings []*storage.Meeting `json:"meetings"`
}

func NewMeetingHandler(briefs Briefer, calendar CalendarSyncer) *MeetingHandler {
	return &MeetingHandler{briefs: briefs, calendar: calendar}
}

func (h *MeetingHandler) HandleBrief(w http.ResponseWriter, r *http.Request) {
	var req BriefRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	raw := strings.TrimSpace(req.MeetingID)
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, "meeting_id is required")
		return
	}
	meetingID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "meeting_id must be a UUID")
		return
	}

	result, err := h.briefs.Prepare(r.Context(), userID(r), meetingID, req.Refresh)
	if err != nil {
		failWith(w, r, err, "Failed to generate meeting brief")
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

func (h *MeetingHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.calendar.Sync(r.Context(), userID(r))
	if err != nil {
		failWith(w, r, err, "Failed to sync calendar")
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (h *MeetingHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultMeetingLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxMeetingLimit)
	}

	meetings, err := h.calendar.Upcoming(r.Context(), userID(r), limit)
	if err != nil {
		failWith(w, r, err, "Failed to list meetings")
		return
	}
	if meetings == nil {
		meetings = []*storage.Meeting{}
	}
	writeJSON(w, r, http.StatusOK, MeetingsResponse{Meetings: meetings})
}
