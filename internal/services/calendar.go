package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"docbrief/internal/integrations/google"
	"docbrief/internal/metrics"
	"docbrief/internal/storage"
)

type CredentialSource interface {
	GetValidCredential(ctx context.Context, userID, provider string) (string, error)
}

type CalendarSource interface {
	ListUpcoming(ctx context.Context, accessToken, userID string) ([]*storage.Meeting, error)
}

type SyncResult struct {
	Synced   int                `json:"synced"`
	Meetings []*storage.Meeting `json:"meetings"`
}

// CalendarService mirrors upcoming calendar events into the meeting store.
type CalendarService struct {
	credentials CredentialSource
	calendar    CalendarSource
	meetings    storage.MeetingStore
	now         func() time.Time
}

func NewCalendarService(credentials CredentialSource, calendar CalendarSource, meetings storage.MeetingStore) *CalendarService {
	return &CalendarService{
		credentials: credentials,
		calendar:    calendar,
		meetings:    meetings,
		now:         time.Now,
	}
}

// Sync upserts the user's upcoming events. A failed upsert is logged and skipped.
func (s *CalendarService) Sync(ctx context.Context, userID string) (result *SyncResult, err error) {
	defer func() {
		metrics.CalendarSyncs.WithLabelValues(metrics.StatusLabel(err)).Inc()
	}()

	token, err := s.credentials.GetValidCredential(ctx, userID, google.Provider)
	if err != nil {
		return nil, err
	}

	events, err := s.calendar.ListUpcoming(ctx, token, userID)
	if err != nil {
		return nil, fmt.Errorf("list upcoming events: %w", err)
	}

	result = &SyncResult{Meetings: make([]*storage.Meeting, 0, len(events))}
	for _, event := range events {
		stored, uerr := s.meetings.UpsertMeeting(ctx, event)
		if uerr != nil {
			slog.Error("Failed to upsert meeting", "user_id", userID, "calendar_event_id", event.CalendarEventID, "error", uerr)
			continue
		}
		result.Meetings = append(result.Meetings, stored)
	}
	result.Synced = len(result.Meetings)

	slog.Info("Calendar sync completed", "user_id", userID, "events", len(events), "synced", result.Synced)
	return result, nil
}

// Upcoming lists stored meetings that have not ended yet.
func (s *CalendarService) Upcoming(ctx context.Context, userID string, limit int) ([]*storage.Meeting, error) {
	return s.meetings.ListUpcomingMeetings(ctx, userID, s.now(), limit)
}
