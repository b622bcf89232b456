package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"docbrief/internal/integrations/google"
	"docbrief/internal/storage"
)

type staticCredentials struct {
	token string
	err   error
}

func (c staticCredentials) GetValidCredential(ctx context.Context, userID, provider string) (string, error) {
	return c.token, c.err
}

type fakeCalendar struct {
	events []*storage.Meeting
	err    error
	token  string
}

func (f *fakeCalendar) ListUpcoming(ctx context.Context, accessToken, userID string) ([]*storage.Meeting, error) {
	f.token = accessToken
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*storage.Meeting, len(f.events))
	for i, e := range f.events {
		cp := *e
		cp.UserID = userID
		out[i] = &cp
	}
	return out, nil
}

// failingUpsertStore rejects one calendar event id.
type failingUpsertStore struct {
	*storage.MemoryStore
	failID string
}

func (s failingUpsertStore) UpsertMeeting(ctx context.Context, m *storage.Meeting) (*storage.Meeting, error) {
	if m.CalendarEventID == s.failID {
		return nil, errors.New("constraint violation")
	}
	return s.MemoryStore.UpsertMeeting(ctx, m)
}

func upcomingEvent(id string, in time.Duration) *storage.Meeting {
	start := time.Now().Add(in)
	return &storage.Meeting{CalendarEventID: id, Title: id, StartTime: start, EndTime: start.Add(time.Hour)}
}

func TestCalendarSync_UpsertsAndSkipsFailures(t *testing.T) {
	ctx := context.Background()
	store := failingUpsertStore{MemoryStore: storage.NewMemoryStore(), failID: "bad"}
	cal := &fakeCalendar{events: []*storage.Meeting{
		upcomingEvent("a", time.Hour),
		upcomingEvent("bad", 2*time.Hour),
		upcomingEvent("b", 3*time.Hour),
	}}
	svc := NewCalendarService(staticCredentials{token: "tok"}, cal, store)

	result, err := svc.Sync(ctx, "u1")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if result.Synced != 2 || len(result.Meetings) != 2 {
		t.Errorf("synced = %d, want 2", result.Synced)
	}
	if cal.token != "tok" {
		t.Errorf("calendar called with token %q", cal.token)
	}

	again, _ := svc.Sync(ctx, "u1")
	if again.Meetings[0].ID != result.Meetings[0].ID {
		t.Errorf("re-sync should update, not duplicate")
	}

	upcoming, err := svc.Upcoming(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("Upcoming() error = %v", err)
	}
	if len(upcoming) != 2 || upcoming[0].CalendarEventID != "a" {
		t.Errorf("unexpected upcoming meetings: %+v", upcoming)
	}
}

func TestCalendarSync_Errors(t *testing.T) {
	store := storage.NewMemoryStore()

	_, err := NewCalendarService(staticCredentials{err: google.ErrReauthRequired}, &fakeCalendar{}, store).Sync(context.Background(), "u1")
	if !google.IsAuthError(err) {
		t.Errorf("expected auth error, got %v", err)
	}

	_, err = NewCalendarService(staticCredentials{token: "t"}, &fakeCalendar{err: errUpstream}, store).Sync(context.Background(), "u1")
	if !errors.Is(err, errUpstream) {
		t.Errorf("expected upstream error, got %v", err)
	}
}

