package google

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"docbrief/internal/storage"
)

const (
	primaryCalendar = "primary"
	syncWindow      = 7 * 24 * time.Hour
	maxSyncedEvents = 20
	untitledMeeting = "Untitled Meeting"
	roleOrganizer   = "organizer"
	roleAttendee    = "attendee"
	videoEntryPoint = "video"
)

// CalendarClient reads upcoming events from the user's primary calendar.
type CalendarClient struct {
	limiter *RateLimiter
	timeout time.Duration
	opts    []option.ClientOption
	now     func() time.Time
}

func NewCalendarClient(timeout time.Duration, opts ...option.ClientOption) *CalendarClient {
	return &CalendarClient{
		limiter: NewRateLimiter(ServiceCalendar),
		timeout: timeout,
		opts:    opts,
		now:     time.Now,
	}
}

// ListUpcoming returns timed events in the next seven days as meetings owned by userID.
// All-day events are skipped.
func (c *CalendarClient) ListUpcoming(ctx context.Context, accessToken, userID string) ([]*storage.Meeting, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	now := c.now()
	events, err := svc.Events.List(primaryCalendar).
		TimeMin(now.Format(time.RFC3339)).
		TimeMax(now.Add(syncWindow).Format(time.RFC3339)).
		MaxResults(maxSyncedEvents).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list calendar events: %w", WrapError(err))
	}

	meetings := make([]*storage.Meeting, 0, len(events.Items))
	for _, event := range events.Items {
		if m, ok := EventToMeeting(event, userID); ok {
			meetings = append(meetings, m)
		}
	}
	return meetings, nil
}

// EventToMeeting converts a calendar event. It returns false for events without
// a start and end date-time.
func EventToMeeting(event *calendar.Event, userID string) (*storage.Meeting, bool) {
	if event == nil || event.Start == nil || event.End == nil {
		return nil, false
	}
	start, err := time.Parse(time.RFC3339, event.Start.DateTime)
	if err != nil {
		return nil, false
	}
	end, err := time.Parse(time.RFC3339, event.End.DateTime)
	if err != nil {
		return nil, false
	}

	title := event.Summary
	if title == "" {
		title = untitledMeeting
	}

	attendees := make([]storage.Attendee, 0, len(event.Attendees))
	for _, a := range event.Attendees {
		role := roleAttendee
		if a.Organizer {
			role = roleOrganizer
		}
		attendees = append(attendees, storage.Attendee{Email: a.Email, Name: a.DisplayName, Role: role})
	}

	return &storage.Meeting{
		UserID:          userID,
		CalendarEventID: event.Id,
		Title:           title,
		Description:     event.Description,
		StartTime:       start,
		EndTime:         end,
		Attendees:       attendees,
		MeetingURL:      meetingURL(event),
	}, true
}

func meetingURL(event *calendar.Event) string {
	if event.HangoutLink != "" {
		return event.HangoutLink
	}
	if event.ConferenceData != nil {
		for _, ep := range event.ConferenceData.EntryPoints {
			if ep.EntryPointType == videoEntryPoint {
				return ep.Uri
			}
		}
	}
	return ""
}
