package jobs

import (
	"context"
	"log/slog"
	"time"

	"docbrief/internal/integrations/google"
	"docbrief/internal/services"
)

type UserLister interface {
	ListUsersWithProvider(ctx context.Context, provider string) ([]string, error)
}

type Syncer interface {
	Sync(ctx context.Context, userID string) (*services.SyncResult, error)
}

// CalendarSyncJob periodically mirrors calendar events for every user holding
// a Google credential.
type CalendarSyncJob struct {
	users    UserLister
	syncer   Syncer
	interval time.Duration
	done     chan struct{}
}

func NewCalendarSyncJob(users UserLister, syncer Syncer, interval time.Duration) *CalendarSyncJob {
	return &CalendarSyncJob{
		users:    users,
		syncer:   syncer,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (j *CalendarSyncJob) Start(ctx context.Context) {
	slog.Info("Starting calendar sync job", slog.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Calendar sync job stopped due to context cancellation")
			return
		case <-j.done:
			slog.Info("Calendar sync job stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *CalendarSyncJob) Stop() {
	close(j.done)
}

// RunOnce syncs every user once and returns how many syncs succeeded.
// A failing user is logged and does not stop the pass.
func (j *CalendarSyncJob) RunOnce(ctx context.Context) int {
	start := time.Now()

	users, err := j.users.ListUsersWithProvider(ctx, google.Provider)
	if err != nil {
		slog.Error("Failed to list users for calendar sync", "error", err)
		return 0
	}

	succeeded := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		result, err := j.syncer.Sync(ctx, userID)
		if err != nil {
			slog.Error("Calendar sync failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
			continue
		}
		succeeded++
		slog.Debug("Calendar synced", slog.String("user_id", userID), slog.Int("synced", result.Synced))
	}

	slog.Info("Completed calendar sync pass",
		slog.Int("users", len(users)),
		slog.Int("succeeded", succeeded),
		slog.Duration("duration", time.Since(start)))
	return succeeded
}
