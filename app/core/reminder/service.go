package reminder

import (
	"context"
	"fmt"
	"log"
	"time"

	"taskbot/app/core/store"
	"taskbot/app/pkg/types"
)

const (
	DefaultPollInterval = 60 * time.Second
	DefaultGraceWindow  = 2 * time.Minute
)

// Store is the slice of the task store the dispatcher needs.
type Store interface {
	DueReminders(ctx context.Context, now time.Time, grace time.Duration) ([]store.Reminder, error)
	MarkReminderSent(ctx context.Context, taskID string) error
}

// Service polls for due reminders and hands them to the notifier exactly
// once per armed reminder under normal operation. Delivery happens before
// the sent mark is persisted, so a crash in between can produce a
// duplicate notification on the next tick; a failed delivery is retried on
// the next tick for as long as the reminder stays inside the grace window.
type Service struct {
	store     Store
	notifier  types.Notifier
	channelID string
	grace     time.Duration
}

func NewService(st Store, notifier types.Notifier, channelID string, grace time.Duration) *Service {
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	return &Service{
		store:     st,
		notifier:  notifier,
		channelID: channelID,
		grace:     grace,
	}
}

// DispatchDue delivers every reminder due at now. Candidates past the
// grace window are never returned by the store and are dropped silently.
func (s *Service) DispatchDue(ctx context.Context, now time.Time) error {
	items, err := s.store.DueReminders(ctx, now, s.grace)
	if err != nil {
		return fmt.Errorf("reminder: query due: %w", err)
	}

	failures := 0
	for _, item := range items {
		text := "Reminder: " + item.Text
		if err := s.notifier.Notify(ctx, s.channelID, item.ChatID, text); err != nil {
			// Leave reminder_sent unset so the next tick retries while
			// the reminder is still inside the grace window.
			log.Printf("[Reminder] deliver task=%s chat=%s failed: %v", item.TaskID, item.ChatID, err)
			failures++
			continue
		}
		if err := s.store.MarkReminderSent(ctx, item.TaskID); err != nil {
			log.Printf("[Reminder] mark sent task=%s failed: %v", item.TaskID, err)
			failures++
		}
	}

	if failures > 0 {
		return fmt.Errorf("reminder: %d of %d deliveries failed", failures, len(items))
	}
	return nil
}

// Run is the scheduler job callback.
func (s *Service) Run(ctx context.Context) error {
	return s.DispatchDue(ctx, time.Now())
}
