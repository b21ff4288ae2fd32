// Package reminder fires event reminders from a cron schedule.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "calsched/internal/log"
	"calsched/internal/model"
)

// forgetAfter is how long past an event's start its notified id is kept.
const forgetAfter = 5 * time.Minute

// Source provides the events whose reminder window is open.
type Source interface {
	DueReminders(now time.Time) []model.Event
	GetEventByID(id int) (model.Event, bool)
}

// Notifier delivers one reminder.
type Notifier interface {
	Notify(ctx context.Context, e model.Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e model.Event) error

func (f NotifierFunc) Notify(ctx context.Context, e model.Event) error { return f(ctx, e) }

// LogNotifier writes reminders to the application log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, e model.Event) error {
	appLog.Info("reminder",
		"id", e.ID,
		"title", e.Title,
		"start", e.Start.Format(model.DateTimeLayout),
		"minutes_before", e.ReminderMinutes,
	)
	return nil
}

// Scheduler scans the store on a cron schedule and notifies each due event
// once.
type Scheduler struct {
	source   Source
	notifier Notifier
	now      func() time.Time

	mu       sync.Mutex
	notified map[int]time.Time // id -> start it was notified for
}

// New returns a Scheduler. A nil notifier logs reminders.
func New(source Source, notifier Notifier) *Scheduler {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Scheduler{
		source:   source,
		notifier: notifier,
		now:      localNow,
		notified: make(map[int]time.Time),
	}
}

// Start registers the scan under schedule (standard cron syntax or descriptors
// like "@every 20s") and runs it until ctx is done.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { s.Scan(ctx) }); err != nil {
		return fmt.Errorf("reminder schedule %q: %w", schedule, err)
	}
	c.Start()
	appLog.Info("reminder scheduler started", "schedule", schedule)

	go func() {
		<-ctx.Done()
		stopped := c.Stop()
		<-stopped.Done()
		appLog.Info("reminder scheduler stopped")
	}()
	return nil
}

// Scan notifies every due event that was not notified yet and returns how
// many notifications were sent.
func (s *Scheduler) Scan(ctx context.Context) int {
	now := s.now()
	due := s.source.DueReminders(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	sent := 0
	for _, e := range due {
		if start, ok := s.notified[e.ID]; ok && start.Equal(e.Start) {
			continue
		}
		if err := s.notifier.Notify(ctx, e); err != nil {
			appLog.Error("reminder delivery failed", err, "id", e.ID)
			continue
		}
		s.notified[e.ID] = e.Start
		sent++
	}
	s.forgetLocked(now)
	return sent
}

// forgetLocked drops ids whose event is gone or started long enough ago.
func (s *Scheduler) forgetLocked(now time.Time) {
	for id, start := range s.notified {
		if _, ok := s.source.GetEventByID(id); !ok || now.After(start.Add(forgetAfter)) {
			delete(s.notified, id)
		}
	}
}

// localNow is the wall clock as a naive date-time, matching stored events.
func localNow() time.Time {
	n := time.Now()
	return time.Date(n.Year(), n.Month(), n.Day(), n.Hour(), n.Minute(), n.Second(), 0, time.UTC)
}
