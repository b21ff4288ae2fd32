package store

import (
	"sort"
	"strings"
	"time"

	"calsched/internal/model"
)

// HasConflict reports whether any stored event overlaps [start, end).
// Events that only touch at a boundary do not conflict.
func (s *Store) HasConflict(start, end time.Time) bool {
	return s.HasConflictExcludingEvent(start, end, 0)
}

// HasConflictExcludingEvent is HasConflict ignoring the event with
// excludeID, for checking an update against the event's own old slot.
// Ids start at 1, so 0 excludes nothing.
func (s *Store) HasConflictExcludingEvent(start, end time.Time, excludeID int) bool {
	start, end = naive(start), naive(end)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events {
		if e.ID == excludeID {
			continue
		}
		if e.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// Conflicts lists every event overlapping [start, end) except excludeID,
// ordered by start.
func (s *Store) Conflicts(start, end time.Time, excludeID int) []model.Event {
	start, end = naive(start), naive(end)
	return s.filter(func(e model.Event) bool {
		return e.ID != excludeID && e.Overlaps(start, end)
	}, true)
}

// Events returns a copy of every event in collection order.
func (s *Store) Events() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Event, len(s.events))
	copy(out, s.events)
	return out
}

// EventsForDate returns events starting on date's calendar day.
func (s *Store) EventsForDate(date time.Time) []model.Event {
	day := model.DateOf(date)
	return s.filter(func(e model.Event) bool {
		return model.DateOf(e.Start).Equal(day)
	}, false)
}

// SearchByDateRange returns events whose start date lies in [from, to],
// both days inclusive. A reversed range matches nothing.
func (s *Store) SearchByDateRange(from, to time.Time) []model.Event {
	lo, hi := model.DateOf(from), model.DateOf(to)
	return s.filter(func(e model.Event) bool {
		d := model.DateOf(e.Start)
		return !d.Before(lo) && !d.After(hi)
	}, false)
}

// SearchByKeyword does a case-insensitive substring match on title and
// description. A blank keyword matches nothing.
func (s *Store) SearchByKeyword(keyword string) []model.Event {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return []model.Event{}
	}
	return s.filter(func(e model.Event) bool {
		return strings.Contains(strings.ToLower(e.Title), kw) ||
			strings.Contains(strings.ToLower(e.Description), kw)
	}, false)
}

// EventsForWeek returns the seven days starting on the most recent
// weekStart on or before date, sorted by start.
func (s *Store) EventsForWeek(date time.Time, weekStart time.Weekday) []model.Event {
	first := WeekStartDate(date, weekStart)
	return s.inDays(first, first.AddDate(0, 0, 6))
}

// EventsForMonth returns the events of one calendar month, sorted by start.
func (s *Store) EventsForMonth(year int, month time.Month) []model.Event {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return s.inDays(first, first.AddDate(0, 1, -1))
}

// Upcoming returns events starting between from's date and days later,
// inclusive, sorted by start.
func (s *Store) Upcoming(from time.Time, days int) []model.Event {
	if days < 0 {
		days = 0
	}
	first := model.DateOf(from)
	return s.inDays(first, first.AddDate(0, 0, days))
}

// DueReminders returns events whose reminder should fire at now: the
// reminder is set, now is no earlier than 30s before start minus the
// reminder offset, and the event has not started yet.
func (s *Store) DueReminders(now time.Time) []model.Event {
	now = naive(now)
	return s.filter(func(e model.Event) bool {
		if e.ReminderMinutes <= 0 {
			return false
		}
		fireAt := e.Start.Add(-time.Duration(e.ReminderMinutes)*time.Minute - 30*time.Second)
		return now.After(fireAt) && now.Before(e.Start)
	}, true)
}

// WeekStartDate returns midnight of the first day of date's week.
func WeekStartDate(date time.Time, weekStart time.Weekday) time.Time {
	d := model.DateOf(date)
	offset := (int(d.Weekday()) - int(weekStart) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

func (s *Store) inDays(first, last time.Time) []model.Event {
	out := s.SearchByDateRange(first, last)
	sortByStart(out)
	return out
}

func (s *Store) filter(keep func(model.Event) bool, sorted bool) []model.Event {
	s.mu.RLock()
	out := make([]model.Event, 0)
	for _, e := range s.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	if sorted {
		sortByStart(out)
	}
	return out
}

func sortByStart(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Start.Equal(events[j].Start) {
			return events[i].ID < events[j].ID
		}
		return events[i].Start.Before(events[j].Start)
	})
}
