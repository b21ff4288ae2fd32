package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calsched/internal/log"
	"calsched/internal/model"
)

// AddRecurringEvent expands seed into seed.Count occurrences and stores them
// with a single file rewrite. Every occurrence gets its own id; they all
// share the first occurrence's id as SeriesID.
func (s *Store) AddRecurringEvent(seed model.SeriesSeed) ([]model.Event, error) {
	seed.Title = strings.TrimSpace(seed.Title)
	seed.Start, seed.End = naive(seed.Start), naive(seed.End)
	if err := validateEvent(seed.Title, seed.Start, seed.End, seed.ReminderMinutes); err != nil {
		return nil, err
	}
	if seed.Count < MinRecurrenceCount || seed.Count > MaxRecurrenceCount {
		return nil, &model.ValidationError{
			Field:  "recurrenceCount",
			Reason: fmt.Sprintf("must be between %d and %d", MinRecurrenceCount, MaxRecurrenceCount),
		}
	}

	starts, err := ExpandStarts(seed.Start, seed.Type, seed.Count)
	if err != nil {
		return nil, err
	}
	dur := seed.End.Sub(seed.Start)

	s.mu.Lock()
	defer s.mu.Unlock()

	firstID := s.nextIDLocked()
	series := make([]model.Event, 0, len(starts))
	for k, start := range starts {
		series = append(series, model.Event{
			ID:              firstID + k,
			Title:           seed.Title,
			Description:     seed.Description,
			Start:           start,
			End:             start.Add(dur),
			Recurring:       true,
			RecurrenceType:  seed.Type,
			RecurrenceCount: seed.Count,
			SeriesID:        firstID,
			ReminderMinutes: seed.ReminderMinutes,
		})
	}
	s.events = append(s.events, series...)
	if !seed.Fields.IsEmpty() {
		s.fields.save(firstID, seed.Fields)
	}

	appLog.Info("series created",
		"series_id", firstID,
		"type", seed.Type,
		"count", len(series),
		"first_start", seed.Start.Format(model.DateTimeLayout),
	)

	out := make([]model.Event, len(series))
	copy(out, series)
	return out, s.persistLocked()
}

// UpdateRecurringSeries sets title, description and reminder on every event
// of the series. Start and end of each occurrence stay as they are. It
// returns the number of events touched.
func (s *Store) UpdateRecurringSeries(seriesID int, title, description string, reminderMinutes int) (int, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return 0, &model.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if reminderMinutes < 0 {
		return 0, &model.ValidationError{Field: "reminderMinutes", Reason: "must not be negative"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.events {
		if s.events[i].SeriesID != seriesID {
			continue
		}
		s.events[i].Title = title
		s.events[i].Description = description
		s.events[i].ReminderMinutes = reminderMinutes
		n++
	}
	if n == 0 {
		return 0, &model.NotFoundError{Kind: "series", ID: seriesID}
	}

	appLog.Info("series updated", "series_id", seriesID, "events", n)
	return n, s.persistLocked()
}

// SeriesEvents returns the occurrences of a series ordered by start.
func (s *Store) SeriesEvents(seriesID int) []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Event, 0)
	for _, e := range s.events {
		if e.SeriesID == seriesID {
			out = append(out, e)
		}
	}
	sortByStart(out)
	return out
}

// RecurrenceRule builds the rrule for count occurrences starting at start.
//
// MONTHLY keeps the day of month and clamps it to the last day of shorter
// months (Jan 31 -> Feb 28/29 -> Mar 31). Plain BYMONTHDAY would skip those
// months instead, so for days 29..31 the rule picks the last existing day
// out of 28..day with BYSETPOS=-1.
func RecurrenceRule(start time.Time, typ model.RecurrenceType, count int) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Dtstart: start,
		Count:   count,
	}
	switch typ {
	case model.RecurrenceDaily:
		opt.Freq = rrule.DAILY
	case model.RecurrenceWeekly:
		opt.Freq = rrule.WEEKLY
	case model.RecurrenceMonthly:
		opt.Freq = rrule.MONTHLY
		if day := start.Day(); day > 28 {
			for d := 28; d <= day; d++ {
				opt.Bymonthday = append(opt.Bymonthday, d)
			}
			opt.Bysetpos = []int{-1}
		}
	default:
		return nil, &model.ValidationError{Field: "recurrenceType", Reason: fmt.Sprintf("unsupported value %q", typ)}
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("recurrence rule: %w", err)
	}
	return r, nil
}

// ExpandStarts returns the start times of count occurrences.
func ExpandStarts(start time.Time, typ model.RecurrenceType, count int) ([]time.Time, error) {
	r, err := RecurrenceRule(start, typ, count)
	if err != nil {
		return nil, err
	}
	starts := r.All()
	if len(starts) != count {
		return nil, fmt.Errorf("recurrence rule produced %d occurrences, want %d", len(starts), count)
	}
	for i := range starts {
		starts[i] = naive(starts[i])
	}
	return starts, nil
}
