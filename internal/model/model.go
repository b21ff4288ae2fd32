package model

import (
	"fmt"
	"strings"
	"time"
)

// DateTimeLayout is the canonical on-disk form of a naive local date-time.
// All times in this package carry time.UTC as a placeholder location; the
// wall-clock fields are what matters, no zone conversion is ever applied.
const DateTimeLayout = "2006-01-02T15:04:05"

// DateLayout is used for date-only inputs (day views, range searches).
const DateLayout = "2006-01-02"

// RecurrenceType selects the period of a recurring series.
type RecurrenceType string

const (
	RecurrenceNone    RecurrenceType = "NONE"
	RecurrenceDaily   RecurrenceType = "DAILY"
	RecurrenceWeekly  RecurrenceType = "WEEKLY"
	RecurrenceMonthly RecurrenceType = "MONTHLY"
)

// ParseRecurrenceType accepts the three series periods case-insensitively.
// An empty string or "NONE" maps to RecurrenceNone.
func ParseRecurrenceType(s string) (RecurrenceType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DAILY":
		return RecurrenceDaily, nil
	case "WEEKLY":
		return RecurrenceWeekly, nil
	case "MONTHLY":
		return RecurrenceMonthly, nil
	case "", "NONE", "NULL":
		return RecurrenceNone, nil
	default:
		return RecurrenceNone, fmt.Errorf("unknown recurrence type %q", s)
	}
}

// Event is one calendar occurrence, standalone or part of a recurring series.
type Event struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`

	// Start / End are naive local date-times, End strictly after Start.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Recurring       bool           `json:"recurring"`
	RecurrenceType  RecurrenceType `json:"recurrence_type"`
	RecurrenceCount int            `json:"recurrence_count"`

	// SeriesID groups the occurrences of one series. A standalone event
	// uses its own ID.
	SeriesID int `json:"series_id"`

	// ReminderMinutes of 0 means no reminder.
	ReminderMinutes int `json:"reminder_minutes"`
}

// Duration returns End - Start.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Overlaps reports whether [e.Start, e.End) and [start, end) intersect.
// Touching boundaries do not overlap.
func (e Event) Overlaps(start, end time.Time) bool {
	return start.Before(e.End) && e.Start.Before(end)
}

// AdditionalFields holds optional descriptive data kept beside an event.
type AdditionalFields struct {
	Location  string `json:"location,omitempty" yaml:"location,omitempty"`
	Category  string `json:"category,omitempty" yaml:"category,omitempty"`
	Attendees string `json:"attendees,omitempty" yaml:"attendees,omitempty"`
}

// IsEmpty reports whether no field is set.
func (f AdditionalFields) IsEmpty() bool {
	return f.Location == "" && f.Category == "" && f.Attendees == ""
}

// NewEventInput carries the caller-facing fields for a single event and for
// in-place updates.
type NewEventInput struct {
	Title           string
	Description     string
	Start           time.Time
	End             time.Time
	Fields          AdditionalFields
	ReminderMinutes int
}

// SeriesSeed describes a recurring series before expansion. Start/End are
// those of the first occurrence.
type SeriesSeed struct {
	Title           string
	Description     string
	Start           time.Time
	End             time.Time
	Type            RecurrenceType
	Count           int
	ReminderMinutes int

	// Fields, if non-empty, are attached to the first occurrence only.
	Fields AdditionalFields
}

// DateOf truncates t to midnight of its own calendar day.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDateTime parses a naive local date-time. Both second and minute
// precision are accepted ("2024-01-07T09:00" is what older files contain).
func ParseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{DateTimeLayout, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date-time %q", s)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t, nil
}
