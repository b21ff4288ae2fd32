package model

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestOverlapsHalfOpen(t *testing.T) {
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	e := Event{Start: at(9, 0), End: at(10, 0)}

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"partial overlap", at(9, 30), at(10, 30), true},
		{"touching after", at(10, 0), at(11, 0), false},
		{"touching before", at(8, 0), at(9, 0), false},
		{"contained", at(9, 15), at(9, 45), true},
		{"containing", at(8, 0), at(11, 0), true},
		{"disjoint", at(12, 0), at(13, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Overlaps(tt.start, tt.end); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestParseDateTimeAcceptsMinutePrecision(t *testing.T) {
	want := time.Date(2024, 1, 7, 9, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-01-07T09:00", "2024-01-07T09:00:00", " 2024-01-07T09:00:00 "} {
		got, err := ParseDateTime(in)
		if err != nil {
			t.Fatalf("ParseDateTime(%q): %v", in, err)
		}
		if !got.Equal(want) {
			t.Errorf("ParseDateTime(%q): expected %v, got %v", in, want, got)
		}
	}
	if _, err := ParseDateTime("07/01/2024"); err == nil {
		t.Error("Expected error for unsupported layout")
	}
}

func TestParseRecurrenceType(t *testing.T) {
	if rt, err := ParseRecurrenceType("weekly"); err != nil || rt != RecurrenceWeekly {
		t.Errorf("Expected WEEKLY, got %v (%v)", rt, err)
	}
	if rt, err := ParseRecurrenceType("null"); err != nil || rt != RecurrenceNone {
		t.Errorf("Expected NONE for legacy null, got %v (%v)", rt, err)
	}
	if _, err := ParseRecurrenceType("YEARLY"); err == nil {
		t.Error("Expected error for YEARLY")
	}
}

func TestErrorPredicates(t *testing.T) {
	wrapped := fmt.Errorf("create: %w", &ValidationError{Field: "title", Reason: "must not be empty"})
	if !IsValidation(wrapped) {
		t.Error("Expected wrapped ValidationError to match")
	}
	if IsNotFound(wrapped) {
		t.Error("ValidationError must not match IsNotFound")
	}

	base := errors.New("permission denied")
	pe := &PersistenceError{Op: "write", Path: "data/events.csv", Err: base}
	if !IsPersistence(pe) || !errors.Is(pe, base) {
		t.Error("Expected PersistenceError to match and unwrap")
	}
	if !IsNotFound(&NotFoundError{Kind: "series", ID: 4}) {
		t.Error("Expected NotFoundError to match")
	}
}
