package store

import (
	"time"
)

// TotalEvents counts all occurrences.
func (s *Store) TotalEvents() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// RecurringEventCount counts occurrences that belong to a series (not the
// number of series).
func (s *Store) RecurringEventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.events {
		if e.Recurring {
			n++
		}
	}
	return n
}

// BusiestDay returns the weekday on which the most events start. Ties go to
// the earlier weekday, Sunday first. ok is false for an empty store.
func (s *Store) BusiestDay() (day time.Weekday, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var counts [7]int
	for _, e := range s.events {
		counts[e.Start.Weekday()]++
	}

	best := time.Sunday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best, counts[best] > 0
}

// EventsByCategory counts occurrences per category from the side table.
// Events without a category are left out; no "" key is ever produced.
func (s *Store) EventsByCategory() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int)
	for _, e := range s.events {
		f, ok := s.fields.GetFields(e.ID)
		if !ok || f.Category == "" {
			continue
		}
		out[f.Category]++
	}
	return out
}

// Stats bundles the aggregate figures shown by statistics views.
type Stats struct {
	Total      int            `json:"total"`
	Recurring  int            `json:"recurring"`
	Single     int            `json:"single"`
	Busiest    string         `json:"busiest_day,omitempty"`
	ByCategory map[string]int `json:"by_category"`
}

// Stats computes all aggregates.
func (s *Store) Stats() Stats {
	st := Stats{
		Total:      s.TotalEvents(),
		Recurring:  s.RecurringEventCount(),
		ByCategory: s.EventsByCategory(),
	}
	st.Single = st.Total - st.Recurring
	if day, ok := s.BusiestDay(); ok {
		st.Busiest = day.String()
	}
	return st
}
