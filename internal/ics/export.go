package ics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "calsched/internal/log"
	"calsched/internal/model"
	"calsched/internal/store"
)

// ProductID identifies exported calendars.
const ProductID = "-//calsched//Event Store//EN"

// floatingLayout is an RFC 5545 DATE-TIME without zone (floating time),
// matching the naive local times of the store.
const floatingLayout = "20060102T150405"

// FieldsLookup resolves the optional fields for an event id.
type FieldsLookup interface {
	GetFields(id int) (model.AdditionalFields, bool)
}

// Export writes events as a VCALENDAR.
//
// An intact series (every occurrence present, times matching the rule)
// becomes one VEVENT with RRULE/COUNT. A series that was partly edited or
// trimmed is written occurrence by occurrence so nothing is lost.
func Export(w io.Writer, events []model.Event, fields FieldsLookup) error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)

	stamp := time.Now().UTC()
	bySeries := groupSeries(events)

	seriesIDs := make([]int, 0, len(bySeries))
	for id := range bySeries {
		seriesIDs = append(seriesIDs, id)
	}
	sort.Ints(seriesIDs)

	written := 0
	for _, sid := range seriesIDs {
		group := bySeries[sid]
		first := group[0]

		if first.Recurring {
			if rule, ok := intactRule(group); ok {
				ve := addEvent(cal, uidFor(first, true), first, stamp, lookup(fields, first.SeriesID))
				ve.SetProperty(ical.ComponentPropertyRrule, rule)
				written++
				continue
			}
			appLog.Debug("ics export: series not intact, writing occurrences", "series_id", sid, "occurrences", len(group))
		}

		for _, e := range group {
			addEvent(cal, uidFor(e, false), e, stamp, lookup(fields, e.ID))
			written++
		}
	}

	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return fmt.Errorf("ics export: %w", err)
	}
	appLog.Info("ics export completed", "events", len(events), "vevents", written)
	return nil
}

func addEvent(cal *ical.Calendar, uid string, e model.Event, stamp time.Time, f model.AdditionalFields) *ical.VEvent {
	ve := cal.AddEvent(uid)
	ve.SetDtStampTime(stamp)
	ve.SetProperty(ical.ComponentPropertyDtStart, e.Start.Format(floatingLayout))
	ve.SetProperty(ical.ComponentPropertyDtEnd, e.End.Format(floatingLayout))
	ve.SetSummary(e.Title)
	if e.Description != "" {
		ve.SetDescription(e.Description)
	}
	if f.Location != "" {
		ve.SetLocation(f.Location)
	}
	if f.Category != "" {
		ve.SetProperty(ical.ComponentPropertyCategories, f.Category)
	}
	for _, a := range splitAttendees(f.Attendees) {
		ve.AddAttendee(a)
	}
	if e.ReminderMinutes > 0 {
		alarm := ve.AddAlarm()
		alarm.SetAction(ical.ActionDisplay)
		alarm.SetTrigger(fmt.Sprintf("-PT%dM", e.ReminderMinutes))
		alarm.SetProperty(ical.ComponentPropertyDescription, e.Title)
	}
	return ve
}

// intactRule returns the RRULE text when group is exactly the expansion of
// its first occurrence.
func intactRule(group []model.Event) (string, bool) {
	first := group[0]
	if len(group) != first.RecurrenceCount {
		return "", false
	}
	starts, err := store.ExpandStarts(first.Start, first.RecurrenceType, first.RecurrenceCount)
	if err != nil {
		return "", false
	}
	dur := first.Duration()
	for i, e := range group {
		if !e.Start.Equal(starts[i]) || e.Duration() != dur ||
			e.Title != first.Title || e.Description != first.Description ||
			e.ReminderMinutes != first.ReminderMinutes {
			return "", false
		}
	}
	r, err := store.RecurrenceRule(first.Start, first.RecurrenceType, first.RecurrenceCount)
	if err != nil {
		return "", false
	}
	return ruleBody(r.String()), true
}

// ruleBody keeps only the RRULE value of rrule-go's String output. DTSTART
// is its own property on the VEVENT, so it is dropped from the rule.
func ruleBody(s string) string {
	var rule string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "RRULE:"):
			rule = strings.TrimPrefix(line, "RRULE:")
		case line != "" && !strings.HasPrefix(line, "DTSTART") && rule == "":
			rule = line
		}
	}
	parts := make([]string, 0)
	for _, p := range strings.Split(rule, ";") {
		if p != "" && !strings.HasPrefix(p, "DTSTART=") {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ";")
}

// groupSeries buckets events by SeriesID, each bucket sorted by start.
func groupSeries(events []model.Event) map[int][]model.Event {
	out := make(map[int][]model.Event)
	for _, e := range events {
		out[e.SeriesID] = append(out[e.SeriesID], e)
	}
	for _, g := range out {
		sort.SliceStable(g, func(i, j int) bool { return g[i].Start.Before(g[j].Start) })
	}
	return out
}

// uidFor derives a stable UID so repeated exports of the same event keep
// the same identity in subscribing clients.
func uidFor(e model.Event, wholeSeries bool) string {
	name := fmt.Sprintf("calsched:%d:%d", e.SeriesID, e.ID)
	if wholeSeries {
		name = fmt.Sprintf("calsched:series:%d", e.SeriesID)
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String() + "@calsched"
}

func lookup(fields FieldsLookup, id int) model.AdditionalFields {
	if fields == nil {
		return model.AdditionalFields{}
	}
	f, _ := fields.GetFields(id)
	return f
}

func splitAttendees(s string) []string {
	out := make([]string, 0)
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
