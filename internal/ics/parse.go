package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calsched/internal/log"
	"calsched/internal/model"
)

// ParsedEvent is the normalized representation of a VEVENT before it is
// written to the store.
type ParsedEvent struct {
	UID         string
	Summary     string
	Description string
	Fields      model.AdditionalFields

	// Start / End as naive local date-times.
	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule        string
	ReminderMinutes int

	// IsOverride marks a VEVENT carrying RECURRENCE-ID.
	IsOverride bool
}

// ParseICS parses a single ICS payload into a list of ParsedEvent. A VEVENT
// that cannot be read is logged and skipped; the rest are still returned.
func ParseICS(source string, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "source", source)
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Warn("ics vevent skipped", "source", source, "reason", perr.Error())
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "source", source, "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = strings.TrimSpace(unescapeText(p.Value))
	}
	if out.Summary == "" {
		return out, fmt.Errorf("uid %q: missing SUMMARY", out.UID)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Fields.Location = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyCategories); p != nil {
		out.Fields.Category = strings.TrimSpace(unescapeText(splitUnescaped(p.Value)))
	}
	attendees := make([]string, 0)
	for _, p := range ve.GetProperties(ical.ComponentPropertyAttendee) {
		a := strings.TrimPrefix(strings.TrimPrefix(p.Value, "mailto:"), "MAILTO:")
		if a != "" {
			attendees = append(attendees, a)
		}
	}
	out.Fields.Attendees = strings.Join(attendees, ", ")

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("uid %q: missing DTSTART", out.UID)
	}
	start, allDay, err := parseICSTime(dtStart.Value)
	if err != nil {
		return out, fmt.Errorf("uid %q: DTSTART: %w", out.UID, err)
	}
	out.Start, out.AllDay = start, allDay

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		end, _, err := parseICSTime(ve.GetProperty(ical.ComponentPropertyDtEnd).Value)
		if err != nil {
			return out, fmt.Errorf("uid %q: DTEND: %w", out.UID, err)
		}
		out.End = end
	case ve.GetProperty("DURATION") != nil:
		d, err := parseDuration(ve.GetProperty("DURATION").Value)
		if err != nil {
			return out, fmt.Errorf("uid %q: DURATION: %w", out.UID, err)
		}
		out.End = out.Start.Add(d)
	case allDay:
		out.End = out.Start.AddDate(0, 0, 1)
	default:
		out.End = out.Start.Add(time.Hour)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}
	if ve.GetProperty("RECURRENCE-ID") != nil {
		out.IsOverride = true
	}

	for _, c := range ve.Components {
		alarm, ok := c.(*ical.VAlarm)
		if !ok {
			continue
		}
		trig := alarm.GetProperty("TRIGGER")
		if trig == nil {
			continue
		}
		if d, err := parseDuration(trig.Value); err == nil && d < 0 {
			out.ReminderMinutes = int(-d / time.Minute)
			break
		}
	}

	return out, nil
}

// parseICSTime parses an ICS DATE or DATE-TIME value into a naive local
// time. UTC values keep their wall clock; the store has no zones.
func parseICSTime(v string) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}
	// Floating or TZID-qualified local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		t, err := time.Parse(floatingLayout, v)
		return t, false, err
	}
	// Date-only (all-day), e.g., 20250101
	t, err := time.Parse("20060102", v)
	return t, true, err
}

// parseDuration reads the subset of RFC 5545 durations used for alarms and
// event lengths: [+-]P[nW][nD][T[nH][nM][nS]].
func parseDuration(v string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	sign := time.Duration(1)
	switch {
	case strings.HasPrefix(s, "-"):
		sign = -1
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r == 'T':
			inTime = true
		case r >= '0' && r <= '9':
			num += string(r)
		default:
			n, err := strconv.Atoi(num)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q", v)
			}
			num = ""
			switch {
			case r == 'W' && !inTime:
				total += time.Duration(n) * 7 * 24 * time.Hour
			case r == 'D' && !inTime:
				total += time.Duration(n) * 24 * time.Hour
			case r == 'H' && inTime:
				total += time.Duration(n) * time.Hour
			case r == 'M' && inTime:
				total += time.Duration(n) * time.Minute
			case r == 'S' && inTime:
				total += time.Duration(n) * time.Second
			default:
				return 0, fmt.Errorf("invalid duration %q", v)
			}
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return sign * total, nil
}

// unescapeText reverses RFC 5545 TEXT escaping (\\, \;, \, and \n).
func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	r := strings.NewReplacer(`\\`, `\`, `\;`, ";", `\,`, ",", `\n`, "\n", `\N`, "\n")
	return r.Replace(s)
}

// splitUnescaped returns the first item of a comma separated TEXT list,
// ignoring escaped commas.
func splitUnescaped(s string) string {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case ',':
			return s[:i]
		}
	}
	return s
}
