package ics

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"calsched/internal/model"
	"calsched/internal/store"
)

func at(s string) time.Time {
	t, err := model.ParseDateTime(s)
	if err != nil {
		panic(err)
	}
	return t
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "events.csv"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func calendar(lines ...string) []byte {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN"}, lines...)
	all = append(all, "END:VCALENDAR")
	return []byte(strings.Join(all, "\r\n") + "\r\n")
}

func TestAsSeriesRule(t *testing.T) {
	tests := []struct {
		raw   string
		ok    bool
		typ   model.RecurrenceType
		count int
	}{
		{"FREQ=DAILY;COUNT=5", true, model.RecurrenceDaily, 5},
		{"FREQ=WEEKLY;COUNT=3;WKST=MO", true, model.RecurrenceWeekly, 3},
		{"freq=monthly;count=12;bymonthday=28,29,30,31;bysetpos=-1", true, model.RecurrenceMonthly, 12},
		{"FREQ=WEEKLY;COUNT=3;BYSETPOS=-1", false, "", 0},
		{"FREQ=DAILY;INTERVAL=2;COUNT=3", false, "", 0},
		{"FREQ=DAILY;INTERVAL=1;COUNT=3", true, model.RecurrenceDaily, 3},
		{"FREQ=DAILY", false, "", 0},
		{"FREQ=DAILY;UNTIL=20240101T000000Z", false, "", 0},
		{"FREQ=YEARLY;COUNT=2", false, "", 0},
		{"FREQ=DAILY;COUNT=400", false, "", 0},
		{"FREQ=WEEKLY;COUNT=4;BYDAY=MO,WE", false, "", 0},
	}
	for _, tt := range tests {
		got, ok := asSeriesRule(tt.raw)
		if ok != tt.ok {
			t.Errorf("asSeriesRule(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			continue
		}
		if ok && (got.Type != tt.typ || got.Count != tt.count) {
			t.Errorf("asSeriesRule(%q) = %+v", tt.raw, got)
		}
	}
}

func TestExpandRuleMonthlyClamp(t *testing.T) {
	starts, truncated, err := expandRule("FREQ=MONTHLY;COUNT=3;BYMONTHDAY=28,29,30,31;BYSETPOS=-1", at("2024-01-31T09:00:00"), 0)
	if err != nil {
		t.Fatalf("expandRule: %v", err)
	}
	if truncated {
		t.Error("Unexpected truncation")
	}
	want := []string{"2024-01-31T09:00:00", "2024-02-29T09:00:00", "2024-03-31T09:00:00"}
	if len(starts) != len(want) {
		t.Fatalf("Expected %d starts, got %v", len(want), starts)
	}
	for i, w := range want {
		if !starts[i].Equal(at(w)) {
			t.Errorf("start %d = %v, want %s", i, starts[i], w)
		}
	}
}

func TestExpandRuleTruncates(t *testing.T) {
	starts, truncated, err := expandRule("FREQ=DAILY", at("2024-01-01T08:00:00"), 5)
	if err != nil {
		t.Fatalf("expandRule: %v", err)
	}
	if !truncated || len(starts) != 5 {
		t.Errorf("Expected 5 truncated starts, got %d (truncated=%v)", len(starts), truncated)
	}
	if _, _, err := expandRule("FREQ=SOMETIMES", at("2024-01-01T08:00:00"), 5); err == nil {
		t.Error("Expected error for unknown FREQ")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		err  bool
	}{
		{"PT15M", 15 * time.Minute, false},
		{"-PT1H30M", -90 * time.Minute, false},
		{"P1D", 24 * time.Hour, false},
		{"P1W", 7 * 24 * time.Hour, false},
		{"+P1DT2H", 26 * time.Hour, false},
		{"PT10S", 10 * time.Second, false},
		{"15M", 0, true},
		{"PT5", 0, true},
		{"P1H", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("parseDuration(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRuleBody(t *testing.T) {
	got := ruleBody("DTSTART:20240131T090000Z\nRRULE:FREQ=MONTHLY;COUNT=3")
	if got != "FREQ=MONTHLY;COUNT=3" {
		t.Errorf("ruleBody = %q", got)
	}
	got = ruleBody("FREQ=DAILY;DTSTART=20240101T000000Z;COUNT=2")
	if got != "FREQ=DAILY;COUNT=2" {
		t.Errorf("ruleBody = %q", got)
	}
}

func TestParseICS(t *testing.T) {
	body := calendar(
		"BEGIN:VEVENT",
		"UID:a",
		"SUMMARY:Standup\\, daily",
		"DTSTART:20240304T091500",
		"DURATION:PT15M",
		"LOCATION:Room 1",
		"CATEGORIES:work,team",
		"ATTENDEE:mailto:ann@example.com",
		"ATTENDEE:mailto:bob@example.com",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"TRIGGER:-PT10M",
		"END:VALARM",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:b",
		"SUMMARY:Holiday",
		"DTSTART;VALUE=DATE:20240501",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:c",
		"SUMMARY:No start",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:d",
		"SUMMARY:Moved",
		"DTSTART:20240306T100000Z",
		"RECURRENCE-ID:20240306T090000Z",
		"END:VEVENT",
	)

	events, err := ParseICS("test", body)
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events (one skipped), got %d", len(events))
	}

	a := events[0]
	if a.Summary != "Standup, daily" {
		t.Errorf("Summary = %q", a.Summary)
	}
	if !a.Start.Equal(at("2024-03-04T09:15:00")) || !a.End.Equal(at("2024-03-04T09:30:00")) {
		t.Errorf("Unexpected times %v - %v", a.Start, a.End)
	}
	if a.Fields.Location != "Room 1" || a.Fields.Category != "work" {
		t.Errorf("Unexpected fields %+v", a.Fields)
	}
	if a.Fields.Attendees != "ann@example.com, bob@example.com" {
		t.Errorf("Attendees = %q", a.Fields.Attendees)
	}
	if a.ReminderMinutes != 10 {
		t.Errorf("ReminderMinutes = %d", a.ReminderMinutes)
	}

	b := events[1]
	if !b.AllDay || !b.End.Equal(at("2024-05-02T00:00:00")) {
		t.Errorf("Expected all-day event ending next midnight, got %+v", b)
	}

	if !events[2].IsOverride {
		t.Error("Expected RECURRENCE-ID event to be flagged as override")
	}
	if !events[2].Start.Equal(at("2024-03-06T10:00:00")) {
		t.Errorf("UTC start should keep its wall clock, got %v", events[2].Start)
	}
}

func TestParseICSEmpty(t *testing.T) {
	if _, err := ParseICS("test", nil); err == nil {
		t.Error("Expected error for empty body")
	}
}

func TestImport(t *testing.T) {
	body := calendar(
		"BEGIN:VEVENT",
		"UID:weekly",
		"SUMMARY:Review",
		"DTSTART:20240304T140000",
		"DTEND:20240304T150000",
		"RRULE:FREQ=WEEKLY;COUNT=4",
		"CATEGORIES:work",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:every-other",
		"SUMMARY:Gym",
		"DTSTART:20240301T070000",
		"DTEND:20240301T080000",
		"RRULE:FREQ=DAILY;INTERVAL=2;COUNT=3",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:override",
		"SUMMARY:Review moved",
		"DTSTART:20240311T160000",
		"RECURRENCE-ID:20240311T140000",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:single",
		"SUMMARY:Dentist",
		"DTSTART:20240305T080000",
		"DTEND:20240305T083000",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:backwards",
		"SUMMARY:Broken",
		"DTSTART:20240305T100000",
		"DTEND:20240305T090000",
		"END:VEVENT",
	)

	s := newStore(t)
	res, err := ImportICS(s, "test", body)
	if err != nil {
		t.Fatalf("ImportICS: %v", err)
	}
	if res.Series != 1 || res.Expanded != 1 || res.Events != 8 || res.Skipped != 2 {
		t.Errorf("Unexpected result %+v", res)
	}
	if s.TotalEvents() != 8 {
		t.Errorf("Expected 8 stored events, got %d", s.TotalEvents())
	}

	series := s.SeriesEvents(1)
	if len(series) != 4 || !series[0].Recurring || series[0].RecurrenceType != model.RecurrenceWeekly {
		t.Fatalf("Expected native weekly series, got %+v", series)
	}
	if f, ok := s.AdditionalFields().GetFields(1); !ok || f.Category != "work" {
		t.Errorf("Expected series fields on first occurrence, got %+v", f)
	}

	gym := s.SearchByKeyword("gym")
	if len(gym) != 3 {
		t.Fatalf("Expected 3 expanded gym events, got %d", len(gym))
	}
	for _, e := range gym {
		if e.Recurring {
			t.Error("Expanded events must be single events")
		}
	}
	if !gym[2].Start.Equal(at("2024-03-05T07:00:00")) {
		t.Errorf("Unexpected third gym start %v", gym[2].Start)
	}
}

func TestExportRoundTrip(t *testing.T) {
	src := newStore(t)
	if _, err := src.AddRecurringEvent(model.SeriesSeed{
		Title:           "Sync",
		Description:     "weekly sync; notes",
		Start:           at("2024-03-04T10:00:00"),
		End:             at("2024-03-04T10:30:00"),
		Type:            model.RecurrenceWeekly,
		Count:           3,
		ReminderMinutes: 15,
	}); err != nil {
		t.Fatalf("AddRecurringEvent: %v", err)
	}
	if _, err := src.CreateEvent(model.NewEventInput{
		Title:  "Lunch",
		Start:  at("2024-03-05T12:00:00"),
		End:    at("2024-03-05T13:00:00"),
		Fields: model.AdditionalFields{Location: "Cafe"},
	}); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	var buf bytes.Buffer
	if err := Export(&buf, src.Events(), src.AdditionalFields()); err != nil {
		t.Fatalf("Export: %v", err)
	}

	parsed, err := ParseICS("export", buf.Bytes())
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("Expected 2 VEVENTs (series + single), got %d", len(parsed))
	}
	if !strings.Contains(parsed[0].RawRRule, "FREQ=WEEKLY") || !strings.Contains(parsed[0].RawRRule, "COUNT=3") {
		t.Errorf("Unexpected RRULE %q", parsed[0].RawRRule)
	}
	if parsed[0].ReminderMinutes != 15 {
		t.Errorf("Expected reminder 15, got %d", parsed[0].ReminderMinutes)
	}
	if parsed[0].Description != "weekly sync; notes" {
		t.Errorf("Description = %q", parsed[0].Description)
	}
	if parsed[1].Fields.Location != "Cafe" {
		t.Errorf("Expected location to survive, got %+v", parsed[1].Fields)
	}

	dst := newStore(t)
	res, err := Import(dst, parsed)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Series != 1 || res.Events != 4 {
		t.Errorf("Unexpected import result %+v", res)
	}
	if dst.RecurringEventCount() != 3 {
		t.Errorf("Expected 3 recurring events, got %d", dst.RecurringEventCount())
	}
}

func TestExportBrokenSeriesWritesOccurrences(t *testing.T) {
	s := newStore(t)
	series, err := s.AddRecurringEvent(model.SeriesSeed{
		Title: "Daily",
		Start: at("2024-03-04T09:00:00"),
		End:   at("2024-03-04T09:15:00"),
		Type:  model.RecurrenceDaily,
		Count: 3,
	})
	if err != nil {
		t.Fatalf("AddRecurringEvent: %v", err)
	}
	if err := s.DeleteSingleOccurrence(series[1]); err != nil {
		t.Fatalf("DeleteSingleOccurrence: %v", err)
	}

	var buf bytes.Buffer
	if err := Export(&buf, s.Events(), nil); err != nil {
		t.Fatalf("Export: %v", err)
	}
	parsed, err := ParseICS("export", buf.Bytes())
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("Expected 2 occurrences, got %d", len(parsed))
	}
	if parsed[0].RawRRule != "" || parsed[1].RawRRule != "" {
		t.Error("Broken series must not carry an RRULE")
	}
	if parsed[0].UID == parsed[1].UID {
		t.Error("Occurrences must have distinct UIDs")
	}
}

func TestDownloaderCachesAndRevalidates(t *testing.T) {
	body := string(calendar("BEGIN:VEVENT", "UID:x", "SUMMARY:X", "DTSTART:20240101T090000", "END:VEVENT"))
	fail := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	d := NewDownloader(t.TempDir())
	ctx := context.Background()
	url := srv.URL + "/cal.ics?token=secret"

	first, err := d.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if first.FromCache || string(first.Body) != body {
		t.Errorf("Expected fresh body, got %+v", first)
	}

	second, err := d.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("Fetch (304): %v", err)
	}
	if !second.FromCache || string(second.Body) != body {
		t.Error("Expected cached body on 304")
	}

	fail = true
	third, err := d.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("Fetch (500): %v", err)
	}
	if !third.FromCache {
		t.Error("Expected cached body on upstream failure")
	}
}

func TestDownloaderRejectsBadURL(t *testing.T) {
	d := NewDownloader("")
	if _, err := d.Fetch(context.Background(), "file:///etc/passwd"); err == nil {
		t.Error("Expected error for non-HTTP URL")
	}
}

func TestRedactURL(t *testing.T) {
	got := redactURL("https://example.com/private/cal.ics?token=abcd")
	if got != "https://example.com/...(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
}
