package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"calsched/internal/config"
	"calsched/internal/model"
	"calsched/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "events.csv"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.WeekStart = "monday"
	s := NewServer(cfg, st)
	s.now = func() time.Time { return time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC) }
	return s, st
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("Unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestCreateEventReportsConflicts(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/events", `{"title":"Standup","start":"2024-03-04T09:00:00","end":"2024-03-04T09:30:00","location":"Room 1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	first := decode[mutationResponse](t, rec)
	if len(first.Events) != 1 || first.Events[0].Location != "Room 1" || first.Events[0].DurationMinutes != 30 {
		t.Errorf("Unexpected created event %+v", first.Events)
	}
	if len(first.Conflicts) != 0 {
		t.Errorf("Expected no conflicts, got %+v", first.Conflicts)
	}

	rec = do(t, h, http.MethodPost, "/api/events", `{"title":"Call","start":"2024-03-04T09:15","end":"2024-03-04T10:00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", rec.Code)
	}
	second := decode[mutationResponse](t, rec)
	if len(second.Conflicts) != 1 || second.Conflicts[0].Title != "Standup" {
		t.Errorf("Expected Standup conflict, got %+v", second.Conflicts)
	}
}

func TestCreateEventValidation(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	tests := []struct {
		name string
		body string
	}{
		{"end before start", `{"title":"X","start":"2024-03-04T10:00:00","end":"2024-03-04T09:00:00"}`},
		{"empty title", `{"title":"  ","start":"2024-03-04T09:00:00","end":"2024-03-04T10:00:00"}`},
		{"bad time", `{"title":"X","start":"tomorrow","end":"2024-03-04T10:00:00"}`},
		{"unknown field", `{"title":"X","colour":"red"}`},
		{"recurring", `{"title":"X","start":"2024-03-04T09:00:00","end":"2024-03-04T10:00:00","recurrence_type":"DAILY"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/events", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSeriesLifecycle(t *testing.T) {
	s, st := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/series", `{"title":"Gym","start":"2024-01-31T07:00:00","end":"2024-01-31T08:00:00","recurrence_type":"monthly","recurrence_count":3,"category":"health"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[mutationResponse](t, rec)
	if len(created.Events) != 3 {
		t.Fatalf("Expected 3 occurrences, got %d", len(created.Events))
	}
	if created.Events[1].Start != "2024-02-29T07:00:00" {
		t.Errorf("Expected clamped February occurrence, got %s", created.Events[1].Start)
	}
	seriesID := created.Events[0].SeriesID

	rec = do(t, h, http.MethodPut, "/api/series/1", `{"title":"Gym (new)","reminder_minutes":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	for _, e := range st.SeriesEvents(seriesID) {
		if e.Title != "Gym (new)" || e.ReminderMinutes != 10 {
			t.Errorf("Series update not applied to %+v", e)
		}
	}

	rec = do(t, h, http.MethodDelete, "/api/events/2", "")
	if rec.Code != http.StatusOK || decode[deleteResponse](t, rec).Removed != 1 {
		t.Fatalf("Expected single occurrence delete, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodDelete, "/api/events/3?scope=series", "")
	if rec.Code != http.StatusOK || decode[deleteResponse](t, rec).Removed != 2 {
		t.Fatalf("Expected series delete of remaining 2, got %d", rec.Code)
	}
	if st.TotalEvents() != 0 {
		t.Errorf("Expected empty store, got %d", st.TotalEvents())
	}
}

func TestUpdateAndNotFound(t *testing.T) {
	s, st := newTestServer(t)
	h := s.Handler()
	e, err := st.CreateEvent(model.NewEventInput{Title: "A", Start: at("2024-03-04T09:00:00"), End: at("2024-03-04T10:00:00")})
	if err != nil {
		t.Fatal(err)
	}

	rec := do(t, h, http.MethodPut, "/api/events/1", `{"title":"B","start":"2024-03-05T09:00:00","end":"2024-03-05T11:00:00"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got, _ := st.GetEventByID(e.ID)
	if got.Title != "B" || !got.Start.Equal(at("2024-03-05T09:00:00")) {
		t.Errorf("Update not applied: %+v", got)
	}

	for _, target := range []string{"/api/events/99", "/api/series/99"} {
		if rec := do(t, h, http.MethodGet, target, ""); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", target, rec.Code)
		}
	}
	if rec := do(t, h, http.MethodPut, "/api/events/99", `{"title":"B","start":"2024-03-05T09:00:00","end":"2024-03-05T11:00:00"}`); rec.Code != http.StatusNotFound {
		t.Errorf("PUT unknown: expected 404, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/events/99", ""); rec.Code != http.StatusNotFound {
		t.Errorf("DELETE unknown: expected 404, got %d", rec.Code)
	}
}

func TestListSearchStatsConflicts(t *testing.T) {
	s, st := newTestServer(t)
	h := s.Handler()
	for _, in := range []model.NewEventInput{
		{Title: "Planning", Description: "Q2 roadmap", Start: at("2024-03-04T09:00:00"), End: at("2024-03-04T10:00:00"), Fields: model.AdditionalFields{Category: "work"}},
		{Title: "Lunch", Start: at("2024-03-06T12:00:00"), End: at("2024-03-06T13:00:00")},
		{Title: "Flight", Start: at("2024-03-12T06:00:00"), End: at("2024-03-12T09:00:00"), Fields: model.AdditionalFields{Category: "travel"}},
	} {
		if _, err := st.CreateEvent(in); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		target string
		want   int
	}{
		{"/api/events", 3},
		{"/api/events?date=2024-03-04", 1},
		{"/api/events?week=2024-03-06", 2},
		{"/api/events?month=2024-03", 3},
		{"/api/events?from=2024-03-05&to=2024-03-31", 2},
		{"/api/events?days=2", 2},
		{"/api/search?q=ROADMAP", 1},
		{"/api/search?q=", 0},
		{"/api/search?from=2024-03-12&to=2024-03-01", 0},
		{"/api/conflicts?start=2024-03-04T09:30:00&end=2024-03-04T12:30:00", 1},
		{"/api/conflicts?start=2024-03-04T09:30:00&end=2024-03-04T12:30:00&exclude=1", 0},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodGet, tt.target, "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", tt.target, rec.Code)
			continue
		}
		if got := len(decode[eventsResponse](t, rec).Events); got != tt.want {
			t.Errorf("GET %s: expected %d events, got %d", tt.target, tt.want, got)
		}
	}

	if rec := do(t, h, http.MethodGet, "/api/events?date=03/04/2024", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad date, got %d", rec.Code)
	}

	stats := decode[store.Stats](t, do(t, h, http.MethodGet, "/api/stats", ""))
	if stats.Total != 3 || stats.Single != 3 || stats.ByCategory["work"] != 1 || stats.ByCategory["travel"] != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestCalendarPage(t *testing.T) {
	s, st := newTestServer(t)
	if _, err := st.CreateEvent(model.NewEventInput{Title: "Dentist <checkup>", Start: at("2024-03-05T08:30:00"), End: at("2024-03-05T09:00:00")}); err != nil {
		t.Fatal(err)
	}

	rec := do(t, s.Handler(), http.MethodGet, "/calendar?month=2024-03", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`data-ready="true"`, "March 2024", "08:30", "Dentist &lt;checkup&gt;", "<th>Mon</th>"} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected calendar page to contain %q", want)
		}
	}

	if rec := do(t, s.Handler(), http.MethodGet, "/calendar?month=march", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad month, got %d", rec.Code)
	}
}

func TestBuildMonthGrid(t *testing.T) {
	_, st := newTestServer(t)
	page := buildMonth(st, 2024, time.February, time.Sunday, at("2024-02-14T00:00:00"))
	// Feb 2024 starts on Thursday and ends on Thursday: Jan 28 .. Mar 2.
	if len(page.Weeks) != 5 {
		t.Fatalf("Expected 5 weeks, got %d", len(page.Weeks))
	}
	if c := page.Weeks[0][0]; c.Day != 28 || c.InMonth {
		t.Errorf("Unexpected first cell %+v", c)
	}
	if c := page.Weeks[2][3]; c.Day != 14 || !c.Today {
		t.Errorf("Expected Feb 14 marked today, got %+v", c)
	}
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	s.cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", PasswordHash: string(hash)}
	h := s.Handler()

	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("Health must stay open, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/stats", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", rec.Code)
	}

	for _, tc := range []struct {
		user, pass string
		want       int
	}{
		{"admin", "s3cret", http.StatusOK},
		{"admin", "wrong", http.StatusUnauthorized},
		{"root", "s3cret", http.StatusUnauthorized},
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
		req.SetBasicAuth(tc.user, tc.pass)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s/%s: expected %d, got %d", tc.user, tc.pass, tc.want, rec.Code)
		}
	}
}

func at(s string) time.Time {
	t, err := model.ParseDateTime(s)
	if err != nil {
		panic(err)
	}
	return t
}
