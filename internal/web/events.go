package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	appLog "calsched/internal/log"
	"calsched/internal/model"
)

// eventDTO is the JSON view of one event with its additional fields.
type eventDTO struct {
	ID              int    `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Start           string `json:"start"`
	End             string `json:"end"`
	DurationMinutes int    `json:"duration_minutes"`
	Recurring       bool   `json:"recurring"`
	RecurrenceType  string `json:"recurrence_type"`
	RecurrenceCount int    `json:"recurrence_count"`
	SeriesID        int    `json:"series_id"`
	ReminderMinutes int    `json:"reminder_minutes"`

	model.AdditionalFields
}

// eventRequest is the body of POST /api/events, PUT /api/events/{id} and
// POST /api/series.
type eventRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	Start           string `json:"start"`
	End             string `json:"end"`
	ReminderMinutes int    `json:"reminder_minutes"`
	Location        string `json:"location"`
	Category        string `json:"category"`
	Attendees       string `json:"attendees"`

	// Series only.
	RecurrenceType  string `json:"recurrence_type"`
	RecurrenceCount int    `json:"recurrence_count"`
}

type seriesUpdateRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	ReminderMinutes int    `json:"reminder_minutes"`
}

type eventsResponse struct {
	Events []eventDTO `json:"events"`
}

// mutationResponse returns the stored event(s) plus any events that now
// overlap. Overlaps are reported, never rejected.
type mutationResponse struct {
	Events    []eventDTO `json:"events"`
	Conflicts []eventDTO `json:"conflicts"`
}

type deleteResponse struct {
	Removed int `json:"removed"`
}

func (s *Server) toDTO(e model.Event) eventDTO {
	f, _ := s.store.AdditionalFields().GetFields(e.ID)
	return eventDTO{
		ID:               e.ID,
		Title:            e.Title,
		Description:      e.Description,
		Start:            e.Start.Format(model.DateTimeLayout),
		End:              e.End.Format(model.DateTimeLayout),
		DurationMinutes:  int(e.Duration() / time.Minute),
		Recurring:        e.Recurring,
		RecurrenceType:   string(e.RecurrenceType),
		RecurrenceCount:  e.RecurrenceCount,
		SeriesID:         e.SeriesID,
		ReminderMinutes:  e.ReminderMinutes,
		AdditionalFields: f,
	}
}

func (s *Server) toDTOs(events []model.Event) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, e := range events {
		out = append(out, s.toDTO(e))
	}
	return out
}

func (req eventRequest) input() (model.NewEventInput, error) {
	start, err := model.ParseDateTime(req.Start)
	if err != nil {
		return model.NewEventInput{}, &model.ValidationError{Field: "start", Reason: err.Error()}
	}
	end, err := model.ParseDateTime(req.End)
	if err != nil {
		return model.NewEventInput{}, &model.ValidationError{Field: "end", Reason: err.Error()}
	}
	return model.NewEventInput{
		Title:           req.Title,
		Description:     req.Description,
		Start:           start,
		End:             end,
		ReminderMinutes: req.ReminderMinutes,
		Fields: model.AdditionalFields{
			Location:  strings.TrimSpace(req.Location),
			Category:  strings.TrimSpace(req.Category),
			Attendees: strings.TrimSpace(req.Attendees),
		},
	}, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &model.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func pathID(r *http.Request, name string) int {
	id, _ := strconv.Atoi(mux.Vars(r)[name])
	return id
}

// handleListEvents lists events for a period.
//
// GET /api/events?date=2024-03-04
// GET /api/events?week=2024-03-04
// GET /api/events?month=2024-03
// GET /api/events?from=2024-03-01&to=2024-03-31
// GET /api/events?days=7            (upcoming from today)
// GET /api/events                   (everything)
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		events []model.Event
		err    error
	)
	switch {
	case q.Get("date") != "":
		var d time.Time
		if d, err = model.ParseDate(q.Get("date")); err == nil {
			events = s.store.EventsForDate(d)
		}
	case q.Get("week") != "":
		var d time.Time
		if d, err = model.ParseDate(q.Get("week")); err == nil {
			events = s.store.EventsForWeek(d, s.cfg.WeekStartDay())
		}
	case q.Get("month") != "":
		var m time.Time
		if m, err = time.Parse("2006-01", q.Get("month")); err == nil {
			events = s.store.EventsForMonth(m.Year(), m.Month())
		}
	case q.Get("from") != "" || q.Get("to") != "":
		events, err = s.rangeQuery(q.Get("from"), q.Get("to"))
	case q.Get("days") != "":
		events = s.store.Upcoming(s.now(), parseIntDefault(q.Get("days"), 7))
	default:
		events = s.store.Events()
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, eventsResponse{Events: s.toDTOs(events)})
}

func (s *Server) rangeQuery(from, to string) ([]model.Event, error) {
	f, err := model.ParseDate(from)
	if err != nil {
		return nil, err
	}
	t, err := model.ParseDate(to)
	if err != nil {
		return nil, err
	}
	return s.store.SearchByDateRange(f, t), nil
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeStoreError(w, err)
		return
	}
	if rt, err := model.ParseRecurrenceType(req.RecurrenceType); err != nil || rt != model.RecurrenceNone {
		writeError(w, http.StatusBadRequest, "recurring events are created via POST /api/series")
		return
	}
	in, err := req.input()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	e, err := s.store.CreateEvent(in)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	conflicts := s.store.Conflicts(e.Start, e.End, e.ID)
	if len(conflicts) > 0 {
		appLog.Warn("api: event overlaps existing events", "id", e.ID, "conflicts", len(conflicts))
	}
	writeJSON(w, http.StatusCreated, mutationResponse{
		Events:    []eventDTO{s.toDTO(e)},
		Conflicts: s.toDTOs(conflicts),
	})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	e, ok := s.store.GetEventByID(id)
	if !ok {
		writeStoreError(w, &model.NotFoundError{Kind: "event", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, s.toDTO(e))
}

// handleUpdateEvent edits one occurrence. With ?scope=series only title,
// description and reminder are applied, to every occurrence of the series.
func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	var req eventRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeStoreError(w, err)
		return
	}

	if r.URL.Query().Get("scope") == "series" {
		e, ok := s.store.GetEventByID(id)
		if !ok {
			writeStoreError(w, &model.NotFoundError{Kind: "event", ID: id})
			return
		}
		if _, err := s.store.UpdateRecurringSeries(e.SeriesID, req.Title, req.Description, req.ReminderMinutes); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, eventsResponse{Events: s.toDTOs(s.store.SeriesEvents(e.SeriesID))})
		return
	}

	in, err := req.input()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	e, err := s.store.UpdateEvent(id, in)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{
		Events:    []eventDTO{s.toDTO(e)},
		Conflicts: s.toDTOs(s.store.Conflicts(e.Start, e.End, e.ID)),
	})
}

// handleDeleteEvent removes one event, or its whole series with
// ?scope=series.
func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	e, ok := s.store.GetEventByID(id)
	if !ok {
		writeStoreError(w, &model.NotFoundError{Kind: "event", ID: id})
		return
	}

	switch scope := r.URL.Query().Get("scope"); scope {
	case "series":
		n, err := s.store.DeleteRecurringEvent(e)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deleteResponse{Removed: n})
	case "", "occurrence":
		if err := s.store.DeleteSingleOccurrence(e); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deleteResponse{Removed: 1})
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown scope %q", scope))
	}
}

func (s *Server) handleCreateSeries(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeStoreError(w, err)
		return
	}
	rt, err := model.ParseRecurrenceType(req.RecurrenceType)
	if err != nil || rt == model.RecurrenceNone {
		writeError(w, http.StatusBadRequest, "recurrence_type must be DAILY, WEEKLY or MONTHLY")
		return
	}
	in, err := req.input()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	series, err := s.store.AddRecurringEvent(model.SeriesSeed{
		Title:           in.Title,
		Description:     in.Description,
		Start:           in.Start,
		End:             in.End,
		Type:            rt,
		Count:           req.RecurrenceCount,
		ReminderMinutes: in.ReminderMinutes,
		Fields:          in.Fields,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	conflicts := make([]model.Event, 0)
	seen := make(map[int]bool)
	for _, occ := range series {
		for _, c := range s.store.Conflicts(occ.Start, occ.End, occ.ID) {
			if c.SeriesID == occ.SeriesID || seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			conflicts = append(conflicts, c)
		}
	}
	writeJSON(w, http.StatusCreated, mutationResponse{
		Events:    s.toDTOs(series),
		Conflicts: s.toDTOs(conflicts),
	})
}

func (s *Server) handleGetSeries(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "seriesId")
	events := s.store.SeriesEvents(id)
	if len(events) == 0 {
		writeStoreError(w, &model.NotFoundError{Kind: "series", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: s.toDTOs(events)})
}

// handleUpdateSeries sets title, description and reminder on every
// occurrence; start and end times are left alone.
func (s *Server) handleUpdateSeries(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "seriesId")
	var req seriesUpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeStoreError(w, err)
		return
	}
	if _, err := s.store.UpdateRecurringSeries(id, req.Title, req.Description, req.ReminderMinutes); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: s.toDTOs(s.store.SeriesEvents(id))})
}

// handleSearch matches ?q=keyword or a ?from=&to= date range.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("from") != "" || q.Get("to") != "" {
		events, err := s.rangeQuery(q.Get("from"), q.Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, eventsResponse{Events: s.toDTOs(events)})
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: s.toDTOs(s.store.SearchByKeyword(q.Get("q")))})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}

// handleConflicts lists events overlapping [start, end).
//
// GET /api/conflicts?start=2024-03-04T09:00:00&end=2024-03-04T10:00:00&exclude=12
func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := model.ParseDateTime(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := model.ParseDateTime(q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	conflicts := s.store.Conflicts(start, end, parseIntDefault(q.Get("exclude"), 0))
	writeJSON(w, http.StatusOK, eventsResponse{Events: s.toDTOs(conflicts)})
}
