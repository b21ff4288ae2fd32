package web

import (
	"html/template"
	"net/http"
	"sort"
	"time"

	appLog "calsched/internal/log"
	"calsched/internal/model"
	"calsched/internal/store"
)

// calendarTemplate renders the month grid captured by the snapshot
// command. The root element carries data-ready="true" once rendered; the
// capture waits for it.
var calendarTemplate = template.Must(template.New("calendar").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 16px; color: #111; }
h1 { font-size: 28px; margin: 0 0 12px; }
table { width: 100%; border-collapse: collapse; table-layout: fixed; }
th { font-size: 14px; padding: 4px; border-bottom: 2px solid #111; }
td { vertical-align: top; height: 120px; border: 1px solid #999; padding: 4px; font-size: 12px; }
td.other { color: #aaa; }
td.today { background: #f3f3f3; }
.day { font-weight: bold; font-size: 14px; }
.ev { margin-top: 2px; white-space: nowrap; overflow: hidden; text-overflow: ellipsis; }
.ev .t { font-variant-numeric: tabular-nums; }
.more { color: #555; }
</style>
</head>
<body>
<div id="calendar" data-ready="true">
<h1>{{.Title}}</h1>
<table>
<thead><tr>{{range .Weekdays}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{range .Weeks}}<tr>{{range .}}<td class="{{if not .InMonth}}other{{end}}{{if .Today}} today{{end}}">
<div class="day">{{.Day}}</div>
{{range .Events}}<div class="ev"><span class="t">{{.Time}}</span> {{.Title}}</div>
{{end}}{{if .More}}<div class="more">+{{.More}} more</div>{{end}}
</td>{{end}}</tr>
{{end}}</tbody>
</table>
</div>
</body>
</html>
`))

// maxEventsPerCell keeps week rows at a fixed height in the snapshot.
const maxEventsPerCell = 4

type calendarPage struct {
	Title    string
	Weekdays []string
	Weeks    [][]calendarCell
}

type calendarCell struct {
	Day     int
	InMonth bool
	Today   bool
	Events  []calendarEvent
	More    int
}

type calendarEvent struct {
	Time  string
	Title string
}

// handleCalendar renders the month grid.
//
// GET /calendar?month=2024-03 (default: current month)
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	year, month := now.Year(), now.Month()
	if m := r.URL.Query().Get("month"); m != "" {
		t, err := time.Parse("2006-01", m)
		if err != nil {
			http.Error(w, "month must be YYYY-MM", http.StatusBadRequest)
			return
		}
		year, month = t.Year(), t.Month()
	}

	page := buildMonth(s.store, year, month, s.cfg.WeekStartDay(), model.DateOf(now))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := calendarTemplate.Execute(w, page); err != nil {
		appLog.Error("calendar render failed", err, "year", year, "month", int(month))
	}
}

// buildMonth lays out whole weeks covering the month, starting on
// weekStart.
func buildMonth(st *store.Store, year int, month time.Month, weekStart time.Weekday, today time.Time) calendarPage {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	gridStart := store.WeekStartDate(first, weekStart)
	gridEnd := store.WeekStartDate(last, weekStart).AddDate(0, 0, 6)

	events := st.SearchByDateRange(gridStart, gridEnd)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	byDay := make(map[time.Time][]model.Event)
	for _, e := range events {
		d := model.DateOf(e.Start)
		byDay[d] = append(byDay[d], e)
	}

	page := calendarPage{Title: first.Format("January 2006")}
	for i := 0; i < 7; i++ {
		page.Weekdays = append(page.Weekdays, time.Weekday((int(weekStart)+i)%7).String()[:3])
	}

	for wk := gridStart; !wk.After(gridEnd); wk = wk.AddDate(0, 0, 7) {
		row := make([]calendarCell, 0, 7)
		for i := 0; i < 7; i++ {
			d := wk.AddDate(0, 0, i)
			cell := calendarCell{
				Day:     d.Day(),
				InMonth: d.Month() == month,
				Today:   d.Equal(today),
			}
			dayEvents := byDay[d]
			for j, e := range dayEvents {
				if j == maxEventsPerCell {
					cell.More = len(dayEvents) - maxEventsPerCell
					break
				}
				cell.Events = append(cell.Events, calendarEvent{Time: e.Start.Format("15:04"), Title: e.Title})
			}
			row = append(row, cell)
		}
		page.Weeks = append(page.Weeks, row)
	}
	return page
}
