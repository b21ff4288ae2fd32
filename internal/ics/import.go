package ics

import (
	"time"

	appLog "calsched/internal/log"
	"calsched/internal/model"
	"calsched/internal/store"
)

// Sink receives imported events. *store.Store satisfies it.
type Sink interface {
	CreateEvent(in model.NewEventInput) (model.Event, error)
	AddRecurringEvent(seed model.SeriesSeed) ([]model.Event, error)
}

// ImportResult summarizes one import run.
type ImportResult struct {
	Events    int // occurrences created
	Series    int // series created natively
	Expanded  int // VEVENTs whose rule was expanded into single events
	Skipped   int // VEVENTs rejected (overrides, invalid data)
	Truncated int // rules cut off at the occurrence cap
}

// ImportICS parses body and writes its events into sink.
func ImportICS(sink Sink, source string, body []byte) (ImportResult, error) {
	parsed, err := ParseICS(source, body)
	if err != nil {
		return ImportResult{}, err
	}
	return Import(sink, parsed)
}

// Import writes parsed events into sink.
//
//   - No RRULE: one single event.
//   - DAILY/WEEKLY/MONTHLY with COUNT whose dates match the store's own
//     expansion: one native series.
//   - Any other rule: expanded (capped) into single events.
//   - RECURRENCE-ID overrides are skipped.
//
// Invalid events are logged and skipped. A persistence error stops the
// import and is returned with the counts so far.
func Import(sink Sink, parsed []ParsedEvent) (ImportResult, error) {
	var res ImportResult

	for _, pe := range parsed {
		if pe.IsOverride {
			res.Skipped++
			appLog.Warn("ics import: recurrence override skipped", "uid", pe.UID)
			continue
		}

		if pe.RawRRule == "" {
			if err := importSingle(sink, pe, pe.Start, &res); err != nil {
				return res, err
			}
			continue
		}

		if rule, ok := asSeriesRule(pe.RawRRule); ok && matchesStore(pe, rule) {
			seed := model.SeriesSeed{
				Title:           pe.Summary,
				Description:     pe.Description,
				Start:           pe.Start,
				End:             pe.End,
				Type:            rule.Type,
				Count:           rule.Count,
				ReminderMinutes: pe.ReminderMinutes,
				Fields:          pe.Fields,
			}
			series, err := sink.AddRecurringEvent(seed)
			if err != nil {
				if model.IsPersistence(err) {
					return res, err
				}
				res.Skipped++
				appLog.Warn("ics import: series rejected", "uid", pe.UID, "reason", err.Error())
				continue
			}
			res.Series++
			res.Events += len(series)
			continue
		}

		starts, truncated, err := expandRule(pe.RawRRule, pe.Start, defaultMaxOccurrences)
		if err != nil {
			res.Skipped++
			appLog.Warn("ics import: unreadable RRULE", "uid", pe.UID, "rrule", pe.RawRRule, "reason", err.Error())
			continue
		}
		if truncated {
			res.Truncated++
		}
		res.Expanded++
		for _, start := range starts {
			if err := importSingle(sink, pe, start, &res); err != nil {
				return res, err
			}
		}
	}

	appLog.Info("ics import completed",
		"events", res.Events,
		"series", res.Series,
		"expanded", res.Expanded,
		"skipped", res.Skipped,
	)
	return res, nil
}

func importSingle(sink Sink, pe ParsedEvent, start time.Time, res *ImportResult) error {
	dur := pe.End.Sub(pe.Start)
	_, err := sink.CreateEvent(model.NewEventInput{
		Title:           pe.Summary,
		Description:     pe.Description,
		Start:           start,
		End:             start.Add(dur),
		Fields:          pe.Fields,
		ReminderMinutes: pe.ReminderMinutes,
	})
	if err != nil {
		if model.IsPersistence(err) {
			return err
		}
		res.Skipped++
		appLog.Warn("ics import: event rejected", "uid", pe.UID, "reason", err.Error())
		return nil
	}
	res.Events++
	return nil
}

// matchesStore checks that the store's expansion yields the same dates as
// the rule itself, so importing as a native series changes nothing.
func matchesStore(pe ParsedEvent, rule seriesRule) bool {
	own, err := store.ExpandStarts(pe.Start, rule.Type, rule.Count)
	if err != nil {
		return false
	}
	theirs, _, err := expandRule(pe.RawRRule, pe.Start, rule.Count)
	if err != nil || len(theirs) != len(own) {
		return false
	}
	for i := range own {
		if !own[i].Equal(theirs[i]) {
			return false
		}
	}
	return true
}
