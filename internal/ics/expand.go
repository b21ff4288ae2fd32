package ics

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calsched/internal/log"
	"calsched/internal/model"
)

// defaultMaxOccurrences caps expansion of rules the store cannot represent
// as a series (UNTIL, INTERVAL, BYDAY lists, open-ended rules).
const defaultMaxOccurrences = 365

// seriesRule is a recurrence the store can hold natively.
type seriesRule struct {
	Type  model.RecurrenceType
	Count int
}

// asSeriesRule reports whether raw is FREQ=DAILY|WEEKLY|MONTHLY with a
// COUNT. BYMONTHDAY/BYSETPOS are tolerated for MONTHLY because the exporter
// writes them for day-of-month clamping; callers still verify the dates.
func asSeriesRule(raw string) (seriesRule, bool) {
	var out seriesRule
	monthParts := false
	for _, part := range strings.Split(strings.ToUpper(strings.TrimSpace(raw)), ";") {
		if part == "" {
			continue
		}
		k, v, found := strings.Cut(part, "=")
		if !found {
			return out, false
		}
		switch k {
		case "FREQ":
			rt, err := model.ParseRecurrenceType(v)
			if err != nil || rt == model.RecurrenceNone {
				return out, false
			}
			out.Type = rt
		case "COUNT":
			n, err := strconv.Atoi(v)
			if err != nil {
				return out, false
			}
			out.Count = n
		case "INTERVAL":
			if v != "1" {
				return out, false
			}
		case "WKST":
		case "BYMONTHDAY", "BYSETPOS":
			monthParts = true
		default:
			return out, false
		}
	}
	if monthParts && out.Type != model.RecurrenceMonthly {
		return out, false
	}
	if out.Type == "" || out.Count < 1 || out.Count > defaultMaxOccurrences {
		return out, false
	}
	return out, true
}

// expandRule returns the starts of an arbitrary RRULE anchored at start,
// capped at max occurrences. The second return value reports truncation.
func expandRule(raw string, start time.Time, max int) ([]time.Time, bool, error) {
	if max <= 0 {
		max = defaultMaxOccurrences
	}

	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return nil, false, err
	}
	opt.Dtstart = start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, false, err
	}

	out := make([]time.Time, 0)
	next := r.Iterator()
	for {
		t, ok := next()
		if !ok {
			break
		}
		if len(out) == max {
			appLog.Error("ics expand: truncated occurrences due to cap",
				errors.New("max occurrences reached"),
				"rrule", raw,
				"cap", max,
			)
			return out, true, nil
		}
		out = append(out, t)
	}
	return out, false, nil
}
