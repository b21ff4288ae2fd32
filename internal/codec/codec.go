// Package codec reads and writes the flat event file: one event per line,
// ten fields joined by "||":
//
//	id||title||description||start||end||recurring||recurrenceType||recurrenceCount||seriesId||reminderMinutes
//
// Free-text fields escape '\', '|', CR and LF with a backslash so that any
// title or description survives a round trip. Lines written by older
// versions (no escapes, minute-precision timestamps) still parse.
package codec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	appLog "calsched/internal/log"
	"calsched/internal/model"
)

const (
	// Delimiter separates fields on a line.
	Delimiter = "||"
	// FieldCount is the exact number of fields per line.
	FieldCount = 10
	// MaxLineBytes caps one line. A longer line is consumed and skipped as
	// malformed.
	MaxLineBytes = 4 * 1024 * 1024
)

// FormatLine renders one event as a single line without the trailing newline.
func FormatLine(e model.Event) string {
	rt := e.RecurrenceType
	if rt == "" {
		rt = model.RecurrenceNone
	}
	fields := []string{
		strconv.Itoa(e.ID),
		escape(e.Title),
		escape(e.Description),
		e.Start.Format(model.DateTimeLayout),
		e.End.Format(model.DateTimeLayout),
		strconv.FormatBool(e.Recurring),
		string(rt),
		strconv.Itoa(e.RecurrenceCount),
		strconv.Itoa(e.SeriesID),
		strconv.Itoa(e.ReminderMinutes),
	}
	return strings.Join(fields, Delimiter)
}

// ParseLine parses a single line produced by FormatLine.
func ParseLine(line string) (model.Event, error) {
	var e model.Event

	parts := split(line)
	if len(parts) != FieldCount {
		return e, fmt.Errorf("expected %d fields, got %d", FieldCount, len(parts))
	}

	var err error
	if e.ID, err = atoi("id", parts[0]); err != nil {
		return e, err
	}
	e.Title = unescape(parts[1])
	e.Description = unescape(parts[2])
	if e.Start, err = model.ParseDateTime(parts[3]); err != nil {
		return e, fmt.Errorf("start: %w", err)
	}
	if e.End, err = model.ParseDateTime(parts[4]); err != nil {
		return e, fmt.Errorf("end: %w", err)
	}
	if e.Recurring, err = strconv.ParseBool(strings.TrimSpace(parts[5])); err != nil {
		return e, fmt.Errorf("recurring: invalid boolean %q", parts[5])
	}
	if e.RecurrenceType, err = model.ParseRecurrenceType(parts[6]); err != nil {
		return e, fmt.Errorf("recurrenceType: %w", err)
	}
	if e.RecurrenceCount, err = atoi("recurrenceCount", parts[7]); err != nil {
		return e, err
	}
	if e.SeriesID, err = atoi("seriesId", parts[8]); err != nil {
		return e, err
	}
	if e.ReminderMinutes, err = atoi("reminderMinutes", parts[9]); err != nil {
		return e, err
	}
	return e, nil
}

// Encode writes events one per line, in slice order.
func Encode(w io.Writer, events []model.Event) error {
	bw := bufio.NewWriter(w)
	for _, e := range events {
		if _, err := bw.WriteString(FormatLine(e)); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// DecodeResult is the outcome of Decode. Skipped counts lines that were
// rejected; blank lines are not counted.
type DecodeResult struct {
	Events  []model.Event
	Skipped int
}

// Decode parses r line by line. A malformed line, including one longer
// than MaxLineBytes, is logged with source and line number and skipped; it
// never aborts the load. The returned error is only set when reading r
// itself fails, in which case the events parsed so far are still returned.
func Decode(r io.Reader, source string) (DecodeResult, error) {
	res := DecodeResult{Events: make([]model.Event, 0)}
	br := bufio.NewReaderSize(r, 64*1024)

	lineNum := 0
	for {
		raw, n, err := readLine(br, MaxLineBytes)
		if n == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			return res, err
		}
		lineNum++

		switch {
		case n > MaxLineBytes:
			res.Skipped++
			appLog.Warn("codec: skipping malformed line", "source", source, "line", lineNum,
				"reason", fmt.Sprintf("line is %d bytes, limit %d", n, MaxLineBytes))
		case strings.TrimSpace(string(raw)) != "":
			e, perr := ParseLine(strings.TrimSuffix(string(raw), "\r"))
			if perr != nil {
				res.Skipped++
				appLog.Warn("codec: skipping malformed line", "source", source, "line", lineNum, "reason", perr.Error())
				break
			}
			res.Events = append(res.Events, e)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			return res, err
		}
	}
}

// readLine returns the next line without its '\n' and the line's full
// length. Bytes past limit are read and discarded, so raw is nil whenever
// n > limit. n == 0 with a non-nil error means nothing was left to read.
func readLine(br *bufio.Reader, limit int) (raw []byte, n int, err error) {
	for {
		chunk, rerr := br.ReadSlice('\n')
		chunk = bytes.TrimSuffix(chunk, []byte{'\n'})
		n += len(chunk)
		if n <= limit {
			raw = append(raw, chunk...)
		} else {
			raw = nil
		}
		if errors.Is(rerr, bufio.ErrBufferFull) {
			continue
		}
		return raw, n, rerr
	}
}

func atoi(name, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			return 0, fmt.Errorf("%s: invalid integer %q", name, s)
		}
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func escape(s string) string {
	if !strings.ContainsAny(s, "\\|\r\n") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			b.WriteString(`\\`)
		case '|':
			b.WriteString(`\|`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// unescape reverses escape. Unknown sequences keep their backslash so text
// from files that predate escaping is not mangled.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case '\\':
			b.WriteByte('\\')
		case '|':
			b.WriteByte('|')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(c)
			continue
		}
		i++
	}
	return b.String()
}

// split cuts line on unescaped "||". Empty fields, including trailing
// ones, are kept.
func split(line string) []string {
	parts := make([]string, 0, FieldCount)
	start := 0
	for i := 0; i < len(line); i++ {
		switch {
		case line[i] == '\\':
			i++
		case line[i] == '|' && i+1 < len(line) && line[i+1] == '|':
			parts = append(parts, line[start:i])
			i++
			start = i + 1
		}
	}
	return append(parts, line[start:])
}
