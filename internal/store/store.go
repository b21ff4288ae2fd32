// Package store owns the authoritative event collection: identity
// assignment, recurring series, conflict checks, queries and statistics.
// Every structural mutation is followed by a full rewrite of the backing
// file while the store lock is still held.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"calsched/internal/codec"
	appLog "calsched/internal/log"
	"calsched/internal/model"
)

// ErrPartialLoad is wrapped by the PersistenceError every write returns
// after Open could neither read the events file completely nor preserve a
// copy of it. Restore clears it.
var ErrPartialLoad = errors.New("events file was not read completely")

const (
	// MinRecurrenceCount and MaxRecurrenceCount bound one series expansion.
	MinRecurrenceCount = 1
	MaxRecurrenceCount = 365
)

// Store is the in-memory event collection plus its backing file.
//
// A single RWMutex guards both the collection and file writes, so a reader
// (for example the reminder scan) never observes a half-applied mutation.
type Store struct {
	mu     sync.RWMutex
	path   string
	events []model.Event
	fields *FieldManager

	// synced is true while the file is known to equal the collection, which
	// lets a plain create append one line instead of rewriting everything.
	synced bool

	// unread holds the load error while rewriting would destroy lines that
	// were never read.
	unread error
}

// Open loads the store from path, creating the file (and its directory) if
// needed. Read problems are logged and leave a partially loaded or empty
// store; Open itself only fails for an empty path.
//
// When the file could not be read to the end, a copy is preserved next to
// it before anything is rewritten. If even the copy fails, every mutation
// is kept in memory only and returns an error wrapping ErrPartialLoad.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: events path is empty")
	}

	s := &Store{path: path, fields: newFieldManager()}

	res, err := codec.LoadFile(path)
	if err != nil {
		appLog.Error("store: event file could not be read completely", err, "path", path, "loaded", len(res.Events))
		if _, perr := codec.PreserveFile(path, time.Now()); perr != nil && !errors.Is(perr, fs.ErrNotExist) {
			appLog.Error("store: writes disabled until the events file is restored", perr, "path", path)
			s.unread = err
		}
	} else {
		s.synced = res.Skipped == 0
	}
	s.events = res.Events

	fields, err := loadFields(FieldsPath(path))
	if err != nil {
		appLog.Error("store: additional fields could not be read", err, "path", FieldsPath(path))
	}
	s.fields.replace(fields)

	appLog.Info("store opened", "path", path, "events", len(s.events), "fields", s.fields.Len())
	return s, nil
}

// Path returns the backing events file.
func (s *Store) Path() string {
	return s.path
}

// AdditionalFields exposes the side table (location, category, attendees)
// for reading. Use SaveFields to change an entry.
func (s *Store) AdditionalFields() *FieldManager {
	return s.fields
}

// SaveFields replaces the additional fields of event id and saves the side
// table. An all-empty set removes the entry.
func (s *Store) SaveFields(id int, f model.AdditionalFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(id) < 0 {
		return &model.NotFoundError{Kind: "event", ID: id}
	}
	s.fields.save(id, f)
	if s.unread != nil {
		return s.unreadErrorLocked()
	}
	return s.saveFieldsLocked()
}

// NextID returns the current maximum id plus one, or 1 for an empty store.
// It is always derived from the collection, never from a saved counter.
func (s *Store) NextID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextIDLocked()
}

func (s *Store) nextIDLocked() int {
	maxID := 0
	for _, e := range s.events {
		if e.ID > maxID {
			maxID = e.ID
		}
	}
	return maxID + 1
}

// CreateEvent validates and stores a single, non-recurring event.
//
// If the event was stored but writing the file failed, the event is
// returned together with a *model.PersistenceError.
func (s *Store) CreateEvent(in model.NewEventInput) (model.Event, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Start, in.End = naive(in.Start), naive(in.End)
	if err := validateEvent(in.Title, in.Start, in.End, in.ReminderMinutes); err != nil {
		return model.Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextIDLocked()
	e := model.Event{
		ID:              id,
		Title:           in.Title,
		Description:     in.Description,
		Start:           in.Start,
		End:             in.End,
		Recurring:       false,
		RecurrenceType:  model.RecurrenceNone,
		SeriesID:        id,
		ReminderMinutes: in.ReminderMinutes,
	}
	s.events = append(s.events, e)
	if !in.Fields.IsEmpty() {
		s.fields.save(id, in.Fields)
	}

	appLog.Info("event created", "id", id, "title", e.Title, "start", e.Start.Format(model.DateTimeLayout))

	if s.synced {
		if err := codec.AppendFile(s.path, e); err == nil {
			return e, s.saveFieldsLocked()
		}
		// Fall through to a full rewrite; the append may have been partial.
		s.synced = false
	}
	return e, s.persistLocked()
}

// UpdateEvent replaces the editable fields of one event in place. Series
// membership is untouched: an edited occurrence stays in its series.
func (s *Store) UpdateEvent(id int, in model.NewEventInput) (model.Event, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Start, in.End = naive(in.Start), naive(in.End)

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return model.Event{}, &model.NotFoundError{Kind: "event", ID: id}
	}
	if err := validateEvent(in.Title, in.Start, in.End, in.ReminderMinutes); err != nil {
		return model.Event{}, err
	}

	e := &s.events[idx]
	e.Title = in.Title
	e.Description = in.Description
	e.Start = in.Start
	e.End = in.End
	e.ReminderMinutes = in.ReminderMinutes
	s.fields.save(id, in.Fields)

	appLog.Info("event updated", "id", id, "series_id", e.SeriesID)
	return *e, s.persistLocked()
}

// DeleteEvent removes the event with id and its side-table entry.
func (s *Store) DeleteEvent(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return &model.NotFoundError{Kind: "event", ID: id}
	}
	s.removeAtLocked(idx)

	appLog.Info("event deleted", "id", id)
	return s.persistLocked()
}

// DeleteSingleOccurrence removes exactly e (matched by id) and leaves its
// siblings alone.
func (s *Store) DeleteSingleOccurrence(e model.Event) error {
	return s.DeleteEvent(e.ID)
}

// DeleteRecurringEvent removes every event sharing e.SeriesID and returns
// how many were removed.
func (s *Store) DeleteRecurringEvent(e model.Event) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	removed := 0
	for _, ev := range s.events {
		if ev.SeriesID == e.SeriesID {
			s.fields.remove(ev.ID)
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept

	if removed == 0 {
		return 0, &model.NotFoundError{Kind: "series", ID: e.SeriesID}
	}

	appLog.Info("series deleted", "series_id", e.SeriesID, "removed", removed)
	return removed, s.persistLocked()
}

// GetEventByID returns a copy of the event with id.
func (s *Store) GetEventByID(id int) (model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return model.Event{}, false
	}
	return s.events[idx], true
}

// Backup writes the collection to path in the regular line format. The
// side table goes next to it (see FieldsPath). The default file is not
// touched.
func (s *Store) Backup(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := codec.WriteFile(path, s.events); err != nil {
		return err
	}
	if err := saveFields(FieldsPath(path), s.fields.snapshot()); err != nil {
		return err
	}
	appLog.Info("backup written", "path", path, "events", len(s.events))
	return nil
}

// Restore replaces the whole collection with the contents of path and
// rewrites the default file. Malformed lines in the backup are skipped.
// If path cannot be opened nothing changes.
func (s *Store) Restore(path string) (int, error) {
	res, err := codec.ReadFile(path)
	if err != nil && len(res.Events) == 0 {
		return 0, err
	}
	if err != nil {
		appLog.Error("restore: backup only partially readable", err, "path", path, "loaded", len(res.Events))
	}

	fields, ferr := loadFields(FieldsPath(path))
	if ferr != nil {
		appLog.Error("restore: additional fields could not be read", ferr, "path", FieldsPath(path))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = res.Events
	s.fields.replace(fields)
	s.synced = false
	s.unread = nil

	appLog.Info("restore completed", "path", path, "events", len(res.Events), "skipped", res.Skipped)
	return len(res.Events), s.persistLocked()
}

func (s *Store) indexLocked(id int) int {
	for i, e := range s.events {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeAtLocked(idx int) {
	id := s.events[idx].ID
	s.events = append(s.events[:idx], s.events[idx+1:]...)
	s.fields.remove(id)
}

// persistLocked rewrites the events file and the side table. Caller holds
// s.mu for writing.
func (s *Store) persistLocked() error {
	if s.unread != nil {
		return s.unreadErrorLocked()
	}
	if err := codec.WriteFile(s.path, s.events); err != nil {
		s.synced = false
		appLog.Error("store: persist failed", err, "path", s.path)
		return err
	}
	s.synced = true
	return s.saveFieldsLocked()
}

func (s *Store) unreadErrorLocked() error {
	return &model.PersistenceError{Op: "write", Path: s.path, Err: fmt.Errorf("%w: %v", ErrPartialLoad, s.unread)}
}

func (s *Store) saveFieldsLocked() error {
	if err := saveFields(FieldsPath(s.path), s.fields.snapshot()); err != nil {
		appLog.Error("store: saving additional fields failed", err, "path", FieldsPath(s.path))
		return err
	}
	return nil
}

func validateEvent(title string, start, end time.Time, reminder int) error {
	if title == "" {
		return &model.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if !end.After(start) {
		return &model.ValidationError{Field: "end", Reason: "must be after start"}
	}
	if reminder < 0 {
		return &model.ValidationError{Field: "reminderMinutes", Reason: "must not be negative"}
	}
	return nil
}

// naive drops the location and sub-second part, keeping the wall clock.
func naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}
