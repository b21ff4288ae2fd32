package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"calsched/internal/model"
)

// FieldManager is the side table of optional descriptive fields keyed by
// event id. It never owns events; the Store removes an entry when the
// owning event is deleted.
type FieldManager struct {
	mu     sync.RWMutex
	fields map[int]model.AdditionalFields
}

func newFieldManager() *FieldManager {
	return &FieldManager{fields: make(map[int]model.AdditionalFields)}
}

// save stores the fields for id in memory. Saving an all-empty set removes
// the entry instead.
func (m *FieldManager) save(id int, f model.AdditionalFields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.IsEmpty() {
		delete(m.fields, id)
		return
	}
	m.fields[id] = f
}

// GetFields returns the fields for id and whether an entry exists.
func (m *FieldManager) GetFields(id int) (model.AdditionalFields, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fields[id]
	return f, ok
}

func (m *FieldManager) remove(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fields, id)
}

// Len returns the number of stored entries.
func (m *FieldManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fields)
}

func (m *FieldManager) snapshot() map[int]model.AdditionalFields {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]model.AdditionalFields, len(m.fields))
	for id, f := range m.fields {
		out[id] = f
	}
	return out
}

func (m *FieldManager) replace(fields map[int]model.AdditionalFields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields = make(map[int]model.AdditionalFields, len(fields))
	for id, f := range fields {
		if !f.IsEmpty() {
			m.fields[id] = f
		}
	}
}

// FieldsPath derives the side-table file from an events file path:
// data/events.csv -> data/events.fields.yaml.
func FieldsPath(eventsPath string) string {
	ext := filepath.Ext(eventsPath)
	return strings.TrimSuffix(eventsPath, ext) + ".fields.yaml"
}

// fieldsDoc is the YAML shape of the side-table file.
type fieldsDoc struct {
	Fields map[string]model.AdditionalFields `yaml:"fields"`
}

// loadFields reads a side-table file. A missing file yields an empty table.
func loadFields(path string) (map[int]model.AdditionalFields, error) {
	out := make(map[int]model.AdditionalFields)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return out, &model.PersistenceError{Op: "read", Path: path, Err: err}
	}

	var doc fieldsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return out, &model.PersistenceError{Op: "parse", Path: path, Err: err}
	}
	for key, f := range doc.Fields {
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		out[id] = f
	}
	return out, nil
}

func saveFields(path string, fields map[int]model.AdditionalFields) error {
	doc := fieldsDoc{Fields: make(map[string]model.AdditionalFields, len(fields))}
	for id, f := range fields {
		doc.Fields[strconv.Itoa(id)] = f
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return &model.PersistenceError{Op: "encode", Path: path, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &model.PersistenceError{Op: "write", Path: path, Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &model.PersistenceError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &model.PersistenceError{Op: "write", Path: path, Err: err}
	}
	return nil
}
