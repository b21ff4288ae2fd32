package codec

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	appLog "calsched/internal/log"
	"calsched/internal/model"
)

// FilePermissions is applied to every event file this package creates.
const FilePermissions = 0o644

// LoadFile reads the default event file at path. The parent directory and
// an empty file are created when missing; that is not an error.
//
// Read failures never lose the lines parsed before them: the returned
// result always holds whatever could be decoded, and the error (a
// *model.PersistenceError) is meant to be logged, not treated as fatal.
func LoadFile(path string) (DecodeResult, error) {
	if err := ensureFile(path); err != nil {
		return DecodeResult{Events: []model.Event{}}, &model.PersistenceError{Op: "create", Path: path, Err: err}
	}
	return ReadFile(path)
}

// ReadFile reads an event file at a caller-chosen path (restore). Unlike
// LoadFile, a missing file is an error.
func ReadFile(path string) (DecodeResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return DecodeResult{Events: []model.Event{}}, &model.PersistenceError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	res, err := Decode(f, path)
	if err != nil {
		return res, &model.PersistenceError{Op: "read", Path: path, Err: err}
	}
	appLog.Debug("codec: file loaded", "path", path, "events", len(res.Events), "skipped", res.Skipped)
	return res, nil
}

// WriteFile replaces path with the full event list. The data goes to a temp
// file in the same directory which is then renamed over path, so a failed
// write leaves the previous file intact.
func WriteFile(path string, events []model.Event) error {
	if err := writeAtomic(path, events); err != nil {
		return &model.PersistenceError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// AppendFile adds a single event line to the end of path without reading
// or rewriting the rest of the file.
func AppendFile(path string, e model.Event) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &model.PersistenceError{Op: "append", Path: path, Err: err}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, FilePermissions)
	if err != nil {
		return &model.PersistenceError{Op: "append", Path: path, Err: err}
	}
	if _, err := f.WriteString(FormatLine(e) + "\n"); err != nil {
		f.Close()
		return &model.PersistenceError{Op: "append", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &model.PersistenceError{Op: "append", Path: path, Err: err}
	}
	return nil
}

// PreserveFile copies path to a sibling named after now, for example
// events.csv.unread-20240304T090000, and returns the copy's path. The store
// calls it before rewriting a file it could not read completely.
func PreserveFile(path string, now time.Time) (string, error) {
	dst := path + ".unread-" + now.Format("20060102T150405")

	src, err := os.Open(path)
	if err != nil {
		return "", &model.PersistenceError{Op: "preserve", Path: path, Err: err}
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, FilePermissions)
	if err != nil {
		return "", &model.PersistenceError{Op: "preserve", Path: dst, Err: err}
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return "", &model.PersistenceError{Op: "preserve", Path: path, Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", &model.PersistenceError{Op: "preserve", Path: dst, Err: err}
	}
	appLog.Warn("codec: preserved partially read events file", "path", path, "copy", dst)
	return dst, nil
}

func ensureFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, FilePermissions)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return err
	}
	appLog.Info("codec: created new events file", "path", path)
	return f.Close()
}

func writeAtomic(path string, events []model.Event) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calsched-events-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if err := Encode(tmp, events); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, FilePermissions); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
