// Package atomicfile implements crash-safe JSON persistence: every write
// goes to a temp file in the target's own directory and is renamed into
// place, so a concurrent reader always observes either the previous
// complete contents or the new complete contents, never a partial write.
package atomicfile

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// WriteJSON marshals v as indented JSON and atomically replaces the file at path.
// The containing directory is created if missing.
func WriteJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &Error{Op: "mkdir", Path: path, Err: err}
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &Error{Op: "marshal", Path: path, Err: err}
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &Error{Op: "create_temp", Path: path, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &Error{Op: "write_temp", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &Error{Op: "close_temp", Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		// Windows historically refuses to rename onto an existing file;
		// remove the target first and retry. This reopens a small
		// non-atomic window, acknowledged and accepted.
		os.Remove(path)
		if err := os.Rename(tmpPath, path); err != nil {
			os.Remove(tmpPath)
			return &Error{Op: "rename", Path: path, Err: err}
		}
	}
	return nil
}

// ReadJSON unmarshals the file at path into a freshly zero-valued T.
// A missing file or a corrupt/empty document both yield the zero value and
// a nil error — callers bootstrapping a new workspace should never have to
// special-case "file not found" from "file never existed yet".
func ReadJSON[T any](path string) (T, error) {
	var zero T
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return zero, nil
		}
		return zero, &Error{Op: "read", Path: path, Err: err}
	}
	if len(data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, nil
	}
	return v, nil
}

// Exists reports whether path names a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Error wraps a failure from an atomicfile operation with the operation name and path.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
