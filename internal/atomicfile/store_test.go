package atomicfile

import (
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.json")

	want := sample{Name: "alpha", Count: 3}
	if err := WriteJSON(path, want); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	got, err := ReadJSON[sample](path)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestWriteJSONCreatesDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deeper", "sample.json")

	if err := WriteJSON(path, sample{Name: "nested"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if !Exists(path) {
		t.Fatalf("expected file to exist at %s", path)
	}
}

func TestWriteJSONLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.json")

	if err := WriteJSON(path, sample{Name: "clean"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			t.Fatalf("unexpected leftover file: %s", e.Name())
		}
	}
}

func TestReadJSONMissingFileReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.json")

	got, err := ReadJSON[sample](path)
	if err != nil {
		t.Fatalf("ReadJSON on missing file should not error: %v", err)
	}
	if got != (sample{}) {
		t.Fatalf("expected zero value, got %+v", got)
	}
}

func TestReadJSONCorruptFileReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := ReadJSON[sample](path)
	if err != nil {
		t.Fatalf("ReadJSON on corrupt file should not error: %v", err)
	}
	if got != (sample{}) {
		t.Fatalf("expected zero value on corrupt JSON, got %+v", got)
	}
}

func TestWriteJSONOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.json")

	if err := WriteJSON(path, sample{Name: "first", Count: 1}); err != nil {
		t.Fatalf("WriteJSON first: %v", err)
	}
	if err := WriteJSON(path, sample{Name: "second", Count: 2}); err != nil {
		t.Fatalf("WriteJSON second: %v", err)
	}

	got, err := ReadJSON[sample](path)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	want := sample{Name: "second", Count: 2}
	if got != want {
		t.Fatalf("expected overwritten value %+v, got %+v", want, got)
	}
}
