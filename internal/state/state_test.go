package state

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T, dryRun bool) (*Store, string, string, string) {
	t.Helper()
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.csv")
	mappingPath := filepath.Join(dir, "mapping.csv")
	errorPath := filepath.Join(dir, "errors.log")

	s, err := Open(statePath, mappingPath, errorPath, dryRun)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, statePath, mappingPath, errorPath
}

func TestMarkDoneAndIsProcessed(t *testing.T) {
	s, _, _, _ := openTestStore(t, false)

	if s.IsProcessed("/mnt/src/a.bin") {
		t.Fatal("expected unprocessed job to report false")
	}
	if err := s.MarkDone("/mnt/src/a.bin"); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if !s.IsProcessed("/mnt/src/a.bin") {
		t.Fatal("expected job to be marked processed after MarkDone")
	}
}

func TestUnmarkedJobIsNotProcessed(t *testing.T) {
	s, _, _, _ := openTestStore(t, false)

	if err := s.RecordError("/mnt/src/b.bin", errors.New("boom")); err != nil {
		t.Fatalf("RecordError: %v", err)
	}
	if s.IsProcessed("/mnt/src/b.bin") {
		t.Fatal("a job that only has an error record should not count as processed")
	}
}

func TestResumeReadsPriorState(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.csv")
	mappingPath := filepath.Join(dir, "mapping.csv")
	errorPath := filepath.Join(dir, "errors.log")

	s1, err := Open(statePath, mappingPath, errorPath, false)
	if err != nil {
		t.Fatalf("Open first: %v", err)
	}
	if err := s1.MarkDone("/mnt/src/c.bin"); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(statePath, mappingPath, errorPath, false)
	if err != nil {
		t.Fatalf("Open second: %v", err)
	}
	defer func() { _ = s2.Close() }()

	if !s2.IsProcessed("/mnt/src/c.bin") {
		t.Fatal("expected resumed Store to recognize prior state entry")
	}
}

func TestRegularMappingFileHasNoHeader(t *testing.T) {
	s, _, mappingPath, _ := openTestStore(t, false)

	if err := s.RecordMapping("/mnt/src/d.bin", "/mnt/dst/d.bin"); err != nil {
		t.Fatalf("RecordMapping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(mappingPath)
	if err != nil {
		t.Fatalf("read mapping file: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly 1 row (no header), got %d lines: %v", len(lines), lines)
	}
	if lines[0] != "/mnt/src/d.bin,/mnt/dst/d.bin" {
		t.Errorf("row = %q", lines[0])
	}
}

func TestDryRunMappingFileHasHeader(t *testing.T) {
	s, _, mappingPath, _ := openTestStore(t, true)

	if err := s.RecordMapping("/mnt/src/d.bin", "/mnt/dst/d.bin"); err != nil {
		t.Fatalf("RecordMapping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(mappingPath)
	if err != nil {
		t.Fatalf("read mapping file: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines: %v", len(lines), lines)
	}
	wantHeader := strings.Join(mappingHeader, ",")
	if lines[0] != wantHeader {
		t.Errorf("header = %q, want %q", lines[0], wantHeader)
	}
}

func TestRecordMappingEscapesCommaInPath(t *testing.T) {
	s, _, mappingPath, _ := openTestStore(t, false)

	if err := s.RecordMapping("/mnt/src/a, b.bin", "/mnt/dst/a, b.bin"); err != nil {
		t.Fatalf("RecordMapping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rows, err := csv.NewReader(mustOpen(t, mappingPath)).ReadAll()
	if err != nil {
		t.Fatalf("parse mapping file as CSV: %v", err)
	}
	if len(rows) != 1 || len(rows[0]) != 2 {
		t.Fatalf("expected 1 row of 2 fields, got %v", rows)
	}
	if rows[0][0] != "/mnt/src/a, b.bin" || rows[0][1] != "/mnt/dst/a, b.bin" {
		t.Errorf("row = %v, want comma preserved within each field", rows[0])
	}
}

func mustOpen(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestRecordErrorWritesSemicolonLine(t *testing.T) {
	s, _, _, errorPath := openTestStore(t, false)

	if err := s.RecordError("/mnt/src/e.bin", errors.New("disk full")); err != nil {
		t.Fatalf("RecordError: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(errorPath)
	if err != nil {
		t.Fatalf("read error file: %v", err)
	}
	cols := strings.SplitN(strings.TrimSpace(string(data)), ";", 3)
	if len(cols) != 3 {
		t.Fatalf("expected 3 semicolon-delimited fields, got %d: %q", len(cols), data)
	}
	if cols[1] != "/mnt/src/e.bin" {
		t.Errorf("source key field = %q", cols[1])
	}
	if cols[2] != "disk full" {
		t.Errorf("message field = %q", cols[2])
	}
}

func TestRecordErrorCollapsesNewlines(t *testing.T) {
	s, _, _, errorPath := openTestStore(t, false)

	if err := s.RecordError("/mnt/src/f.bin", errors.New("line1\nline2")); err != nil {
		t.Fatalf("RecordError: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(errorPath)
	if err != nil {
		t.Fatalf("read error file: %v", err)
	}
	if strings.Count(string(data), "\n") != 1 {
		t.Errorf("expected exactly one newline (end of record), got content %q", data)
	}
	if !strings.Contains(string(data), "line1 line2") {
		t.Errorf("expected collapsed message, got %q", data)
	}
}
