// Package state persists migration progress to three append-only files: a
// state log (one source key per line, written only on success), a mapping
// log (source key to destination path), and an error log (one
// semicolon-delimited line per failure). All writes share one mutex so
// concurrent workers never interleave partial lines, and every write is
// flushed and synced immediately so a crash loses at most the in-flight
// line, never corrupts a previous one.
package state

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// mappingHeader is written only when creating the dry-run mapping file, per
// the external-interface contract: the regular mapping file is never
// headered, only the dry-run one is.
var mappingHeader = []string{"source_path", "destination_path"}

// Store appends migration results to the configured log files. Safe for
// concurrent use.
type Store struct {
	mu sync.Mutex

	stateFile   *os.File
	mappingFile *os.File
	errorFile   *os.File

	stateW     *bufio.Writer
	mappingBuf *bufio.Writer
	mappingW   *csv.Writer
	errorW     *bufio.Writer

	processed map[string]bool // source_key -> done, loaded from a prior run
}

// Open opens (creating if needed) the state, mapping, and error log files.
// When dryRun is true, mappingPath should already be the dry-run mapping
// file path (the caller redirects it); Open writes a header line for a
// freshly created dry-run mapping file, never for the regular one.
// Previously recorded state keys are read back into memory so a resumed
// run can skip already-completed jobs (spec's resumability property).
func Open(statePath, mappingPath, errorPath string, dryRun bool) (*Store, error) {
	processed, err := loadProcessed(statePath)
	if err != nil {
		return nil, fmt.Errorf("state: load previous state: %w", err)
	}

	stateFile, err := openAppend(statePath)
	if err != nil {
		return nil, fmt.Errorf("state: open state file: %w", err)
	}
	mappingFile, mappingIsNew, err := openAppendReportNew(mappingPath)
	if err != nil {
		_ = stateFile.Close()
		return nil, fmt.Errorf("state: open mapping file: %w", err)
	}
	errorFile, err := openAppend(errorPath)
	if err != nil {
		_ = stateFile.Close()
		_ = mappingFile.Close()
		return nil, fmt.Errorf("state: open error file: %w", err)
	}

	mappingBuf := bufio.NewWriter(mappingFile)
	s := &Store{
		stateFile:   stateFile,
		mappingFile: mappingFile,
		errorFile:   errorFile,
		stateW:      bufio.NewWriter(stateFile),
		mappingBuf:  mappingBuf,
		mappingW:    csv.NewWriter(mappingBuf),
		errorW:      bufio.NewWriter(errorFile),
		processed:   processed,
	}

	if dryRun && mappingIsNew {
		if err := s.mappingW.Write(mappingHeader); err != nil {
			return nil, fmt.Errorf("state: write mapping header: %w", err)
		}
		s.mappingW.Flush()
		if err := s.mappingW.Error(); err != nil {
			return nil, fmt.Errorf("state: flush mapping header: %w", err)
		}
		if err := s.mappingBuf.Flush(); err != nil {
			return nil, fmt.Errorf("state: flush mapping header: %w", err)
		}
	}

	return s, nil
}

// openAppend opens path for appending, creating it if absent.
func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// openAppendReportNew is openAppend but also reports whether the file was
// just created.
func openAppendReportNew(path string) (*os.File, bool, error) {
	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)
	f, err := openAppend(path)
	return f, isNew, err
}

// loadProcessed reads a prior state file, if any, into a source-key set.
// MarkDone always writes whole newline-terminated lines, so an
// unterminated final line is a half-written key from an interrupted write:
// it is dropped, and that key is treated as not-yet-done.
func loadProcessed(path string) (map[string]bool, error) {
	processed := make(map[string]bool)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return processed, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			return processed, nil // drops an unterminated final line
		}
		if err != nil {
			return nil, err
		}
		key := strings.TrimSpace(line)
		if key == "" {
			continue
		}
		processed[key] = true
	}
}

// IsProcessed reports whether key was already recorded as done in a prior
// run, so the planner/supervisor can skip it.
func (s *Store) IsProcessed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[key]
}

// MarkDone appends key to the state log and updates the in-memory resume
// index. Called only after a job fully succeeds — per spec, the state log
// records completed jobs, not attempts, so a failed job is retried on the
// next run rather than silently skipped.
func (s *Store) MarkDone(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintln(s.stateW, key); err != nil {
		return fmt.Errorf("state: write state line: %w", err)
	}
	if err := s.stateW.Flush(); err != nil {
		return fmt.Errorf("state: flush state file: %w", err)
	}
	if err := s.stateFile.Sync(); err != nil {
		return fmt.Errorf("state: sync state file: %w", err)
	}

	s.processed[key] = true
	return nil
}

// RecordMapping appends one CSV-escaped "source_key,destination_path" row,
// so a source key or destination path containing a comma or quote round-
// trips unambiguously through Analyze/Merge/Filter.
func (s *Store) RecordMapping(sourceKey, destPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mappingW.Write([]string{sourceKey, destPath}); err != nil {
		return fmt.Errorf("state: write mapping line: %w", err)
	}
	s.mappingW.Flush()
	if err := s.mappingW.Error(); err != nil {
		return fmt.Errorf("state: flush mapping line: %w", err)
	}
	if err := s.mappingBuf.Flush(); err != nil {
		return fmt.Errorf("state: flush mapping file: %w", err)
	}
	if err := s.mappingFile.Sync(); err != nil {
		return fmt.Errorf("state: sync mapping file: %w", err)
	}
	return nil
}

// RecordError appends one "timestamp;source_key;message" line. Internal
// newlines in the error are collapsed to spaces so each failure stays on
// one line, per the error log's external-interface contract.
func (s *Store) RecordError(key string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := strings.ReplaceAll(cause.Error(), "\n", " ")
	line := fmt.Sprintf("%s;%s;%s", localTimestamp(), key, msg)
	if _, err := fmt.Fprintln(s.errorW, line); err != nil {
		return fmt.Errorf("state: write error line: %w", err)
	}
	if err := s.errorW.Flush(); err != nil {
		return fmt.Errorf("state: flush error file: %w", err)
	}
	if err := s.errorFile.Sync(); err != nil {
		return fmt.Errorf("state: sync error file: %w", err)
	}
	return nil
}

// Close flushes and closes all three log files.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mappingW.Flush()

	var firstErr error
	for _, step := range []func() error{
		s.stateW.Flush,
		s.mappingW.Error,
		s.mappingBuf.Flush,
		s.errorW.Flush,
		s.stateFile.Close,
		s.mappingFile.Close,
		s.errorFile.Close,
	} {
		if err := step(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// localTimestamp is a seam so tests don't depend on wall-clock formatting;
// production always uses the real local clock.
var localTimestamp = func() string { return time.Now().Format("2006-01-02 15:04:05") }

// ParseKeys splits raw state-log bytes into source keys, one per
// non-empty line, tolerating a truncated final line the same way
// loadProcessed does. Exported for the auditor, which reads a state log
// directly without opening a full Store.
func ParseKeys(data []byte) []string {
	lines := strings.Split(string(data), "\n")
	// The last element is empty when data ends in a newline, and otherwise
	// an unterminated, half-written key; either way it is dropped.
	lines = lines[:len(lines)-1]
	var keys []string
	for _, line := range lines {
		key := strings.TrimSpace(line)
		if key == "" {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}
