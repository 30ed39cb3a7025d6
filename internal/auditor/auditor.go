// Package auditor provides five independent post-hoc operations over the
// logs a run produces: Merge, Analyze, Verify, Stats, and Filter. Unlike
// the rest of copeer, these operations never touch a live run — they read
// and cross-reference files left behind by one or more previous runs.
package auditor

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ivoronin/copeer/internal/manifest"
)

// Row is one parsed line of a mapping file: a source key and the
// destination path it was copied or archived to.
type Row struct {
	SourceKey string
	DestPath  string
}

// ReadMapping parses a CSV-escaped mapping file ("source_key,dest" records),
// skipping a leading header record if present.
func ReadMapping(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("auditor: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate a trailing short line from an older writer

	var rows []Row
	first := true
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("auditor: parse %s: %w", path, err)
		}
		if first {
			first = false
			if len(fields) == 2 && fields[0] == "source_path" && fields[1] == "destination_path" {
				continue
			}
		}
		if len(fields) < 2 {
			continue
		}
		rows = append(rows, Row{SourceKey: fields[0], DestPath: fields[1]})
	}
	return rows, nil
}

// NormalizeDir reduces an absolute path to a short, machine-independent
// directory identity for cross-run comparison: under "/mnt/<vol>/...", it
// keeps the next four path components after the volume; otherwise it keeps
// the path's last four components. This convention is deliberately
// pluggable — swap the variable for deployments with a different mount
// layout.
var NormalizeDir = defaultNormalizeDir

func defaultNormalizeDir(path string) string {
	parts := strings.Split(filepath.Clean(path), string(filepath.Separator))

	if len(parts) >= 2 && parts[1] == "mnt" {
		end := min(len(parts), 7)
		if end <= 3 {
			return strings.Join(parts, "/")
		}
		return strings.Join(parts[3:end], "/")
	}

	if len(parts) <= 4 {
		return strings.Join(parts, "/")
	}
	return strings.Join(parts[len(parts)-4:], "/")
}

// MergeResult reports the outcome of unioning several mapping files.
type MergeResult struct {
	Rows       []Row
	PerFile    map[string]int // input path -> row count read from it
	TotalInput int
}

// Merge reads every mapping file in paths and unions their rows, deduping
// on (SourceKey, DestPath) while preserving first-seen order, and reports
// a row count for each input file.
func Merge(paths []string) (MergeResult, error) {
	seen := make(map[Row]bool)
	result := MergeResult{PerFile: make(map[string]int)}

	for _, p := range paths {
		rows, err := ReadMapping(p)
		if err != nil {
			return MergeResult{}, err
		}
		result.PerFile[p] = len(rows)
		result.TotalInput += len(rows)
		for _, r := range rows {
			if seen[r] {
				continue
			}
			seen[r] = true
			result.Rows = append(result.Rows, r)
		}
	}
	return result, nil
}

// WriteMaster writes rows to path in the same CSV-escaped format
// Store.RecordMapping produces, with no header (matching the regular
// mapping file's format).
func WriteMaster(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("auditor: create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	for _, r := range rows {
		if err := w.Write([]string{r.SourceKey, r.DestPath}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// VerifyResult reports, per unique destination path, whether it exists.
type VerifyResult struct {
	Found   []Row
	Missing []Row
}

// Verify tests exists(dest) for each unique destination in rows.
func Verify(rows []Row) VerifyResult {
	seen := make(map[string]bool)
	var res VerifyResult
	for _, r := range rows {
		if seen[r.DestPath] {
			continue
		}
		seen[r.DestPath] = true
		if _, err := os.Stat(r.DestPath); err == nil {
			res.Found = append(res.Found, r)
		} else {
			res.Missing = append(res.Missing, r)
		}
	}
	return res
}

// DirStats summarizes one normalized directory's mapping coverage.
type DirStats struct {
	Dir          string
	FileCount    int
	SourceExists int
	DestExists   int
}

// Stats groups rows by NormalizeDir(SourceKey) and reports, per directory,
// how many rows have an existing source and an existing destination.
func Stats(rows []Row) []DirStats {
	byDir := make(map[string]*DirStats)
	var order []string

	for _, r := range rows {
		key := NormalizeDir(r.SourceKey)
		st, ok := byDir[key]
		if !ok {
			st = &DirStats{Dir: key}
			byDir[key] = st
			order = append(order, key)
		}
		st.FileCount++
		if _, err := os.Stat(r.SourceKey); err == nil {
			st.SourceExists++
		}
		if _, err := os.Stat(r.DestPath); err == nil {
			st.DestExists++
		}
	}

	sort.Strings(order)
	out := make([]DirStats, len(order))
	for i, key := range order {
		out[i] = *byDir[key]
	}
	return out
}

// Filter returns the subset of rows whose normalized source path also
// appears in plan, the set of normalized source paths from a fresh plan
// manifest. Use NormalizeDir (or a caller-supplied equivalent) to build
// plan from manifest records before calling Filter.
func Filter(rows []Row, plan map[string]bool) []Row {
	var out []Row
	for _, r := range rows {
		if plan[NormalizeDir(r.SourceKey)] {
			out = append(out, r)
		}
	}
	return out
}

// PlanKeySet builds the normalized-source-path set Filter expects from a
// freshly read manifest.
func PlanKeySet(records []manifest.Record) map[string]bool {
	set := make(map[string]bool, len(records))
	for _, rec := range records {
		set[NormalizeDir(rec.AbsPath)] = true
	}
	return set
}

// AnalyzeResult reports the outcome of comparing an intended manifest
// against a state log of completed source keys.
type AnalyzeResult struct {
	SourceRoot string
	Intended   int
	Processed  int
	Missing    []manifest.Record
}

// Analyze auto-detects source_root by finding the longest suffix of a
// state-file key that matches a manifest record's relative path (see
// detectSourceRoot), then reports manifest records whose path was never
// marked done. A relative record path is joined with the detected root
// before the lookup; an absolute record path is compared as is.
func Analyze(records []manifest.Record, stateKeys []string) AnalyzeResult {
	processed := make(map[string]bool, len(stateKeys))
	for _, k := range stateKeys {
		processed[k] = true
	}

	root := detectSourceRoot(records, stateKeys)

	var missing []manifest.Record
	for _, rec := range records {
		key := rec.AbsPath
		if root != "" && !filepath.IsAbs(key) {
			key = filepath.Join(root, key)
		}
		if !processed[key] {
			missing = append(missing, rec)
		}
	}

	return AnalyzeResult{
		SourceRoot: root,
		Intended:   len(records),
		Processed:  len(records) - len(missing),
		Missing:    missing,
	}
}

// detectSourceRoot finds the longest path suffix shared between any state
// key and any manifest record, and returns the prefix that remains once
// that suffix is stripped from the state key. Returns "" if no suffix
// match is found (e.g. manifest and state describe unrelated trees).
func detectSourceRoot(records []manifest.Record, stateKeys []string) string {
	manifestPaths := make(map[string]bool, len(records))
	for _, rec := range records {
		manifestPaths[filepath.ToSlash(rec.AbsPath)] = true
	}

	var best string
	bestLen := -1
	for _, key := range stateKeys {
		slashKey := filepath.ToSlash(key)
		parts := strings.Split(strings.TrimPrefix(slashKey, "/"), "/")
		for i := 0; i < len(parts); i++ {
			suffix := strings.Join(parts[i:], "/")
			if manifestPaths[suffix] && len(suffix) > bestLen {
				bestLen = len(suffix)
				best = strings.TrimSuffix(slashKey, suffix)
			}
		}
	}
	return best
}

// WriteMissingManifest emits a "missing for copy" manifest in the original
// delimited format, so a fresh planning pass can pick up exactly the
// records Analyze found unprocessed.
func WriteMissingManifest(path string, missing []manifest.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("auditor: create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	for _, rec := range missing {
		if _, err := fmt.Fprintf(w, "%q;\"Regular File\";;;%d\n", rec.AbsPath, rec.Size); err != nil {
			return err
		}
	}
	return w.Flush()
}
