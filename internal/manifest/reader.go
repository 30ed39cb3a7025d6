// Package manifest reads delimited manifests and filesystem trees, producing
// a stream of file records for the planner.
//
// Two input modes are supported: a delimited text manifest (ReadManifest)
// and a direct filesystem walk (WalkDirectory). Both emit the same record
// shape so the sequence detector and planner don't need to know which mode
// produced a given directory's files.
package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ivoronin/copeer/internal/progress"
)

// Record describes one file discovered by a manifest read or filesystem
// walk: its absolute path and byte size.
type Record struct {
	AbsPath string
	Size    int64
}

// Malformed describes one manifest row that could not be classified.
type Malformed struct {
	Line   int
	Raw    string
	Reason string
}

// Stats summarizes a manifest read, feeding the planner's summary (spec
// §4.3 rule 5).
type Stats struct {
	TotalLines  int
	IgnoredDirs int
	Malformed   []Malformed
}

// DefaultDelimiter is the manifest column separator when none is configured.
const DefaultDelimiter = ';'

// fallbackRe matches a permissive secondary manifest format: a quoted path
// ending in a short extension, followed by anything. Rows matching this but
// not the primary five-column format are assumed to be files.
var fallbackRe = regexp.MustCompile(`^"([^"]+\.\w{2,5})",.*`)

// ReadManifest parses a delimited manifest file (default delimiter ';').
// sourceRoot, when non-empty, is joined with each relative path to produce
// the absolute source path (spec §4.1). The reader streams the file line by
// line; it never holds the whole manifest in memory. bar, if non-nil, has
// its description updated with the running line count after each line.
func ReadManifest(path string, delimiter rune, sourceRoot string, bar *progress.Bar) ([]Record, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	if delimiter == 0 {
		delimiter = DefaultDelimiter
	}

	var records []Record
	var stats Stats

	type lineStats struct {
		lines int
	}
	ls := &lineStats{}
	if bar != nil {
		bar.Describe(stringerFunc(func() string {
			return fmt.Sprintf("Reading manifest... %d lines", ls.lines)
		}))
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		ls.lines++
		stats.TotalLines++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		rec, ignoredDir, malformed := parseManifestLine(line, ls.lines, delimiter, sourceRoot)
		switch {
		case ignoredDir:
			stats.IgnoredDirs++
		case malformed != nil:
			stats.Malformed = append(stats.Malformed, *malformed)
		default:
			records = append(records, rec)
		}
		if bar != nil {
			bar.Describe(stringerFunc(func() string {
				return fmt.Sprintf("Reading manifest... %d lines", ls.lines)
			}))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, stats, fmt.Errorf("read manifest: %w", err)
	}
	if bar != nil {
		bar.Finish(stringerFunc(func() string {
			return fmt.Sprintf("Read %d lines", ls.lines)
		}))
	}

	return records, stats, nil
}

// parseManifestLine classifies one manifest row.
//
// Column 1: path. Column 2: type (contains "file", "regular file", or
// "directory"). Columns 3-4: ignored. Column 5: size. Rows with fewer than
// five columns fall back to a permissive secondary parser before being
// declared malformed.
func parseManifestLine(line string, lineNum int, delimiter rune, sourceRoot string) (rec Record, ignoredDir bool, malformed *Malformed) {
	cols := splitManifestRow(line, delimiter)

	if len(cols) < 5 {
		if m := fallbackRe.FindStringSubmatch(line); m != nil {
			return toRecord(m[1], 0, sourceRoot), false, nil
		}
		return Record{}, false, &Malformed{Line: lineNum, Raw: line, Reason: "too few columns"}
	}

	relPath := unquote(cols[0])
	fileType := strings.ToLower(cols[1])
	sizeStr := cols[4]

	switch {
	case strings.Contains(fileType, "directory"):
		return Record{}, true, nil
	case strings.Contains(fileType, "file"):
		size := parseSize(sizeStr)
		return toRecord(relPath, size, sourceRoot), false, nil
	default:
		return Record{}, false, &Malformed{Line: lineNum, Raw: line, Reason: fmt.Sprintf("unknown type: %s", cols[1])}
	}
}

// toRecord builds an absolute-path Record, joining against sourceRoot when set.
func toRecord(relPath string, size int64, sourceRoot string) Record {
	var abs string
	if sourceRoot != "" {
		abs = filepath.Clean(filepath.Join(sourceRoot, relPath))
	} else {
		abs = filepath.Clean(relPath)
	}
	return Record{AbsPath: abs, Size: size}
}

// splitManifestRow splits a manifest line on delimiter, honoring double-quoted
// fields where `""` unescapes to a literal `"`.
func splitManifestRow(line string, delimiter rune) []string {
	var cols []string
	var cur strings.Builder
	inQuotes := false
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '"':
			if inQuotes && i+1 < len(runes) && runes[i+1] == '"' {
				cur.WriteRune('"')
				i++
				continue
			}
			inQuotes = !inQuotes
		case c == delimiter && !inQuotes:
			cols = append(cols, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(c)
		}
	}
	cols = append(cols, cur.String())
	return cols
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// parseSize parses a manifest size field: strip whitespace, commas become
// decimal points, scientific notation (contains 'E') parses as float then
// truncates, otherwise parses as a plain integer. Unparseable values yield 0.
func parseSize(s string) int64 {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if cleaned == "" {
		return 0
	}
	if strings.ContainsAny(cleaned, "Ee") {
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0
		}
		return int64(f)
	}
	n, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		// Fall back to float parsing for values like "1024.0" without an
		// exponent marker.
		f, ferr := strconv.ParseFloat(cleaned, 64)
		if ferr != nil {
			return 0
		}
		return int64(f)
	}
	return n
}

// stringerFunc adapts a func() string to fmt.Stringer for progress.Bar.Describe.
type stringerFunc func() string

func (f stringerFunc) String() string { return f() }
