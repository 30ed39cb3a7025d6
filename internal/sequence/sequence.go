// Package sequence detects numbered frame sequences among a directory's
// files and promotes qualifying runs into archive jobs.
//
// # Overview
//
// The detector is the second stage between the manifest reader and the
// planner. It groups files by directory, then within each directory by
// prefix (the filename with its trailing frame number and the separators
// before it removed) and extension, and promotes any such group meeting the
// minimum frame count and the gap tolerance into a SequenceJob. Members of
// a promoted group are removed from the standalone file set; everything
// else passes through as a FileJob.
//
// # Processing Pipeline
//
//	Input: []manifest.Record (files under one source root)
//	    │
//	    ├──► Group by directory
//	    │
//	    ├──► Within each directory, group by prefix + extension
//	    │
//	    ├──► Filter: keep groups with >= minFrames members and few enough gaps
//	    │
//	    └──► Output: []*types.SequenceJob (promoted) + []*types.FileJob (rest)
package sequence

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ivoronin/copeer/internal/manifest"
	"github.com/ivoronin/copeer/internal/progress"
	"github.com/ivoronin/copeer/internal/types"
)

// frameRe captures a filename of the shape "<prefix><sep frame>.<ext>",
// where the frame is the last run of digits before the extension. Trailing
// dots/underscores preceding the digits are treated as separators and
// dropped from the prefix.
var frameRe = regexp.MustCompile(`^(.*?)[._]*(\d+)\.([a-zA-Z0-9]+)$`)

// Detector groups files into frame sequences.
//
// Single-use: create with New(), call Run() once.
type Detector struct {
	records      []manifest.Record
	minFrames    int
	extensions   map[string]bool // lowercased, no leading dot; empty means "any extension"
	showProgress bool
}

// New creates a Detector. extensions, when non-empty, restricts promotion
// to files whose extension (lowercased, without the dot) is present in the
// set; an empty set allows any extension to be promoted.
func New(records []manifest.Record, minFrames int, extensions []string, showProgress bool) *Detector {
	extSet := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		extSet[e] = true
	}
	return &Detector{
		records:      records,
		minFrames:    minFrames,
		extensions:   extSet,
		showProgress: showProgress,
	}
}

// frame is one file parsed as a candidate sequence member.
type frame struct {
	rec    manifest.Record
	prefix string
	num    int
	ext    string
}

// groupKey identifies one candidate sequence within a directory: same
// blanked-out prefix and extension.
type groupKey struct {
	dir, prefix, ext string
}

// stats tracks detection progress for the trailing progress message.
type stats struct {
	promoted      int
	promotedFiles int
	promotedBytes int64
	startTime     time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Detected %d sequences (%d frames, %s) in %.1fs",
		s.promoted, s.promotedFiles, humanize.IBytes(uint64(s.promotedBytes)),
		time.Since(s.startTime).Seconds())
}

// Result is the output of Run: standalone files plus promoted sequences.
type Result struct {
	Files     []*types.FileJob
	Sequences []*types.SequenceJob
}

// Run groups records into candidate sequences and promotes any group that
// qualifies (see qualifies) into a SequenceJob. Files left unpromoted become
// FileJobs, preserving input order is not guaranteed (map-based grouping).
func (d *Detector) Run() Result {
	bar := progress.New(d.showProgress, -1)
	st := &stats{startTime: time.Now()}

	groups := make(map[groupKey][]frame)
	var standalone []manifest.Record

	for _, rec := range d.records {
		f, ok := parseFrame(rec)
		if !ok || (len(d.extensions) > 0 && !d.extensions[f.ext]) {
			standalone = append(standalone, rec)
			continue
		}
		key := groupKey{dir: filepath.Dir(rec.AbsPath), prefix: f.prefix, ext: f.ext}
		groups[key] = append(groups[key], f)
	}

	var sequences []*types.SequenceJob
	for key, frames := range groups {
		if !qualifies(frames, d.minFrames) {
			for _, f := range frames {
				standalone = append(standalone, f.rec)
			}
			continue
		}
		sj := newSequenceJob(key, frames)
		sequences = append(sequences, sj)

		st.promoted++
		st.promotedFiles += len(frames)
		st.promotedBytes += sj.Size
	}

	files := make([]*types.FileJob, 0, len(standalone))
	for _, rec := range standalone {
		files = append(files, &types.FileJob{AbsPath: rec.AbsPath, Size: rec.Size})
	}

	bar.Finish(st)

	return Result{Files: files, Sequences: sequences}
}

// qualifies implements the promotion law: a group promotes iff it has at
// least minFrames members and its gap count (expected frame span minus
// actual members) is within 5% of the expected span, with a floor of one
// allowed gap regardless of span size. expected is derived from the
// group's own min/max frame numbers, so a group need not be contiguous to
// qualify -- it just can't be missing more than its tolerance allows.
func qualifies(frames []frame, minFrames int) bool {
	if len(frames) < minFrames {
		return false
	}
	min, max := frames[0].num, frames[0].num
	for _, f := range frames[1:] {
		if f.num < min {
			min = f.num
		}
		if f.num > max {
			max = f.num
		}
	}
	expected := max - min + 1
	missing := expected - len(frames)
	limit := int(0.05 * float64(expected))
	if limit < 1 {
		limit = 1
	}
	return missing <= limit
}

// parseFrame extracts the blanked prefix, frame number, and extension from
// one file's basename. Returns ok=false when the basename has no trailing
// frame number.
func parseFrame(rec manifest.Record) (frame, bool) {
	base := filepath.Base(rec.AbsPath)
	m := frameRe.FindStringSubmatch(base)
	if m == nil {
		return frame{}, false
	}
	num, err := strconv.Atoi(m[2])
	if err != nil {
		return frame{}, false
	}
	return frame{rec: rec, prefix: m[1], num: num, ext: lowerExt(m[3])}, true
}

func lowerExt(ext string) string {
	out := make([]byte, len(ext))
	for i := 0; i < len(ext); i++ {
		c := ext[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// newSequenceJob builds a SequenceJob from a promoted group, deriving the
// tar name from the prefix and the frame range, and the archive member list
// sorted by frame number (not path, so discontiguous ranges still read in
// playback order).
func newSequenceJob(key groupKey, frames []frame) *types.SequenceJob {
	sorted := types.NewSorted(frames, func(f frame) int { return f.num })
	ordered := sorted.Items()

	members := make([]string, len(ordered))
	var total int64
	for i, f := range ordered {
		members[i] = f.rec.AbsPath
		total += f.rec.Size
	}

	frameMin := ordered[0].num
	frameMax := ordered[len(ordered)-1].num

	tarName := fmt.Sprintf("%s.%04d-%04d.%s.tar", safeName(key.prefix), frameMin, frameMax, key.ext)

	return &types.SequenceJob{
		Dir:      key.dir,
		TarName:  tarName,
		Members:  members,
		Size:     total,
		FrameMin: frameMin,
		FrameMax: frameMax,
	}
}

// unsafeNameChar matches any character outside [A-Za-z0-9_.-], mirroring the
// original tool's re.sub(r'[^\w\.\-]', '_', prefix.strip()).
var unsafeNameChar = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)

// safeName sanitizes a prefix into a single safe archive filename component:
// trims surrounding whitespace, then substitutes every character outside
// [A-Za-z0-9_.-] with an underscore. A prefix that is empty after trimming
// becomes "sequence".
func safeName(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return "sequence"
	}
	return unsafeNameChar.ReplaceAllString(trimmed, "_")
}
