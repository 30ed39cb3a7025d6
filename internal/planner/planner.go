// Package planner composes the manifest reader, sequence detector, and
// state store's resume index into one `Plan`: the copy and archive jobs a
// run should execute, plus a summary a CLI can print before committing to
// them.
package planner

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/ivoronin/copeer/internal/manifest"
	"github.com/ivoronin/copeer/internal/progress"
	"github.com/ivoronin/copeer/internal/sequence"
	"github.com/ivoronin/copeer/internal/state"
	"github.com/ivoronin/copeer/internal/types"
)

// Options configures one planning pass.
type Options struct {
	// ManifestPath, when non-empty, is read as a delimited manifest.
	// When empty, SourceRoot is walked directly.
	ManifestPath string
	Delimiter    rune
	SourceRoot   string

	MinFilesForSequence int
	ImageExtensions     []string

	// Store, if non-nil, is consulted so jobs already marked done in a
	// prior run are excluded from the plan (spec's resumability property).
	Store *state.Store

	ShowProgress bool
}

// Summary reports plan composition for a pre-run confirmation message,
// covering every figure the original tool's own pre-run summary printed:
// lines read, directory rows ignored, found files, the copy/archive byte
// split, and how many candidates a resumed run is skipping.
type Summary struct {
	TotalLines  int // manifest rows read, including ignored/malformed ones; 0 for a directory walk
	IgnoredDirs int // manifest rows classified as directories, not files

	FoundFiles     int // files read before sequence detection or resume filtering
	TotalFiles     int // standalone FileJobs in the final plan
	TotalSequences int // promoted SequenceJobs in the final plan

	CopySize    int64 // bytes to be copied (TotalFiles)
	ArchiveSize int64 // bytes to be archived (TotalSequences)
	TotalBytes  int64 // CopySize + ArchiveSize

	SkippedProcessed int
	MalformedLines   int
}

func (s Summary) String() string {
	return fmt.Sprintf(
		"plan: %d line(s) read (%d dirs ignored, %d malformed), %d file(s) found -> "+
			"%d file(s) + %d sequence(s) = %s total (%s copy, %s archive); %d already processed skipped",
		s.TotalLines, s.IgnoredDirs, s.MalformedLines, s.FoundFiles,
		s.TotalFiles, s.TotalSequences, humanize.IBytes(uint64(s.TotalBytes)),
		humanize.IBytes(uint64(s.CopySize)), humanize.IBytes(uint64(s.ArchiveSize)),
		s.SkippedProcessed,
	)
}

// Plan is the ordered set of jobs a run should execute, plus the summary
// that produced them.
type Plan struct {
	CopyJobs    []*types.FileJob
	ArchiveJobs []*types.SequenceJob
	Summary     Summary
}

// Build reads input (manifest or filesystem walk), detects sequences,
// filters out jobs the state store already marked done, and returns jobs
// sorted largest-first in each phase (spec §4.3 rule 3: largest artifacts
// start first so a long tail of small files doesn't stall the end of a run
// behind one slow worker).
func Build(opts Options) (*Plan, error) {
	records, readStats, err := readInput(opts)
	if err != nil {
		return nil, err
	}

	det := sequence.New(records, opts.MinFilesForSequence, opts.ImageExtensions, opts.ShowProgress)
	detected := det.Run()

	files, skippedFiles := filterProcessedFiles(detected.Files, opts.Store)
	sequences, skippedSeqs := filterProcessedSequences(detected.Sequences, opts.Store)

	files = sortFiles(files)
	sequences = sortSequences(sequences)

	var copySize, archiveSize int64
	for _, f := range files {
		copySize += f.Size
	}
	for _, s := range sequences {
		archiveSize += s.Size
	}

	return &Plan{
		CopyJobs:    files,
		ArchiveJobs: sequences,
		Summary: Summary{
			TotalLines:       readStats.totalLines,
			IgnoredDirs:      readStats.ignoredDirs,
			FoundFiles:       len(records),
			TotalFiles:       len(files),
			TotalSequences:   len(sequences),
			CopySize:         copySize,
			ArchiveSize:      archiveSize,
			TotalBytes:       copySize + archiveSize,
			SkippedProcessed: skippedFiles + skippedSeqs,
			MalformedLines:   readStats.malformedLines,
		},
	}, nil
}

// readStats carries the rule-5 bookkeeping figures that only a manifest
// read produces; a directory walk has no line/malformed/ignored concept.
type readStats struct {
	totalLines     int
	ignoredDirs    int
	malformedLines int
}

func readInput(opts Options) ([]manifest.Record, readStats, error) {
	if opts.ManifestPath != "" {
		bar := progress.New(opts.ShowProgress, -1)
		records, stats, err := manifest.ReadManifest(opts.ManifestPath, opts.Delimiter, opts.SourceRoot, bar)
		if err != nil {
			return nil, readStats{}, fmt.Errorf("planner: read manifest: %w", err)
		}
		return records, readStats{
			totalLines:     stats.TotalLines,
			ignoredDirs:    stats.IgnoredDirs,
			malformedLines: len(stats.Malformed),
		}, nil
	}

	if opts.SourceRoot == "" {
		return nil, readStats{}, fmt.Errorf("planner: source_root must be set when no manifest is given")
	}
	bar := progress.New(opts.ShowProgress, -1)
	records, err := manifest.WalkDirectory(opts.SourceRoot, bar)
	if err != nil {
		return nil, readStats{}, fmt.Errorf("planner: walk source root: %w", err)
	}
	return records, readStats{}, nil
}

func filterProcessedFiles(in []*types.FileJob, store *state.Store) (out []*types.FileJob, skipped int) {
	if store == nil {
		return in, 0
	}
	out = make([]*types.FileJob, 0, len(in))
	for _, f := range in {
		if store.IsProcessed(f.Key()) {
			skipped++
			continue
		}
		out = append(out, f)
	}
	return out, skipped
}

func filterProcessedSequences(in []*types.SequenceJob, store *state.Store) (out []*types.SequenceJob, skipped int) {
	if store == nil {
		return in, 0
	}
	out = make([]*types.SequenceJob, 0, len(in))
	for _, s := range in {
		// The supervisor records an archived sequence's members, not its
		// tar key, so a sequence whose members are all recorded is done.
		done := store.IsProcessed(s.Key())
		if !done && len(s.Members) > 0 {
			done = true
			for _, m := range s.Members {
				if !store.IsProcessed(m) {
					done = false
					break
				}
			}
		}
		if done {
			skipped++
			continue
		}
		out = append(out, s)
	}
	return out, skipped
}

func sortFiles(files []*types.FileJob) []*types.FileJob {
	jobs := make([]types.Job, len(files))
	for i, f := range files {
		jobs[i] = f
	}
	ordered := types.SortBySizeDescending(jobs)
	out := make([]*types.FileJob, len(ordered))
	for i, j := range ordered {
		out[i] = j.(*types.FileJob)
	}
	return out
}

func sortSequences(sequences []*types.SequenceJob) []*types.SequenceJob {
	jobs := make([]types.Job, len(sequences))
	for i, s := range sequences {
		jobs[i] = s
	}
	ordered := types.SortBySizeDescending(jobs)
	out := make([]*types.SequenceJob, len(ordered))
	for i, j := range ordered {
		out[i] = j.(*types.SequenceJob)
	}
	return out
}
