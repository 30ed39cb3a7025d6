// Package supervisor runs a plan's jobs in two phases: FileJobs copy in
// parallel across a fixed worker pool, then SequenceJobs archive strictly
// one at a time. Workers draw a stable ID from a free-list so a UI layer
// can render a bounded slot table, and every state transition is published
// onto a non-blocking event bus rather than returned synchronously, so a
// slow or absent consumer never stalls a worker.
package supervisor

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/ivoronin/copeer/internal/archiver"
	"github.com/ivoronin/copeer/internal/copier"
	"github.com/ivoronin/copeer/internal/diskmgr"
	"github.com/ivoronin/copeer/internal/progress"
	"github.com/ivoronin/copeer/internal/state"
	"github.com/ivoronin/copeer/internal/types"
)

// Mode restricts which phases Run executes, matching the --mode flag's
// three values (supplemented from the original tool: all, copy, archive).
type Mode string

const (
	ModeAll     Mode = "all"
	ModeCopy    Mode = "copy"
	ModeArchive Mode = "archive"
)

// Options configures a Supervisor run.
type Options struct {
	Workers         int
	DiskMgr         *diskmgr.Manager
	Store           *state.Store
	Bus             *progress.Bus
	CopierOpts      copier.Options
	Mode            Mode
	DryRun          bool
	SourceRoot      string // stripped from a source path to form the relative path under a mount
	DestinationRoot string // prefix inserted under the chosen mount point
}

// Supervisor executes a plan's jobs under the configured concurrency and
// phase restrictions.
//
// Single-use: create with New(), call Run() once.
type Supervisor struct {
	files     []*types.FileJob
	sequences []*types.SequenceJob
	opts      Options

	errCh chan error
}

// New creates a Supervisor for the given plan.
func New(files []*types.FileJob, sequences []*types.SequenceJob, opts Options) *Supervisor {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Supervisor{
		files:     files,
		sequences: sequences,
		opts:      opts,
		errCh:     make(chan error, 1000),
	}
}

// Errors returns the channel non-fatal per-job errors are sent to. Callers
// should drain it concurrently with Run, mirroring the rest of this
// codebase's errCh convention.
func (sv *Supervisor) Errors() <-chan error {
	return sv.errCh
}

func (sv *Supervisor) runsCopyPhase() bool {
	return sv.opts.Mode == ModeAll || sv.opts.Mode == ModeCopy || sv.opts.Mode == ""
}

func (sv *Supervisor) runsArchivePhase() bool {
	return sv.opts.Mode == ModeAll || sv.opts.Mode == ModeArchive || sv.opts.Mode == ""
}

// Run executes phase 1 (parallel copy) then phase 2 (serial archive),
// honoring ctx cancellation and also installing its own SIGINT/SIGTERM
// handler so a Ctrl-C mid-run stops dispatching new jobs but lets
// in-flight ones finish or fail on their own, rather than severing them.
func (sv *Supervisor) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if sv.runsCopyPhase() {
		sv.runCopyPhase(ctx)
	}
	if sv.runsArchivePhase() {
		sv.runArchivePhase(ctx)
	}
	close(sv.errCh)
	return nil
}

// runCopyPhase copies every FileJob using opts.Workers concurrent workers,
// each holding a stable ID from a free-list for the run's duration. A
// cancelled context stops dispatch of new jobs; jobs already handed to a
// worker still run to completion or failure.
func (sv *Supervisor) runCopyPhase(ctx context.Context) {
	if len(sv.files) == 0 {
		return
	}

	jobs := make([]types.Job, len(sv.files))
	for i, f := range sv.files {
		jobs[i] = f
	}
	ordered := types.SortBySizeDescending(jobs)

	jobCh := make(chan types.Job, len(ordered))
	for _, j := range ordered {
		jobCh <- j
	}
	close(jobCh)

	ids := types.NewIDPool(sv.opts.Workers)
	var wg sync.WaitGroup
	for i := 0; i < sv.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := ids.Acquire()
			defer ids.Release(id)

			for j := range jobCh {
				if ctx.Err() != nil {
					continue
				}
				fj := j.(*types.FileJob)
				sv.runFileJob(context.WithoutCancel(ctx), id, fj)
			}
		}()
	}
	wg.Wait()
}

// runArchivePhase tars every SequenceJob strictly one at a time: the
// archiver streams sequentially to one destination volume, and running two
// large sequential tar writes concurrently would just thrash the same
// disks the copy phase already used.
func (sv *Supervisor) runArchivePhase(ctx context.Context) {
	if len(sv.sequences) == 0 {
		return
	}

	jobs := make([]types.Job, len(sv.sequences))
	for i, s := range sv.sequences {
		jobs[i] = s
	}
	ordered := types.SortBySizeDescending(jobs)

	const archiveWorkerID = 1
	for _, j := range ordered {
		if ctx.Err() != nil {
			return
		}
		sj := j.(*types.SequenceJob)
		sv.runSequenceJob(context.WithoutCancel(ctx), archiveWorkerID, sj)
	}
}

// runFileJob copies one file to a disk-manager-selected destination,
// publishing start/progress/terminal events and recording the outcome.
func (sv *Supervisor) runFileJob(ctx context.Context, workerID int, job *types.FileJob) {
	key := job.Key()
	if sv.opts.Store != nil && sv.opts.Store.IsProcessed(key) {
		return
	}

	sv.publish(progress.Event{WorkerID: workerID, JobKey: key, Kind: progress.EventStarted, Phase: "copy"})

	mount, err := sv.opts.DiskMgr.Pick(job.Size)
	if err != nil {
		sv.fail(key, workerID, "copy", err)
		return
	}
	destPath := sv.destPath(mount, job.AbsPath)

	if sv.opts.DryRun {
		_ = copier.DryRun(ctx, func(pct int) {
			sv.publish(progress.Event{WorkerID: workerID, JobKey: key, Kind: progress.EventProgress, Phase: "copy", Percent: pct})
		})
		sv.recordMapping(key, destPath)
		sv.publish(progress.Event{WorkerID: workerID, JobKey: key, Kind: progress.EventSucceeded, Phase: "copy", Percent: 100})
		return
	}

	_, err = copier.Copy(ctx, job.AbsPath, destPath, sv.opts.CopierOpts, func(pct int) {
		sv.publish(progress.Event{WorkerID: workerID, JobKey: key, Kind: progress.EventProgress, Phase: "copy", Percent: pct})
	})
	if err != nil {
		sv.fail(key, workerID, "copy", err)
		return
	}

	sv.markDone(key)
	sv.recordMapping(key, destPath)
	sv.publish(progress.Event{WorkerID: workerID, JobKey: key, Kind: progress.EventSucceeded, Phase: "copy", Percent: 100})
}

// runSequenceJob archives one promoted sequence to a disk-manager-selected
// destination, publishing events and recording the outcome the same way
// runFileJob does. On failure, every member is individually logged to the
// error log (spec rule: a lost archive must not hide its lost members from
// a later audit).
func (sv *Supervisor) runSequenceJob(ctx context.Context, workerID int, job *types.SequenceJob) {
	key := job.Key()
	if sv.opts.Store != nil && sv.opts.Store.IsProcessed(key) {
		return
	}

	sv.publish(progress.Event{WorkerID: workerID, JobKey: key, Kind: progress.EventStarted, Phase: "archive"})

	mount, err := sv.opts.DiskMgr.Pick(job.Size)
	if err != nil {
		sv.failSequence(job, workerID, err)
		return
	}
	destDir := sv.destPath(mount, job.Dir)
	destPath := filepath.Join(destDir, job.TarName)

	if sv.opts.DryRun {
		sv.recordMapping(key, destPath)
		sv.publish(progress.Event{WorkerID: workerID, JobKey: key, Kind: progress.EventSucceeded, Phase: "archive", Percent: 100})
		return
	}

	err = archiver.Archive(ctx, job, destPath, func(pct int) {
		sv.publish(progress.Event{WorkerID: workerID, JobKey: key, Kind: progress.EventProgress, Phase: "archive", Percent: pct})
	})
	if err != nil {
		sv.failSequence(job, workerID, err)
		return
	}

	sv.markDoneMembers(job.Members)
	sv.recordMapping(key, destPath)
	sv.publish(progress.Event{WorkerID: workerID, JobKey: key, Kind: progress.EventSucceeded, Phase: "archive", Percent: 100})
}

// destPath derives a job's destination under mount, per the source/dest
// root rewrite rule: strip sourceRoot from absSource when it's a prefix
// (otherwise just strip leading separators), then join mount and
// destinationRoot (also stripped of leading separators) in front of it.
func (sv *Supervisor) destPath(mount, absSource string) string {
	rel := absSource
	if sv.opts.SourceRoot != "" && strings.HasPrefix(absSource, sv.opts.SourceRoot) {
		rel = strings.TrimPrefix(absSource, sv.opts.SourceRoot)
	}
	rel = strings.TrimLeft(rel, "/")
	destRoot := strings.TrimLeft(sv.opts.DestinationRoot, "/")
	return filepath.Clean(filepath.Join(mount, destRoot, rel))
}

func (sv *Supervisor) fail(key string, workerID int, phase string, err error) {
	if sv.opts.Store != nil {
		_ = sv.opts.Store.RecordError(key, err)
	}
	sv.sendErr(fmt.Errorf("%s: %w", key, err))
	sv.publish(progress.Event{WorkerID: workerID, JobKey: key, Kind: progress.EventFailed, Phase: phase, Err: err})
}

// failSequence logs the same failure message against every member path, so
// an auditor pass over the error log can account for each lost file
// individually rather than only the archive's own key.
func (sv *Supervisor) failSequence(job *types.SequenceJob, workerID int, err error) {
	if sv.opts.Store != nil {
		for _, member := range job.Members {
			_ = sv.opts.Store.RecordError(member, err)
		}
	}
	sv.sendErr(fmt.Errorf("%s: %w", job.Key(), err))
	sv.publish(progress.Event{WorkerID: workerID, JobKey: job.Key(), Kind: progress.EventFailed, Phase: "archive", Err: err})
}

func (sv *Supervisor) markDone(key string) {
	if sv.opts.Store == nil {
		return
	}
	if err := sv.opts.Store.MarkDone(key); err != nil {
		sv.sendErr(fmt.Errorf("mark done %s: %w", key, err))
	}
}

// markDoneMembers writes one state row per sequence member, matching
// process_job_worker's source_keys_to_log = job['source_files']: the
// archive's mapping row stays singular, but every member is individually
// marked processed so a resumed run skips them and an audit accounts for
// each file, not just the tar.
func (sv *Supervisor) markDoneMembers(members []string) {
	if sv.opts.Store == nil {
		return
	}
	for _, member := range members {
		if err := sv.opts.Store.MarkDone(member); err != nil {
			sv.sendErr(fmt.Errorf("mark done %s: %w", member, err))
		}
	}
}

func (sv *Supervisor) recordMapping(src, dst string) {
	if sv.opts.Store == nil {
		return
	}
	if err := sv.opts.Store.RecordMapping(src, dst); err != nil {
		sv.sendErr(fmt.Errorf("record mapping %s: %w", src, err))
	}
}

func (sv *Supervisor) publish(e progress.Event) {
	if sv.opts.Bus != nil {
		sv.opts.Bus.Publish(e)
	}
}

func (sv *Supervisor) sendErr(err error) {
	select {
	case sv.errCh <- err:
	default:
	}
}
