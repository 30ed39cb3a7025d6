package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ivoronin/copeer/internal/copier"
	"github.com/ivoronin/copeer/internal/diskmgr"
	"github.com/ivoronin/copeer/internal/progress"
	"github.com/ivoronin/copeer/internal/state"
	"github.com/ivoronin/copeer/internal/supervisor"
)

// runOptions holds CLI flags for the run command.
type runOptions struct {
	configFile   string
	manifestFile string
	mode         string
	workers      int
	dryRun       bool
	noProgress   bool
}

// newRunCmd creates the run subcommand: builds a plan the same way `plan`
// does, then executes it through the supervisor.
func newRunCmd() *cobra.Command {
	opts := &runOptions{configFile: "config.yaml", mode: "all", workers: runtime.NumCPU()}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a migration plan",
		Long: `Builds a plan (same inputs as "copeer plan") and executes it: copies
standalone files and archives promoted sequences across the configured
destination volumes, recording progress in the state store so a killed or
interrupted run can resume where it left off.

--mode restricts execution to only the copy phase or only the archive
phase, matching the original tool's --mode flag.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runRun(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", opts.configFile, "Path to config.yaml")
	cmd.Flags().StringVarP(&opts.manifestFile, "manifest", "m", "", "Path to a delimited manifest file (omit to walk source_root)")
	cmd.Flags().StringVar(&opts.mode, "mode", opts.mode, `Which phases to run: "all", "copy", or "archive"`)
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", opts.workers, "Number of parallel copy workers")
	cmd.Flags().BoolVarP(&opts.dryRun, "dry-run", "n", false, "Record the mapping that would result without copying or archiving")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")

	return cmd
}

func runRun(opts *runOptions) error {
	cfg, err := loadConfig(opts.configFile)
	if err != nil {
		return err
	}

	mode, err := parseMode(opts.mode)
	if err != nil {
		return err
	}

	dryRun := opts.dryRun || cfg.DryRun
	mappingPath := cfg.MappingFile
	if dryRun {
		mappingPath = cfg.DryRunMappingFile
	}

	st, err := state.Open(cfg.StateFile, mappingPath, cfg.ErrorLogFile, dryRun)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() { _ = st.Close() }()

	p, err := buildPlan(cfg, opts.manifestFile, st, !opts.noProgress)
	if err != nil {
		return err
	}
	fmt.Println(p.Summary.String())

	dm := diskmgr.New(cfg.MountPoints, cfg.DiskStrategy, cfg.Threshold, cfg.MaxConcurrentDisks)
	bus := progress.NewBus()

	sv := supervisor.New(p.CopyJobs, p.ArchiveJobs, supervisor.Options{
		Workers:         opts.workers,
		DiskMgr:         dm,
		Store:           st,
		Bus:             bus,
		CopierOpts:      copier.Options{Tool: copier.DefaultTool, Args: copier.DefaultArgs},
		Mode:            mode,
		DryRun:          dryRun,
		SourceRoot:      cfg.SourceRoot,
		DestinationRoot: cfg.DestinationRoot,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go drainErrors(sv.Errors())
	go drainEvents(bus)

	if err := sv.Run(ctx); err != nil {
		return err
	}
	bus.Close()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// drainEvents prints a one-line summary for every terminal job event, so a
// non-interactive run still shows what finished and what failed.
func drainEvents(bus *progress.Bus) {
	for e := range bus.Events() {
		switch e.Kind {
		case progress.EventSucceeded:
			fmt.Printf("[worker %d] done: %s\n", e.WorkerID, filepath.Base(e.JobKey))
		case progress.EventFailed:
			fmt.Printf("[worker %d] failed: %s: %v\n", e.WorkerID, filepath.Base(e.JobKey), e.Err)
		}
	}
}

func parseMode(s string) (supervisor.Mode, error) {
	switch supervisor.Mode(s) {
	case supervisor.ModeAll, supervisor.ModeCopy, supervisor.ModeArchive:
		return supervisor.Mode(s), nil
	default:
		return "", fmt.Errorf(`invalid --mode %q: must be "all", "copy", or "archive"`, s)
	}
}
