package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ivoronin/copeer/internal/config"
	"github.com/ivoronin/copeer/internal/manifest"
	"github.com/ivoronin/copeer/internal/planner"
	"github.com/ivoronin/copeer/internal/state"
)

// isInterrupted reports whether err originates from a user interrupt
// (SIGINT/SIGTERM via context cancellation), mapping to exit code 130.
func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// drainErrors consumes per-job errors and writes them to stderr. Clears the
// progress bar line before printing to avoid visual collision.
func drainErrors(errs <-chan error) {
	for err := range errs {
		fmt.Fprintf(os.Stderr, "\r\033[Kerror: %v\n", err)
	}
}

// loadConfig is a thin wrapper so subcommands share one error-wrapping
// convention around config.Load.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// buildPlan assembles a planner.Options from cfg and hands it to
// planner.Build, so both `copeer plan` and `copeer run` compose a plan the
// same way.
func buildPlan(cfg config.Config, manifestPath string, st *state.Store, showProgress bool) (*planner.Plan, error) {
	return planner.Build(planner.Options{
		ManifestPath:        manifestPath,
		Delimiter:           manifest.DefaultDelimiter,
		SourceRoot:          cfg.SourceRoot,
		MinFilesForSequence: cfg.MinFilesForSequence,
		ImageExtensions:     cfg.ImageExtensions,
		Store:               st,
		ShowProgress:        showProgress,
	})
}
