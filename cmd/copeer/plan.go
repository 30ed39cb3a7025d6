package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// planOptions holds CLI flags for the plan command.
type planOptions struct {
	configFile   string
	manifestFile string
	noProgress   bool
}

// newPlanCmd creates the plan subcommand: reads a manifest (or walks
// source_root), runs sequence detection, and prints a summary without
// copying or archiving anything.
func newPlanCmd() *cobra.Command {
	opts := &planOptions{configFile: "config.yaml"}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build and print a migration plan without executing it",
		Long: `Reads a manifest file (or walks source_root when none is given), detects
numbered frame sequences, and prints how many files would be copied,
how many sequences would be archived, and the total size involved.

Nothing is copied, archived, or logged to the state store.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runPlan(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", opts.configFile, "Path to config.yaml")
	cmd.Flags().StringVarP(&opts.manifestFile, "manifest", "m", "", "Path to a delimited manifest file (omit to walk source_root)")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")

	return cmd
}

func runPlan(opts *planOptions) error {
	cfg, err := loadConfig(opts.configFile)
	if err != nil {
		return err
	}

	p, err := buildPlan(cfg, opts.manifestFile, nil, !opts.noProgress)
	if err != nil {
		return err
	}

	fmt.Println(p.Summary.String())
	return nil
}
