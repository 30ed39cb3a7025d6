package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:     "copeer",
		Short:   "Plan and execute bulk file migrations across mounted volumes",
		Version: version + " (" + commit + ")",
	}

	root.AddCommand(newPlanCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newAuditCmd())

	switch err := root.Execute(); {
	case err == nil:
		return 0
	case isInterrupted(err):
		return 130
	default:
		return 1
	}
}
