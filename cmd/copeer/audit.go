package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ivoronin/copeer/internal/auditor"
	"github.com/ivoronin/copeer/internal/manifest"
	"github.com/ivoronin/copeer/internal/state"
)

// newAuditCmd creates the audit command and its five operations: merge,
// analyze, verify, stats, and filter, mirroring the original tool's
// five-choice post-hoc menu.
func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Post-hoc operations over mapping, state, and manifest files from previous runs",
	}

	cmd.AddCommand(newAuditMergeCmd())
	cmd.AddCommand(newAuditAnalyzeCmd())
	cmd.AddCommand(newAuditVerifyCmd())
	cmd.AddCommand(newAuditStatsCmd())
	cmd.AddCommand(newAuditFilterCmd())

	return cmd
}

func newAuditMergeCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "merge <mapping-file>...",
		Short: "Union several mapping files into one deduplicated master mapping",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			result, err := auditor.Merge(args)
			if err != nil {
				return err
			}
			for _, p := range args {
				fmt.Printf("%s: %d rows\n", p, result.PerFile[p])
			}
			fmt.Printf("total input rows: %d, unique rows: %d\n", result.TotalInput, len(result.Rows))
			if out != "" {
				if err := auditor.WriteMaster(out, result.Rows); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the merged, deduplicated mapping to this path")
	return cmd
}

func newAuditAnalyzeCmd() *cobra.Command {
	var stateFile, out string
	cmd := &cobra.Command{
		Use:   "analyze <manifest-file>",
		Short: "Compare an intended manifest against a state log and report what was never processed",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			records, _, err := manifest.ReadManifest(args[0], manifest.DefaultDelimiter, "", nil)
			if err != nil {
				return err
			}
			keys, err := readStateKeys(stateFile)
			if err != nil {
				return err
			}

			res := auditor.Analyze(records, keys)
			fmt.Printf("source root: %s\n", res.SourceRoot)
			fmt.Printf("intended: %d, processed: %d, missing: %d\n", res.Intended, res.Processed, len(res.Missing))

			if out != "" && len(res.Missing) > 0 {
				if err := auditor.WriteMissingManifest(out, res.Missing); err != nil {
					return err
				}
				fmt.Printf("wrote missing manifest to %s\n", out)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stateFile, "state-file", "state.csv", "Path to the state log")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write records missing from the state log as a fresh manifest")
	return cmd
}

func newAuditVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <mapping-file>",
		Short: "Check that every destination path recorded in a mapping file actually exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			rows, err := auditor.ReadMapping(args[0])
			if err != nil {
				return err
			}
			res := auditor.Verify(rows)
			fmt.Printf("found: %d, missing: %d\n", len(res.Found), len(res.Missing))
			for _, r := range res.Missing {
				fmt.Printf("missing: %s -> %s\n", r.SourceKey, r.DestPath)
			}
			if len(res.Missing) > 0 {
				return fmt.Errorf("%d destination(s) missing", len(res.Missing))
			}
			return nil
		},
	}
	return cmd
}

func newAuditStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <mapping-file>",
		Short: "Summarize mapping coverage grouped by normalized source directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			rows, err := auditor.ReadMapping(args[0])
			if err != nil {
				return err
			}
			for _, st := range auditor.Stats(rows) {
				fmt.Printf("%-60s files=%d source_exists=%d dest_exists=%d\n",
					st.Dir, st.FileCount, st.SourceExists, st.DestExists)
			}
			return nil
		},
	}
	return cmd
}

func newAuditFilterCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "filter <mapping-file> <plan-manifest>",
		Short: "Keep only mapping rows whose source also appears in a fresh plan manifest",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			rows, err := auditor.ReadMapping(args[0])
			if err != nil {
				return err
			}
			records, _, err := manifest.ReadManifest(args[1], manifest.DefaultDelimiter, "", nil)
			if err != nil {
				return err
			}
			plan := auditor.PlanKeySet(records)
			filtered := auditor.Filter(rows, plan)
			fmt.Printf("%d of %d rows match the plan\n", len(filtered), len(rows))
			if out != "" {
				if err := auditor.WriteMaster(out, filtered); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the filtered mapping to this path")
	return cmd
}

// readStateKeys reads a state log's source keys directly (not through
// state.Store, which also opens mapping/error files this read-only
// operation has no use for).
func readStateKeys(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: read state file %s: %w", path, err)
	}
	return state.ParseKeys(data), nil
}
