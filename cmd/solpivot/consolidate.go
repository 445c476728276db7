package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HatiCode/solpivot/pkg/consolidate"
)

func consolidateCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Merge addendum datasets into their primaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			root := a.rootDir(cmd)
			report, err := consolidate.New(a.logger, a.cfg.Consolidate.Markers...).Consolidate(root)
			if err != nil {
				return err
			}
			for _, r := range report.Results {
				line := fmt.Sprintf("%-8s %s", r.Outcome, r.Addendum)
				if r.Outcome == consolidate.Merged {
					line += fmt.Sprintf(" -> %s (%d rows)", r.Primary, r.Rows)
				}
				if r.Err != nil {
					line += ": " + r.Err.Error()
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			a.logger.Info("consolidation complete",
				"root", root,
				"merged", report.Merged(),
				"orphaned", report.Orphaned(),
				"failed", report.Failed(),
			)
			return nil
		},
	}
	cmd.Flags().String("root", "", "tree to consolidate (default <output-dir>/<period>)")
	cmd.Flags().String("output-dir", "", "root of the output tree")
	cmd.Flags().String("period", "", "result period of the tree")
	return cmd
}

func renameCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Rename collection_<c>_property_<p>.csv files to catalog dataset names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			renames, err := consolidate.RenameLegacy(a.rootDir(cmd), cat, a.logger)
			done := 0
			for _, r := range renames {
				switch {
				case r.Skipped:
					fmt.Fprintf(cmd.OutOrStdout(), "skipped  %s (%s)\n", r.From, r.Reason)
				case r.Err != nil:
					fmt.Fprintf(cmd.OutOrStdout(), "failed   %s: %v\n", r.From, r.Err)
				default:
					done++
					fmt.Fprintf(cmd.OutOrStdout(), "renamed  %s -> %s\n", r.From, r.To)
				}
			}
			a.logger.Info("rename complete", "renamed", done, "seen", len(renames))
			return err
		},
	}
	cmd.Flags().String("root", "", "tree to scan (default <output-dir>/<period>)")
	cmd.Flags().String("output-dir", "", "root of the output tree")
	cmd.Flags().String("period", "", "result period of the tree")
	cmd.Flags().String("catalog", "", "catalog YAML file (default built-in)")
	return cmd
}
