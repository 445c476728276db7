package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/HatiCode/solpivot/cmd/solpivot/store"
	"github.com/HatiCode/solpivot/pkg/journal"
)

func reportCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the last run recorded in the sqlite journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			if a.cfg.Journal.Driver != "sqlite" {
				return errors.New("report needs the sqlite journal (set journal.path or --journal)")
			}
			j, err := store.Open(a.cfg.Journal)
			if err != nil {
				return err
			}
			defer j.Close()

			run, units, found, err := j.LatestRun()
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintln(cmd.OutOrStdout(), "no run recorded")
				return nil
			}
			failedOnly, _ := cmd.Flags().GetBool("failed")
			writeReport(cmd, run, units, failedOnly)
			return nil
		},
	}
	cmd.Flags().String("journal", "", "sqlite journal file")
	cmd.Flags().Bool("failed", false, "list failed records only")
	return cmd
}

func writeReport(cmd *cobra.Command, run journal.Run, units []journal.UnitRecord, failedOnly bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run      %s\n", run.ID)
	fmt.Fprintf(out, "started  %s\n", run.StartedAt.Format(time.DateTime))
	if run.Finished() {
		fmt.Fprintf(out, "finished %s (%s)\n", run.FinishedAt.Format(time.DateTime), run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	} else {
		fmt.Fprintln(out, "finished -")
	}
	fmt.Fprintf(out, "period   %s, chunk %s, %d scenario(s), %d record(s), %d failed\n\n",
		run.Period, run.Chunk, run.Scenarios, run.Units, run.Failed)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tCOLLECTION\tPROPERTY\tDATASET\tSTATUS\tWINDOWS\tROWS\tSKIPPED\tERROR")
	for _, u := range units {
		if failedOnly && u.Status != journal.StatusFailed {
			continue
		}
		prop, ds := "-", u.Dataset
		if u.Property != 0 {
			prop = fmt.Sprint(u.Property)
		}
		if ds == "" {
			ds = "-"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			u.Scenario, u.Collection, prop, ds, u.Status, u.Windows, u.Rows, u.Skipped, u.Error)
	}
	tw.Flush()
}
