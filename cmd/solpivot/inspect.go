package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/HatiCode/solpivot/pkg/horizon"
	"github.com/HatiCode/solpivot/pkg/window"
)

func horizonCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "horizon <archive.zip>",
		Short: "Print the time horizon of a result archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			scan, err := horizon.NewReader(a.logger).ReadScan(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "start   %s\n", scan.Horizon.Start.Format(time.DateTime))
			fmt.Fprintf(out, "end     %s\n", scan.Horizon.End.Format(time.DateTime))
			fmt.Fprintf(out, "periods %d (%d unparseable)\n", scan.Records, scan.Skipped)
			return nil
		},
	}
}

func planCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <archive.zip>",
		Short: "Print the query windows of a result archive for the configured chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			h, err := horizon.NewReader(a.logger).Read(args[0])
			if err != nil {
				return err
			}
			windows, err := window.Plan(h, a.cfg.ChunkValue())
			if err != nil {
				return err
			}
			n, err := window.Count(h, a.cfg.ChunkValue())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "horizon %s (%s, %d windows)\n", h, a.cfg.Chunk, n)
			i := 0
			for w := range windows {
				i++
				fmt.Fprintf(out, "%4d  %s\n", i, w)
			}
			return nil
		},
	}
	cmd.Flags().String("chunk", "", "window size (yearly, monthly, daily)")
	return cmd
}
