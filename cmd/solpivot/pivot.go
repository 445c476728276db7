package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/HatiCode/solpivot/pkg/consolidate"
	"github.com/HatiCode/solpivot/pkg/pivot"
)

func pivotCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pivot",
		Short: "Reshape the output tree into Dim1..Dim4,Val model input files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				out = filepath.Join(a.cfg.OutputDir, "runs", a.cfg.Period)
			}

			// unmerged addenda are not model input
			addenda := consolidate.New(a.logger, a.cfg.Consolidate.Markers...)
			p := pivot.New(a.logger)
			p.Exclude = func(name string) bool {
				_, ok := addenda.PrimaryName(name)
				return ok
			}

			scenarios, err := p.PivotTree(a.rootDir(cmd), out)
			w := cmd.OutOrStdout()
			for _, sc := range scenarios {
				fmt.Fprintf(w, "%s: %d dataset(s) -> %s\n", sc.Scenario, len(sc.Files), sc.Dir)
				for _, f := range sc.Files {
					if f.Skipped > 0 {
						fmt.Fprintf(w, "  %s: %d record(s) not pivoted\n", f.Dataset, f.Skipped)
					}
				}
			}
			return err
		},
	}
	cmd.Flags().String("root", "", "period tree to pivot (default <output-dir>/<period>)")
	cmd.Flags().String("out", "", "pivot tree directory (default <output-dir>/runs/<period>)")
	cmd.Flags().String("output-dir", "", "root of the output tree")
	cmd.Flags().String("period", "", "result period of the tree")
	return cmd
}
