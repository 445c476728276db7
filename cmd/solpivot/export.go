package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/HatiCode/solpivot/pkg/export"
)

func exportCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write one XLSX workbook per scenario from the output tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				out = filepath.Join(a.cfg.OutputDir, "xlsx", a.cfg.Period)
			}
			x := export.New(a.logger)
			if rows, _ := cmd.Flags().GetInt("max-rows"); rows > 0 {
				x.MaxRows = rows
			}

			books, err := x.ExportTree(a.rootDir(cmd), out)
			for _, wb := range books {
				if wb.Path == "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: nothing to export\n", wb.Scenario)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d sheet(s) -> %s\n", wb.Scenario, wb.Written(), wb.Path)
				for _, s := range wb.Sheets {
					if s.Skipped {
						fmt.Fprintf(cmd.OutOrStdout(), "  skipped %s: %s\n", s.Dataset, s.Reason)
					}
				}
			}
			return err
		},
	}
	cmd.Flags().String("root", "", "period tree to export (default <output-dir>/<period>)")
	cmd.Flags().String("out", "", "workbook directory (default <output-dir>/xlsx/<period>)")
	cmd.Flags().Int("max-rows", 0, "sheet row limit (default the XLSX limit)")
	cmd.Flags().String("output-dir", "", "root of the output tree")
	cmd.Flags().String("period", "", "result period of the tree")
	return cmd
}
