package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/HatiCode/solpivot/pkg/catalog"
)

func catalogCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the active catalog, or check it against an engine enum listing",
		Long: "Without --enum the active catalog is validated and printed as YAML.\n" +
			"With --enum every \"Name = id\" line of the listing is compared with the\n" +
			"catalog's collections.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			cat, err := a.catalog()
			if err != nil {
				return err
			}

			enum, _ := cmd.Flags().GetString("enum")
			if enum == "" {
				doc, err := catalog.Marshal(cat)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(doc)
				return err
			}

			f, err := os.Open(enum)
			if err != nil {
				return err
			}
			defer f.Close()
			entries, err := catalog.ParseCollectionEnum(f)
			if err != nil {
				return fmt.Errorf("%s: %w", enum, err)
			}

			out := cmd.OutOrStdout()
			mismatches := 0
			for _, e := range entries {
				col, err := cat.ResolveCollection(e.Name)
				switch {
				case err != nil:
					fmt.Fprintf(out, "%-24s %5d  not in catalog\n", e.Name, e.ID)
				case col.ID != e.ID:
					mismatches++
					fmt.Fprintf(out, "%-24s %5d  catalog has id %d\n", e.Name, e.ID, col.ID)
				default:
					fmt.Fprintf(out, "%-24s %5d  ok (%d datasets)\n", e.Name, e.ID, len(cat.KeysFor(col.ID)))
				}
			}
			if mismatches > 0 {
				return fmt.Errorf("%d collection id(s) differ from %s", mismatches, enum)
			}
			return nil
		},
	}
	cmd.Flags().String("enum", "", "engine collection enum listing to compare with")
	cmd.Flags().String("catalog", "", "catalog YAML file (default built-in)")
	return cmd
}
