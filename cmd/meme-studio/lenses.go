package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var lensesAll bool

var lensesCmd = &cobra.Command{
	Use:   "lenses",
	Short: "List the lenses in the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		var rows [][]string
		for _, g := range cat.Groups {
			if !lensesAll && g.ID != cfg.LensGroup {
				continue
			}
			for _, l := range g.Lenses {
				rows = append(rows, []string{g.Name, l.ID, l.Name, l.Effect})
			}
		}
		if len(rows) == 0 {
			return fmt.Errorf("no lenses in group %q (use --all to list every group)", cfg.LensGroup)
		}
		fmt.Println(renderTable([]string{"Group", "Lens", "Name", "Effect"}, rows))
		return nil
	},
}

func init() {
	lensesCmd.Flags().BoolVarP(&lensesAll, "all", "a", false, "List every group, not just --lens-group")
}
