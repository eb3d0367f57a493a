package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGcCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete objects unreachable from any ref, including cache refs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			summary, err := r.GC(dryRun)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if summary.Pruned == 0 {
				fmt.Fprintf(out, "nothing to prune (%d objects kept)\n", summary.Kept)
				return nil
			}
			verb := "pruned"
			if dryRun {
				verb = "would prune"
			}
			fmt.Fprintf(out, "%s %d unreachable object(s), kept %d\n", verb, summary.Pruned, summary.Kept)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "report without deleting")
	return cmd
}
