package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/repo"
	"github.com/JarvusInnovations/hologit-sub000/pkg/source"
	"github.com/JarvusInnovations/hologit-sub000/pkg/tree"
	"github.com/JarvusInnovations/hologit-sub000/pkg/worktree"
)

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <ref|hash> <dir>",
		Short: "Write the files of a commit or tree into a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			h, err := r.ResolveRef(args[0])
			if errors.Is(err, repo.ErrRefNotFound) {
				return errs.Resolution("export", "%s does not name a commit or tree", args[0])
			}
			if err != nil {
				return err
			}
			root, err := source.CommitTree(r.Store, h)
			if err != nil {
				return err
			}
			sess, err := tree.NewSession(r.Store, 0)
			if err != nil {
				return err
			}
			if err := worktree.Export(cmd.Context(), sess.Bind(root), r.Store, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", root.Short(), args[1])
			return nil
		},
	}
}
