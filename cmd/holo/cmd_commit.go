package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
	"github.com/JarvusInnovations/hologit-sub000/pkg/repo"
	"github.com/JarvusInnovations/hologit-sub000/pkg/tree"
)

func newCommitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Record the working directory as the workspace commit on HEAD",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			message := a.v.GetString("message")
			if message == "" {
				return errs.Config("commit", "commit message is required (-m)")
			}
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			author, err := a.author(r, userName())
			if err != nil {
				return err
			}
			sess, err := tree.NewSession(r.Store, 0)
			if err != nil {
				return err
			}
			treeHash, err := importWorking(cmd.Context(), r, sess)
			if err != nil {
				return err
			}

			head, err := r.Head()
			if err != nil {
				return err
			}
			if !strings.HasPrefix(head, "refs/") {
				return errs.Config("commit", "HEAD is detached at %s", head)
			}
			prev, exists, err := r.ReadRef(head)
			if err != nil {
				return err
			}
			var parents []object.Hash
			if exists {
				parents = []object.Hash{prev}
			}

			var signer repo.CommitSigner
			if key := a.v.GetString("sign-key"); key != "" {
				if signer, _, err = repo.LoadSSHSigner(key); err != nil {
					return errs.E(errs.KindConfig, "commit", err)
				}
			}
			h, err := r.WriteCommit(repo.CommitOptions{Tree: treeHash, Parents: parents, Author: author, Message: message, Signer: signer})
			if err != nil {
				return err
			}
			if err := r.UpdateRefCAS(head, h, prev); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s %s] %s\n", strings.TrimPrefix(head, "refs/heads/"), h.Short(), message)
			return nil
		},
	}
	cmd.Flags().StringP("message", "m", "", "commit message")
	cmd.Flags().String("author", "", "commit author (default: config author, then $USER)")
	cmd.Flags().String("sign-key", "", "SSH private key used to sign the commit")
	return cmd
}
