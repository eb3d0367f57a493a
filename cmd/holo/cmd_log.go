package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
	"github.com/JarvusInnovations/hologit-sub000/pkg/repo"
)

func newLogCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log [ref]",
		Short: "Show the first-parent history of a ref, such as a --commit-to destination",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := "HEAD"
			if len(args) > 0 {
				ref = args[0]
			}
			verify := a.v.GetBool("verify")
			trusted, err := loadTrustedKey(a.v.GetString("trusted-key"))
			if err != nil {
				return err
			}
			if trusted != nil {
				verify = true
			}

			r, err := a.openRepo()
			if err != nil {
				return err
			}
			h, err := r.ResolveRef(ref)
			if errors.Is(err, repo.ErrRefNotFound) {
				return errs.Resolution("log", "%s does not name a commit", ref)
			}
			if err != nil {
				return err
			}
			commits, err := r.Log(h, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			bad := 0
			for _, c := range commits {
				subject, _, _ := strings.Cut(c.Message, "\n")
				when := time.Unix(c.Timestamp, 0).UTC().Format(time.RFC3339)
				line := fmt.Sprintf("tree %s  %s  %s  %s", c.TreeHash.Short(), when, c.Author, subject)
				if verify {
					status := signatureStatus(c, trusted)
					if status == "bad signature" {
						bad++
					}
					line += "  " + status
				}
				fmt.Fprintln(out, line)
			}
			if bad > 0 {
				return fmt.Errorf("log: %d commit(s) failed signature verification", bad)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of commits to show")
	cmd.Flags().Bool("verify", false, "check each commit's SSH signature")
	cmd.Flags().String("trusted-key", "", "public key (authorized_keys format) signatures must come from; implies --verify")
	return cmd
}

func signatureStatus(c *object.CommitObj, trusted ssh.PublicKey) string {
	switch err := repo.VerifyCommitSignature(c, trusted); {
	case err == nil:
		return "verified"
	case errors.Is(err, repo.ErrUnsigned):
		return "unsigned"
	default:
		return "bad signature"
	}
}

func loadTrustedKey(path string) (ssh.PublicKey, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.E(errs.KindConfig, "trusted key", err)
	}
	key, _, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, errs.E(errs.KindConfig, "trusted key "+path, err)
	}
	return key, nil
}
