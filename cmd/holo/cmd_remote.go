package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRemoteCmd(a *app) *cobra.Command {
	list := &cobra.Command{
		Use:   "list",
		Short: "Show configured remotes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			cfg, err := r.ReadConfig()
			if err != nil {
				return err
			}
			names, err := r.RemoteNames()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, cfg.Remotes[name])
			}
			return nil
		},
	}

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Manage named remotes: object servers and build-cache buckets",
		Args:  cobra.NoArgs,
		RunE:  list.RunE,
	}
	cmd.AddCommand(list,
		&cobra.Command{
			Use:   "add <name> <url>",
			Short: "Add or replace a remote (https://, holo+https:// or s3://bucket/prefix)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := a.openRepo()
				if err != nil {
					return err
				}
				if err := r.SetRemote(args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added remote %q -> %s\n", args[0], args[1])
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <name>",
			Short: "Forget a remote",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := a.openRepo()
				if err != nil {
					return err
				}
				if err := r.RemoveRemote(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed remote %q\n", args[0])
				return nil
			},
		},
	)
	return cmd
}
