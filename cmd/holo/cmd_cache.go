package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JarvusInnovations/hologit-sub000/pkg/cache"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and share the lens build cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List cached lens outputs as <spec> <output>",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			c := cache.New(r, a.log)
			keys, err := c.Keys()
			if err != nil {
				return err
			}
			for _, key := range keys {
				out, _, err := c.Lookup(key)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", key, out)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "push <remote>",
		Short: "Push every cached output the remote does not already hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			rem, err := cache.Open(ctx, r, args[0])
			if err != nil {
				return err
			}
			c := cache.New(r, a.log)
			keys, err := c.Keys()
			if err != nil {
				return err
			}
			sent := 0
			for _, key := range keys {
				out, _, err := c.Lookup(key)
				if err != nil {
					return err
				}
				ok, err := c.Push(ctx, rem, key, out)
				if err != nil {
					return err
				}
				if ok {
					sent++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushed %d of %d cache entries to %s\n", sent, len(keys), rem.Name())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "pull <remote> <spec>...",
		Short: "Pull cached outputs for the given spec hashes",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			rem, err := cache.Open(ctx, r, args[0])
			if err != nil {
				return err
			}
			c := cache.New(r, a.log)
			for _, raw := range args[1:] {
				key := object.Hash(raw)
				if err := object.ValidateHash(key); err != nil {
					return fmt.Errorf("spec %q: %w", raw, err)
				}
				out, ok, err := c.Pull(ctx, rem, key)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tmissing\n", key)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", key, out)
			}
			return nil
		},
	})
	return cmd
}
