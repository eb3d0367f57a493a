package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JarvusInnovations/hologit-sub000/pkg/config"
	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/remote"
	"github.com/JarvusInnovations/hologit-sub000/pkg/repo"
	"github.com/JarvusInnovations/hologit-sub000/pkg/source"
	"github.com/JarvusInnovations/hologit-sub000/pkg/tree"
)

func newSourceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Manage and fetch holosources",
	}
	cmd.AddCommand(newSourceAddCmd(a), newSourceListCmd(a), newSourceFetchCmd(a))
	return cmd
}

func newSourceAddCmd(a *app) *cobra.Command {
	var (
		ref         string
		projectFrom string
		noLens      bool
	)
	cmd := &cobra.Command{
		Use:   "add <name> [url]",
		Short: "Write a source definition into the working directory",
		Long: "Write .holo/sources/<name>.toml. Without a url the source names a ref of\n" +
			"this repository; holo+http(s):// urls use the holo protocol and any other\n" +
			"url is cloned with git.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			src := &config.Source{Name: args[0], Ref: ref}
			if len(args) > 1 {
				src.URL = args[1]
			}
			if projectFrom != "" {
				src.Project = &config.SourceProject{Branch: projectFrom, Lens: !noLens}
			}
			data, err := config.MarshalSource(src)
			if err != nil {
				return err
			}
			// Round trip so invalid names and refs fail before anything is written.
			if _, err := config.ParseSource(src.Name, data); err != nil {
				return err
			}

			path := filepath.Join(r.RootDir, config.Dir, "sources", src.Name+".toml")
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create sources directory: %w", err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("write source: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added source %q\n", src.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "ref to track (default HEAD)")
	cmd.Flags().StringVar(&projectFrom, "project", "", "project this holobranch of the source before use")
	cmd.Flags().BoolVar(&noLens, "no-lens", false, "skip lenses when projecting the source")
	return cmd
}

func newSourceListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the workspace's sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, cfg, err := a.workspaceConfig(cmd)
			if err != nil {
				return err
			}
			sources, err := cfg.Sources(cmd.Context())
			if err != nil {
				return err
			}
			for _, src := range sources {
				url := src.URL
				if url == "" {
					url = "(local)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", src.Name, url, src.Ref)
			}
			return nil
		},
	}
	addWorkspaceFlags(cmd)
	return cmd
}

func newSourceFetchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch [name...]",
		Short: "Fetch remote sources and advance their tracking refs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, _, cfg, err := a.workspaceConfig(cmd)
			if err != nil {
				return err
			}
			var sources []*config.Source
			if len(args) == 0 {
				if sources, err = cfg.Sources(ctx); err != nil {
					return err
				}
			}
			for _, name := range args {
				src, err := cfg.Source(ctx, name)
				if err != nil {
					return err
				}
				sources = append(sources, src)
			}

			resolver := a.sourceResolver(r)
			for _, src := range sources {
				if source.KindOf(src.URL) == source.KindLocal {
					if len(args) > 0 {
						return errs.Config("fetch "+src.Name, "source has no url")
					}
					continue
				}
				h, err := resolver.Fetch(ctx, src)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", src.Name, h, src.LocalRef())
			}
			return nil
		},
	}
	addWorkspaceFlags(cmd)
	cmd.Flags().Duration("timeout", 0, "HTTP timeout for holo protocol sources")
	return cmd
}

// workspaceConfig opens the repository and a config reader over the
// selected workspace.
func (a *app) workspaceConfig(cmd *cobra.Command) (*repo.Repo, *tree.Session, *config.Reader, error) {
	r, err := a.openRepo()
	if err != nil {
		return nil, nil, nil, err
	}
	sess, err := tree.NewSession(r.Store, 0)
	if err != nil {
		return nil, nil, nil, err
	}
	ws, err := a.workspace(cmd.Context(), r, sess)
	if err != nil {
		return nil, nil, nil, err
	}
	root, err := source.CommitTree(r.Store, ws)
	if err != nil {
		return nil, nil, nil, err
	}
	return r, sess, config.NewReader(sess.Bind(root), r.Store), nil
}

func (a *app) sourceResolver(r *repo.Repo) *source.Resolver {
	return source.NewResolver(r,
		source.WithLogger(a.log),
		source.WithHoloFetcher(&source.HoloFetcher{Store: r.Store, Options: remote.ClientOptions{Timeout: a.v.GetDuration("timeout")}}),
	)
}
