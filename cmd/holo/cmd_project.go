package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JarvusInnovations/hologit-sub000/pkg/cache"
	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/lens"
	"github.com/JarvusInnovations/hologit-sub000/pkg/projection"
	"github.com/JarvusInnovations/hologit-sub000/pkg/repo"
	"github.com/JarvusInnovations/hologit-sub000/pkg/tree"
)

func newProjectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project <branch>",
		Short: "Project a holobranch and print the resulting tree or commit hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			branch := args[0]

			r, err := a.openRepo()
			if err != nil {
				return err
			}
			sess, err := tree.NewSession(r.Store, 0)
			if err != nil {
				return err
			}
			ws, err := a.workspace(ctx, r, sess)
			if err != nil {
				return err
			}
			author, err := a.author(r, "")
			if err != nil {
				return err
			}

			opts := projection.Options{
				Workspace: ws,
				Fetch:     a.v.GetStringSlice("fetch"),
				Refresh:   a.v.GetBool("refresh"),
				CommitTo:  a.v.GetString("commit-to"),
				Message:   a.v.GetString("message"),
				Author:    author,
			}
			switch {
			case a.v.GetBool("no-lens"):
				off := false
				opts.Lens = &off
			case a.v.IsSet("lens"):
				on := a.v.GetBool("lens")
				opts.Lens = &on
			}
			if target := a.v.GetString("cache-from"); target != "" {
				if opts.CacheFrom, err = cache.Open(ctx, r, target); err != nil {
					return err
				}
			}
			if target := a.v.GetString("cache-to"); target != "" {
				if opts.CacheTo, err = cache.Open(ctx, r, target); err != nil {
					return err
				}
			}
			if key := a.v.GetString("sign-key"); key != "" {
				if opts.CommitTo == "" {
					return errs.Config("project", "--sign-key requires --commit-to")
				}
				signer, path, err := repo.LoadSSHSigner(key)
				if err != nil {
					return errs.E(errs.KindConfig, "project", err)
				}
				a.log.Debugf("signing with %s", path)
				opts.Signer = signer
			}

			h, err := a.projector(r, sess).ProjectBranch(ctx, branch, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}

	addWorkspaceFlags(cmd)
	f := cmd.Flags()
	f.Bool("lens", false, "run the lens chain even when the branch disables it")
	f.Bool("no-lens", false, "skip the lens chain")
	f.StringSlice("fetch", nil, "fetch these sources before use; bare --fetch fetches all")
	f.Lookup("fetch").NoOptDefVal = projection.FetchAll
	f.String("cache-from", "", "remote or URL to pull lens outputs from on a local miss")
	f.String("cache-to", "", "remote or URL to push lens outputs to")
	f.Bool("refresh", false, "run every lens even when its output is cached")
	f.String("commit-to", "", "commit the projection to this ref")
	f.StringP("message", "m", "", "commit message")
	f.String("author", "", "commit author (default: config author, then "+projection.DefaultAuthor+")")
	f.String("sign-key", "", "SSH private key used to sign the commit")
	f.String("docker", "docker", "docker CLI used for container lenses")
	f.Duration("timeout", 0, "HTTP timeout for holo protocol sources")
	return cmd
}

func (a *app) projector(r *repo.Repo, sess *tree.Session) *projection.Projector {
	docker := a.v.GetString("docker")
	runner := &lens.ExecRunner{Blobs: r.Store, Session: sess, Log: a.log, Docker: docker}
	pipeline := lens.NewPipeline(cache.New(r, a.log), sess, runner,
		lens.WithLogger(a.log),
		lens.WithPinner(&lens.DockerPinner{Docker: docker}),
	)
	return projection.New(r, sess, a.sourceResolver(r), pipeline, a.log)
}
