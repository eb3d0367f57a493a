package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JarvusInnovations/hologit-sub000/internal/logging"
	"github.com/JarvusInnovations/hologit-sub000/internal/metrics"
	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/object"
	"github.com/JarvusInnovations/hologit-sub000/pkg/repo"
	"github.com/JarvusInnovations/hologit-sub000/pkg/tree"
	"github.com/JarvusInnovations/hologit-sub000/pkg/worktree"
)

// app holds state shared by every subcommand of one invocation. Flag values
// are read through v so HOLO_* environment variables can stand in for
// them: --cache-from is HOLO_CACHE_FROM.
type app struct {
	v   *viper.Viper
	log *logging.Logger
}

func newApp() *app {
	v := viper.New()
	v.SetEnvPrefix("HOLO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return &app{v: v}
}

func (a *app) setup(cmd *cobra.Command) error {
	for _, fs := range []*pflag.FlagSet{cmd.Flags(), cmd.InheritedFlags()} {
		if err := a.v.BindPFlags(fs); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}
	log, err := logging.New(logging.Config{
		Level:  a.v.GetString("log-level"),
		Format: a.v.GetString("log-format"),
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return errs.E(errs.KindConfig, "logging", err)
	}
	a.log = log
	return nil
}

func (a *app) finish() error {
	path := a.v.GetString("metrics-file")
	if path == "" {
		return nil
	}
	if err := metrics.WriteTextfile(path); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func (a *app) openRepo() (*repo.Repo, error) {
	r, err := repo.Open(".")
	if err != nil {
		return nil, errs.E(errs.KindConfig, "open repository", err)
	}
	return r, nil
}

// addWorkspaceFlags registers the flags that select the workspace holding
// the .holo configuration.
func addWorkspaceFlags(cmd *cobra.Command) {
	cmd.Flags().String("ref", "HEAD", "commit holding the workspace configuration")
	cmd.Flags().Bool("working", false, "read the workspace from the working directory instead of --ref")
}

// workspace returns the commit or tree selected by --ref or --working.
func (a *app) workspace(ctx context.Context, r *repo.Repo, sess *tree.Session) (object.Hash, error) {
	if a.v.GetBool("working") {
		return importWorking(ctx, r, sess)
	}
	ref := a.v.GetString("ref")
	if ref == "" {
		ref = "HEAD"
	}
	h, err := r.ResolveRef(ref)
	if errors.Is(err, repo.ErrRefNotFound) {
		return "", errs.Resolution("workspace", "%s does not name a commit; commit the workspace or pass --working", ref)
	}
	if err != nil {
		return "", errs.Storage("workspace", err)
	}
	return h, nil
}

// importWorking stores the working directory, minus ignored paths, and
// returns its tree.
func importWorking(ctx context.Context, r *repo.Repo, sess *tree.Session) (object.Hash, error) {
	node, err := worktree.Import(ctx, r.RootDir, r.Store, sess, worktree.ImportOptions{Ignore: worktree.NewIgnoreChecker(r.RootDir)})
	if err != nil {
		return "", err
	}
	return node.Write(ctx)
}

// author picks the commit author: --author, then the repository config,
// then fallback.
func (a *app) author(r *repo.Repo, fallback string) (string, error) {
	if name := strings.TrimSpace(a.v.GetString("author")); name != "" {
		return name, nil
	}
	cfg, err := r.ReadConfig()
	if err != nil {
		return "", errs.E(errs.KindConfig, "author", err)
	}
	if cfg.Author != "" {
		return cfg.Author, nil
	}
	return fallback, nil
}

func userName() string {
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
