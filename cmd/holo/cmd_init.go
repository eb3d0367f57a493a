package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JarvusInnovations/hologit-sub000/pkg/config"
	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
	"github.com/JarvusInnovations/hologit-sub000/pkg/repo"
)

func newInitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create .hologit/ and a starter .holo/config.toml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			root, err := filepath.Abs(dir)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(root, 0o755); err != nil {
				return errs.Storage("init", err)
			}
			r, err := repo.Init(root)
			if err != nil {
				return errs.E(errs.KindConfig, "init", err)
			}
			if author := a.v.GetString("author"); author != "" {
				if err := r.WriteConfig(&repo.Config{Author: author}); err != nil {
					return errs.Storage("init", err)
				}
			}
			if err := writeStarterWorkspace(root, a.v.GetString("name")); err != nil {
				return errs.Storage("init", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized holo repository in %s%c\n", r.HoloDir, filepath.Separator)
			return nil
		},
	}
	cmd.Flags().String("name", "", "workspace name (default: directory name)")
	cmd.Flags().String("author", "", "default commit author saved in .hologit/config.toml")
	return cmd
}

// writeStarterWorkspace creates .holo/config.toml unless one exists.
func writeStarterWorkspace(root, name string) error {
	path := filepath.Join(root, config.Dir, "config.toml")
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if name == "" {
		name = filepath.Base(root)
	}
	data, err := config.MarshalWorkspace(&config.Workspace{Name: name})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
