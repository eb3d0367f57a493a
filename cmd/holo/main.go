package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JarvusInnovations/hologit-sub000/pkg/errs"
)

const version = "0.1.0-dev"

func main() {
	os.Exit(holoMain())
}

func holoMain() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCode(err)
	}
	return 0
}

// exitCode maps a failure to the process status scripts can branch on.
func exitCode(err error) int {
	kind, ok := errs.KindOf(err)
	if !ok {
		if errors.Is(err, context.Canceled) {
			return 130
		}
		return 1
	}
	switch kind {
	case errs.KindConfig, errs.KindCycle:
		return 2
	case errs.KindResolution:
		return 3
	case errs.KindExecution:
		return 4
	case errs.KindStorage:
		return 5
	case errs.KindNetwork:
		return 6
	case errs.KindCancelled:
		return 130
	}
	return 1
}

func newRootCmd() *cobra.Command {
	a := newApp()
	root := &cobra.Command{
		Use:           "holo",
		Short:         "Project composed branches from layered sources and cached lenses",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.finish()
		},
	}
	pf := root.PersistentFlags()
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.String("log-format", "console", "log format: console or json")
	pf.String("metrics-file", "", "write prometheus metrics to this file on exit")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(a))
	root.AddCommand(newCommitCmd(a))
	root.AddCommand(newRemoteCmd(a))
	root.AddCommand(newSourceCmd(a))
	root.AddCommand(newProjectCmd(a))
	root.AddCommand(newCacheCmd(a))
	root.AddCommand(newExportCmd(a))
	root.AddCommand(newLogCmd(a))
	root.AddCommand(newGcCmd(a))
	root.AddCommand(newServeCmd(a))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "holo %s\n", version)
		},
	}
}
