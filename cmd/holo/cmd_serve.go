package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/JarvusInnovations/hologit-sub000/pkg/remote"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve this repository over the holo protocol",
		Long: "Serve objects and refs so other repositories can use this one as a\n" +
			"holo+http source or as a shared lens cache. Prometheus metrics are\n" +
			"exposed at /metrics.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRepo()
			if err != nil {
				return err
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.Handle("/", remote.NewHandler(r.Store, r))

			addr := a.v.GetString("addr")
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			a.log.Infof("serving %s on %s", r.RootDir, addr)

			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
			}
			a.log.Infof("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8765", "listen address")
	return cmd
}
