package main

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/optim-dev/aina/internal/logging"
	"github.com/optim-dev/aina/pkg/terminology/internalerr"
)

func newServeCmd(e *env) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the detection API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := e.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}
			a, err := e.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			// Without an index the server still starts and reports degraded health.
			if _, err := a.Manager.Bootstrap(ctx, cfg.Index.BuildOnStart); err != nil {
				if !errors.Is(err, internalerr.ErrIndexNotLoaded) {
					return err
				}
				e.log.Warn("starting without an index", logging.Err(err))
			}
			if cfg.Glossary.Watch {
				go func() {
					if err := a.Manager.Watch(ctx, cfg.Glossary.Debounce); err != nil {
						e.log.Error("glossary watch stopped", logging.Err(err))
					}
				}()
			}

			srv := &http.Server{
				Addr:         cfg.Server.Addr,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}
			return a.Server().ListenAndServe(ctx, srv, cfg.Server.ShutdownTimeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}
