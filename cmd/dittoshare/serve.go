package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/pkg/config"
	"github.com/marmos91/dittoshare/pkg/server"
	"github.com/spf13/cobra"
)

func newServeCommand(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the enabled services until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("dittoshare %s starting", version)

			rt, err := config.CreateAdapters(ctx, cfg, config.InitializeMetrics(cfg))
			if err != nil {
				return err
			}

			srv := server.New(cfg.Server.ShutdownTimeout)
			for _, a := range rt.Adapters {
				if err := srv.AddAdapter(a); err != nil {
					_ = rt.Close()
					return fmt.Errorf("failed to register %s: %w", a.Protocol(), err)
				}
			}
			rt.Closers(srv.AddCloser)

			return srv.Serve(ctx)
		},
	}
}
