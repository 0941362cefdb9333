package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/approval-coordinator/internal/container"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and background sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.logger.Info("Starting approval coordinator",
				zap.String("version", version),
				zap.Int("port", a.cfg.Server.Port))

			ctr, err := container.NewContainer(a.cfg.ToContainerConfig(), a.logger)
			if err != nil {
				return err
			}
			if err := ctr.Start(ctx); err != nil {
				return err
			}

			srv, err := ctr.NewHTTPServer(version)
			if err != nil {
				return errors.Join(err, ctr.Close())
			}

			serveErr := srv.Start(ctx)

			a.logger.Info("Shutting down")
			return errors.Join(serveErr, ctr.Close())
		},
	}
}
