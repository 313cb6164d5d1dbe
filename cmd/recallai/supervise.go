package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"recallai/internal/app"
)

func newSuperviseCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "supervise",
		Short: "Run the backend, poller and bridge without the tray",
		Long: `Run headless: supervise the backend process, poll it, archive
finished interviews, serve the local bridge and restart the backend when its
.env file changes. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}

			logger.Info("running headless", zap.String("version", Version))
			if err := application.RunHeadless(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
}
