package main

import (
	"context"
	"log"

	"github.com/fairwaygolf/assetsync/internal/app"
	"github.com/fairwaygolf/assetsync/internal/config"
	"github.com/spf13/cobra"
)

func newWorkerCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run queued reconcile jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				srv, mux := a.Worker()
				if err := srv.Start(mux); err != nil {
					return err
				}
				log.Printf("Reconcile worker listening on queue %q", cfg.AsynqQueue)
				<-ctx.Done()
				log.Println("Shutting down worker...")
				srv.Shutdown()
				return nil
			})
		},
	}
}
