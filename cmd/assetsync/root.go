package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/fairwaygolf/assetsync/internal/app"
	"github.com/fairwaygolf/assetsync/internal/config"
	"github.com/spf13/cobra"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:           "assetsync",
		Short:         "Reconcile the image bucket with the image_metadata table",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")

	cmd.AddCommand(
		newListCmd(cfg, &jsonOutput),
		newClassifyCmd(cfg, &jsonOutput),
		newReconcileCmd(cfg, &jsonOutput),
		newRepairPathsCmd(cfg, &jsonOutput),
		newCustomersCmd(cfg, &jsonOutput),
		newTokenCmd(cfg, &jsonOutput),
		newWorkerCmd(cfg),
	)

	return cmd
}

// withApp validates cfg, builds the services and hands them to fn with a
// context that is cancelled on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, cfg *config.Config, fn func(ctx context.Context, a *app.App) error) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}
