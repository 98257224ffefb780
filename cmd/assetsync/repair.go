package main

import (
	"context"

	"github.com/fairwaygolf/assetsync/internal/app"
	"github.com/fairwaygolf/assetsync/internal/config"
	"github.com/spf13/cobra"
)

func newRepairPathsCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "repair-paths <root>",
		Short: "Fix records whose file_path points at a folder instead of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				res, err := a.Media.RepairPaths(ctx, args[0], dryRun)
				if err != nil {
					return err
				}
				if !dryRun && res.Repaired > 0 {
					a.Cache.InvalidatePath(ctx, args[0])
				}
				if *jsonOutput {
					return writeJSON(res)
				}
				if err := writePlain("checked=%d repaired=%d skipped=%d errors=%d\n", res.Checked, res.Repaired, res.Skipped, len(res.Errors)); err != nil {
					return err
				}
				for _, e := range res.Errors {
					if err := writePlain("  %s (%s): %s\n", e.Path, e.RecordID, e.Error); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count repairable records without writing")

	return cmd
}
