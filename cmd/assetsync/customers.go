package main

import (
	"context"

	"github.com/fairwaygolf/assetsync/internal/app"
	"github.com/fairwaygolf/assetsync/internal/config"
	"github.com/spf13/cobra"
)

func newCustomersCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		search        string
		missingFolder bool
		limit         int
	)

	cmd := &cobra.Command{
		Use:   "customers",
		Short: "List customers and their storage folder keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				customers, total, err := a.Customers.ListCustomers(ctx, search, missingFolder, limit, 0)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(map[string]any{"customers": customers, "total": total})
				}
				for _, c := range customers {
					folder := "-"
					if c.FolderName != nil && *c.FolderName != "" {
						folder = *c.FolderName
					}
					if err := writePlain("%d\t%s\t%s\n", c.ID, c.Name, folder); err != nil {
						return err
					}
				}
				return writePlain("%d of %d customers\n", len(customers), total)
			})
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "name or folder filter")
	cmd.Flags().BoolVar(&missingFolder, "missing-folder", false, "only customers without a folder key")
	cmd.Flags().IntVar(&limit, "limit", 100, "limit results")

	return cmd
}
