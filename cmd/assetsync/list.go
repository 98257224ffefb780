package main

import (
	"context"
	"time"

	"github.com/fairwaygolf/assetsync/internal/app"
	"github.com/fairwaygolf/assetsync/internal/config"
	"github.com/fairwaygolf/assetsync/internal/services"
	"github.com/spf13/cobra"
)

func newListCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		recursive bool
		maxDepth  int
		deadline  time.Duration
		sortBy    string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list [path]",
		Short: "List a storage folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := ""
			if len(args) == 1 {
				root = args[0]
			}
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				if !recursive {
					items, err := a.Lister.ListFolder(ctx, root, services.ListOptions{Limit: limit, SortBy: sortBy})
					if err != nil {
						return err
					}
					if *jsonOutput {
						return writeJSON(items)
					}
					for _, it := range items {
						if it.IsFolder {
							if err := writePlain("%s/\n", it.Path); err != nil {
								return err
							}
							continue
						}
						if err := writePlain("%s\t%s\t%s\n", it.Path, formatBytes(it.Size), formatTime(it.LastModified)); err != nil {
							return err
						}
					}
					return nil
				}

				listing := a.Lister.ListAllRecursive(ctx, root, maxDepth, time.Now().Add(deadline))
				snap := services.Summarize(listing, time.Now())
				if *jsonOutput {
					return writeJSON(snap)
				}
				for _, f := range snap.Folders {
					if err := writePlain("%s\t%d files\t%s\n", f.Path, f.FileCount, formatBytes(f.TotalBytes)); err != nil {
						return err
					}
				}
				if err := writePlain("total: %d files, %s\n", snap.FileCount, formatBytes(snap.TotalBytes)); err != nil {
					return err
				}
				if snap.Partial {
					return writePlain("listing is partial (deadline %s, %d folder errors)\n", deadline, len(snap.Errors))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "walk sub-folders and summarise them")
	cmd.Flags().IntVar(&maxDepth, "max-depth", cfg.ListMaxDepth, "recursion depth limit")
	cmd.Flags().DurationVar(&deadline, "deadline", cfg.ListDeadline, "stop listing after this long")
	cmd.Flags().StringVar(&sortBy, "sort", "name", "sort order: name, size or updated")
	cmd.Flags().IntVar(&limit, "limit", 0, "limit results")

	return cmd
}
