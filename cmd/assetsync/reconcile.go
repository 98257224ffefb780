package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fairwaygolf/assetsync/internal/app"
	"github.com/fairwaygolf/assetsync/internal/config"
	"github.com/fairwaygolf/assetsync/internal/models"
	"github.com/fairwaygolf/assetsync/internal/services"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newReconcileCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		dryRun       bool
		deleteGhosts bool
		maxDepth     int
		resume       string
		queue        bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile [root]",
		Short: "Align image_metadata with the objects under root",
		Long: "Runs a checkpointed reconcile job in this process. An interrupted job\n" +
			"can be continued with --resume <job-id>; --queue hands it to the worker instead.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if resume == "" && len(args) == 0 {
				return errors.New("root is required")
			}
			return withApp(cmd, cfg, func(ctx context.Context, a *app.App) error {
				var (
					job *models.ReconcileJob
					err error
				)
				if queue && !a.Jobs.CanEnqueue() {
					return services.ErrQueueDisabled
				}
				if resume != "" {
					id, perr := uuid.Parse(resume)
					if perr != nil {
						return fmt.Errorf("invalid job id %q", resume)
					}
					job, err = a.Jobs.Resume(ctx, id)
				} else {
					job, err = a.Jobs.Create(ctx, services.JobRequest{
						Root:         args[0],
						DryRun:       dryRun,
						DeleteGhosts: deleteGhosts,
						MaxDepth:     maxDepth,
						RequestedBy:  "cli:" + currentUser(),
					})
				}
				if err != nil {
					return err
				}

				if queue {
					if err := a.Jobs.Enqueue(ctx, job); err != nil {
						return err
					}
					if *jsonOutput {
						return writeJSON(job)
					}
					return writePlain("queued job %s for %q\n", job.ID, job.Root)
				}

				job, err = a.Jobs.Run(ctx, job.ID)
				if job != nil {
					if *jsonOutput {
						if werr := writeJSON(job); werr != nil {
							return werr
						}
					} else if werr := writeJob(job); werr != nil {
						return werr
					}
				}
				if errors.Is(err, context.Canceled) {
					return fmt.Errorf("interrupted; continue with: assetsync reconcile --resume %s", job.ID)
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report planned changes without writing")
	cmd.Flags().BoolVar(&deleteGhosts, "delete-ghosts", false, "delete rows whose object no longer exists")
	cmd.Flags().IntVar(&maxDepth, "max-depth", cfg.ListMaxDepth, "recursion depth limit")
	cmd.Flags().StringVar(&resume, "resume", "", "continue an interrupted job by id")
	cmd.Flags().BoolVar(&queue, "queue", false, "enqueue for the worker instead of running here")

	return cmd
}

func writeJob(job *models.ReconcileJob) error {
	return writePlain("job %s %s root=%q cursor=%q\n"+
		"  folders=%d scanned=%d created=%d updated=%d repaired=%d duplicates_removed=%d\n"+
		"  ghosts=%d ghosts_deleted=%d errors=%d dry_run=%v\n",
		job.ID, job.Status, job.Root, job.Cursor,
		job.FoldersDone, job.Scanned, job.Created, job.Updated, job.Repaired, job.DuplicatesRemoved,
		job.Ghosts, job.GhostsDeleted, job.Errors, job.DryRun)
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}
