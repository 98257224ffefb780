package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/facette/natsort"
	"github.com/fairwaygolf/assetsync/internal/models"
	"github.com/fairwaygolf/assetsync/pkg/validation"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobEnqueuer hands a reconcile job to the background worker.
type JobEnqueuer interface {
	EnqueueReconcile(ctx context.Context, jobID uuid.UUID, attempt int) error
}

type JobRequest struct {
	Root         string `json:"root"`
	DryRun       bool   `json:"dry_run"`
	DeleteGhosts bool   `json:"delete_ghosts"`
	MaxDepth     int    `json:"max_depth"`
	RequestedBy  string `json:"-"`
}

// JobService runs reconciliation over a root one sub-folder at a time and
// checkpoints the last finished sub-folder, so an interrupted job resumes
// where it stopped.
type JobService struct {
	db         *gorm.DB
	reconciler *Reconciler
	lister     *Lister
	cache      *FolderCacheService
	enqueuer   JobEnqueuer
	staleAfter time.Duration
	now        func() time.Time
}

func NewJobService(db *gorm.DB, reconciler *Reconciler, lister *Lister, cache *FolderCacheService, staleAfter time.Duration) *JobService {
	return &JobService{
		db:         db,
		reconciler: reconciler,
		lister:     lister,
		cache:      cache,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// SetEnqueuer attaches the worker queue. Without one, jobs can only be run
// in-process.
func (s *JobService) SetEnqueuer(e JobEnqueuer) {
	s.enqueuer = e
}

func (s *JobService) CanEnqueue() bool {
	return s.enqueuer != nil
}

// Create records a queued job. Only one live job may hold a root.
func (s *JobService) Create(ctx context.Context, req JobRequest) (*models.ReconcileJob, error) {
	if !validation.ValidateStoragePath(req.Root) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, req.Root)
	}
	if req.MaxDepth < 0 {
		return nil, fmt.Errorf("%w: max_depth must be >= 0", ErrInvalidInput)
	}
	root := validation.NormalizePath(req.Root)

	job := &models.ReconcileJob{
		Root:         root,
		Status:       models.JobStatusQueued,
		DryRun:       req.DryRun,
		DeleteGhosts: req.DeleteGhosts,
		MaxDepth:     req.MaxDepth,
		RequestedBy:  req.RequestedBy,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		busy, err := s.activeJob(tx, root, uuid.Nil)
		if err != nil {
			return err
		}
		if busy != nil {
			return fmt.Errorf("%w (job %s)", ErrJobRunning, busy.ID)
		}
		return tx.Create(job).Error
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Reconcile job %s created for %q by %s", job.ID, root, req.RequestedBy)
	return job, nil
}

// activeJob returns a queued or running job for root other than exclude.
// Running jobs that stopped reporting progress for staleAfter are ignored.
func (s *JobService) activeJob(tx *gorm.DB, root string, exclude uuid.UUID) (*models.ReconcileJob, error) {
	var jobs []models.ReconcileJob
	q := tx.Where("root = ? AND status IN ?", root, []models.JobStatus{models.JobStatusQueued, models.JobStatusRunning})
	if exclude != uuid.Nil {
		q = q.Where("id <> ?", exclude)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	for i := range jobs {
		if !s.stale(&jobs[i]) {
			return &jobs[i], nil
		}
	}
	return nil, nil
}

func (s *JobService) stale(job *models.ReconcileJob) bool {
	return job.Status == models.JobStatusRunning && s.staleAfter > 0 && s.now().Sub(job.UpdatedAt) > s.staleAfter
}

// Enqueue hands job to the worker queue.
func (s *JobService) Enqueue(ctx context.Context, job *models.ReconcileJob) error {
	if s.enqueuer == nil {
		return ErrQueueDisabled
	}
	if err := s.enqueuer.EnqueueReconcile(ctx, job.ID, job.Attempt); err != nil {
		// a task for this attempt is already queued; the job stays as it is
		if errors.Is(err, ErrJobRunning) {
			return err
		}
		s.finish(ctx, job, models.JobStatusFailed, fmt.Sprintf("enqueue: %v", err))
		return err
	}
	return nil
}

func (s *JobService) Get(ctx context.Context, id uuid.UUID) (*models.ReconcileJob, error) {
	var job models.ReconcileJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// List returns the most recent jobs, optionally filtered by root.
func (s *JobService) List(ctx context.Context, root string, limit int) ([]models.ReconcileJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if root != "" {
		q = q.Where("root = ?", validation.NormalizePath(root))
	}
	var jobs []models.ReconcileJob
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// Resume puts an unfinished job back into the queued state. The next Run
// continues after the job's cursor.
func (s *JobService) Resume(ctx context.Context, id uuid.UUID) (*models.ReconcileJob, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case job.Status == models.JobStatusCompleted:
		return nil, ErrJobFinished
	case job.Active() && !s.stale(job):
		return nil, ErrJobRunning
	}
	busy, err := s.activeJob(s.db.WithContext(ctx), job.Root, job.ID)
	if err != nil {
		return nil, err
	}
	if busy != nil {
		return nil, fmt.Errorf("%w (job %s)", ErrJobRunning, busy.ID)
	}
	job.Status = models.JobStatusQueued
	job.LastError = ""
	job.FinishedAt = nil
	job.Attempt++
	if err := s.save(ctx, job); err != nil {
		return nil, err
	}
	log.Printf("Reconcile job %s resumed after %q", job.ID, job.Cursor)
	return job, nil
}

// units returns the immediate sub-folders of root in natural order.
func (s *JobService) units(ctx context.Context, root string) ([]string, error) {
	children, err := s.lister.ListFolder(ctx, root, ListOptions{SortBy: "name"})
	if err != nil {
		return nil, err
	}
	var out []string
	for _, c := range children {
		if c.IsFolder {
			out = append(out, c.Name)
		}
	}
	return out, nil
}

// Run executes the job in the calling goroutine. Each sub-folder of the root
// is reconciled in natural order; counters and cursor are saved after every
// sub-folder. Files directly in the root are reconciled last.
func (s *JobService) Run(ctx context.Context, id uuid.UUID) (*models.ReconcileJob, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusCompleted {
		return job, ErrJobFinished
	}

	started := s.now()
	job.Status = models.JobStatusRunning
	job.LastError = ""
	if job.StartedAt == nil {
		job.StartedAt = &started
	}
	if err := s.save(ctx, job); err != nil {
		return job, err
	}
	defer s.cache.InvalidatePath(context.WithoutCancel(ctx), job.Root)

	units, err := s.units(ctx, job.Root)
	if err != nil {
		s.finish(ctx, job, models.JobStatusFailed, fmt.Sprintf("list %q: %v", job.Root, err))
		return job, err
	}

	partial := false
	opts := ReconcileOptions{
		DryRun:       job.DryRun,
		DeleteGhosts: job.DeleteGhosts,
		Actor:        job.RequestedBy,
	}
	if job.MaxDepth > 0 {
		for _, name := range units {
			if job.Cursor != "" && !natsort.Compare(job.Cursor, name) {
				continue
			}
			if ctx.Err() != nil {
				s.finish(context.WithoutCancel(ctx), job, models.JobStatusPartial, "interrupted: "+ctx.Err().Error())
				return job, ctx.Err()
			}
			unitOpts := opts
			unitOpts.MaxDepth = job.MaxDepth - 1
			report, err := s.reconciler.ReconcileFolder(ctx, JoinPath(job.Root, name), unitOpts)
			if err != nil {
				if ctx.Err() != nil {
					s.finish(context.WithoutCancel(ctx), job, models.JobStatusPartial, "interrupted: "+ctx.Err().Error())
					return job, ctx.Err()
				}
				s.finish(context.WithoutCancel(ctx), job, models.JobStatusFailed, fmt.Sprintf("%s: %v", name, err))
				return job, err
			}
			if report.Partial || len(report.ListErrors) > 0 {
				partial = true
				if ctx.Err() != nil {
					// the folder was cut short; leave the cursor before it
					s.addReport(job, report)
					s.finish(context.WithoutCancel(ctx), job, models.JobStatusPartial, "interrupted: "+ctx.Err().Error())
					return job, ctx.Err()
				}
			}
			s.addReport(job, report)
			job.Cursor = name
			job.FoldersDone++
			if err := s.save(ctx, job); err != nil {
				log.Printf("Reconcile job %s: checkpoint after %q failed: %v", job.ID, name, err)
			}
		}
	}

	rootOpts := opts
	rootOpts.MaxDepth = 0
	report, err := s.reconciler.ReconcileFolder(ctx, job.Root, rootOpts)
	if err != nil && ctx.Err() != nil {
		s.finish(context.WithoutCancel(ctx), job, models.JobStatusPartial, "interrupted: "+ctx.Err().Error())
		return job, ctx.Err()
	}
	if err != nil {
		s.finish(context.WithoutCancel(ctx), job, models.JobStatusFailed, fmt.Sprintf("root files: %v", err))
		return job, err
	}
	s.addReport(job, report)
	if report.Partial || len(report.ListErrors) > 0 {
		partial = true
	}

	status := models.JobStatusCompleted
	msg := ""
	if partial {
		status = models.JobStatusPartial
		msg = "some folders could not be listed completely"
	}
	s.finish(context.WithoutCancel(ctx), job, status, msg)
	log.Printf("Reconcile job %s finished: %s (folders=%d scanned=%d errors=%d) in %v",
		job.ID, job.Status, job.FoldersDone, job.Scanned, job.Errors, s.now().Sub(started).Round(time.Millisecond))
	return job, nil
}

func (s *JobService) addReport(job *models.ReconcileJob, r *Report) {
	job.Scanned += r.Scanned
	job.Created += r.Created
	job.Updated += r.Updated
	job.Repaired += r.Repaired
	job.DuplicatesRemoved += r.DuplicatesRemoved
	job.Ghosts += r.Ghosts
	job.GhostsDeleted += r.GhostsDeleted
	job.Errors += len(r.Errors) + len(r.ListErrors)
}

func (s *JobService) finish(ctx context.Context, job *models.ReconcileJob, status models.JobStatus, msg string) {
	now := s.now()
	job.Status = status
	job.LastError = msg
	job.FinishedAt = &now
	if err := s.save(ctx, job); err != nil {
		log.Printf("Reconcile job %s: failed to store status %s: %v", job.ID, status, err)
	}
}

func (s *JobService) save(ctx context.Context, job *models.ReconcileJob) error {
	return s.db.WithContext(ctx).Save(job).Error
}
