package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fairwaygolf/assetsync/internal/config"
	"github.com/fairwaygolf/assetsync/internal/models"
	"github.com/fairwaygolf/assetsync/internal/services"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TypeReconcileRun = "reconcile:run"

type reconcilePayload struct {
	JobID string `json:"job_id"`
}

// AsynqClient abstracts task enqueue operations.
type AsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// JobRunner executes a stored reconcile job.
type JobRunner interface {
	Run(ctx context.Context, id uuid.UUID) (*models.ReconcileJob, error)
}

var _ AsynqClient = (*asynq.Client)(nil)
var _ services.JobEnqueuer = (*Enqueuer)(nil)
var _ JobRunner = (*services.JobService)(nil)

// Enqueuer publishes reconcile jobs to the asynq queue.
type Enqueuer struct {
	client  AsynqClient
	queue   string
	timeout time.Duration
}

func NewEnqueuer(client AsynqClient, queue string, timeout time.Duration) *Enqueuer {
	return &Enqueuer{client: client, queue: queue, timeout: timeout}
}

// RedisOpt builds the asynq connection options from cfg.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// TaskID names the task of one attempt of a job. Archived tasks keep their
// id, so a resumed job needs a fresh one.
func TaskID(jobID uuid.UUID, attempt int) string {
	return fmt.Sprintf("%s:%d", jobID, attempt)
}

// EnqueueReconcile queues one attempt of the job. The same attempt cannot be
// queued twice.
func (e *Enqueuer) EnqueueReconcile(ctx context.Context, jobID uuid.UUID, attempt int) error {
	b, err := json.Marshal(reconcilePayload{JobID: jobID.String()})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeReconcileRun, b)
	_, err = e.client.EnqueueContext(ctx, task,
		asynq.Queue(e.queue),
		asynq.TaskID(TaskID(jobID, attempt)),
		asynq.MaxRetry(0),
		asynq.Timeout(e.timeout),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("%w (task %s pending)", services.ErrJobRunning, TaskID(jobID, attempt))
	}
	return err
}

// Handler processes queued reconcile tasks.
type Handler struct {
	jobs JobRunner
}

func NewHandler(jobs JobRunner) *Handler {
	return &Handler{jobs: jobs}
}

func (h *Handler) ProcessReconcile(ctx context.Context, t *asynq.Task) error {
	var payload reconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	id, err := uuid.Parse(payload.JobID)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", payload.JobID, asynq.SkipRetry)
	}

	log.Printf("Worker: running reconcile job %s", id)
	job, err := h.jobs.Run(ctx, id)
	switch {
	case errors.Is(err, services.ErrJobFinished), errors.Is(err, services.ErrNotFound):
		log.Printf("Worker: skipping reconcile job %s: %v", id, err)
		return nil
	case err != nil:
		return err
	}
	log.Printf("Worker: reconcile job %s ended with status %s", id, job.Status)
	return nil
}

// NewServer builds the asynq server and mux serving the reconcile queue.
func NewServer(cfg *config.Config, h *Handler) (*asynq.Server, *asynq.ServeMux) {
	concurrency := cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	srv := asynq.NewServer(
		RedisOpt(cfg),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				cfg.AsynqQueue: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeReconcileRun, h.ProcessReconcile)
	return srv, mux
}
