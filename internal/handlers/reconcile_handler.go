package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/fairwaygolf/assetsync/internal/config"
	"github.com/fairwaygolf/assetsync/internal/middleware"
	"github.com/fairwaygolf/assetsync/internal/services"
	"github.com/gin-gonic/gin"
)

type ReconcileHandler struct {
	cfg        *config.Config
	reconciler *services.Reconciler
	jobService *services.JobService
	cache      *services.FolderCacheService
}

func NewReconcileHandler(cfg *config.Config, reconciler *services.Reconciler, jobService *services.JobService, cache *services.FolderCacheService) *ReconcileHandler {
	return &ReconcileHandler{
		cfg:        cfg,
		reconciler: reconciler,
		jobService: jobService,
		cache:      cache,
	}
}

type reconcileRequest struct {
	Root         string `json:"root"`
	DryRun       bool   `json:"dry_run"`
	DeleteGhosts bool   `json:"delete_ghosts"`
	MaxDepth     *int   `json:"max_depth"`
	Async        bool   `json:"async"`
}

// Reconcile aligns image metadata with storage under root. Synchronous runs
// are bounded by LIST_DEADLINE for the listing; async runs become a job.
// POST /admin/reconcile
func (h *ReconcileHandler) Reconcile(c *gin.Context) {
	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Root == "" {
		badRequest(c, "root is required")
		return
	}
	maxDepth := h.cfg.ListMaxDepth
	if req.MaxDepth != nil {
		maxDepth = *req.MaxDepth
	}
	if maxDepth < 0 {
		badRequest(c, "max_depth must be >= 0")
		return
	}
	actor := c.GetString(middleware.ContextUsername)

	if req.Async {
		if !h.jobService.CanEnqueue() {
			respondError(c, services.ErrQueueDisabled)
			return
		}
		job, err := h.jobService.Create(c.Request.Context(), services.JobRequest{
			Root:         req.Root,
			DryRun:       req.DryRun,
			DeleteGhosts: req.DeleteGhosts,
			MaxDepth:     maxDepth,
			RequestedBy:  actor,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		if err := h.jobService.Enqueue(c.Request.Context(), job); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"success": true, "job": job})
		return
	}

	report, err := h.reconciler.ReconcileFolder(c.Request.Context(), req.Root, services.ReconcileOptions{
		MaxDepth:     maxDepth,
		Deadline:     time.Now().Add(h.cfg.ListDeadline),
		DryRun:       req.DryRun,
		DeleteGhosts: req.DeleteGhosts,
		Actor:        actor,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if !req.DryRun && report.Writes > 0 {
		h.cache.InvalidatePath(c.Request.Context(), report.Root)
	}

	body := gin.H{"success": len(report.Errors) == 0, "report": report}
	if report.Partial {
		body["note"] = "listing stopped at the deadline; run again or use async to cover the rest"
	}
	c.JSON(http.StatusOK, body)
}

// GetJobs lists reconcile jobs
// GET /admin/reconcile/jobs?root=&limit=
func (h *ReconcileHandler) GetJobs(c *gin.Context) {
	jobs, err := h.jobService.List(c.Request.Context(), c.Query("root"), queryInt(c, "limit", 50))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "jobs": jobs})
}

// GetJob returns one job
// GET /admin/reconcile/jobs/:id
func (h *ReconcileHandler) GetJob(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	job, err := h.jobService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "job": job})
}

// ResumeJob re-queues an interrupted job from its cursor
// POST /admin/reconcile/jobs/:id/resume
func (h *ReconcileHandler) ResumeJob(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if !h.jobService.CanEnqueue() {
		respondError(c, services.ErrQueueDisabled)
		return
	}
	job, err := h.jobService.Resume(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrJobFinished) {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error(), "job_id": id})
			return
		}
		respondError(c, err)
		return
	}
	if err := h.jobService.Enqueue(c.Request.Context(), job); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "job": job})
}
