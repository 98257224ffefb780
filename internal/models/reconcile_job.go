package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusPartial   JobStatus = "partial"
	JobStatusFailed    JobStatus = "failed"
)

// ReconcileJob tracks one reconciliation run over a storage root.
// Cursor holds the last sub-folder that was fully processed so an
// interrupted run can resume after it. Attempt counts resumes; every attempt
// is queued as its own task.
type ReconcileJob struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Root         string    `gorm:"size:1024;index;not null" json:"root"`
	Status       JobStatus `gorm:"size:16;index;default:'queued'" json:"status"`
	Cursor       string    `gorm:"size:255" json:"cursor"`
	DryRun       bool      `json:"dry_run"`
	DeleteGhosts bool      `json:"delete_ghosts"`
	MaxDepth     int       `json:"max_depth"`
	RequestedBy  string    `gorm:"size:100" json:"requested_by,omitempty"`
	Attempt      int       `gorm:"not null;default:0" json:"attempt"`

	FoldersDone       int `json:"folders_done"`
	Scanned           int `json:"scanned"`
	Created           int `json:"created"`
	Updated           int `json:"updated"`
	Repaired          int `json:"repaired"`
	DuplicatesRemoved int `json:"duplicates_removed"`
	Ghosts            int `json:"ghosts"`
	GhostsDeleted     int `json:"ghosts_deleted"`
	Errors            int `json:"errors"`

	LastError  string     `gorm:"type:text" json:"last_error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (ReconcileJob) TableName() string {
	return "reconcile_jobs"
}

func (j *ReconcileJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

// Active reports whether the job still occupies its root.
func (j *ReconcileJob) Active() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusRunning
}
