package services

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidPath      = errors.New("invalid storage path")
	ErrInvalidInput     = errors.New("invalid input")
	ErrJobRunning       = errors.New("a reconcile job is already running for this root")
	ErrJobFinished      = errors.New("reconcile job already completed")
	ErrDeadlineExceeded = errors.New("deadline exceeded")
	ErrInvalidLogin     = errors.New("invalid username or password")
	ErrAlreadyExists    = errors.New("already exists")
	ErrQueueDisabled    = errors.New("background worker queue is not configured")
)
