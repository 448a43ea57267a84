// Package executor implements the local batch executor (C10): it runs
// sandboxed child processes under a per-batch temporary directory, lets
// callers stage input files into named volumes before starting the
// process, and lets them poll status and read output files afterward.
package executor

import (
	"context"
	"time"
)

// BatchStatus is the lifecycle state of one batch.
type BatchStatus string

const (
	StatusCreated  BatchStatus = "CREATED"
	StatusRunning  BatchStatus = "RUNNING"
	StatusComplete BatchStatus = "COMPLETE"
	StatusFailed   BatchStatus = "FAILED"
)

// VolumeType classifies a batch volume for auditing; it has no effect on
// where or how the volume is staged (§4.10).
type VolumeType string

const (
	VolumeConfig VolumeType = "CONFIG"
	VolumeResult VolumeType = "RESULT"
	VolumeLog    VolumeType = "LOG"
)

// BatchState is a snapshot of one batch's execution state.
type BatchState struct {
	ID         string
	Status     BatchStatus
	Command    string
	Args       []string
	SandboxDir string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time

	// StderrTail holds the last few lines written to stderr, surfaced so
	// a FAILED batch's error carries more than just a non-zero exit code.
	StderrTail string
}

// Executor is the batch executor's API (C10). CreateBatch must be called
// before any other method for a given batch id; DestroyBatch releases the
// sandbox directory and must be called exactly once per created batch.
type Executor interface {
	// CreateBatch allocates a sandbox directory for jobKey and records a
	// CREATED batch, but does not start the process.
	CreateBatch(ctx context.Context, jobKey, command string, args []string) (*BatchState, error)

	// CreateVolume creates a named subdirectory inside batchID's sandbox
	// for callers to stage input files into before starting the batch.
	// volumeName must be a valid identifier and must not use the reserved
	// volume-name prefix; volumeType has no behavioral effect beyond
	// auditing.
	CreateVolume(ctx context.Context, batchID, volumeName string, volumeType VolumeType) error

	// WriteFile writes data to relativePath inside volumeName's directory.
	// Only legal before the batch has been started; fails if volumeName is
	// unknown or relativePath already exists.
	WriteFile(ctx context.Context, batchID, volumeName, relativePath string, data []byte) error

	// StartBatch launches the batch's command with its working directory
	// set to the sandbox root, redirecting stdout/stderr to files inside
	// it, and transitions the batch to RUNNING.
	StartBatch(ctx context.Context, batchID string) error

	// PollBatch returns the batch's current state, including ExitCode once
	// it has left RUNNING and, for a FAILED batch, StderrTail.
	PollBatch(ctx context.Context, batchID string) (*BatchState, error)

	// ReadFile reads relativePath from volumeName's directory. Returns
	// CodeBatchNotComplete if called before the batch has finished
	// running, since output volumes are not guaranteed stable until then.
	ReadFile(ctx context.Context, batchID, volumeName, relativePath string) ([]byte, error)

	// DestroyBatch kills the process if still running and removes the
	// sandbox directory.
	DestroyBatch(ctx context.Context, batchID string) error
}
