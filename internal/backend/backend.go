// Package backend defines the contract between trackers and the services that
// run report and presentation jobs.
package backend

import (
	"context"
	"errors"
	"fmt"

	"dvtrack/internal/progress"
)

// Backend runs jobs of a single kind. Implementations must be safe for
// concurrent use: trackers call them from tea.Cmd goroutines.
type Backend interface {
	// Submit asks the backend to start a job for resourceID.
	Submit(ctx context.Context, resourceID string) (Submission, error)
	// PollStatus returns the current status of one execution. It is idempotent.
	PollStatus(ctx context.Context, resourceID, executionID string) (progress.Snapshot, error)
	// RecoveryStatus reports whatever the backend knows about resourceID
	// without an execution id at hand.
	RecoveryStatus(ctx context.Context, resourceID string) (Recovery, error)
	// Abort is best-effort; a nil error only means the request was delivered.
	Abort(ctx context.Context, resourceID, executionID string) error
}

// Submission is the synchronous answer to Submit. Exactly one of ExecutionID,
// Artifact or Stopped is set.
type Submission struct {
	ExecutionID string
	Artifact    *progress.Artifact
	Stopped     bool
}

// RecoveryKind classifies a recovery answer.
type RecoveryKind string

const (
	RecoveryIdle     RecoveryKind = "idle"
	RecoveryInFlight RecoveryKind = "in_flight"
	RecoveryDone     RecoveryKind = "done"
	RecoveryFailed   RecoveryKind = "failed"
)

// Recovery is the answer to RecoveryStatus.
type Recovery struct {
	Kind        RecoveryKind
	ExecutionID string            // RecoveryInFlight
	Snapshot    progress.Snapshot // RecoveryInFlight
	Artifact    *progress.Artifact
	Message     string // RecoveryFailed
}

var (
	// ErrMismatch is returned when the backend says an execution belongs to a
	// different resource.
	ErrMismatch = errors.New("execution belongs to another resource")
	// ErrAbortUnconfirmed is returned when the backend recorded the stop locally
	// but could not confirm it with the job runner.
	ErrAbortUnconfirmed = errors.New("abort not confirmed by job runner")
)

// JobError reports that the backend declared the job failed.
type JobError struct {
	Message string
}

func (e *JobError) Error() string {
	if e.Message == "" {
		return "job failed"
	}
	return fmt.Sprintf("job failed: %s", e.Message)
}
