// Package retryqueue persists retryable claim failures and schedules them
// for the batch processor. Failures carrying non-retryable codes are
// rejected at the door so user errors and detected abuse never occupy
// queue capacity.
package retryqueue

import (
	"context"
	"time"

	"github.com/qrcoast/linkdrop/internal/claim"
)

// Status is the lifecycle state of a queued retry job.
type Status string

const (
	StatusQueued             Status = "queued"
	StatusProcessing         Status = "processing"
	StatusRetryScheduled     Status = "retry_scheduled"
	StatusBannedUser         Status = "banned_user"
	StatusAlreadyClaimed     Status = "already_claimed"
	StatusMaxRetriesExceeded Status = "max_retries_exceeded"
)

// MaxAttempts caps how many times a failure is retried before it is
// parked as max_retries_exceeded.
const MaxAttempts = 4

// retryDelays is the escalating schedule applied per attempt.
var retryDelays = []time.Duration{
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	20 * time.Minute,
}

// DelayForAttempt returns the wait before the given attempt (1-based).
// Attempts past the schedule reuse the final delay.
func DelayForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(retryDelays) {
		attempt = len(retryDelays)
	}
	return retryDelays[attempt-1]
}

// Job is one scheduled retry, keyed by the failure row it represents.
type Job struct {
	ID          string // queue member id, stable across reschedules
	FailureID   int64
	FID         int64
	EthAddress  string
	AuctionID   string
	Source      claim.Source
	Attempt     int
	Status      Status
	NextRetryAt time.Time
	CreatedAt   time.Time
}

// Queue is the due-time-ordered job store. Implementations must order
// strictly by NextRetryAt so a range query returns only jobs whose time
// has come, without scanning the full key space.
type Queue interface {
	// Enqueue adds or reschedules a job at its NextRetryAt.
	Enqueue(ctx context.Context, job Job) error

	// Due returns up to limit jobs whose NextRetryAt is at or before now,
	// oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]Job, error)

	// SetStatus updates the stored status of a job.
	SetStatus(ctx context.Context, jobID string, status Status) error

	// Park removes the job from the schedule but keeps its metadata under
	// the given terminal status, for inspection.
	Park(ctx context.Context, jobID string, status Status) error

	// Remove deletes a job and its metadata.
	Remove(ctx context.Context, jobID string) error
}
