package calls

import (
	"context"
	"time"
)

// Repository abstracts call-run and call persistence. The dispatcher, retry
// coordinator, outcome processor, and schedule lifecycle all share these rows,
// so implementations must keep the mutation methods row-scoped and atomic.
type Repository interface {
	// EnsureScheduledRun creates a SCHEDULED run for (scheduleID,
	// scheduledFor) unless one already exists. Idempotent so an overlapping
	// trigger or a restart cannot double-materialize an occurrence.
	EnsureScheduledRun(ctx context.Context, scheduleID, patientID, scriptID string, scheduledFor time.Time, allowedAttempts int) error

	// DeletePendingRuns removes call-less SCHEDULED runs of the schedule
	// with scheduled_for >= from, returning how many were removed.
	DeletePendingRuns(ctx context.Context, scheduleID string, from time.Time) (int, error)

	GetRun(ctx context.Context, id string) (CallRun, error)

	// ListDueRuns returns SCHEDULED runs with scheduled_for <= now.
	ListDueRuns(ctx context.Context, now time.Time, limit int) ([]CallRun, error)

	// ListRetryCandidates returns runs in a retryable failure status with
	// spent but unexhausted attempt budget and no live call.
	ListRetryCandidates(ctx context.Context, limit int) ([]CallRun, error)

	// BeginAttempt atomically transitions the run to IN_PROGRESS, increments
	// attempts_count, and creates the REGISTERED call row for the new
	// attempt. Returns ErrNotDispatchable when the run is not in a
	// dispatchable status or its budget is spent.
	BeginAttempt(ctx context.Context, runID string, now time.Time) (CallRun, Call, error)

	// SetRunStatus applies a non-terminal status change.
	SetRunStatus(ctx context.Context, runID string, status RunStatus) error

	// MarkRunFailed applies the terminal FAILED transition, reporting
	// whether this call performed it. At most one caller observes true, so
	// exhaustion side effects (alerting, next-occurrence scheduling) happen
	// exactly once.
	MarkRunFailed(ctx context.Context, runID string) (bool, error)

	// MarkRunCompleted applies the terminal COMPLETED transition and adds
	// the attempt duration to the run total, reporting whether this call
	// performed it.
	MarkRunCompleted(ctx context.Context, runID string, durationSeconds int) (bool, error)

	UpdateCall(ctx context.Context, c Call) error
	GetCallByProviderID(ctx context.Context, providerCallID string) (Call, error)
	ListCallsByRun(ctx context.Context, runID string) ([]Call, error)
}
