package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"carecall-platform/pkg/utils"

	"github.com/google/uuid"
)

// NOTE: This repository assumes the following tables exist:
// - call_runs, with a unique partial index:
//   UNIQUE (schedule_id, scheduled_for) WHERE status = 'SCHEDULED'
// - calls, with an index on provider_call_id

// PGRepo persists call runs and calls in Postgres.
type PGRepo struct {
	db *sql.DB
}

func NewPGRepo(db *sql.DB) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) EnsureScheduledRun(ctx context.Context, scheduleID, patientID, scriptID string, scheduledFor time.Time, allowedAttempts int) error {
	const q = `
INSERT INTO call_runs (
	id, schedule_id, patient_id, script_id, scheduled_for,
	status, attempts_count, allowed_attempts, total_duration_seconds,
	created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, 'SCHEDULED', 0, $6, 0, now(), now())
ON CONFLICT (schedule_id, scheduled_for) WHERE status = 'SCHEDULED' DO NOTHING
`
	_, err := r.db.ExecContext(ctx, q, uuid.NewString(), scheduleID, patientID, scriptID, scheduledFor, allowedAttempts)
	return err
}

func (r *PGRepo) DeletePendingRuns(ctx context.Context, scheduleID string, from time.Time) (int, error) {
	// Scoped to call-less, still-future, SCHEDULED runs so in-flight and
	// historical runs can never be removed.
	const q = `
DELETE FROM call_runs
WHERE schedule_id = $1
  AND status = 'SCHEDULED'
  AND scheduled_for >= $2
  AND NOT EXISTS (SELECT 1 FROM calls WHERE calls.call_run_id = call_runs.id)
`
	res, err := r.db.ExecContext(ctx, q, scheduleID, from)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const runColumns = `
id, schedule_id, patient_id, script_id, scheduled_for,
status, attempts_count, allowed_attempts, total_duration_seconds,
created_at, updated_at
`

func (r *PGRepo) GetRun(ctx context.Context, id string) (CallRun, error) {
	const q = `
SELECT ` + runColumns + `
FROM call_runs
WHERE id = $1
`
	return scanRun(r.db.QueryRowContext(ctx, q, id))
}

func (r *PGRepo) ListDueRuns(ctx context.Context, now time.Time, limit int) ([]CallRun, error) {
	const q = `
SELECT ` + runColumns + `
FROM call_runs
WHERE status = 'SCHEDULED' AND scheduled_for <= $1
ORDER BY scheduled_for
LIMIT $2
`
	return r.listRuns(ctx, q, now, limit)
}

func (r *PGRepo) ListRetryCandidates(ctx context.Context, limit int) ([]CallRun, error) {
	const q = `
SELECT ` + runColumns + `
FROM call_runs
WHERE status IN ('FAILED', 'NO_ANSWER', 'BUSY')
  AND attempts_count > 0
  AND attempts_count < allowed_attempts
  AND NOT EXISTS (
	SELECT 1 FROM calls
	WHERE calls.call_run_id = call_runs.id
	  AND calls.status IN ('REGISTERED', 'ONGOING')
  )
ORDER BY scheduled_for
LIMIT $1
`
	return r.listRuns(ctx, q, limit)
}

func (r *PGRepo) listRuns(ctx context.Context, q string, args ...any) ([]CallRun, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *PGRepo) BeginAttempt(ctx context.Context, runID string, now time.Time) (CallRun, Call, error) {
	var run CallRun
	var call Call
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		// Lock the run row so pause/delete and concurrent dispatch
		// serialize against the attempt start.
		const sel = `
SELECT ` + runColumns + `
FROM call_runs
WHERE id = $1
FOR UPDATE
`
		var err error
		run, err = scanRun(tx.QueryRowContext(ctx, sel, runID))
		if err != nil {
			return err
		}
		if run.Status != RunStatusScheduled && !run.Status.Retryable() {
			return ErrNotDispatchable
		}
		if run.AttemptsCount >= run.AllowedAttempts {
			return ErrNotDispatchable
		}

		run.Status = RunStatusInProgress
		run.AttemptsCount++
		run.UpdatedAt = now
		const upd = `
UPDATE call_runs
SET status = 'IN_PROGRESS', attempts_count = $2, updated_at = $3
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, upd, run.ID, run.AttemptsCount, now); err != nil {
			return err
		}

		call = Call{
			ID:            uuid.NewString(),
			CallRunID:     run.ID,
			AttemptNumber: run.AttemptsCount,
			Status:        CallStatusRegistered,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		const ins = `
INSERT INTO calls (id, call_run_id, attempt_number, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
		_, err = tx.ExecContext(ctx, ins, call.ID, call.CallRunID, call.AttemptNumber, call.Status, call.CreatedAt, call.UpdatedAt)
		return err
	})
	if err != nil {
		return CallRun{}, Call{}, err
	}
	return run, call, nil
}

func (r *PGRepo) SetRunStatus(ctx context.Context, runID string, status RunStatus) error {
	const q = `
UPDATE call_runs
SET status = $2, updated_at = now()
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, runID, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) MarkRunFailed(ctx context.Context, runID string) (bool, error) {
	const q = `
UPDATE call_runs
SET status = 'FAILED', updated_at = now()
WHERE id = $1
  AND attempts_count >= allowed_attempts
  AND status NOT IN ('FAILED', 'COMPLETED')
`
	res, err := r.db.ExecContext(ctx, q, runID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PGRepo) MarkRunCompleted(ctx context.Context, runID string, durationSeconds int) (bool, error) {
	const q = `
UPDATE call_runs
SET status = 'COMPLETED',
    total_duration_seconds = total_duration_seconds + $2,
    updated_at = now()
WHERE id = $1 AND status NOT IN ('FAILED', 'COMPLETED')
`
	res, err := r.db.ExecContext(ctx, q, runID, durationSeconds)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PGRepo) UpdateCall(ctx context.Context, c Call) error {
	const q = `
UPDATE calls
SET provider_call_id = $2, status = $3, started_at = $4, ended_at = $5,
    duration_seconds = $6, failure_reason = $7, transcript_text = $8,
    recording_url = $9, raw_payload = $10, updated_at = $11
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		c.ID, nullIfEmpty(c.ProviderCallID), c.Status, c.StartedAt, c.EndedAt,
		c.DurationSeconds, c.FailureReason, c.TranscriptText,
		c.RecordingURL, nullIfEmpty(c.RawPayload), c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const callColumns = `
id, call_run_id, attempt_number, COALESCE(provider_call_id, ''), status,
started_at, ended_at, duration_seconds, COALESCE(failure_reason, ''),
COALESCE(transcript_text, ''), COALESCE(recording_url, ''),
COALESCE(raw_payload, ''), created_at, updated_at
`

func (r *PGRepo) GetCallByProviderID(ctx context.Context, providerCallID string) (Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE provider_call_id = $1
ORDER BY created_at DESC
LIMIT 1
`
	return scanCall(r.db.QueryRowContext(ctx, q, providerCallID))
}

func (r *PGRepo) ListCallsByRun(ctx context.Context, runID string) ([]Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE call_run_id = $1
ORDER BY attempt_number
`
	rows, err := r.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (CallRun, error) {
	var run CallRun
	if err := row.Scan(
		&run.ID, &run.ScheduleID, &run.PatientID, &run.ScriptID, &run.ScheduledFor,
		&run.Status, &run.AttemptsCount, &run.AllowedAttempts, &run.TotalDurationSeconds,
		&run.CreatedAt, &run.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRun{}, ErrNotFound
		}
		return CallRun{}, err
	}
	return run, nil
}

func scanCall(row rowScanner) (Call, error) {
	var c Call
	if err := row.Scan(
		&c.ID, &c.CallRunID, &c.AttemptNumber, &c.ProviderCallID, &c.Status,
		&c.StartedAt, &c.EndedAt, &c.DurationSeconds, &c.FailureReason,
		&c.TranscriptText, &c.RecordingURL, &c.RawPayload,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
