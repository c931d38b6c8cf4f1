package schedule

import (
	"context"
	"database/sql"
	"errors"
)

// NOTE: This repository assumes the following table exists:
// - schedules, with a partial index on (patient_id) WHERE status = 'ACTIVE'
//   AND deleted_at IS NULL for the conflict-check lookup.

// PGRepo persists schedules in Postgres.
type PGRepo struct {
	db *sql.DB
}

func NewPGRepo(db *sql.DB) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) Create(ctx context.Context, s Schedule) error {
	const q = `
INSERT INTO schedules (
	id, patient_id, script_id, frequency, timezone,
	time_window_start, time_window_end, max_attempts, retry_interval_minutes,
	estimated_duration_seconds, status, start_date, next_occurrence_at,
	created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`
	_, err := r.db.ExecContext(ctx, q,
		s.ID, s.PatientID, s.ScriptID, s.Frequency, s.Timezone,
		s.WindowStart, s.WindowEnd, s.MaxAttempts, s.RetryIntervalMinutes,
		s.EstimatedDurationSeconds, s.Status, s.StartDate, s.NextOccurrenceAt,
		s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (r *PGRepo) Update(ctx context.Context, s Schedule) error {
	const q = `
UPDATE schedules
SET patient_id = $2, script_id = $3, frequency = $4, timezone = $5,
    time_window_start = $6, time_window_end = $7, max_attempts = $8,
    retry_interval_minutes = $9, estimated_duration_seconds = $10,
    status = $11, start_date = $12, next_occurrence_at = $13,
    deleted_at = $14, updated_at = $15
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		s.ID, s.PatientID, s.ScriptID, s.Frequency, s.Timezone,
		s.WindowStart, s.WindowEnd, s.MaxAttempts, s.RetryIntervalMinutes,
		s.EstimatedDurationSeconds, s.Status, s.StartDate, s.NextOccurrenceAt,
		s.DeletedAt, s.UpdatedAt,
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

const scheduleColumns = `
id, patient_id, script_id, frequency, timezone,
time_window_start, time_window_end, max_attempts, retry_interval_minutes,
estimated_duration_seconds, status, start_date, next_occurrence_at,
created_at, updated_at, deleted_at
`

func (r *PGRepo) GetByID(ctx context.Context, id string) (Schedule, error) {
	const q = `
SELECT ` + scheduleColumns + `
FROM schedules
WHERE id = $1 AND deleted_at IS NULL
`
	return scanSchedule(r.db.QueryRowContext(ctx, q, id))
}

func (r *PGRepo) ListActiveByPatient(ctx context.Context, patientID string) ([]Schedule, error) {
	const q = `
SELECT ` + scheduleColumns + `
FROM schedules
WHERE patient_id = $1 AND status = 'ACTIVE' AND deleted_at IS NULL
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (Schedule, error) {
	var s Schedule
	if err := row.Scan(
		&s.ID, &s.PatientID, &s.ScriptID, &s.Frequency, &s.Timezone,
		&s.WindowStart, &s.WindowEnd, &s.MaxAttempts, &s.RetryIntervalMinutes,
		&s.EstimatedDurationSeconds, &s.Status, &s.StartDate, &s.NextOccurrenceAt,
		&s.CreatedAt, &s.UpdatedAt, &s.DeletedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Schedule{}, ErrNotFound
		}
		return Schedule{}, err
	}
	return s, nil
}
