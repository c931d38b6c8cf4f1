package alert

import (
	"context"
	"database/sql"
	"errors"

	"carecall-platform/pkg/utils"
)

// NOTE: This repository assumes the following tables exist:
// - alerts
// - alert_history (INSERT-only; optional trigger to prevent UPDATE/DELETE)

// PGRepo persists alerts and their history in Postgres.
type PGRepo struct {
	db *sql.DB
}

func NewPGRepo(db *sql.DB) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) CreateAlert(ctx context.Context, a Alert, h HistoryEntry) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const ins = `
INSERT INTO alerts (
	id, patient_id, call_id, call_run_id, script_id,
	type, severity, status, message, trigger, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`
		if _, err := tx.ExecContext(ctx, ins,
			a.ID, a.PatientID, nullIfEmpty(a.CallID), nullIfEmpty(a.CallRunID), nullIfEmpty(a.ScriptID),
			a.Type, a.Severity, a.Status, a.Message, a.Trigger, a.CreatedAt, a.UpdatedAt,
		); err != nil {
			return err
		}
		return insertHistory(ctx, tx, h)
	})
}

func (r *PGRepo) GetAlert(ctx context.Context, id string) (Alert, error) {
	const q = `
SELECT id, patient_id, COALESCE(call_id, ''), COALESCE(call_run_id, ''), COALESCE(script_id, ''),
       type, severity, status, message, trigger, created_at, updated_at
FROM alerts
WHERE id = $1
`
	var a Alert
	if err := r.db.QueryRowContext(ctx, q, id).Scan(
		&a.ID, &a.PatientID, &a.CallID, &a.CallRunID, &a.ScriptID,
		&a.Type, &a.Severity, &a.Status, &a.Message, &a.Trigger, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Alert{}, ErrNotFound
		}
		return Alert{}, err
	}
	return a, nil
}

func (r *PGRepo) TransitionStatus(ctx context.Context, a Alert, h HistoryEntry) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		// Guard on the old status so a concurrent transition loses cleanly
		// instead of duplicating history.
		const upd = `
UPDATE alerts
SET status = $2, updated_at = $3
WHERE id = $1 AND status = $4
`
		res, err := tx.ExecContext(ctx, upd, a.ID, a.Status, a.UpdatedAt, h.FromStatus)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrInvalidTransition
		}
		return insertHistory(ctx, tx, h)
	})
}

func (r *PGRepo) ListHistory(ctx context.Context, alertID string) ([]HistoryEntry, error) {
	const q = `
SELECT id, alert_id, COALESCE(from_status, ''), to_status, COALESCE(note, ''), created_at
FROM alert_history
WHERE alert_id = $1
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.AlertID, &h.FromStatus, &h.ToStatus, &h.Note, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func insertHistory(ctx context.Context, tx *sql.Tx, h HistoryEntry) error {
	const ins = `
INSERT INTO alert_history (id, alert_id, from_status, to_status, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err := tx.ExecContext(ctx, ins, h.ID, h.AlertID, nullIfEmpty(string(h.FromStatus)), h.ToStatus, h.Note, h.CreatedAt)
	return err
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
