package patient

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// NOTE: This read-only repository assumes the following tables exist and are
// owned by the patient/record service:
// - patients
// - scripts (messages, questions, escalation_triggers stored as JSONB arrays)
// - script_assignments UNIQUE (script_id, patient_id)

// PGDirectory reads patients and scripts from Postgres.
type PGDirectory struct {
	db *sql.DB
}

func NewPGDirectory(db *sql.DB) *PGDirectory { return &PGDirectory{db: db} }

func (d *PGDirectory) GetPatient(ctx context.Context, patientID string) (Patient, error) {
	const q = `
SELECT id, first_name, last_name, COALESCE(preferred_name, ''), phone, status, created_at, updated_at
FROM patients
WHERE id = $1
`
	var p Patient
	if err := d.db.QueryRowContext(ctx, q, patientID).Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&p.PreferredName,
		&p.Phone,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Patient{}, ErrNotFound
		}
		return Patient{}, err
	}
	return p, nil
}

func (d *PGDirectory) GetScript(ctx context.Context, scriptID string) (Script, error) {
	const q = `
SELECT id, title, COALESCE(category, ''), COALESCE(messages, '[]'), COALESCE(questions, '[]'),
       COALESCE(escalation_triggers, '[]'), COALESCE(preferred_agent_gender, ''),
       COALESCE(special_instructions, ''), status, created_at, updated_at
FROM scripts
WHERE id = $1
`
	var s Script
	var messages, questions, triggers []byte
	if err := d.db.QueryRowContext(ctx, q, scriptID).Scan(
		&s.ID,
		&s.Title,
		&s.Category,
		&messages,
		&questions,
		&triggers,
		&s.PreferredAgentGender,
		&s.SpecialInstructions,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Script{}, ErrNotFound
		}
		return Script{}, err
	}
	if err := json.Unmarshal(messages, &s.Messages); err != nil {
		return Script{}, err
	}
	if err := json.Unmarshal(questions, &s.Questions); err != nil {
		return Script{}, err
	}
	if err := json.Unmarshal(triggers, &s.EscalationTriggers); err != nil {
		return Script{}, err
	}
	return s, nil
}

func (d *PGDirectory) ScriptAssignedTo(ctx context.Context, scriptID, patientID string) (bool, error) {
	const q = `
SELECT EXISTS (
	SELECT 1 FROM script_assignments WHERE script_id = $1 AND patient_id = $2
)
`
	var ok bool
	if err := d.db.QueryRowContext(ctx, q, scriptID, patientID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
