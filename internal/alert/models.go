package alert

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("alert: not found")
	ErrInvalidTransition = errors.New("alert: invalid status transition")
)

// Alert is an escalation record raised when a call run exhausts its attempts
// without success, or when a provider analysis flags an escalation trigger.
type Alert struct {
	ID        string `json:"id" db:"id"`
	PatientID string `json:"patient_id" db:"patient_id"`

	// Optional references back to the work that raised the alert.
	CallID    string `json:"call_id,omitempty" db:"call_id"`
	CallRunID string `json:"call_run_id,omitempty" db:"call_run_id"`
	ScriptID  string `json:"script_id,omitempty" db:"script_id"`

	Type     Type     `json:"type" db:"type"`
	Severity Severity `json:"severity" db:"severity"`
	Status   Status   `json:"status" db:"status"`

	Message string `json:"message" db:"message"`
	// Trigger is the free-text condition that raised the alert, e.g. the
	// terminal failure reason or the matched escalation phrase.
	Trigger string `json:"trigger,omitempty" db:"trigger"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Type string

const (
	TypeMissedCheckIn Type = "missed_check_in"
	TypeEscalation    Type = "escalation"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Status transitions are unidirectional: ACTIVE -> ACKNOWLEDGED -> RESOLVED.
// Skipping ACKNOWLEDGED is allowed; going backwards is not.
type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusResolved     Status = "RESOLVED"
)

func (s Status) canTransitionTo(next Status) bool {
	switch s {
	case StatusActive:
		return next == StatusAcknowledged || next == StatusResolved
	case StatusAcknowledged:
		return next == StatusResolved
	default:
		return false
	}
}

// HistoryEntry is one row of the append-only status log. Entries are never
// updated or deleted.
type HistoryEntry struct {
	ID      string `json:"id" db:"id"`
	AlertID string `json:"alert_id" db:"alert_id"`

	// FromStatus is empty for the creation entry.
	FromStatus Status `json:"from_status,omitempty" db:"from_status"`
	ToStatus   Status `json:"to_status" db:"to_status"`

	Note string `json:"note,omitempty" db:"note"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
