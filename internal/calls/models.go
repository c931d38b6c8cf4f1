package calls

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("calls: not found")

	// ErrNotDispatchable is returned when an attempt cannot be started on a
	// run: already terminal, attempt budget spent, or the row disappeared.
	ErrNotDispatchable = errors.New("calls: run not dispatchable")
)

// CallRun is one scheduled occurrence of a schedule, spanning all of its
// retry attempts.
//
// Invariants:
// - At most one SCHEDULED run exists per (schedule_id, scheduled_for).
// - AttemptsCount never exceeds AllowedAttempts.
// - A run with at least one Call is never deleted; only call-less,
//   still-future SCHEDULED runs may be removed.
type CallRun struct {
	ID         string `json:"id" db:"id"`
	ScheduleID string `json:"schedule_id" db:"schedule_id"`
	PatientID  string `json:"patient_id" db:"patient_id"`
	ScriptID   string `json:"script_id" db:"script_id"`

	ScheduledFor time.Time `json:"scheduled_for" db:"scheduled_for"`

	Status RunStatus `json:"status" db:"status"`

	AttemptsCount int `json:"attempts_count" db:"attempts_count"`
	// AllowedAttempts is copied from the schedule at creation so a later
	// schedule edit does not change the budget of an in-flight run.
	AllowedAttempts int `json:"allowed_attempts" db:"allowed_attempts"`

	TotalDurationSeconds int `json:"total_duration_seconds" db:"total_duration_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type RunStatus string

const (
	RunStatusScheduled  RunStatus = "SCHEDULED"
	RunStatusInProgress RunStatus = "IN_PROGRESS"
	RunStatusCompleted  RunStatus = "COMPLETED"
	RunStatusFailed     RunStatus = "FAILED"
	RunStatusNoAnswer   RunStatus = "NO_ANSWER"
	RunStatusBusy       RunStatus = "BUSY"
)

// Retryable reports whether the status is a non-terminal failure the retry
// coordinator may pick up.
func (s RunStatus) Retryable() bool {
	switch s {
	case RunStatusFailed, RunStatusNoAnswer, RunStatusBusy:
		return true
	default:
		return false
	}
}

// Call is one concrete dial attempt within a CallRun. Once the run moves on,
// the row is history and is never mutated again.
type Call struct {
	ID        string `json:"id" db:"id"`
	CallRunID string `json:"call_run_id" db:"call_run_id"`

	AttemptNumber int `json:"attempt_number" db:"attempt_number"`

	// ProviderCallID is the provider's external id for this dial, empty
	// until the provider accepts the call.
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	Status CallStatus `json:"status" db:"status"`

	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	FailureReason  string `json:"failure_reason,omitempty" db:"failure_reason"`
	TranscriptText string `json:"transcript_text,omitempty" db:"transcript_text"`
	RecordingURL   string `json:"recording_url,omitempty" db:"recording_url"`

	// RawPayload keeps the provider's last callback body as JSON for audit.
	RawPayload string `json:"raw_payload,omitempty" db:"raw_payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CallStatus string

const (
	CallStatusRegistered   CallStatus = "REGISTERED"
	CallStatusOngoing      CallStatus = "ONGOING"
	CallStatusEnded        CallStatus = "ENDED"
	CallStatusNotConnected CallStatus = "NOT_CONNECTED"
	CallStatusError        CallStatus = "ERROR"
)

// Live reports whether the attempt is still with the provider. A run with a
// live call must not be retried.
func (s CallStatus) Live() bool {
	return s == CallStatusRegistered || s == CallStatusOngoing
}

// LatestActivity is the newest timestamp among ended_at, started_at and
// created_at; the retry backoff window counts from it.
func (c Call) LatestActivity() time.Time {
	latest := c.CreatedAt
	if c.StartedAt != nil && c.StartedAt.After(latest) {
		latest = *c.StartedAt
	}
	if c.EndedAt != nil && c.EndedAt.After(latest) {
		latest = *c.EndedAt
	}
	return latest
}
