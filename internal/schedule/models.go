package schedule

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("schedule: not found")
	ErrInvalidArgument = errors.New("schedule: invalid argument")
)

// Schedule is a recurring check-in call configuration for one patient/script
// pair.
//
// Invariants:
// - WindowStart < WindowEnd (both "HH:mm" wall-clock in Timezone).
// - NextOccurrenceAt is non-nil iff Status is ACTIVE and a future occurrence
//   has been computed.
// - Rows are soft-deleted; call runs keep referencing deleted schedules.
type Schedule struct {
	ID        string `json:"id" db:"id"`
	PatientID string `json:"patient_id" db:"patient_id"`
	ScriptID  string `json:"script_id" db:"script_id"`

	Frequency Frequency `json:"frequency" db:"frequency"`

	// Timezone is an IANA zone name, e.g. America/New_York. All window
	// arithmetic happens in this zone so the call lands at the same
	// wall-clock time across DST shifts.
	Timezone string `json:"timezone" db:"timezone"`

	WindowStart string `json:"time_window_start" db:"time_window_start"`
	WindowEnd   string `json:"time_window_end" db:"time_window_end"`

	MaxAttempts              int `json:"max_attempts" db:"max_attempts"`
	RetryIntervalMinutes     int `json:"retry_interval_minutes" db:"retry_interval_minutes"`
	EstimatedDurationSeconds int `json:"estimated_duration_seconds" db:"estimated_duration_seconds"`

	Status Status `json:"status" db:"status"`

	// StartDate anchors the recurrence. When nil the recurrence is anchored
	// to "now" in Timezone at activation time.
	StartDate *time.Time `json:"start_date,omitempty" db:"start_date"`

	NextOccurrenceAt *time.Time `json:"next_occurrence_at,omitempty" db:"next_occurrence_at"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

type Frequency string

const (
	FrequencyDaily    Frequency = "DAILY"
	FrequencyWeekly   Frequency = "WEEKLY"
	FrequencyBiWeekly Frequency = "BI_WEEKLY"
	FrequencyMonthly  Frequency = "MONTHLY"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiWeekly, FrequencyMonthly:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusPaused   Status = "PAUSED"
	StatusInactive Status = "INACTIVE"
)

// Window is a half-open attempt interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals intersect. Touching
// endpoints do not overlap.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// ConflictError reports the first overlapping attempt-window pair between a
// candidate schedule and an existing active schedule of the same patient.
type ConflictError struct {
	ExistingScheduleID string
	CandidateStart     time.Time
	ExistingStart      time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"schedule: conflicts with schedule %s (candidate window at %s overlaps existing window at %s)",
		e.ExistingScheduleID,
		e.CandidateStart.Format(time.RFC3339),
		e.ExistingStart.Format(time.RFC3339),
	)
}

// Location resolves the schedule's IANA timezone.
func (s Schedule) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidArgument, s.Timezone)
	}
	return loc, nil
}

// RetryInterval is the backoff between consecutive attempts of one occurrence.
func (s Schedule) RetryInterval() time.Duration {
	return time.Duration(s.RetryIntervalMinutes) * time.Minute
}

// EstimatedDuration is the expected span of a single call attempt.
func (s Schedule) EstimatedDuration() time.Duration {
	return time.Duration(s.EstimatedDurationSeconds) * time.Second
}

// parseClock parses "HH:mm" into hour and minute.
func parseClock(v string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time window %q must be HH:mm", ErrInvalidArgument, v)
	}
	return t.Hour(), t.Minute(), nil
}
