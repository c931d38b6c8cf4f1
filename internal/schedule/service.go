package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"carecall-platform/internal/patient"

	"github.com/google/uuid"
)

// Repository abstracts schedule persistence.
type Repository interface {
	Create(ctx context.Context, s Schedule) error
	Update(ctx context.Context, s Schedule) error
	GetByID(ctx context.Context, id string) (Schedule, error)

	// ListActiveByPatient returns the patient's ACTIVE, non-deleted schedules.
	ListActiveByPatient(ctx context.Context, patientID string) ([]Schedule, error)
}

// RunStore is the slice of call-run persistence the lifecycle manager needs:
// materializing the pending run for the next occurrence and cleaning up
// pending runs on pause/edit/delete.
type RunStore interface {
	// EnsureScheduledRun creates a SCHEDULED run for (scheduleID,
	// scheduledFor) unless one already exists.
	EnsureScheduledRun(ctx context.Context, scheduleID, patientID, scriptID string, scheduledFor time.Time, allowedAttempts int) error

	// DeletePendingRuns removes call-less SCHEDULED runs of the schedule
	// with scheduled_for >= from. In-flight and historical runs are never
	// touched.
	DeletePendingRuns(ctx context.Context, scheduleID string, from time.Time) (int, error)
}

// Service owns the schedule lifecycle: create/update/pause/resume/delete,
// next-occurrence computation, and pending-run materialization.
type Service struct {
	repo        Repository
	runs        RunStore
	directory   patient.Directory
	log         *slog.Logger
	horizonDays int
	now         func() time.Time
}

func NewService(repo Repository, runs RunStore, dir patient.Directory, log *slog.Logger, horizonDays int) *Service {
	if log == nil {
		log = slog.Default()
	}
	if horizonDays <= 0 {
		horizonDays = 90
	}
	return &Service{
		repo:        repo,
		runs:        runs,
		directory:   dir,
		log:         log,
		horizonDays: horizonDays,
		now:         time.Now,
	}
}

// WithNow overrides the clock (tests).
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateInput carries everything needed to create or replace a schedule.
type CreateInput struct {
	PatientID string
	ScriptID  string

	Frequency   Frequency
	Timezone    string
	WindowStart string
	WindowEnd   string

	MaxAttempts              int
	RetryIntervalMinutes     int
	EstimatedDurationSeconds int

	// StartDate optionally anchors the recurrence to a calendar day.
	StartDate *time.Time

	// Status must be ACTIVE or PAUSED at creation.
	Status Status
}

func (s *Service) Create(ctx context.Context, in CreateInput) (Schedule, error) {
	if err := s.validate(ctx, in); err != nil {
		return Schedule{}, err
	}

	now := s.now()
	sched := Schedule{
		ID:                       uuid.NewString(),
		PatientID:                in.PatientID,
		ScriptID:                 in.ScriptID,
		Frequency:                in.Frequency,
		Timezone:                 in.Timezone,
		WindowStart:              in.WindowStart,
		WindowEnd:                in.WindowEnd,
		MaxAttempts:              in.MaxAttempts,
		RetryIntervalMinutes:     in.RetryIntervalMinutes,
		EstimatedDurationSeconds: in.EstimatedDurationSeconds,
		Status:                   in.Status,
		StartDate:                in.StartDate,
		CreatedAt:                now,
		UpdatedAt:                now,
	}

	if sched.Status == StatusActive {
		if err := s.checkConflict(ctx, sched, now); err != nil {
			return Schedule{}, err
		}
		next, err := s.NextOccurrence(sched, now)
		if err != nil {
			return Schedule{}, err
		}
		sched.NextOccurrenceAt = &next
	}

	if err := s.repo.Create(ctx, sched); err != nil {
		return Schedule{}, err
	}
	if sched.NextOccurrenceAt != nil {
		if err := s.materializeRun(ctx, sched); err != nil {
			return Schedule{}, err
		}
	}
	return sched, nil
}

func (s *Service) Update(ctx context.Context, id string, in CreateInput) (Schedule, error) {
	sched, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Schedule{}, err
	}
	if err := s.validate(ctx, in); err != nil {
		return Schedule{}, err
	}

	now := s.now()
	sched.PatientID = in.PatientID
	sched.ScriptID = in.ScriptID
	sched.Frequency = in.Frequency
	sched.Timezone = in.Timezone
	sched.WindowStart = in.WindowStart
	sched.WindowEnd = in.WindowEnd
	sched.MaxAttempts = in.MaxAttempts
	sched.RetryIntervalMinutes = in.RetryIntervalMinutes
	sched.EstimatedDurationSeconds = in.EstimatedDurationSeconds
	sched.Status = in.Status
	sched.StartDate = in.StartDate
	sched.NextOccurrenceAt = nil
	sched.UpdatedAt = now

	if sched.Status == StatusActive {
		if err := s.checkConflict(ctx, sched, now); err != nil {
			return Schedule{}, err
		}
		next, err := s.NextOccurrence(sched, now)
		if err != nil {
			return Schedule{}, err
		}
		sched.NextOccurrenceAt = &next
	}

	// Editing invalidates whatever pending run the old parameters produced.
	if _, err := s.runs.DeletePendingRuns(ctx, sched.ID, now); err != nil {
		return Schedule{}, err
	}
	if err := s.repo.Update(ctx, sched); err != nil {
		return Schedule{}, err
	}
	if sched.NextOccurrenceAt != nil {
		if err := s.materializeRun(ctx, sched); err != nil {
			return Schedule{}, err
		}
	}
	return sched, nil
}

// Pause stops the recurrence: next occurrence cleared, pending call-less runs
// removed. Historical and in-flight runs are untouched.
func (s *Service) Pause(ctx context.Context, id string) (Schedule, error) {
	sched, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Schedule{}, err
	}
	if sched.Status != StatusActive {
		return Schedule{}, fmt.Errorf("%w: only ACTIVE schedules can be paused (status %s)", ErrInvalidArgument, sched.Status)
	}

	now := s.now()
	sched.Status = StatusPaused
	sched.NextOccurrenceAt = nil
	sched.UpdatedAt = now
	if err := s.repo.Update(ctx, sched); err != nil {
		return Schedule{}, err
	}
	if _, err := s.runs.DeletePendingRuns(ctx, sched.ID, now); err != nil {
		return Schedule{}, err
	}
	return sched, nil
}

// Resume reactivates a paused schedule, recomputing the next occurrence and
// materializing its pending run. Conflict detection runs again because other
// schedules may have been created while this one was paused.
func (s *Service) Resume(ctx context.Context, id string) (Schedule, error) {
	sched, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Schedule{}, err
	}
	if sched.Status != StatusPaused {
		return Schedule{}, fmt.Errorf("%w: only PAUSED schedules can be resumed (status %s)", ErrInvalidArgument, sched.Status)
	}

	now := s.now()
	sched.Status = StatusActive
	if err := s.checkConflict(ctx, sched, now); err != nil {
		return Schedule{}, err
	}
	next, err := s.NextOccurrence(sched, now)
	if err != nil {
		return Schedule{}, err
	}
	sched.NextOccurrenceAt = &next
	sched.UpdatedAt = now
	if err := s.repo.Update(ctx, sched); err != nil {
		return Schedule{}, err
	}
	if err := s.materializeRun(ctx, sched); err != nil {
		return Schedule{}, err
	}
	return sched, nil
}

// Delete soft-deletes the schedule and removes its pending runs. Runs with
// call history stay, so the schedule row must stay too.
func (s *Service) Delete(ctx context.Context, id string) error {
	sched, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	now := s.now()
	sched.Status = StatusInactive
	sched.NextOccurrenceAt = nil
	sched.DeletedAt = &now
	sched.UpdatedAt = now
	if err := s.repo.Update(ctx, sched); err != nil {
		return err
	}
	_, err = s.runs.DeletePendingRuns(ctx, sched.ID, now)
	return err
}

func (s *Service) Get(ctx context.Context, id string) (Schedule, error) {
	return s.repo.GetByID(ctx, id)
}

// NextOccurrence computes the schedule's next single occurrence: today at the
// window start in the schedule's timezone, advanced by exactly one frequency
// period when that candidate is not in the future. Unlike the horizon
// generator this is a single-step computation, but both lean on AddPeriods so
// calendar-month arithmetic cannot diverge.
func (s *Service) NextOccurrence(sched Schedule, now time.Time) (time.Time, error) {
	loc, err := sched.Location()
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := parseClock(sched.WindowStart)
	if err != nil {
		return time.Time{}, err
	}
	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !candidate.After(local) {
		candidate = AddPeriods(candidate, sched.Frequency, 1)
	}
	return candidate, nil
}

// ScheduleNextAfter advances the schedule past a finished occurrence: the next
// occurrence is one period after the occurrence that just completed or
// exhausted, not one period after "now". Called by the retry coordinator and
// the outcome processor. A paused or deleted schedule is left alone.
func (s *Service) ScheduleNextAfter(ctx context.Context, scheduleID string, finished time.Time) error {
	sched, err := s.repo.GetByID(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if sched.Status != StatusActive {
		return nil
	}

	next := AddPeriods(finished, sched.Frequency, 1)
	sched.NextOccurrenceAt = &next
	sched.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, sched); err != nil {
		return err
	}
	return s.materializeRun(ctx, sched)
}

func (s *Service) materializeRun(ctx context.Context, sched Schedule) error {
	if sched.NextOccurrenceAt == nil {
		return nil
	}
	return s.runs.EnsureScheduledRun(ctx, sched.ID, sched.PatientID, sched.ScriptID, *sched.NextOccurrenceAt, sched.MaxAttempts)
}

func (s *Service) checkConflict(ctx context.Context, sched Schedule, now time.Time) error {
	others, err := s.repo.ListActiveByPatient(ctx, sched.PatientID)
	if err != nil {
		return err
	}
	conflict, err := FindConflict(sched, others, now, s.horizonDays)
	if err != nil {
		return err
	}
	if conflict != nil {
		return conflict
	}
	return nil
}

func (s *Service) validate(ctx context.Context, in CreateInput) error {
	if !in.Frequency.Valid() {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidArgument, in.Frequency)
	}
	if in.Status != StatusActive && in.Status != StatusPaused {
		return fmt.Errorf("%w: status must be ACTIVE or PAUSED at creation, got %q", ErrInvalidArgument, in.Status)
	}
	if _, err := time.LoadLocation(in.Timezone); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidArgument, in.Timezone)
	}
	startH, startM, err := parseClock(in.WindowStart)
	if err != nil {
		return err
	}
	endH, endM, err := parseClock(in.WindowEnd)
	if err != nil {
		return err
	}
	if startH*60+startM >= endH*60+endM {
		return fmt.Errorf("%w: time window start %s must be before end %s", ErrInvalidArgument, in.WindowStart, in.WindowEnd)
	}
	if in.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive", ErrInvalidArgument)
	}
	if in.RetryIntervalMinutes <= 0 {
		return fmt.Errorf("%w: retry interval must be positive", ErrInvalidArgument)
	}
	if in.EstimatedDurationSeconds <= 0 {
		return fmt.Errorf("%w: estimated duration must be positive", ErrInvalidArgument)
	}

	p, err := s.directory.GetPatient(ctx, in.PatientID)
	if err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			return fmt.Errorf("%w: patient %s not found", ErrInvalidArgument, in.PatientID)
		}
		return err
	}
	if p.Phone == "" {
		return fmt.Errorf("%w: patient %s has no phone number", ErrInvalidArgument, in.PatientID)
	}

	script, err := s.directory.GetScript(ctx, in.ScriptID)
	if err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			return fmt.Errorf("%w: script %s not found", ErrInvalidArgument, in.ScriptID)
		}
		return err
	}
	if script.Status != patient.ScriptStatusActive {
		return fmt.Errorf("%w: script %s is not active", ErrInvalidArgument, in.ScriptID)
	}
	assigned, err := s.directory.ScriptAssignedTo(ctx, in.ScriptID, in.PatientID)
	if err != nil {
		return err
	}
	if !assigned {
		return fmt.Errorf("%w: script %s is not assigned to patient %s", ErrInvalidArgument, in.ScriptID, in.PatientID)
	}
	return nil
}
