package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"carecall-platform/internal/alert"
	"carecall-platform/internal/calls"
	"carecall-platform/internal/patient"
	"carecall-platform/internal/provider"
	"carecall-platform/internal/schedule"
)

// batchLimit bounds how many runs one tick will touch per pass. Leftovers are
// picked up next tick; the scheduler is minute-granularity anyway.
const batchLimit = 200

// Lifecycle is the slice of the schedule service the dispatcher needs:
// schedule lookup for retry backoff parameters and next-occurrence scheduling
// after a run finishes.
type Lifecycle interface {
	Get(ctx context.Context, id string) (schedule.Schedule, error)
	ScheduleNextAfter(ctx context.Context, scheduleID string, finished time.Time) error
}

// AlertCreator raises escalations. Failures here are logged, never propagated;
// alerting must not block dispatch.
type AlertCreator interface {
	Create(ctx context.Context, in alert.CreateInput) (alert.Alert, error)
}

// Dispatcher finds due call runs each tick, starts provider calls for them,
// and carries failed runs through the bounded retry policy.
type Dispatcher struct {
	runs      calls.Repository
	lifecycle Lifecycle
	directory patient.Directory
	provider  provider.Client
	alerts    AlertCreator
	log       *slog.Logger
	workers   int
	now       func() time.Time
}

func NewDispatcher(runs calls.Repository, lc Lifecycle, dir patient.Directory, pc provider.Client, alerts AlertCreator, log *slog.Logger, workers int) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{
		runs:      runs,
		lifecycle: lc,
		directory: dir,
		provider:  pc,
		alerts:    alerts,
		log:       log.With("component", "dispatch"),
		workers:   workers,
		now:       time.Now,
	}
}

// WithNow overrides the clock (tests).
func (d *Dispatcher) WithNow(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Tick runs one scheduling cycle: the due pass, then the retry pass. The
// ordering matters: a run that fails during the due pass must wait out its
// backoff window, not be retried within the same tick.
func (d *Dispatcher) Tick(ctx context.Context) {
	now := d.now()

	dispatched := d.duePass(ctx, now)
	retried := d.retryPass(ctx, now)

	if dispatched > 0 || retried > 0 {
		d.log.Info("tick", "dispatched", dispatched, "retried", retried)
	}
}

func (d *Dispatcher) duePass(ctx context.Context, now time.Time) int {
	due, err := d.runs.ListDueRuns(ctx, now, batchLimit)
	if err != nil {
		d.log.Error("due run query failed", "err", err)
		return 0
	}
	return d.forEach(ctx, due, func(ctx context.Context, run calls.CallRun) error {
		return d.dispatchRun(ctx, run.ID, now)
	})
}

func (d *Dispatcher) retryPass(ctx context.Context, now time.Time) int {
	cands, err := d.runs.ListRetryCandidates(ctx, batchLimit)
	if err != nil {
		d.log.Error("retry candidate query failed", "err", err)
		return 0
	}
	return d.forEach(ctx, cands, func(ctx context.Context, run calls.CallRun) error {
		due, err := d.retryDue(ctx, run, now)
		if err != nil || !due {
			return err
		}
		return d.dispatchRun(ctx, run.ID, now)
	})
}

// retryDue reports whether the run's backoff window has elapsed. The window is
// derived from call timestamps every tick rather than persisted, so a changed
// retry interval takes effect for in-flight runs immediately.
func (d *Dispatcher) retryDue(ctx context.Context, run calls.CallRun, now time.Time) (bool, error) {
	sched, err := d.lifecycle.Get(ctx, run.ScheduleID)
	if err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			// Schedule deleted under an in-flight run; nothing to retry against.
			return false, nil
		}
		return false, err
	}

	callRows, err := d.runs.ListCallsByRun(ctx, run.ID)
	if err != nil {
		return false, err
	}
	var latest time.Time
	for _, c := range callRows {
		if la := c.LatestActivity(); la.After(latest) {
			latest = la
		}
	}
	if latest.IsZero() {
		// No timestamp to anchor the backoff on; skip rather than retry blind.
		return false, nil
	}
	return !now.Before(latest.Add(sched.RetryInterval())), nil
}

// dispatchRun starts one attempt: run to IN_PROGRESS, new Call row, provider
// invocation. Provider failures are recorded on the Call and fed to the
// failure policy; they are not returned as errors because they are handled.
func (d *Dispatcher) dispatchRun(ctx context.Context, runID string, now time.Time) error {
	run, call, err := d.runs.BeginAttempt(ctx, runID, now)
	if err != nil {
		if errors.Is(err, calls.ErrNotDispatchable) || errors.Is(err, calls.ErrNotFound) {
			// Lost a race with pause/delete or another replica.
			return nil
		}
		return err
	}

	req, err := d.buildRequest(ctx, run)
	if err != nil {
		return d.failAttempt(ctx, run, call, now, err)
	}

	res, err := d.provider.Initiate(ctx, req)
	if err != nil {
		return d.failAttempt(ctx, run, call, now, err)
	}

	started := now
	call.ProviderCallID = res.ProviderCallID
	call.Status = calls.CallStatusOngoing
	call.StartedAt = &started
	call.UpdatedAt = now
	if err := d.runs.UpdateCall(ctx, call); err != nil {
		return err
	}
	d.log.Info("call dispatched",
		"run_id", run.ID,
		"attempt", call.AttemptNumber,
		"provider_call_id", res.ProviderCallID,
	)
	return nil
}

func (d *Dispatcher) failAttempt(ctx context.Context, run calls.CallRun, call calls.Call, now time.Time, cause error) error {
	call.Status = calls.CallStatusError
	call.FailureReason = cause.Error()
	call.UpdatedAt = now
	if err := d.runs.UpdateCall(ctx, call); err != nil {
		return err
	}
	d.log.Warn("call attempt failed", "run_id", run.ID, "attempt", call.AttemptNumber, "err", cause)
	return d.ApplyFailure(ctx, run, calls.RunStatusFailed, call.ID, cause.Error())
}

// ApplyFailure is the single exhaustion policy, shared with the outcome
// processor. With budget left the run is parked in its failure classification
// for the next retry pass. On exhaustion the run goes terminally FAILED
// exactly once; that one transition raises the informational alert (for
// BUSY/NO_ANSWER classifications) and schedules the next occurrence.
func (d *Dispatcher) ApplyFailure(ctx context.Context, run calls.CallRun, classification calls.RunStatus, callID, reason string) error {
	if run.AttemptsCount < run.AllowedAttempts {
		return d.runs.SetRunStatus(ctx, run.ID, classification)
	}

	transitioned, err := d.runs.MarkRunFailed(ctx, run.ID)
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}

	d.log.Info("run exhausted",
		"run_id", run.ID,
		"attempts", run.AttemptsCount,
		"classification", classification,
		"reason", reason,
	)

	if classification == calls.RunStatusNoAnswer || classification == calls.RunStatusBusy {
		_, alertErr := d.alerts.Create(ctx, alert.CreateInput{
			PatientID: run.PatientID,
			CallID:    callID,
			CallRunID: run.ID,
			ScriptID:  run.ScriptID,
			Type:      alert.TypeMissedCheckIn,
			Severity:  alert.SeverityInfo,
			Message:   fmt.Sprintf("check-in call not reached after %d attempts", run.AttemptsCount),
			Trigger:   reason,
		})
		if alertErr != nil {
			d.log.Error("alert creation failed", "run_id", run.ID, "err", alertErr)
		}
	}

	return d.lifecycle.ScheduleNextAfter(ctx, run.ScheduleID, run.ScheduledFor)
}

// forEach fans the batch out over a bounded worker set. Each run is processed
// independently; one run's failure never aborts the batch.
func (d *Dispatcher) forEach(ctx context.Context, runs []calls.CallRun, fn func(ctx context.Context, run calls.CallRun) error) int {
	if len(runs) == 0 {
		return 0
	}
	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	processed := 0

	for _, run := range runs {
		wg.Add(1)
		sem <- struct{}{}
		go func(run calls.CallRun) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(ctx, run); err != nil {
				d.log.Error("run processing failed", "run_id", run.ID, "err", err)
				return
			}
			mu.Lock()
			processed++
			mu.Unlock()
		}(run)
	}
	wg.Wait()
	return processed
}

func (d *Dispatcher) buildRequest(ctx context.Context, run calls.CallRun) (provider.CallRequest, error) {
	p, err := d.directory.GetPatient(ctx, run.PatientID)
	if err != nil {
		return provider.CallRequest{}, fmt.Errorf("dispatch: patient lookup failed: %w", err)
	}
	if p.Phone == "" {
		return provider.CallRequest{}, errors.New("dispatch: patient has no phone number")
	}
	script, err := d.directory.GetScript(ctx, run.ScriptID)
	if err != nil {
		return provider.CallRequest{}, fmt.Errorf("dispatch: script lookup failed: %w", err)
	}

	return provider.CallRequest{
		PatientPhone:         p.Phone,
		PatientName:          p.DisplayName(),
		PreferredName:        p.PreferredName,
		ScriptTitle:          script.Title,
		ScriptCategory:       script.Category,
		Messages:             script.Messages,
		Questions:            script.Questions,
		EscalationTriggers:   script.EscalationTriggers,
		PreferredAgentGender: script.PreferredAgentGender,
		SpecialInstructions:  script.SpecialInstructions,
		Metadata: map[string]string{
			"call_run_id": run.ID,
			"schedule_id": run.ScheduleID,
		},
	}, nil
}
