package outcome

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"carecall-platform/internal/calls"
	"carecall-platform/internal/provider"
)

// FailurePolicy is the dispatcher's shared retry/exhaustion policy.
type FailurePolicy interface {
	ApplyFailure(ctx context.Context, run calls.CallRun, classification calls.RunStatus, callID, reason string) error
}

// NextScheduler advances the schedule after a run reaches a terminal state.
type NextScheduler interface {
	ScheduleNextAfter(ctx context.Context, scheduleID string, finished time.Time) error
}

// EventSink is an optional fan-out for applied provider events (live UI
// feeds and the like). Correctness never depends on it.
type EventSink interface {
	Publish(ctx context.Context, ev provider.Event) error
}

// Processor applies asynchronous provider callbacks to Call and CallRun
// state, classifies terminal outcomes, and triggers next-occurrence
// scheduling on success or exhaustion.
type Processor struct {
	runs      calls.Repository
	policy    FailurePolicy
	scheduler NextScheduler
	sink      EventSink
	log       *slog.Logger
	now       func() time.Time
}

func NewProcessor(runs calls.Repository, policy FailurePolicy, scheduler NextScheduler, sink EventSink, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		runs:      runs,
		policy:    policy,
		scheduler: scheduler,
		sink:      sink,
		log:       log.With("component", "outcome"),
		now:       time.Now,
	}
}

// WithNow overrides the clock (tests).
func (p *Processor) WithNow(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Handle applies one provider event, looked up by external call id. Events
// for unknown call ids are logged and dropped; the provider retrying them
// would not help.
func (p *Processor) Handle(ctx context.Context, ev provider.Event) error {
	call, err := p.runs.GetCallByProviderID(ctx, ev.Call.ProviderCallID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			p.log.Warn("event for unknown call dropped", "event", ev.Type, "provider_call_id", ev.Call.ProviderCallID)
			return nil
		}
		return err
	}
	run, err := p.runs.GetRun(ctx, call.CallRunID)
	if err != nil {
		return err
	}

	switch ev.Type {
	case provider.EventCallStarted:
		err = p.handleStarted(ctx, call, run, ev)
	case provider.EventCallEnded:
		err = p.handleEnded(ctx, call, ev)
	case provider.EventCallAnalyzed:
		err = p.handleAnalyzed(ctx, call, run, ev)
	default:
		p.log.Warn("unknown event type dropped", "event", ev.Type)
		return nil
	}
	if err != nil {
		return err
	}

	if p.sink != nil {
		if sinkErr := p.sink.Publish(ctx, ev); sinkErr != nil {
			p.log.Warn("event fan-out failed", "event", ev.Type, "err", sinkErr)
		}
	}
	return nil
}

func (p *Processor) handleStarted(ctx context.Context, call calls.Call, run calls.CallRun, ev provider.Event) error {
	now := p.now()
	call.Status = calls.CallStatusOngoing
	if ev.Call.StartedAt != nil {
		call.StartedAt = ev.Call.StartedAt
	} else if call.StartedAt == nil {
		call.StartedAt = &now
	}
	call.RawPayload = string(ev.Raw)
	call.UpdatedAt = now
	if err := p.runs.UpdateCall(ctx, call); err != nil {
		return err
	}
	if run.Status != calls.RunStatusInProgress {
		return p.runs.SetRunStatus(ctx, run.ID, calls.RunStatusInProgress)
	}
	return nil
}

func (p *Processor) handleEnded(ctx context.Context, call calls.Call, ev provider.Event) error {
	// Timestamps only; call_analyzed is the authoritative classification.
	now := p.now()
	if ev.Call.StartedAt != nil {
		call.StartedAt = ev.Call.StartedAt
	}
	if ev.Call.EndedAt != nil {
		call.EndedAt = ev.Call.EndedAt
	} else {
		call.EndedAt = &now
	}
	call.RawPayload = string(ev.Raw)
	call.UpdatedAt = now
	return p.runs.UpdateCall(ctx, call)
}

func (p *Processor) handleAnalyzed(ctx context.Context, call calls.Call, run calls.CallRun, ev provider.Event) error {
	now := p.now()
	classification := classifyCall(ev.Call.Status, ev.Call.DisconnectionReason)

	if ev.Call.StartedAt != nil {
		call.StartedAt = ev.Call.StartedAt
	}
	if ev.Call.EndedAt != nil {
		call.EndedAt = ev.Call.EndedAt
	}
	call.RawPayload = string(ev.Raw)
	call.UpdatedAt = now

	switch classification {
	case calls.CallStatusEnded:
		call.Status = calls.CallStatusEnded
		call.DurationSeconds = callDuration(call, ev)
		call.TranscriptText = ev.Call.Transcript
		call.RecordingURL = ev.Call.RecordingURL
		if err := p.runs.UpdateCall(ctx, call); err != nil {
			return err
		}

		completed, err := p.runs.MarkRunCompleted(ctx, run.ID, call.DurationSeconds)
		if err != nil {
			return err
		}
		if !completed {
			return nil
		}
		p.log.Info("run completed", "run_id", run.ID, "attempts", run.AttemptsCount, "duration_s", call.DurationSeconds)
		return p.scheduler.ScheduleNextAfter(ctx, run.ScheduleID, run.ScheduledFor)

	case calls.CallStatusNotConnected:
		call.Status = calls.CallStatusNotConnected
		call.FailureReason = ev.Call.DisconnectionReason
		if err := p.runs.UpdateCall(ctx, call); err != nil {
			return err
		}
		return p.policy.ApplyFailure(ctx, run, classifyRunFailure(ev.Call.DisconnectionReason), call.ID, ev.Call.DisconnectionReason)

	default: // calls.CallStatusError
		call.Status = calls.CallStatusError
		call.FailureReason = ev.Call.DisconnectionReason
		if call.FailureReason == "" {
			call.FailureReason = ev.Call.Status
		}
		if err := p.runs.UpdateCall(ctx, call); err != nil {
			return err
		}
		return p.policy.ApplyFailure(ctx, run, calls.RunStatusFailed, call.ID, call.FailureReason)
	}
}

func callDuration(call calls.Call, ev provider.Event) int {
	if ev.Call.DurationSeconds > 0 {
		return ev.Call.DurationSeconds
	}
	if call.StartedAt != nil && call.EndedAt != nil && call.EndedAt.After(*call.StartedAt) {
		return int(call.EndedAt.Sub(*call.StartedAt).Seconds())
	}
	return 0
}
