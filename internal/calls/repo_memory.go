package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory call-run/call repository for tests and early
// development. It mirrors the Postgres repository's semantics, including the
// (schedule_id, scheduled_for) idempotency guard and the conditional terminal
// transitions.
type MemoryRepo struct {
	mu    sync.Mutex
	Runs  map[string]CallRun
	Calls map[string]Call
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{Runs: map[string]CallRun{}, Calls: map[string]Call{}}
}

func (r *MemoryRepo) EnsureScheduledRun(ctx context.Context, scheduleID, patientID, scriptID string, scheduledFor time.Time, allowedAttempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.Runs {
		if run.ScheduleID == scheduleID && run.Status == RunStatusScheduled && run.ScheduledFor.Equal(scheduledFor) {
			return nil
		}
	}
	now := time.Now()
	run := CallRun{
		ID:              uuid.NewString(),
		ScheduleID:      scheduleID,
		PatientID:       patientID,
		ScriptID:        scriptID,
		ScheduledFor:    scheduledFor,
		Status:          RunStatusScheduled,
		AllowedAttempts: allowedAttempts,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.Runs[run.ID] = run
	return nil
}

func (r *MemoryRepo) DeletePendingRuns(ctx context.Context, scheduleID string, from time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, run := range r.Runs {
		if run.ScheduleID != scheduleID || run.Status != RunStatusScheduled || run.ScheduledFor.Before(from) {
			continue
		}
		if r.runHasCallsLocked(id) {
			continue
		}
		delete(r.Runs, id)
		n++
	}
	return n, nil
}

func (r *MemoryRepo) GetRun(ctx context.Context, id string) (CallRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.Runs[id]
	if !ok {
		return CallRun{}, ErrNotFound
	}
	return run, nil
}

func (r *MemoryRepo) ListDueRuns(ctx context.Context, now time.Time, limit int) ([]CallRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallRun
	for _, run := range r.Runs {
		if run.Status == RunStatusScheduled && !run.ScheduledFor.After(now) {
			out = append(out, run)
		}
	}
	sortRuns(out)
	return capRuns(out, limit), nil
}

func (r *MemoryRepo) ListRetryCandidates(ctx context.Context, limit int) ([]CallRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallRun
	for id, run := range r.Runs {
		if !run.Status.Retryable() {
			continue
		}
		if run.AttemptsCount == 0 || run.AttemptsCount >= run.AllowedAttempts {
			continue
		}
		if r.runHasLiveCallLocked(id) {
			continue
		}
		out = append(out, run)
	}
	sortRuns(out)
	return capRuns(out, limit), nil
}

func (r *MemoryRepo) BeginAttempt(ctx context.Context, runID string, now time.Time) (CallRun, Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.Runs[runID]
	if !ok {
		return CallRun{}, Call{}, ErrNotFound
	}
	if run.Status != RunStatusScheduled && !run.Status.Retryable() {
		return CallRun{}, Call{}, ErrNotDispatchable
	}
	if run.AttemptsCount >= run.AllowedAttempts {
		return CallRun{}, Call{}, ErrNotDispatchable
	}

	run.Status = RunStatusInProgress
	run.AttemptsCount++
	run.UpdatedAt = now
	r.Runs[runID] = run

	call := Call{
		ID:            uuid.NewString(),
		CallRunID:     runID,
		AttemptNumber: run.AttemptsCount,
		Status:        CallStatusRegistered,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.Calls[call.ID] = call
	return run, call, nil
}

func (r *MemoryRepo) SetRunStatus(ctx context.Context, runID string, status RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.Runs[runID]
	if !ok {
		return ErrNotFound
	}
	run.Status = status
	run.UpdatedAt = time.Now()
	r.Runs[runID] = run
	return nil
}

func (r *MemoryRepo) MarkRunFailed(ctx context.Context, runID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.Runs[runID]
	if !ok {
		return false, nil
	}
	if run.AttemptsCount < run.AllowedAttempts {
		return false, nil
	}
	if run.Status == RunStatusFailed || run.Status == RunStatusCompleted {
		return false, nil
	}
	run.Status = RunStatusFailed
	run.UpdatedAt = time.Now()
	r.Runs[runID] = run
	return true, nil
}

func (r *MemoryRepo) MarkRunCompleted(ctx context.Context, runID string, durationSeconds int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.Runs[runID]
	if !ok {
		return false, nil
	}
	if run.Status == RunStatusFailed || run.Status == RunStatusCompleted {
		return false, nil
	}
	run.Status = RunStatusCompleted
	run.TotalDurationSeconds += durationSeconds
	run.UpdatedAt = time.Now()
	r.Runs[runID] = run
	return true, nil
}

func (r *MemoryRepo) UpdateCall(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Calls[c.ID]; !ok {
		return ErrNotFound
	}
	r.Calls[c.ID] = c
	return nil
}

func (r *MemoryRepo) GetCallByProviderID(ctx context.Context, providerCallID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *Call
	for _, c := range r.Calls {
		c := c
		if c.ProviderCallID != providerCallID || providerCallID == "" {
			continue
		}
		if found == nil || c.CreatedAt.After(found.CreatedAt) {
			found = &c
		}
	}
	if found == nil {
		return Call{}, ErrNotFound
	}
	return *found, nil
}

func (r *MemoryRepo) ListCallsByRun(ctx context.Context, runID string) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.Calls {
		if c.CallRunID == runID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

func (r *MemoryRepo) runHasCallsLocked(runID string) bool {
	for _, c := range r.Calls {
		if c.CallRunID == runID {
			return true
		}
	}
	return false
}

func (r *MemoryRepo) runHasLiveCallLocked(runID string) bool {
	for _, c := range r.Calls {
		if c.CallRunID == runID && c.Status.Live() {
			return true
		}
	}
	return false
}

func sortRuns(runs []CallRun) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].ScheduledFor.Equal(runs[j].ScheduledFor) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].ScheduledFor.Before(runs[j].ScheduledFor)
	})
}

func capRuns(runs []CallRun, limit int) []CallRun {
	if limit > 0 && len(runs) > limit {
		return runs[:limit]
	}
	return runs
}
