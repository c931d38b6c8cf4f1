package outcome

import (
	"context"
	"testing"
	"time"

	"carecall-platform/internal/alert"
	"carecall-platform/internal/calls"
	"carecall-platform/internal/dispatch"
	"carecall-platform/internal/patient"
	"carecall-platform/internal/provider"
	"carecall-platform/internal/schedule"
)

func TestClassifyCall(t *testing.T) {
	cases := []struct {
		name   string
		status string
		reason string
		want   calls.CallStatus
	}{
		{"clean hangup", "ended", "user_hangup", calls.CallStatusEnded},
		{"agent hangup", "ended", "agent_hangup", calls.CallStatusEnded},
		{"no reason", "ended", "", calls.CallStatusEnded},
		{"voicemail", "ended", "voicemail_reached", calls.CallStatusNotConnected},
		{"busy", "ended", "dial_busy", calls.CallStatusNotConnected},
		{"no answer dashed", "ended", "dial-no-answer", calls.CallStatusNotConnected},
		{"declined uppercase", "ended", "Call_Declined", calls.CallStatusNotConnected},
		{"machine", "ended", "machine_detected", calls.CallStatusNotConnected},
		{"inactivity", "ended", "inactivity", calls.CallStatusNotConnected},
		{"error status", "error", "", calls.CallStatusError},
		{"error reason prefix", "ended", "error_llm_failure", calls.CallStatusError},
		{"error reason dashed", "ended", "error-internal", calls.CallStatusError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyCall(tc.status, tc.reason); got != tc.want {
				t.Fatalf("classifyCall(%q, %q) = %s, want %s", tc.status, tc.reason, got, tc.want)
			}
		})
	}
}

func TestClassifyRunFailure(t *testing.T) {
	cases := []struct {
		reason string
		want   calls.RunStatus
	}{
		{"dial_busy", calls.RunStatusBusy},
		{"busy", calls.RunStatusBusy},
		{"dial_no_answer", calls.RunStatusNoAnswer},
		{"voicemail_reached", calls.RunStatusNoAnswer},
		{"machine_detected", calls.RunStatusNoAnswer},
		{"declined", calls.RunStatusFailed},
		{"inactivity", calls.RunStatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.reason, func(t *testing.T) {
			if got := classifyRunFailure(tc.reason); got != tc.want {
				t.Fatalf("classifyRunFailure(%q) = %s, want %s", tc.reason, got, tc.want)
			}
		})
	}
}

// harness wires the processor against the real dispatcher policy and
// in-memory stores, mirroring production composition.
type harness struct {
	processor *Processor
	schedules *schedule.Service
	runs      *calls.MemoryRepo
	alerts    *alert.MemoryRepo
	sched     schedule.Schedule
	now       time.Time
}

type nullProvider struct{}

func (nullProvider) Initiate(ctx context.Context, req provider.CallRequest) (provider.CallResult, error) {
	return provider.CallResult{ProviderCallID: "unused"}, nil
}

func (nullProvider) FetchStatus(ctx context.Context, id string) (provider.StatusSnapshot, error) {
	return provider.StatusSnapshot{}, nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dir := patient.NewMemoryDirectory()
	dir.Patients["patient-1"] = patient.Patient{ID: "patient-1", FirstName: "Ada", Phone: "+15550100", Status: patient.PatientStatusActive}
	dir.Scripts["script-1"] = patient.Script{ID: "script-1", Title: "Morning check-in", Status: patient.ScriptStatusActive}
	dir.Assign("script-1", "patient-1")

	ny, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, ny)
	clock := func() time.Time { return now }

	runs := calls.NewMemoryRepo()
	alertRepo := alert.NewMemoryRepo()
	alertSvc := alert.NewService(alertRepo).WithNow(clock)
	schedSvc := schedule.NewService(schedule.NewMemoryRepo(), runs, dir, nil, 90).WithNow(clock)
	d := dispatch.NewDispatcher(runs, schedSvc, dir, nullProvider{}, alertSvc, nil, 1).WithNow(clock)

	sched, err := schedSvc.Create(context.Background(), schedule.CreateInput{
		PatientID:                "patient-1",
		ScriptID:                 "script-1",
		Frequency:                schedule.FrequencyDaily,
		Timezone:                 "America/New_York",
		WindowStart:              "09:00",
		WindowEnd:                "09:05",
		MaxAttempts:              3,
		RetryIntervalMinutes:     5,
		EstimatedDurationSeconds: 30,
		Status:                   schedule.StatusActive,
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	p := NewProcessor(runs, d, schedSvc, nil, nil).WithNow(clock)
	return &harness{
		processor: p,
		schedules: schedSvc,
		runs:      runs,
		alerts:    alertRepo,
		sched:     sched,
		now:       now,
	}
}

// beginAttempt starts the pending run's next attempt and tags the call with a
// provider id, as the dispatcher would.
func (h *harness) beginAttempt(t *testing.T, providerCallID string) (calls.CallRun, calls.Call) {
	t.Helper()
	var pending calls.CallRun
	for _, run := range h.runs.Runs {
		if run.Status == calls.RunStatusScheduled || run.Status.Retryable() {
			pending = run
			break
		}
	}
	if pending.ID == "" {
		t.Fatal("no dispatchable run")
	}
	run, call, err := h.runs.BeginAttempt(context.Background(), pending.ID, h.now)
	if err != nil {
		t.Fatalf("BeginAttempt: %v", err)
	}
	call.ProviderCallID = providerCallID
	call.Status = calls.CallStatusOngoing
	if err := h.runs.UpdateCall(context.Background(), call); err != nil {
		t.Fatalf("UpdateCall: %v", err)
	}
	return run, call
}

func analyzedEvent(providerCallID, status, reason string, duration int) provider.Event {
	return provider.Event{
		Type: provider.EventCallAnalyzed,
		Call: provider.CallPayload{
			ProviderCallID:      providerCallID,
			Status:              status,
			DisconnectionReason: reason,
			DurationSeconds:     duration,
			Transcript:          "transcript",
			RecordingURL:        "https://recordings.example/" + providerCallID,
		},
		Raw: []byte(`{"event":"call_analyzed"}`),
	}
}

func TestHandle_UnknownCallDropped(t *testing.T) {
	h := newHarness(t)
	ev := analyzedEvent("never-seen", "ended", "", 10)
	if err := h.processor.Handle(context.Background(), ev); err != nil {
		t.Fatalf("unknown call must be dropped, got %v", err)
	}
}

func TestHandle_StartedMarksOngoing(t *testing.T) {
	h := newHarness(t)
	run, call := h.beginAttempt(t, "prov-1")

	started := h.now.Add(time.Minute)
	ev := provider.Event{
		Type: provider.EventCallStarted,
		Call: provider.CallPayload{ProviderCallID: "prov-1", StartedAt: &started},
		Raw:  []byte(`{"event":"call_started"}`),
	}
	if err := h.processor.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got, _ := h.runs.GetCallByProviderID(context.Background(), "prov-1")
	if got.Status != calls.CallStatusOngoing || got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Fatalf("call after started: %+v", got)
	}
	gotRun, _ := h.runs.GetRun(context.Background(), run.ID)
	if gotRun.Status != calls.RunStatusInProgress {
		t.Fatalf("run status = %s, want IN_PROGRESS", gotRun.Status)
	}
	_ = call
}

func TestHandle_EndedRecordsTimestampsOnly(t *testing.T) {
	h := newHarness(t)
	run, _ := h.beginAttempt(t, "prov-1")

	ended := h.now.Add(2 * time.Minute)
	ev := provider.Event{
		Type: provider.EventCallEnded,
		Call: provider.CallPayload{ProviderCallID: "prov-1", EndedAt: &ended},
		Raw:  []byte(`{"event":"call_ended"}`),
	}
	if err := h.processor.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got, _ := h.runs.GetCallByProviderID(context.Background(), "prov-1")
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Fatalf("ended_at = %v, want %v", got.EndedAt, ended)
	}
	gotRun, _ := h.runs.GetRun(context.Background(), run.ID)
	if gotRun.Status != calls.RunStatusInProgress {
		t.Fatalf("call_ended must not classify; run status = %s", gotRun.Status)
	}
}

func TestHandle_AnalyzedEndedCompletesRunAndSchedulesNext(t *testing.T) {
	h := newHarness(t)
	run, _ := h.beginAttempt(t, "prov-1")

	if err := h.processor.Handle(context.Background(), analyzedEvent("prov-1", "ended", "user_hangup", 42)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	gotRun, _ := h.runs.GetRun(context.Background(), run.ID)
	if gotRun.Status != calls.RunStatusCompleted || gotRun.TotalDurationSeconds != 42 {
		t.Fatalf("run: status=%s duration=%d", gotRun.Status, gotRun.TotalDurationSeconds)
	}
	gotCall, _ := h.runs.GetCallByProviderID(context.Background(), "prov-1")
	if gotCall.Status != calls.CallStatusEnded || gotCall.TranscriptText == "" || gotCall.RecordingURL == "" {
		t.Fatalf("call: %+v", gotCall)
	}

	next, err := h.schedules.Get(context.Background(), h.sched.ID)
	if err != nil {
		t.Fatalf("Get schedule: %v", err)
	}
	want := run.ScheduledFor.AddDate(0, 0, 1)
	if next.NextOccurrenceAt == nil || !next.NextOccurrenceAt.Equal(want) {
		t.Fatalf("next occurrence = %v, want %v", next.NextOccurrenceAt, want)
	}

	// Replayed callbacks must not complete the run twice or advance again.
	if err := h.processor.Handle(context.Background(), analyzedEvent("prov-1", "ended", "user_hangup", 42)); err != nil {
		t.Fatalf("replay: %v", err)
	}
	gotRun, _ = h.runs.GetRun(context.Background(), run.ID)
	if gotRun.TotalDurationSeconds != 42 {
		t.Fatalf("replay accumulated duration: %d", gotRun.TotalDurationSeconds)
	}
}

func TestHandle_AnalyzedNotConnectedParksRun(t *testing.T) {
	h := newHarness(t)
	run, _ := h.beginAttempt(t, "prov-1")

	if err := h.processor.Handle(context.Background(), analyzedEvent("prov-1", "ended", "dial_busy", 0)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	gotRun, _ := h.runs.GetRun(context.Background(), run.ID)
	if gotRun.Status != calls.RunStatusBusy {
		t.Fatalf("run status = %s, want BUSY", gotRun.Status)
	}
	gotCall, _ := h.runs.GetCallByProviderID(context.Background(), "prov-1")
	if gotCall.Status != calls.CallStatusNotConnected || gotCall.FailureReason != "dial_busy" {
		t.Fatalf("call: %+v", gotCall)
	}
	if len(h.alerts.Alerts) != 0 {
		t.Fatalf("non-terminal failure raised %d alerts", len(h.alerts.Alerts))
	}
}

func TestHandle_AnalyzedErrorCountsAgainstBudget(t *testing.T) {
	h := newHarness(t)
	run, _ := h.beginAttempt(t, "prov-1")

	if err := h.processor.Handle(context.Background(), analyzedEvent("prov-1", "error", "", 0)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	gotRun, _ := h.runs.GetRun(context.Background(), run.ID)
	if gotRun.Status != calls.RunStatusFailed {
		t.Fatalf("run status = %s, want FAILED", gotRun.Status)
	}
	gotCall, _ := h.runs.GetCallByProviderID(context.Background(), "prov-1")
	if gotCall.Status != calls.CallStatusError {
		t.Fatalf("call status = %s, want ERROR", gotCall.Status)
	}
}

// Three unanswered attempts of a daily 09:00-09:05 schedule: the run exhausts,
// one informational alert is raised, and the next day's run is materialized.
func TestHandle_ExhaustionScenario(t *testing.T) {
	h := newHarness(t)

	var lastRun calls.CallRun
	for attempt := 1; attempt <= 3; attempt++ {
		id := "prov-" + string(rune('0'+attempt))
		lastRun, _ = h.beginAttempt(t, id)
		if err := h.processor.Handle(context.Background(), analyzedEvent(id, "ended", "dial_no_answer", 0)); err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
	}

	gotRun, _ := h.runs.GetRun(context.Background(), lastRun.ID)
	if gotRun.Status != calls.RunStatusFailed || gotRun.AttemptsCount != 3 {
		t.Fatalf("run: status=%s attempts=%d", gotRun.Status, gotRun.AttemptsCount)
	}

	if len(h.alerts.Alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(h.alerts.Alerts))
	}
	for _, a := range h.alerts.Alerts {
		if a.Type != alert.TypeMissedCheckIn || a.Severity != alert.SeverityInfo || a.Status != alert.StatusActive {
			t.Fatalf("alert: %+v", a)
		}
		if a.Trigger != "dial_no_answer" {
			t.Fatalf("alert trigger = %q", a.Trigger)
		}
	}

	var nextRuns int
	for _, run := range h.runs.Runs {
		if run.Status == calls.RunStatusScheduled {
			nextRuns++
			want := lastRun.ScheduledFor.AddDate(0, 0, 1)
			if !run.ScheduledFor.Equal(want) {
				t.Fatalf("next run at %v, want %v", run.ScheduledFor, want)
			}
		}
	}
	if nextRuns != 1 {
		t.Fatalf("next-occurrence runs = %d, want 1", nextRuns)
	}
}
