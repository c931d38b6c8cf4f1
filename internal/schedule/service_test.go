package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"carecall-platform/internal/patient"
)

type fakeRunStore struct {
	ensured []time.Time
	deleted int
}

func (f *fakeRunStore) EnsureScheduledRun(ctx context.Context, scheduleID, patientID, scriptID string, scheduledFor time.Time, allowedAttempts int) error {
	f.ensured = append(f.ensured, scheduledFor)
	return nil
}

func (f *fakeRunStore) DeletePendingRuns(ctx context.Context, scheduleID string, from time.Time) (int, error) {
	f.deleted++
	return 0, nil
}

func fixtureDirectory() *patient.MemoryDirectory {
	dir := patient.NewMemoryDirectory()
	dir.Patients["patient-1"] = patient.Patient{
		ID:        "patient-1",
		FirstName: "Ada",
		LastName:  "Moreno",
		Phone:     "+15550100",
		Status:    patient.PatientStatusActive,
	}
	dir.Scripts["script-1"] = patient.Script{
		ID:     "script-1",
		Title:  "Morning check-in",
		Status: patient.ScriptStatusActive,
	}
	dir.Assign("script-1", "patient-1")
	return dir
}

func newTestService(t *testing.T, now time.Time) (*Service, *MemoryRepo, *fakeRunStore) {
	t.Helper()
	repo := NewMemoryRepo()
	runs := &fakeRunStore{}
	svc := NewService(repo, runs, fixtureDirectory(), nil, 90).WithNow(func() time.Time { return now })
	return svc, repo, runs
}

func validInput() CreateInput {
	return CreateInput{
		PatientID:                "patient-1",
		ScriptID:                 "script-1",
		Frequency:                FrequencyDaily,
		Timezone:                 "America/New_York",
		WindowStart:              "09:00",
		WindowEnd:                "09:05",
		MaxAttempts:              3,
		RetryIntervalMinutes:     5,
		EstimatedDurationSeconds: 30,
		Status:                   StatusActive,
	}
}

func TestCreate_ActiveMaterializesNextRun(t *testing.T) {
	ny, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, ny)
	svc, repo, runs := newTestService(t, now)

	sched, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sched.NextOccurrenceAt == nil {
		t.Fatal("active schedule must have a next occurrence")
	}
	want := time.Date(2026, 6, 1, 9, 0, 0, 0, ny)
	if !sched.NextOccurrenceAt.Equal(want) {
		t.Fatalf("next occurrence = %v, want %v", sched.NextOccurrenceAt, want)
	}
	if len(runs.ensured) != 1 || !runs.ensured[0].Equal(want) {
		t.Fatalf("expected one pending run at %v, got %v", want, runs.ensured)
	}
	if _, ok := repo.Schedules[sched.ID]; !ok {
		t.Fatal("schedule not persisted")
	}
}

func TestCreate_WindowPastTodayRollsToTomorrow(t *testing.T) {
	ny, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, ny)
	svc, _, _ := newTestService(t, now)

	sched, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	want := time.Date(2026, 6, 2, 9, 0, 0, 0, ny)
	if !sched.NextOccurrenceAt.Equal(want) {
		t.Fatalf("next occurrence = %v, want %v", sched.NextOccurrenceAt, want)
	}
}

func TestCreate_PausedSkipsConflictAndRun(t *testing.T) {
	ny, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, ny)
	svc, _, runs := newTestService(t, now)

	in := validInput()
	in.Status = StatusPaused
	sched, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sched.NextOccurrenceAt != nil {
		t.Fatal("paused schedule must not have a next occurrence")
	}
	if len(runs.ensured) != 0 {
		t.Fatalf("paused schedule materialized runs: %v", runs.ensured)
	}
}

func TestCreate_Validation(t *testing.T) {
	ny, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, ny)
	svc, _, _ := newTestService(t, now)

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"unknown frequency", func(in *CreateInput) { in.Frequency = "HOURLY" }},
		{"bad timezone", func(in *CreateInput) { in.Timezone = "Mars/Olympus" }},
		{"window start after end", func(in *CreateInput) { in.WindowStart = "10:00"; in.WindowEnd = "09:00" }},
		{"window start equals end", func(in *CreateInput) { in.WindowStart = "09:00"; in.WindowEnd = "09:00" }},
		{"bad clock format", func(in *CreateInput) { in.WindowStart = "9am" }},
		{"zero attempts", func(in *CreateInput) { in.MaxAttempts = 0 }},
		{"zero retry interval", func(in *CreateInput) { in.RetryIntervalMinutes = 0 }},
		{"zero duration", func(in *CreateInput) { in.EstimatedDurationSeconds = 0 }},
		{"inactive status", func(in *CreateInput) { in.Status = StatusInactive }},
		{"unknown patient", func(in *CreateInput) { in.PatientID = "ghost" }},
		{"unknown script", func(in *CreateInput) { in.ScriptID = "ghost" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := svc.Create(context.Background(), in)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestCreate_UnassignedScriptRejected(t *testing.T) {
	ny, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, ny)
	repo := NewMemoryRepo()
	dir := fixtureDirectory()
	dir.Scripts["script-2"] = patient.Script{ID: "script-2", Title: "Evening", Status: patient.ScriptStatusActive}
	svc := NewService(repo, &fakeRunStore{}, dir, nil, 90).WithNow(func() time.Time { return now })

	in := validInput()
	in.ScriptID = "script-2"
	if _, err := svc.Create(context.Background(), in); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestCreate_ConflictRejected(t *testing.T) {
	ny, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, ny)
	svc, _, _ := newTestService(t, now)

	if _, err := svc.Create(context.Background(), validInput()); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	_, err := svc.Create(context.Background(), validInput())
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
}

func TestPauseResume(t *testing.T) {
	ny, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, ny)
	svc, _, runs := newTestService(t, now)

	sched, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	paused, err := svc.Pause(context.Background(), sched.ID)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if paused.Status != StatusPaused || paused.NextOccurrenceAt != nil {
		t.Fatalf("pause left status=%s next=%v", paused.Status, paused.NextOccurrenceAt)
	}
	if runs.deleted != 1 {
		t.Fatalf("pending runs deleted %d times, want 1", runs.deleted)
	}

	// Pausing twice is rejected.
	if _, err := svc.Pause(context.Background(), sched.ID); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("second Pause err = %v, want ErrInvalidArgument", err)
	}

	resumed, err := svc.Resume(context.Background(), sched.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != StatusActive || resumed.NextOccurrenceAt == nil {
		t.Fatalf("resume left status=%s next=%v", resumed.Status, resumed.NextOccurrenceAt)
	}
	if len(runs.ensured) != 2 {
		t.Fatalf("expected run materialized on create and resume, got %d", len(runs.ensured))
	}
}

func TestDelete_SoftDeletes(t *testing.T) {
	ny, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, ny)
	svc, repo, runs := newTestService(t, now)

	sched, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Delete(context.Background(), sched.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	stored := repo.Schedules[sched.ID]
	if stored.DeletedAt == nil || stored.Status != StatusInactive {
		t.Fatalf("delete left status=%s deleted_at=%v", stored.Status, stored.DeletedAt)
	}
	if runs.deleted != 1 {
		t.Fatalf("pending runs deleted %d times, want 1", runs.deleted)
	}
	if _, err := svc.Get(context.Background(), sched.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete err = %v, want ErrNotFound", err)
	}
}

func TestScheduleNextAfter(t *testing.T) {
	ny, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, ny)
	svc, repo, runs := newTestService(t, now)

	sched, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	finished := *sched.NextOccurrenceAt
	if err := svc.ScheduleNextAfter(context.Background(), sched.ID, finished); err != nil {
		t.Fatalf("ScheduleNextAfter: %v", err)
	}

	stored := repo.Schedules[sched.ID]
	want := finished.AddDate(0, 0, 1)
	if stored.NextOccurrenceAt == nil || !stored.NextOccurrenceAt.Equal(want) {
		t.Fatalf("next occurrence = %v, want %v", stored.NextOccurrenceAt, want)
	}
	if len(runs.ensured) != 2 || !runs.ensured[1].Equal(want) {
		t.Fatalf("expected pending run at %v, got %v", want, runs.ensured)
	}

	// Paused schedules are left alone.
	if _, err := svc.Pause(context.Background(), sched.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := svc.ScheduleNextAfter(context.Background(), sched.ID, want); err != nil {
		t.Fatalf("ScheduleNextAfter on paused: %v", err)
	}
	if got := repo.Schedules[sched.ID].NextOccurrenceAt; got != nil {
		t.Fatalf("paused schedule advanced to %v", got)
	}

	// Unknown schedules are not an error.
	if err := svc.ScheduleNextAfter(context.Background(), "ghost", want); err != nil {
		t.Fatalf("ScheduleNextAfter unknown: %v", err)
	}
}
