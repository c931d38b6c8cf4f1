package schedule

import (
	"testing"
	"time"
)

func testSchedule(id string, overrides func(*Schedule)) Schedule {
	s := Schedule{
		ID:                       id,
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
	if overrides != nil {
		overrides(&s)
	}
	return s
}

func TestFindConflict_IdenticalDailySchedules(t *testing.T) {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	cand := testSchedule("cand", nil)
	other := testSchedule("other", nil)

	conflict, err := FindConflict(cand, []Schedule{other}, now, 90)
	if err != nil {
		t.Fatalf("FindConflict: %v", err)
	}
	if conflict == nil {
		t.Fatal("expected conflict")
	}
	if conflict.ExistingScheduleID != "other" {
		t.Fatalf("conflicting schedule = %s, want other", conflict.ExistingScheduleID)
	}
}

func TestFindConflict_SeparatedWindows(t *testing.T) {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	cand := testSchedule("cand", nil)
	other := testSchedule("other", func(s *Schedule) {
		s.WindowStart = "14:00"
		s.WindowEnd = "14:05"
	})

	conflict, err := FindConflict(cand, []Schedule{other}, now, 90)
	if err != nil {
		t.Fatalf("FindConflict: %v", err)
	}
	if conflict != nil {
		t.Fatalf("unexpected conflict: %v", conflict)
	}
}

func TestFindConflict_RetryTailReachesIntoLaterWindow(t *testing.T) {
	// Attempt 3 of the 09:00 schedule starts at 09:10 and spans 10 minutes,
	// crossing into the other schedule's 09:15 slot.
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	cand := testSchedule("cand", func(s *Schedule) {
		s.EstimatedDurationSeconds = 600
	})
	other := testSchedule("other", func(s *Schedule) {
		s.WindowStart = "09:15"
		s.WindowEnd = "09:20"
		s.MaxAttempts = 1
	})

	conflict, err := FindConflict(cand, []Schedule{other}, now, 90)
	if err != nil {
		t.Fatalf("FindConflict: %v", err)
	}
	if conflict == nil {
		t.Fatal("expected retry tail to conflict with 09:15 schedule")
	}
}

func TestFindConflict_TouchingWindowsDoNotConflict(t *testing.T) {
	// Candidate's last attempt ends exactly when the other schedule starts.
	// Half-open intervals: no overlap.
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	cand := testSchedule("cand", func(s *Schedule) {
		s.MaxAttempts = 1
		s.EstimatedDurationSeconds = 300 // 09:00-09:05
	})
	other := testSchedule("other", func(s *Schedule) {
		s.WindowStart = "09:05"
		s.WindowEnd = "09:10"
		s.MaxAttempts = 1
	})

	conflict, err := FindConflict(cand, []Schedule{other}, now, 90)
	if err != nil {
		t.Fatalf("FindConflict: %v", err)
	}
	if conflict != nil {
		t.Fatalf("touching windows reported as conflict: %v", conflict)
	}
}

func TestFindConflict_SkipsSelfAndInactive(t *testing.T) {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	cand := testSchedule("cand", nil)
	self := testSchedule("cand", nil)
	paused := testSchedule("paused", func(s *Schedule) { s.Status = StatusPaused })

	conflict, err := FindConflict(cand, []Schedule{self, paused}, now, 90)
	if err != nil {
		t.Fatalf("FindConflict: %v", err)
	}
	if conflict != nil {
		t.Fatalf("self/paused schedules must not conflict: %v", conflict)
	}
}

func TestFindConflict_WeeklyAgainstDailyDifferentDays(t *testing.T) {
	// Weekly schedule on the same wall-clock slot as a daily one conflicts on
	// the shared weekday.
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	cand := testSchedule("cand", func(s *Schedule) { s.Frequency = FrequencyWeekly })
	other := testSchedule("other", nil)

	conflict, err := FindConflict(cand, []Schedule{other}, now, 30)
	if err != nil {
		t.Fatalf("FindConflict: %v", err)
	}
	if conflict == nil {
		t.Fatal("expected weekly occurrence to collide with daily schedule")
	}
}
