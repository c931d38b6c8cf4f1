package schedule

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory schedule repository for tests and early
// development.
type MemoryRepo struct {
	mu        sync.Mutex
	Schedules map[string]Schedule
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{Schedules: map[string]Schedule{}}
}

func (r *MemoryRepo) Create(ctx context.Context, s Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Schedules[s.ID] = s
	return nil
}

func (r *MemoryRepo) Update(ctx context.Context, s Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Schedules[s.ID]; !ok {
		return ErrNotFound
	}
	r.Schedules[s.ID] = s
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.Schedules[id]
	if !ok || s.DeletedAt != nil {
		return Schedule{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) ListActiveByPatient(ctx context.Context, patientID string) ([]Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Schedule, 0)
	for _, s := range r.Schedules {
		if s.PatientID != patientID || s.Status != StatusActive || s.DeletedAt != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
