package alert

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory alert repository for tests and early development.
type MemoryRepo struct {
	mu      sync.Mutex
	Alerts  map[string]Alert
	History []HistoryEntry
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{Alerts: map[string]Alert{}}
}

func (r *MemoryRepo) CreateAlert(ctx context.Context, a Alert, h HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Alerts[a.ID] = a
	r.History = append(r.History, h)
	return nil
}

func (r *MemoryRepo) GetAlert(ctx context.Context, id string) (Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.Alerts[id]
	if !ok {
		return Alert{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) TransitionStatus(ctx context.Context, a Alert, h HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.Alerts[a.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != h.FromStatus {
		return ErrInvalidTransition
	}
	r.Alerts[a.ID] = a
	r.History = append(r.History, h)
	return nil
}

func (r *MemoryRepo) ListHistory(ctx context.Context, alertID string) ([]HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []HistoryEntry
	for _, h := range r.History {
		if h.AlertID == alertID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
