package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository abstracts alert persistence. The history write must be atomic
// with the alert mutation it records.
type Repository interface {
	CreateAlert(ctx context.Context, a Alert, h HistoryEntry) error
	GetAlert(ctx context.Context, id string) (Alert, error)
	// TransitionStatus updates the alert status and appends the history
	// entry in one unit of work.
	TransitionStatus(ctx context.Context, a Alert, h HistoryEntry) error
	ListHistory(ctx context.Context, alertID string) ([]HistoryEntry, error)
}

// Service owns alert creation and the unidirectional status lifecycle.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock (tests).
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateInput describes a new escalation.
type CreateInput struct {
	PatientID string
	CallID    string
	CallRunID string
	ScriptID  string
	Type      Type
	Severity  Severity
	Message   string
	Trigger   string
}

// Create raises a new ACTIVE alert and writes the initial history entry.
func (s *Service) Create(ctx context.Context, in CreateInput) (Alert, error) {
	if in.PatientID == "" {
		return Alert{}, fmt.Errorf("alert: patient id is required")
	}
	if in.Severity == "" {
		in.Severity = SeverityInfo
	}
	now := s.now()
	a := Alert{
		ID:        uuid.NewString(),
		PatientID: in.PatientID,
		CallID:    in.CallID,
		CallRunID: in.CallRunID,
		ScriptID:  in.ScriptID,
		Type:      in.Type,
		Severity:  in.Severity,
		Status:    StatusActive,
		Message:   in.Message,
		Trigger:   in.Trigger,
		CreatedAt: now,
		UpdatedAt: now,
	}
	h := HistoryEntry{
		ID:        uuid.NewString(),
		AlertID:   a.ID,
		ToStatus:  StatusActive,
		Note:      in.Message,
		CreatedAt: now,
	}
	if err := s.repo.CreateAlert(ctx, a, h); err != nil {
		return Alert{}, err
	}
	return a, nil
}

// Acknowledge moves an ACTIVE alert to ACKNOWLEDGED.
func (s *Service) Acknowledge(ctx context.Context, id, note string) (Alert, error) {
	return s.transition(ctx, id, StatusAcknowledged, note)
}

// Resolve moves an alert to RESOLVED.
func (s *Service) Resolve(ctx context.Context, id, note string) (Alert, error) {
	return s.transition(ctx, id, StatusResolved, note)
}

func (s *Service) Get(ctx context.Context, id string) (Alert, error) {
	return s.repo.GetAlert(ctx, id)
}

func (s *Service) History(ctx context.Context, alertID string) ([]HistoryEntry, error) {
	return s.repo.ListHistory(ctx, alertID)
}

func (s *Service) transition(ctx context.Context, id string, next Status, note string) (Alert, error) {
	a, err := s.repo.GetAlert(ctx, id)
	if err != nil {
		return Alert{}, err
	}
	if !a.Status.canTransitionTo(next) {
		return Alert{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, next)
	}
	now := s.now()
	h := HistoryEntry{
		ID:         uuid.NewString(),
		AlertID:    a.ID,
		FromStatus: a.Status,
		ToStatus:   next,
		Note:       note,
		CreatedAt:  now,
	}
	a.Status = next
	a.UpdatedAt = now
	if err := s.repo.TransitionStatus(ctx, a, h); err != nil {
		return Alert{}, err
	}
	return a, nil
}
