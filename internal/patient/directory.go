package patient

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("patient: not found")

// Directory is the read-only view of patients and scripts this core consumes.
// Implementations must not expose mutation; ownership of these records is
// elsewhere.
type Directory interface {
	GetPatient(ctx context.Context, patientID string) (Patient, error)
	GetScript(ctx context.Context, scriptID string) (Script, error)

	// ScriptAssignedTo reports whether the script is assigned to the patient.
	ScriptAssignedTo(ctx context.Context, scriptID, patientID string) (bool, error)
}

// MemoryDirectory is an in-memory Directory for tests and early development.
type MemoryDirectory struct {
	mu sync.Mutex

	Patients    map[string]Patient
	Scripts     map[string]Script
	Assignments map[string][]string // script_id -> patient_ids
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		Patients:    map[string]Patient{},
		Scripts:     map[string]Script{},
		Assignments: map[string][]string{},
	}
}

func (d *MemoryDirectory) GetPatient(ctx context.Context, patientID string) (Patient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.Patients[patientID]
	if !ok {
		return Patient{}, ErrNotFound
	}
	return p, nil
}

func (d *MemoryDirectory) GetScript(ctx context.Context, scriptID string) (Script, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.Scripts[scriptID]
	if !ok {
		return Script{}, ErrNotFound
	}
	return s, nil
}

func (d *MemoryDirectory) ScriptAssignedTo(ctx context.Context, scriptID, patientID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, pid := range d.Assignments[scriptID] {
		if pid == patientID {
			return true, nil
		}
	}
	return false, nil
}

// Assign links a script to a patient (test fixture helper).
func (d *MemoryDirectory) Assign(scriptID, patientID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Assignments[scriptID] = append(d.Assignments[scriptID], patientID)
}
