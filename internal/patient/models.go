package patient

import "time"

// Patient is the read model this core needs about a patient. Patient CRUD,
// consent, and record management live outside this service; the scheduler only
// validates references and builds call payloads from these fields.
type Patient struct {
	ID            string `json:"id" db:"id"`
	FirstName     string `json:"first_name" db:"first_name"`
	LastName      string `json:"last_name" db:"last_name"`
	PreferredName string `json:"preferred_name,omitempty" db:"preferred_name"`

	// Phone is E.164 where possible. A patient without a phone cannot be
	// scheduled for outbound calls.
	Phone string `json:"phone" db:"phone"`

	Status PatientStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type PatientStatus string

const (
	PatientStatusActive   PatientStatus = "active"
	PatientStatusInactive PatientStatus = "inactive"
)

// DisplayName prefers the preferred name when set.
func (p Patient) DisplayName() string {
	if p.PreferredName != "" {
		return p.PreferredName
	}
	if p.FirstName == "" {
		return p.LastName
	}
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Script is the read model for a check-in call script. Authoring and
// assignment management are external; the scheduler needs the content to build
// the provider payload and the assignment to validate schedule creation.
type Script struct {
	ID       string `json:"id" db:"id"`
	Title    string `json:"title" db:"title"`
	Category string `json:"category,omitempty" db:"category"`

	// Messages and Questions are delivered verbatim to the calling agent.
	Messages  []string `json:"messages,omitempty"`
	Questions []string `json:"questions,omitempty"`

	// EscalationTriggers are phrases the provider's analysis flags for
	// human follow-up.
	EscalationTriggers []string `json:"escalation_triggers,omitempty"`

	PreferredAgentGender string `json:"preferred_agent_gender,omitempty" db:"preferred_agent_gender"`
	SpecialInstructions  string `json:"special_instructions,omitempty" db:"special_instructions"`

	Status ScriptStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type ScriptStatus string

const (
	ScriptStatusActive   ScriptStatus = "active"
	ScriptStatusInactive ScriptStatus = "inactive"
)
