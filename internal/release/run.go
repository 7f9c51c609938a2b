package release

import "time"

// State of a deployment run. Runs move strictly forward; the only backward
// branch is RollingBack -> RolledBack out of Validating.
type State string

const (
	StateIdle         State = "Idle"
	StateProvisioning State = "Provisioning"
	StateValidating   State = "Validating"
	StateSwapping     State = "Swapping"
	StateRetiring     State = "Retiring"
	StateCompleted    State = "Completed"
	StateRollingBack  State = "RollingBack"
	StateRolledBack   State = "RolledBack"
	StateFailed       State = "Failed"
)

// IsTerminal reports whether a run in this state is finished. Terminal runs
// are never mutated again.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateRolledBack, StateFailed:
		return true
	}
	return false
}

type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "Success"
	OutcomeFailed  Outcome = "Failed"
)

// Run is one deployment attempt, retained for audit.
type Run struct {
	ID          string     `json:"id"`
	Commit      string     `json:"commit"`
	Branch      string     `json:"branch"`
	State       State      `json:"state"`
	CandidateID string     `json:"candidate_id,omitempty"`
	PreviousID  string     `json:"previous_id,omitempty"`
	Outcome     Outcome    `json:"outcome,omitempty"`
	Cause       string     `json:"cause,omitempty"`
	// Served marks a post-swap failure: the run failed but the candidate is
	// serving traffic ("Failed-but-served").
	Served     bool       `json:"served"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
