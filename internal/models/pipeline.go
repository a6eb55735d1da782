package models

import "time"

// PipelineStatus represents the state of a code-change pipeline run.
type PipelineStatus string

const (
	StatusValidating PipelineStatus = "validating"
	StatusBranching  PipelineStatus = "branching"
	StatusCoding     PipelineStatus = "coding"
	StatusCommitting PipelineStatus = "committing"
	StatusCreatingPR PipelineStatus = "creating_pr"
	StatusDeploying  PipelineStatus = "deploying"
	StatusComplete   PipelineStatus = "complete"
	StatusFailed     PipelineStatus = "failed"
)

// order maps each status to its position in the forward progression.
// failed sits outside the progression and is reachable from any
// non-terminal state.
var order = map[PipelineStatus]int{
	StatusValidating: 0,
	StatusBranching:  1,
	StatusCoding:     2,
	StatusCommitting: 3,
	StatusCreatingPR: 4,
	StatusDeploying:  5,
	StatusComplete:   6,
}

// Terminal reports whether the status is an end state.
func (s PipelineStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Valid reports whether the status is a known enumeration value.
func (s PipelineStatus) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := order[s]
	return ok
}

// CanTransition reports whether moving from s to next is allowed.
// The progression is strictly forward; failed is reachable from any
// non-terminal state and nothing leaves a terminal state.
func (s PipelineStatus) CanTransition(next PipelineStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	from, ok1 := order[s]
	to, ok2 := order[next]
	return ok1 && ok2 && to > from
}

// PipelineRequest is the persisted status document for one pipeline run.
// Its ID is the caller-supplied tool-invocation id so a UI can subscribe
// before the document exists. The orchestrator advances Status forward
// only; CI/deploy webhooks add orthogonal fields via merge writes.
type PipelineRequest struct {
	ID           string
	SessionID    string
	UserName     string
	Prompt       string
	SkillID      string
	Branch       string
	Status       PipelineStatus
	Error        string
	PRNumber     int
	PRURL        string
	CommitSHA    string
	FilesChanged []string
	ChecksStatus string
	DeployStatus string
	DeployURL    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DiffValidation is the outcome of auditing an agent-produced diff.
type DiffValidation struct {
	Valid      bool
	Error      string
	Violations []string
}
