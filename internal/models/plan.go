package models

// PlanStepStatus is the caller-assigned state of a single plan step.
type PlanStepStatus string

const (
	StepPending    PlanStepStatus = "pending"
	StepInProgress PlanStepStatus = "in_progress"
	StepDone       PlanStepStatus = "done"
	StepSkipped    PlanStepStatus = "skipped"
)

// ValidStepStatus reports whether s is a known step status.
func ValidStepStatus(s PlanStepStatus) bool {
	switch s {
	case StepPending, StepInProgress, StepDone, StepSkipped:
		return true
	}
	return false
}

// PlanStep is one labeled step in an implementation plan.
type PlanStep struct {
	ID     string         `json:"id"`
	Label  string         `json:"label"`
	Status PlanStepStatus `json:"status"`
}

// Plan is the agent-authored implementation plan relayed to the UI.
// The agent owns transition logic; the tool layer republishes verbatim.
type Plan struct {
	Title    string     `json:"title"`
	Overview string     `json:"overview"`
	Steps    []PlanStep `json:"steps"`
}
