package schema

// Event types emitted over the streaming hub and recorded in the run store.
const (
	EventRunStarted      = "run.started"
	EventRunCompleted    = "run.completed"
	EventRunFailed       = "run.failed"
	EventRunCancelled    = "run.cancelled"
	EventDecisionMade    = "decision.made"
	EventDecisionRetried = "decision.retried"
	EventBranchSwitched  = "branch.switched"
	EventStepRecorded    = "step.recorded"
	EventStepFailed      = "step.failed"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusActive    RunStatus = "active"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)
