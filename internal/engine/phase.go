package engine

import "github.com/arbor-ai/arbor/pkg/schema"

// Phase is the position of a run inside one decide/execute cycle.
type Phase string

const (
	PhaseInit       Phase = "init"
	PhaseDeciding   Phase = "deciding"
	PhaseValidating Phase = "validating"
	PhaseExecuting  Phase = "executing"
	PhaseRecording  Phase = "recording"
	PhaseTerminated Phase = "terminated"
	PhaseFailed     Phase = "failed"
)

// ValidPhaseTransitions defines the allowed phase moves. Terminal phases have
// no successors.
var ValidPhaseTransitions = map[Phase][]Phase{
	PhaseInit:       {PhaseDeciding, PhaseFailed},
	PhaseDeciding:   {PhaseValidating, PhaseDeciding, PhaseTerminated, PhaseFailed},
	PhaseValidating: {PhaseExecuting, PhaseFailed},
	PhaseExecuting:  {PhaseRecording, PhaseFailed},
	PhaseRecording:  {PhaseDeciding, PhaseFailed},
	PhaseTerminated: {},
	PhaseFailed:     {},
}

// transition moves the cursor to a new phase, enforcing the table above. A
// violation is a programming error in the loop, surfaced as EXECUTION_ERROR.
func transition(current *Phase, to Phase) error {
	for _, allowed := range ValidPhaseTransitions[*current] {
		if allowed == to {
			*current = to
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeExecution,
		"invalid phase transition: %s -> %s", *current, to)
}
