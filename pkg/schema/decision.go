package schema

// DecisionOutcome is the closed set of actions a decision can select.
type DecisionOutcome string

const (
	OutcomeInvokeTool   DecisionOutcome = "invoke_tool"
	OutcomeSwitchBranch DecisionOutcome = "switch_branch"
	OutcomeTerminate    DecisionOutcome = "terminate"
)

// Decision is the structured outcome of one decision-engine invocation.
// Exactly one of the outcome-specific fields is meaningful:
// Tool/Inputs for invoke_tool, Branch for switch_branch, Summary for terminate.
type Decision struct {
	Outcome   DecisionOutcome `json:"outcome"`
	Tool      string          `json:"tool,omitempty"`
	Inputs    map[string]any  `json:"inputs,omitempty"`
	Branch    string          `json:"branch,omitempty"`
	Guidance  string          `json:"guidance,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
	Summary   *Response       `json:"summary,omitempty"`
}

// Validate checks internal consistency of the decision shape. Registry-level
// checks (does the tool exist on the active branch) belong to the engine.
func (d *Decision) Validate() error {
	switch d.Outcome {
	case OutcomeInvokeTool:
		if d.Tool == "" {
			return NewError(ErrCodeDecisionParse, "invoke_tool decision missing tool name")
		}
	case OutcomeSwitchBranch:
		if d.Branch == "" {
			return NewError(ErrCodeDecisionParse, "switch_branch decision missing branch id")
		}
	case OutcomeTerminate:
		if d.Summary == nil {
			return NewError(ErrCodeDecisionParse, "terminate decision missing summary")
		}
		if err := d.Summary.Validate(); err != nil {
			return NewError(ErrCodeDecisionParse, "terminate summary invalid: "+err.Error())
		}
	default:
		return NewErrorf(ErrCodeDecisionParse, "unknown decision outcome %q", d.Outcome)
	}
	return nil
}
