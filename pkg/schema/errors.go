package schema

import "fmt"

// Error codes for structured error reporting.
const (
	// Decision-layer errors (fatal to the run).
	ErrCodeDecisionParse     = "DECISION_PARSE"
	ErrCodeDecisionExhausted = "DECISION_EXHAUSTED"

	// Validation errors (fatal to the run).
	ErrCodeUnknownTool     = "UNKNOWN_TOOL"
	ErrCodeInputValidation = "INPUT_VALIDATION"

	// Execution errors (recoverable: recorded and fed back to the next cycle).
	ErrCodeToolExecution = "TOOL_EXECUTION"
	ErrCodeStepTimeout   = "STEP_TIMEOUT"

	// Bound errors (fatal).
	ErrCodeStepBudgetExceeded = "STEP_BUDGET_EXCEEDED"

	// Ambient codes shared across packages.
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeExecution  = "EXECUTION_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeCancelled  = "CANCELLED"
	ErrCodeStore      = "STORE_ERROR"
)

// ArborError is the structured error type for all Arbor operations.
type ArborError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ArborError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ArborError) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether this error terminates a run. Execution errors are
// recorded as error responses and fed back to the decision engine; every
// other code in the taxonomy stops the loop.
func (e *ArborError) IsFatal() bool {
	switch e.Code {
	case ErrCodeToolExecution, ErrCodeStepTimeout:
		return false
	}
	return true
}

// NewError creates a new ArborError.
func NewError(code, message string) *ArborError {
	return &ArborError{Code: code, Message: message}
}

// NewErrorf creates a new ArborError with a formatted message.
func NewErrorf(code, format string, args ...any) *ArborError {
	return &ArborError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches the tree node ID the error relates to.
func (e *ArborError) WithNode(nodeID string) *ArborError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *ArborError) WithCause(err error) *ArborError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ArborError) WithDetails(details map[string]any) *ArborError {
	e.Details = details
	return e
}
