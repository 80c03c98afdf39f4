// Package tool defines the contract every Arbor capability implements and the
// branch registry that scopes which capabilities a run can select. Tools are
// registered before a run starts; the registry is read-only while a run is
// in flight.
package tool

import (
	"context"

	"github.com/arbor-ai/arbor/pkg/schema"
)

// Field describes one declared input parameter of a tool.
type Field struct {
	Type        string `json:"type"` // string | number | integer | boolean | object | array | any
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// Schema maps parameter names to their declared shape.
type Schema map[string]Field

// StepView is one completed step as exposed to tools and the decision engine.
type StepView struct {
	Seq      int            `json:"seq"`
	Tool     string         `json:"tool"`
	Inputs   map[string]any `json:"inputs,omitempty"`
	Response *schema.Response `json:"response"`
}

// Snapshot is the immutable, read-only view of the execution tree handed to a
// tool or the decision engine for one step. It carries only what a tool needs:
// the original query, the active branch, the ancestor chain of prior steps and
// recorded failures. Tools must never receive (or reach for) the tree itself.
type Snapshot struct {
	RunID     string     `json:"run_id"`
	Query     string     `json:"query"`
	Branch    string     `json:"branch"`
	Steps     []StepView `json:"steps"`
	Failures  []string   `json:"failures,omitempty"`
	StepCount int        `json:"step_count"`
}

// Tool is a polymorphic capability callable uniformly by the workflow engine.
//
// Invoke receives a fresh snapshot per call and returns exactly one Response
// or an error. Implementations must not retain tree state across invocations
// beyond what the snapshot provides, and must honor ctx for cancellation and
// deadlines, since tool I/O is one of the two suspension points of the run loop.
type Tool interface {
	Name() string
	Description() string
	InputSchema() Schema
	Invoke(ctx context.Context, snap *Snapshot, inputs map[string]any) (*schema.Response, error)
}
