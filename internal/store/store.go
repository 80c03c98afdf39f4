package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/arbor-ai/arbor/pkg/schema"
)

// RunRecord is the persisted header of a run.
type RunRecord struct {
	ID          string           `json:"id"`
	Query       string           `json:"query"`
	Branch      string           `json:"branch"`
	Status      schema.RunStatus `json:"status"`
	StepCount   int              `json:"step_count"`
	Error       json.RawMessage  `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// RunUpdate carries the fields an UpdateRun call may change. Nil fields are
// left untouched.
type RunUpdate struct {
	Status      *schema.RunStatus
	StepCount   *int
	Error       json.RawMessage
	CompletedAt *time.Time
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status *schema.RunStatus
	Since  *time.Time
	Limit  int
	Offset int
}

// NodeRecord is one persisted execution tree node.
type NodeRecord struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	ParentID  string          `json:"parent_id,omitempty"`
	BranchID  string          `json:"branch_id"`
	Tool      string          `json:"tool,omitempty"`
	Inputs    json.RawMessage `json:"inputs,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	Seq       int             `json:"seq"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventRecord is one append-only run event. Sequence is assigned per run by
// the store and is strictly increasing.
type EventRecord struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// RunStore defines the persistence contract for runs, their execution tree
// nodes, and the append-only event log. Implementations must be safe for
// concurrent use.
type RunStore interface {
	CreateRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)

	AppendNode(ctx context.Context, node *NodeRecord) error
	ListNodes(ctx context.Context, runID string) ([]*NodeRecord, error)

	AppendEvent(ctx context.Context, event *EventRecord) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*EventRecord, error)

	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error
	Close() error
}
