// Package tree maintains the authoritative history of a single run: an
// append-only arena of nodes keyed by id, plus the mutable cursor (active
// node, active branch) the workflow engine advances as steps complete.
//
// The tree is single-writer by contract: only the workflow engine holds a
// mutable handle. Tools and the decision engine see immutable snapshots, so
// no locking is needed inside a run.
package tree

import (
	"time"

	"github.com/google/uuid"

	"github.com/arbor-ai/arbor/pkg/schema"
	"github.com/arbor-ai/arbor/pkg/tool"
)

// BranchChecker reports whether a branch id is registered. Satisfied by
// *tool.Registry.
type BranchChecker interface {
	HasBranch(id string) bool
}

// Node is one completed step of a run. Never mutated after creation.
type Node struct {
	ID        string           `json:"id"`
	ParentID  string           `json:"parent_id,omitempty"` // empty for the root
	BranchID  string           `json:"branch_id"`
	Tool      string           `json:"tool,omitempty"` // empty for the root
	Inputs    map[string]any   `json:"inputs,omitempty"`
	Response  *schema.Response `json:"response,omitempty"`
	Seq       int              `json:"seq"`
	CreatedAt time.Time        `json:"created_at"`
}

// Tree is the execution state of one run.
type Tree struct {
	runID        string
	query        string
	rootID       string
	nodes        map[string]*Node
	activeNode   string
	activeBranch string
	stepCount    int
	failures     []string
	branches     BranchChecker
}

// New creates a run tree seeded with a root node carrying the original query.
func New(runID, query, defaultBranch string, branches BranchChecker) *Tree {
	root := &Node{
		ID:        uuid.NewString(),
		BranchID:  defaultBranch,
		Seq:       0,
		CreatedAt: time.Now().UTC(),
	}
	return &Tree{
		runID:        runID,
		query:        query,
		rootID:       root.ID,
		nodes:        map[string]*Node{root.ID: root},
		activeNode:   root.ID,
		activeBranch: defaultBranch,
		branches:     branches,
	}
}

// Append records a completed tool invocation as a new node, assigns it the
// next sequence number and makes it the active node.
func (t *Tree) Append(parentID, branchID, toolName string, inputs map[string]any, resp *schema.Response) (string, error) {
	if _, ok := t.nodes[parentID]; !ok {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "parent node %q not in tree", parentID)
	}
	n := &Node{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		BranchID:  branchID,
		Tool:      toolName,
		Inputs:    inputs,
		Response:  resp,
		Seq:       t.stepCount + 1,
		CreatedAt: time.Now().UTC(),
	}
	t.nodes[n.ID] = n
	t.activeNode = n.ID
	t.stepCount++
	return n.ID, nil
}

// SwitchBranch updates the active branch without creating a node. Fails if
// the branch is not registered.
func (t *Tree) SwitchBranch(branchID string) error {
	if t.branches != nil && !t.branches.HasBranch(branchID) {
		return schema.NewErrorf(schema.ErrCodeNotFound, "branch %q is not registered", branchID)
	}
	t.activeBranch = branchID
	return nil
}

// RecordFailure notes a recoverable step failure so later decisions can avoid
// repeating it.
func (t *Tree) RecordFailure(toolName, message string) {
	t.failures = append(t.failures, toolName+": "+message)
}

// Snapshot exposes the read-only view a tool or the decision engine needs:
// the ancestor chain of responses from root to the active node, the active
// branch, and recorded failures. Never the internal maps.
func (t *Tree) Snapshot() *tool.Snapshot {
	var chain []*Node
	for id := t.activeNode; id != ""; {
		n := t.nodes[id]
		if n == nil {
			break
		}
		chain = append(chain, n)
		id = n.ParentID
	}

	snap := &tool.Snapshot{
		RunID:     t.runID,
		Query:     t.query,
		Branch:    t.activeBranch,
		Failures:  append([]string(nil), t.failures...),
		StepCount: t.stepCount,
	}
	// chain is active→root; emit root→active, skipping the root itself.
	for i := len(chain) - 1; i >= 0; i-- {
		n := chain[i]
		if n.ID == t.rootID {
			continue
		}
		snap.Steps = append(snap.Steps, tool.StepView{
			Seq:      n.Seq,
			Tool:     n.Tool,
			Inputs:   cloneInputs(n.Inputs),
			Response: n.Response,
		})
	}
	return snap
}

// RunID returns the run identifier the tree belongs to.
func (t *Tree) RunID() string { return t.runID }

// Query returns the original user query seeded at the root.
func (t *Tree) Query() string { return t.query }

// ActiveNode returns the id of the current cursor node.
func (t *Tree) ActiveNode() string { return t.activeNode }

// ActiveBranch returns the currently active branch id.
func (t *Tree) ActiveBranch() string { return t.activeBranch }

// StepCount equals the number of non-root nodes.
func (t *Tree) StepCount() int { return t.stepCount }

// Node looks up a node by id.
func (t *Tree) Node(id string) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

func cloneInputs(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
