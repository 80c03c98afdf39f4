package tool

import (
	"sort"
	"sync"

	"github.com/arbor-ai/arbor/pkg/schema"
)

// BaseBranch is the default branch every registry starts with. It cannot be
// removed and is the active branch when a run begins.
const BaseBranch = "base"

// BranchView is the slice of the registry visible from one branch: the tools
// registered on it and the branches reachable from it (children plus parent).
// The decision engine only chooses among these.
type BranchView struct {
	Branch      string
	Instruction string
	Tools       []Tool
	Branches    map[string]string // reachable branch id -> description
}

type branch struct {
	instruction string
	description string
	parent      string
	tools       map[string]Tool
}

// Registry maps branch ids to the set of tools available on each branch.
// It is populated before a run starts and treated as read-only during a run;
// the mutex only guards concurrent setup and cross-run sharing.
type Registry struct {
	mu       sync.RWMutex
	branches map[string]*branch
}

// NewRegistry creates a Registry holding the irremovable base branch.
func NewRegistry() *Registry {
	return &Registry{
		branches: map[string]*branch{
			BaseBranch: {
				instruction: "Choose the appropriate action for the user's request",
				tools:       make(map[string]Tool),
			},
		},
	}
}

// AddBranch registers a new branch under a parent. The branch id must be
// unique and must not shadow the reserved base name.
func (r *Registry) AddBranch(id, instruction, parent, description string) error {
	if id == BaseBranch {
		return schema.NewErrorf(schema.ErrCodeValidation, "branch id %q is reserved", BaseBranch)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.branches[id]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "branch %q already exists", id)
	}
	if _, ok := r.branches[parent]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "parent branch %q does not exist", parent)
	}
	if description == "" {
		description = "Navigate to " + id + " for specialized operations"
	}
	r.branches[id] = &branch{
		instruction: instruction,
		description: description,
		parent:      parent,
		tools:       make(map[string]Tool),
	}
	return nil
}

// RemoveBranch deletes a branch and all tools registered on it. The base
// branch cannot be removed.
func (r *Registry) RemoveBranch(id string) error {
	if id == BaseBranch {
		return schema.NewError(schema.ErrCodeValidation, "cannot remove the base branch")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.branches[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "branch %q does not exist", id)
	}
	delete(r.branches, id)
	return nil
}

// Register adds a tool to a branch. A tool name must be unique within the
// branch; the same tool may be registered on multiple branches.
func (r *Registry) Register(branchID string, t Tool) error {
	if t == nil {
		return schema.NewError(schema.ErrCodeValidation, "tool is nil")
	}
	if t.Name() == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.branches[branchID]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "branch %q does not exist", branchID)
	}
	if _, exists := b.tools[t.Name()]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered on branch %q", t.Name(), branchID)
	}
	b.tools[t.Name()] = t
	return nil
}

// HasBranch reports whether a branch id is registered.
func (r *Registry) HasBranch(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.branches[id]
	return ok
}

// Get resolves a tool by name on the given branch.
func (r *Registry) Get(branchID, name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.branches[branchID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "branch %q does not exist", branchID)
	}
	t, ok := b.tools[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownTool, "tool %q not registered on branch %q", name, branchID)
	}
	return t, nil
}

// View returns the branch's tool set (sorted by name) and the branches
// reachable from it: its children and, when present, its parent.
func (r *Registry) View(branchID string) (*BranchView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.branches[branchID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "branch %q does not exist", branchID)
	}

	view := &BranchView{
		Branch:      branchID,
		Instruction: b.instruction,
		Branches:    make(map[string]string),
	}
	for _, t := range b.tools {
		view.Tools = append(view.Tools, t)
	}
	sort.Slice(view.Tools, func(i, j int) bool {
		return view.Tools[i].Name() < view.Tools[j].Name()
	})

	for id, other := range r.branches {
		if other.parent == branchID {
			view.Branches[id] = other.description
		}
	}
	if b.parent != "" {
		view.Branches[b.parent] = "Return to parent branch " + b.parent
	}
	return view, nil
}
