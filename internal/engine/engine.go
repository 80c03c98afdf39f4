// Package engine runs the decide/execute loop at the heart of a workflow:
// ask the decision engine for the next action, validate it against the
// branch-scoped registry, execute the chosen tool, record the result on the
// execution tree and stream it to the consumer. The loop repeats until the
// decision engine terminates the run, a fatal error stops it, or the
// consumer cancels.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/arbor-ai/arbor/internal/decision"
	"github.com/arbor-ai/arbor/internal/expressions"
	"github.com/arbor-ai/arbor/internal/logging"
	"github.com/arbor-ai/arbor/internal/store"
	"github.com/arbor-ai/arbor/internal/streaming"
	"github.com/arbor-ai/arbor/internal/tree"
	"github.com/arbor-ai/arbor/pkg/schema"
	"github.com/arbor-ai/arbor/pkg/tool"
)

const (
	defaultMaxSteps        = 20
	defaultDecisionRetries = 3
)

// Config bounds and tunes the run loop.
type Config struct {
	// DefaultBranch is the branch a run starts on. Defaults to tool.BaseBranch.
	DefaultBranch string
	// MaxSteps is the step budget: the maximum number of tool invocations
	// recorded per run, successful or failed.
	MaxSteps int
	// MaxDecisionRetries bounds consecutive rejected decisions before the
	// run fails with DECISION_EXHAUSTED.
	MaxDecisionRetries int
	// StepTimeout bounds a single tool invocation. Zero means no limit.
	StepTimeout time.Duration
	// FatalToolErrors optionally escalates recoverable tool errors, see
	// FatalPolicy.
	FatalToolErrors string
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.DefaultBranch == "" {
		out.DefaultBranch = tool.BaseBranch
	}
	if out.MaxSteps <= 0 {
		out.MaxSteps = defaultMaxSteps
	}
	if out.MaxDecisionRetries <= 0 {
		out.MaxDecisionRetries = defaultDecisionRetries
	}
	return out
}

// Engine creates and drives runs. Safe for concurrent use; each run owns its
// private execution tree.
type Engine struct {
	registry *tool.Registry
	decider  decision.Engine
	interp   *expressions.Interpolator
	policy   *FatalPolicy
	hub      streaming.EventHub
	store    store.RunStore
	logger   *slog.Logger
	cfg      Config
}

// New creates an Engine. hub and runStore are optional; pass nil to disable
// event publishing or persistence.
func New(registry *tool.Registry, decider decision.Engine, hub streaming.EventHub, runStore store.RunStore, logger *slog.Logger, cfg Config) (*Engine, error) {
	if registry == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "registry is nil")
	}
	if decider == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "decision engine is nil")
	}
	cfg = cfg.withDefaults()
	if !registry.HasBranch(cfg.DefaultBranch) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "default branch %q is not registered", cfg.DefaultBranch)
	}
	policy, err := NewFatalPolicy(cfg.FatalToolErrors)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Engine{
		registry: registry,
		decider:  decider,
		interp:   expressions.NewInterpolator(),
		policy:   policy,
		hub:      hub,
		store:    runStore,
		logger:   logger,
		cfg:      cfg,
	}, nil
}

// Run starts a workflow for the query and returns immediately. The loop runs
// in its own goroutine but stays suspended until the consumer pulls on
// Run.Responses; no decision or tool work starts for an item nobody asked for.
func (e *Engine) Run(ctx context.Context, query string) (*Run, error) {
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "query is empty")
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := newRun(uuid.NewString(), cancel)
	runCtx = logging.WithRunID(runCtx, run.id)

	t := tree.New(run.id, query, e.cfg.DefaultBranch, e.registry)

	go e.loop(runCtx, run, t)
	return run, nil
}

// loop owns the run from start to close. It is the only writer of the tree.
func (e *Engine) loop(ctx context.Context, run *Run, t *tree.Tree) {
	defer close(run.out)
	defer close(run.done)
	defer run.cancel()

	phase := PhaseInit
	e.persistRunStart(ctx, t)
	e.publish(ctx, t.RunID(), "", schema.EventRunStarted, map[string]any{"query": t.Query()})
	e.logger.InfoContext(ctx, "run started", "query", t.Query())

	_ = transition(&phase, PhaseDeciding)

	// demanded tracks whether the consumer has pulled for an item the loop has
	// not yet delivered. Every decide cycle is paid for by one pull, so after
	// each delivered item the loop suspends until the consumer asks again. A
	// branch switch or decision retry yields nothing and keeps the demand.
	demanded := false

	for {
		if !demanded {
			if !run.awaitDemand(ctx) {
				e.finishCancelled(ctx, run, t)
				return
			}
			demanded = true
		}
		if ctx.Err() != nil {
			e.finishCancelled(ctx, run, t)
			return
		}

		d, err := e.decide(ctx, t, &phase)
		if err != nil {
			if ctx.Err() != nil {
				e.finishCancelled(ctx, run, t)
				return
			}
			e.finishFailed(ctx, run, t, &phase, err)
			return
		}

		switch d.Outcome {
		case schema.OutcomeTerminate:
			_ = transition(&phase, PhaseTerminated)
			e.finishCompleted(ctx, run, t, d.Summary)
			return

		case schema.OutcomeSwitchBranch:
			// Branch switches consume no step and create no node.
			if err := t.SwitchBranch(d.Branch); err != nil {
				e.finishFailed(ctx, run, t, &phase, err)
				return
			}
			e.publish(ctx, t.RunID(), "", schema.EventBranchSwitched, map[string]any{"branch": d.Branch})
			e.logger.InfoContext(ctx, "branch switched", "branch", d.Branch)
			continue

		case schema.OutcomeInvokeTool:
			if t.StepCount() >= e.cfg.MaxSteps {
				e.finishFailed(ctx, run, t, &phase, schema.NewErrorf(schema.ErrCodeStepBudgetExceeded,
					"step budget of %d exhausted", e.cfg.MaxSteps))
				return
			}
			if done := e.step(ctx, run, t, &phase, d); done {
				return
			}
			demanded = false

		default:
			e.finishFailed(ctx, run, t, &phase, schema.NewErrorf(schema.ErrCodeExecution,
				"unhandled decision outcome %q", d.Outcome))
			return
		}
	}
}

// decide asks the decision engine for the next action, retrying rejected
// output with feedback up to the configured budget.
func (e *Engine) decide(ctx context.Context, t *tree.Tree, phase *Phase) (*schema.Decision, error) {
	snap := t.Snapshot()
	view, err := e.registry.View(t.ActiveBranch())
	if err != nil {
		return nil, err
	}

	feedback := ""
	for attempt := 1; attempt <= e.cfg.MaxDecisionRetries; attempt++ {
		d, err := e.decider.Decide(ctx, snap, view, feedback)
		if err == nil {
			e.publish(ctx, t.RunID(), "", schema.EventDecisionMade, map[string]any{
				"outcome": string(d.Outcome), "tool": d.Tool, "branch": d.Branch,
			})
			return d, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		var ae *schema.ArborError
		if !errors.As(err, &ae) || ae.Code != schema.ErrCodeDecisionParse {
			return nil, err
		}
		feedback = ae.Message
		e.publish(ctx, t.RunID(), "", schema.EventDecisionRetried, map[string]any{
			"attempt": attempt, "reason": ae.Message,
		})
		e.logger.WarnContext(ctx, "decision retried", "attempt", attempt, "reason", ae.Message)
		_ = transition(phase, PhaseDeciding)
	}

	return nil, schema.NewErrorf(schema.ErrCodeDecisionExhausted,
		"no valid decision after %d attempts: %s", e.cfg.MaxDecisionRetries, feedback)
}

// step validates, executes and records one tool invocation. Returns true when
// the run is finished and the loop must stop.
func (e *Engine) step(ctx context.Context, run *Run, t *tree.Tree, phase *Phase, d *schema.Decision) bool {
	_ = transition(phase, PhaseValidating)
	stepCtx := logging.WithBranch(logging.WithTool(ctx, d.Tool), t.ActiveBranch())

	// The decision engine already vetted the tool name against its view;
	// re-resolving here keeps the loop safe against any decision source.
	tl, err := e.registry.Get(t.ActiveBranch(), d.Tool)
	if err != nil {
		e.finishFailed(ctx, run, t, phase, err)
		return true
	}

	snap := t.Snapshot()
	inputs := d.Inputs
	if expressions.HasReference(inputs) {
		inputs, err = e.interp.Resolve(stepCtx, inputs, snap)
		if err != nil {
			e.finishFailed(ctx, run, t, phase, err)
			return true
		}
	}
	if err := tool.ValidateInputs(tl.InputSchema(), inputs); err != nil {
		e.finishFailed(ctx, run, t, phase, err)
		return true
	}

	_ = transition(phase, PhaseExecuting)
	resp, execErr := e.execute(stepCtx, tl, snap, inputs)

	if execErr != nil {
		if ctx.Err() != nil {
			e.finishCancelled(ctx, run, t)
			return true
		}
		var ae *schema.ArborError
		if !errors.As(execErr, &ae) {
			ae = schema.NewError(schema.ErrCodeToolExecution, execErr.Error()).WithCause(execErr)
		}
		if ae.IsFatal() || e.policy.Escalates(d.Tool, ae.Code, ae.Message, len(snap.Failures)+1) {
			e.finishFailed(ctx, run, t, phase, ae)
			return true
		}

		// Recoverable: the failure becomes an error response on the tree so
		// the next decision can react to it.
		resp = schema.NewErrorResponse(d.Tool, ae.Code, ae.Message)
		t.RecordFailure(d.Tool, ae.Message)
		e.logger.WarnContext(stepCtx, "step failed", "error", ae)
	}

	_ = transition(phase, PhaseRecording)
	nodeID, err := t.Append(t.ActiveNode(), t.ActiveBranch(), d.Tool, inputs, resp)
	if err != nil {
		e.finishFailed(ctx, run, t, phase, err)
		return true
	}
	e.persistNode(ctx, t, nodeID)

	eventType := schema.EventStepRecorded
	if execErr != nil {
		eventType = schema.EventStepFailed
	}
	e.publish(ctx, t.RunID(), nodeID, eventType, map[string]any{
		"tool": d.Tool, "seq": t.StepCount(), "kind": string(resp.Kind),
	})

	if !run.send(ctx, resp) {
		e.finishCancelled(ctx, run, t)
		return true
	}

	_ = transition(phase, PhaseDeciding)
	return false
}

// execute invokes the tool under the configured step timeout and normalizes
// its failure modes into the error taxonomy.
func (e *Engine) execute(ctx context.Context, tl tool.Tool, snap *tool.Snapshot, inputs map[string]any) (*schema.Response, error) {
	execCtx := ctx
	if e.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.cfg.StepTimeout)
		defer cancel()
	}

	resp, err := tl.Invoke(execCtx, snap, inputs)
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, schema.NewErrorf(schema.ErrCodeStepTimeout,
				"tool %q exceeded the step timeout of %s", tl.Name(), e.cfg.StepTimeout).WithCause(err)
		}
		var ae *schema.ArborError
		if errors.As(err, &ae) {
			return nil, ae
		}
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution,
			"tool %q: %s", tl.Name(), err.Error()).WithCause(err)
	}
	if resp == nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "tool %q returned no response", tl.Name())
	}
	if err := resp.Validate(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution,
			"tool %q returned an invalid response: %s", tl.Name(), err.Error()).WithCause(err)
	}
	return resp, nil
}

// --- Terminal paths ---

func (e *Engine) finishCompleted(ctx context.Context, run *Run, t *tree.Tree, summary *schema.Response) {
	if summary == nil {
		summary = schema.NewSummary("run complete", "run complete")
	}
	run.send(ctx, summary)
	run.finish(schema.RunStatusCompleted, nil)
	e.persistRunEnd(ctx, t, schema.RunStatusCompleted, nil)
	e.publish(ctx, t.RunID(), "", schema.EventRunCompleted, map[string]any{"steps": t.StepCount()})
	e.logger.InfoContext(ctx, "run completed", "steps", t.StepCount())
}

func (e *Engine) finishFailed(ctx context.Context, run *Run, t *tree.Tree, phase *Phase, err error) {
	*phase = PhaseFailed

	var ae *schema.ArborError
	if !errors.As(err, &ae) {
		ae = schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err)
	}

	// The terminal error item is streamed but never becomes a tree node.
	terminal := schema.NewErrorResponse("", ae.Code, ae.Message).MarkTerminal()
	run.send(ctx, terminal)

	run.finish(schema.RunStatusFailed, ae)
	e.persistRunEnd(ctx, t, schema.RunStatusFailed, ae)
	e.publish(ctx, t.RunID(), "", schema.EventRunFailed, map[string]any{
		"code": ae.Code, "message": ae.Message,
	})
	e.logger.ErrorContext(ctx, "run failed", "error", ae)
}

func (e *Engine) finishCancelled(ctx context.Context, run *Run, t *tree.Tree) {
	ae := schema.NewError(schema.ErrCodeCancelled, "run cancelled")
	run.finish(schema.RunStatusCancelled, ae)

	// Publish and persist with a fresh context; the run context is gone.
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	e.persistRunEnd(bg, t, schema.RunStatusCancelled, ae)
	e.publish(bg, t.RunID(), "", schema.EventRunCancelled, nil)
	e.logger.InfoContext(bg, "run cancelled", "steps", t.StepCount())
}

// --- Side effects (best-effort) ---

func (e *Engine) publish(ctx context.Context, runID, nodeID, eventType string, payload any) {
	if e.hub == nil {
		return
	}
	if err := e.hub.Publish(ctx, streaming.RunEvent{
		RunID: runID, NodeID: nodeID, EventType: eventType, Payload: payload,
	}); err != nil {
		e.logger.WarnContext(ctx, "publish event", "event", eventType, "error", err)
	}
	e.persistEvent(ctx, runID, nodeID, eventType, payload)
}

func (e *Engine) persistRunStart(ctx context.Context, t *tree.Tree) {
	if e.store == nil {
		return
	}
	err := e.store.CreateRun(ctx, &store.RunRecord{
		ID:     t.RunID(),
		Query:  t.Query(),
		Branch: t.ActiveBranch(),
		Status: schema.RunStatusActive,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "persist run", "error", err)
	}
}

func (e *Engine) persistNode(ctx context.Context, t *tree.Tree, nodeID string) {
	if e.store == nil {
		return
	}
	n, ok := t.Node(nodeID)
	if !ok {
		return
	}
	inputs, _ := json.Marshal(n.Inputs)
	response, _ := json.Marshal(n.Response)
	err := e.store.AppendNode(ctx, &store.NodeRecord{
		ID:        n.ID,
		RunID:     t.RunID(),
		ParentID:  n.ParentID,
		BranchID:  n.BranchID,
		Tool:      n.Tool,
		Inputs:    inputs,
		Response:  response,
		Seq:       n.Seq,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "persist node", "node_id", nodeID, "error", err)
	}
}

func (e *Engine) persistEvent(ctx context.Context, runID, nodeID, eventType string, payload any) {
	if e.store == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	err := e.store.AppendEvent(ctx, &store.EventRecord{
		RunID: runID, NodeID: nodeID, Type: eventType, Payload: raw,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "persist event", "event", eventType, "error", err)
	}
}

func (e *Engine) persistRunEnd(ctx context.Context, t *tree.Tree, status schema.RunStatus, runErr *schema.ArborError) {
	if e.store == nil {
		return
	}
	now := time.Now().UTC()
	steps := t.StepCount()
	update := store.RunUpdate{Status: &status, StepCount: &steps, CompletedAt: &now}
	if runErr != nil {
		update.Error, _ = json.Marshal(runErr)
	}
	if err := e.store.UpdateRun(ctx, t.RunID(), update); err != nil {
		e.logger.WarnContext(ctx, "persist run end", "error", err)
	}
}
