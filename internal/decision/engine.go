// Package decision turns (tree snapshot, branch view) into a single
// structured Decision by consulting the language model. The model is an
// untrusted oracle: its output crosses a strict parse-and-validate boundary
// before anything downstream sees it.
package decision

import (
	"context"
	"log/slog"

	"github.com/arbor-ai/arbor/internal/llm"
	"github.com/arbor-ai/arbor/internal/validation"
	"github.com/arbor-ai/arbor/pkg/schema"
	"github.com/arbor-ai/arbor/pkg/tool"
)

// Engine selects the next action for a run.
//
// feedback carries the text of the previous parse failure when the workflow
// engine retries a failed decide call; it is empty on the first attempt.
type Engine interface {
	Decide(ctx context.Context, snap *tool.Snapshot, view *tool.BranchView, feedback string) (*schema.Decision, error)
}

// LLMEngine is the language-model-backed Engine implementation.
type LLMEngine struct {
	client    llm.Client
	validator *validation.DecisionValidator
	logger    *slog.Logger
}

// NewLLMEngine creates an Engine backed by the given completion client.
func NewLLMEngine(client llm.Client, logger *slog.Logger) (*LLMEngine, error) {
	v, err := validation.NewDecisionValidator()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "compile decision validator: %s", err.Error()).WithCause(err)
	}
	return &LLMEngine{client: client, validator: v, logger: logger}, nil
}

// Decide formats the snapshot and branch view into a prompt, invokes the
// model once and parses the output into a Decision. Malformed output, an
// unregistered tool name or missing required arguments all surface as
// DECISION_PARSE errors; the caller owns the retry budget.
func (e *LLMEngine) Decide(ctx context.Context, snap *tool.Snapshot, view *tool.BranchView, feedback string) (*schema.Decision, error) {
	prompt := buildPrompt(snap, view, feedback)

	// A transport failure is not a rejection of the model's output; it must
	// not come back as DECISION_PARSE or the caller would feed it into the
	// next prompt as content feedback.
	raw, err := e.client.Complete(ctx, systemPrompt, prompt, llm.Params{})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "model call failed: %s", err.Error()).WithCause(err)
	}

	d, err := e.parse(raw, view)
	if err != nil {
		e.logger.WarnContext(ctx, "decision rejected", "error", err)
		return nil, err
	}

	e.logger.DebugContext(ctx, "decision parsed",
		"outcome", string(d.Outcome), "tool", d.Tool, "branch", d.Branch)
	return d, nil
}
