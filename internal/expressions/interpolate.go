package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arbor-ai/arbor/pkg/schema"
	"github.com/arbor-ai/arbor/pkg/tool"
)

const (
	refOpen  = "${{"
	refClose = "}}"
)

// Interpolator resolves ${{ <jq> }} references in decision inputs against the
// current run snapshot before the inputs are validated and handed to a tool.
type Interpolator struct {
	engine *GoJQEngine
}

// NewInterpolator creates an Interpolator backed by a shared jq engine.
func NewInterpolator() *Interpolator {
	return &Interpolator{engine: NewGoJQEngine()}
}

// HasReference reports whether any string in the inputs contains a ${{ }}
// reference, so callers can skip scope construction on the common path.
func HasReference(inputs map[string]any) bool {
	for _, v := range inputs {
		if s, ok := v.(string); ok && strings.Contains(s, refOpen) {
			return true
		}
	}
	return false
}

// Resolve returns a copy of inputs with every ${{ }} reference evaluated
// against the snapshot scope. A value that is exactly one reference keeps the
// evaluated type; references embedded in larger strings are stringified.
func (i *Interpolator) Resolve(ctx context.Context, inputs map[string]any, snap *tool.Snapshot) (map[string]any, error) {
	scope := snapshotScope(snap)
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		s, ok := v.(string)
		if !ok || !strings.Contains(s, refOpen) {
			out[k] = v
			continue
		}
		resolved, err := i.resolveString(ctx, s, scope)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInputValidation,
				"input %q: %s", k, err.Error()).WithCause(err)
		}
		out[k] = resolved
	}
	return out, nil
}

func (i *Interpolator) resolveString(ctx context.Context, s string, scope map[string]any) (any, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, refOpen) && strings.HasSuffix(trimmed, refClose) {
		inner := trimmed[len(refOpen) : len(trimmed)-len(refClose)]
		if !strings.Contains(inner, refOpen) {
			return i.engine.Evaluate(ctx, strings.TrimSpace(inner), scope)
		}
	}

	// Embedded references: substitute each with its stringified value.
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, refOpen)
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.Index(rest[start:], refClose)
		if end < 0 {
			return nil, fmt.Errorf("unterminated reference in %q", s)
		}
		b.WriteString(rest[:start])
		expr := strings.TrimSpace(rest[start+len(refOpen) : start+end])
		val, err := i.engine.Evaluate(ctx, expr, scope)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(val))
		rest = rest[start+end+len(refClose):]
	}
}

// snapshotScope projects the snapshot into the object jq expressions run
// against: query, branch, failures, the ordered step list, and "last" as a
// shortcut for the most recent step.
func snapshotScope(snap *tool.Snapshot) map[string]any {
	steps := make([]any, 0, len(snap.Steps))
	for _, s := range snap.Steps {
		step := map[string]any{
			"seq":    s.Seq,
			"tool":   s.Tool,
			"inputs": s.Inputs,
		}
		if s.Response != nil {
			step["kind"] = string(s.Response.Kind)
			step["description"] = s.Response.Description
			step["payload"] = itemsToAny(s.Response.Payload)
		}
		steps = append(steps, step)
	}
	scope := map[string]any{
		"query":    snap.Query,
		"branch":   snap.Branch,
		"failures": strsToAny(snap.Failures),
		"steps":    steps,
	}
	if len(steps) > 0 {
		scope["last"] = steps[len(steps)-1]
	}
	return scope
}

func itemsToAny(items []schema.Item) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = map[string]any(it)
	}
	return out
}

func strsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
