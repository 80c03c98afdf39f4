package decision

import (
	"encoding/json"
	"strings"

	"github.com/arbor-ai/arbor/pkg/schema"
	"github.com/arbor-ai/arbor/pkg/tool"
)

// rawDecision is the wire shape the model must emit. See the embedded JSON
// Schema in internal/validation for the authoritative contract.
type rawDecision struct {
	Action    string         `json:"action"`
	Name      string         `json:"name,omitempty"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Guidance  string         `json:"guidance,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
	Summary   string         `json:"summary,omitempty"`
}

// parse maps raw model output onto the closed Decision shape, validating it
// against the branch view. Never guesses: anything unmappable is a
// DECISION_PARSE error.
func (e *LLMEngine) parse(raw string, view *tool.BranchView) (*schema.Decision, error) {
	doc := extractJSON(raw)
	if doc == "" {
		return nil, schema.NewError(schema.ErrCodeDecisionParse, "model output contains no JSON object")
	}

	if err := e.validator.Validate([]byte(doc)); err != nil {
		return nil, err
	}

	var rd rawDecision
	if err := json.Unmarshal([]byte(doc), &rd); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDecisionParse, "unmarshal decision: %s", err.Error()).WithCause(err)
	}

	switch rd.Action {
	case "tool":
		t := findTool(view, rd.Name)
		if t == nil {
			return nil, schema.NewErrorf(schema.ErrCodeDecisionParse,
				"tool %q is not available on branch %q", rd.Name, view.Branch)
		}
		if err := requireDeclaredInputs(t.InputSchema(), rd.Inputs); err != nil {
			return nil, err
		}
		return &schema.Decision{
			Outcome:   schema.OutcomeInvokeTool,
			Tool:      rd.Name,
			Inputs:    rd.Inputs,
			Guidance:  rd.Guidance,
			Reasoning: rd.Reasoning,
		}, nil

	case "branch":
		if _, ok := view.Branches[rd.Name]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeDecisionParse,
				"branch %q is not reachable from %q", rd.Name, view.Branch)
		}
		return &schema.Decision{
			Outcome:   schema.OutcomeSwitchBranch,
			Branch:    rd.Name,
			Guidance:  rd.Guidance,
			Reasoning: rd.Reasoning,
		}, nil

	case "end":
		return &schema.Decision{
			Outcome:   schema.OutcomeTerminate,
			Reasoning: rd.Reasoning,
			Summary:   schema.NewSummary(rd.Summary, "run complete"),
		}, nil
	}

	return nil, schema.NewErrorf(schema.ErrCodeDecisionParse, "unknown action %q", rd.Action)
}

// requireDeclaredInputs checks required-argument presence against the tool's
// declared schema. Type validation happens later in the workflow engine,
// after ${{ }} references are resolved.
func requireDeclaredInputs(s tool.Schema, inputs map[string]any) error {
	for name, field := range s {
		if !field.Required {
			continue
		}
		if _, ok := inputs[name]; !ok {
			return schema.NewErrorf(schema.ErrCodeDecisionParse,
				"decision missing required argument %q", name)
		}
	}
	return nil
}

func findTool(view *tool.BranchView, name string) tool.Tool {
	for _, t := range view.Tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// extractJSON pulls the first JSON object out of free-form model output,
// tolerating markdown code fences and surrounding prose.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			s = strings.TrimSpace(rest[:j])
		}
	}

	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
