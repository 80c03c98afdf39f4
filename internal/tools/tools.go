// Package tools holds the built-in tool implementations: SQL generation and
// execution, chart specs, sandboxed interpreter snippets, output formatting
// and email. Every tool follows the same contract: validate inputs, consult
// the model where generation is needed, and return exactly one Response.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arbor-ai/arbor/internal/llm"
	"github.com/arbor-ai/arbor/pkg/schema"
	"github.com/arbor-ai/arbor/pkg/tool"
)

// promptContext renders the snapshot sections shared by every generating
// tool: the user request, step memory, and prior failures.
func promptContext(snap *tool.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## User request\n%s\n\n", snap.Query)

	b.WriteString("## Memory of previous steps\n")
	if len(snap.Steps) == 0 {
		b.WriteString("No previous actions taken.\n")
	}
	for _, s := range snap.Steps {
		fmt.Fprintf(&b, "%d: %s\n", s.Seq, s.Tool)
		if s.Response != nil {
			fmt.Fprintf(&b, "Description: %s\n", s.Response.Description)
			if data, err := json.Marshal(s.Response.Payload); err == nil {
				out := string(data)
				if len(out) > 4000 {
					out = out[:4000] + "…(truncated)"
				}
				fmt.Fprintf(&b, "Result: %s\n", out)
			}
		}
		b.WriteString("\n")
	}

	if len(snap.Failures) > 0 {
		b.WriteString("## Previous errors\n")
		for _, f := range snap.Failures {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	return b.String()
}

// completeJSON calls the model and unmarshals the first JSON object of its
// output into out. Generation failures are TOOL_EXECUTION errors so the run
// can recover.
func completeJSON(ctx context.Context, client llm.Client, system, prompt string, out any) error {
	raw, err := client.Complete(ctx, system, prompt, llm.Params{})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeToolExecution, "model call failed: %s", err.Error()).WithCause(err)
	}
	doc := firstJSONObject(raw)
	if doc == "" {
		return schema.NewError(schema.ErrCodeToolExecution, "model output contains no JSON object")
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return schema.NewErrorf(schema.ErrCodeToolExecution, "unmarshal model output: %s", err.Error()).WithCause(err)
	}
	return nil
}

// firstJSONObject pulls the first balanced JSON object out of free-form model
// output, tolerating markdown code fences.
func firstJSONObject(raw string) string {
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
