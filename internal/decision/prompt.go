package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arbor-ai/arbor/pkg/tool"
)

const systemPrompt = `You are the orchestrator of a data analysis workflow. You decompose the
user's request into incremental steps, route work to specialized tools, and
keep state across steps until the task is done.

Operating loop:
- Analyze the user query, the memory of prior results, recorded failures and
  the available tools and branches. Identify what blocks progress.
- Plan the next minimal step that moves the task forward. Choose one action
  that is necessary now; avoid batching several operations into one step.
- Give the selected tool concise, precise guidance and, when it helps, wire
  prior results into its inputs with ${{ <jq> }} references over the step
  memory (e.g. ${{ .last.payload }}).
- Prefer breaking large queries into smaller verifiable steps over one-shot
  answers; review each result before planning the next step.
- When the user's request has been answered, end the run with a summary.

Respond with a single JSON object and nothing else:
  {"action": "tool", "name": "<tool>", "inputs": {...}, "guidance": "...", "reasoning": "..."}
  {"action": "branch", "name": "<branch>", "reasoning": "..."}
  {"action": "end", "summary": "<final answer for the user>", "reasoning": "..."}
The name must match an available tool or branch exactly.`

// buildPrompt serializes the snapshot and branch view into the user prompt.
// Section layout mirrors the inputs the decision needs: request, memory,
// failures, tools, branches, and any feedback from a rejected prior attempt.
func buildPrompt(snap *tool.Snapshot, view *tool.BranchView, feedback string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## User request\n%s\n\n", snap.Query)
	fmt.Fprintf(&b, "## Branch\n%s: %s\n\n", view.Branch, view.Instruction)

	b.WriteString("## Memory of previous steps\n")
	if len(snap.Steps) == 0 {
		b.WriteString("No previous actions taken.\n")
	}
	for _, s := range snap.Steps {
		fmt.Fprintf(&b, "%d: %s\n", s.Seq, s.Tool)
		if s.Response != nil {
			fmt.Fprintf(&b, "Description: %s\n", s.Response.Description)
			fmt.Fprintf(&b, "Kind: %s\n", s.Response.Kind)
			fmt.Fprintf(&b, "Result: %s\n", compactJSON(s.Response.Payload))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Previous errors\n")
	if len(snap.Failures) == 0 {
		b.WriteString("None.\n")
	}
	for _, f := range snap.Failures {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	b.WriteString("\n")

	b.WriteString("## Available tools\n")
	for _, t := range view.Tools {
		fmt.Fprintf(&b, "- %s: %s\n  inputs: %s\n", t.Name(), t.Description(), compactJSON(t.InputSchema()))
	}
	b.WriteString("\n## Available branches\n")
	if len(view.Branches) == 0 {
		b.WriteString("None.\n")
	}
	for id, desc := range view.Branches {
		fmt.Fprintf(&b, "- %s: %s\n", id, desc)
	}

	if feedback != "" {
		fmt.Fprintf(&b, "\n## Your previous response was rejected\n%s\nEmit a corrected JSON decision.\n", feedback)
	}

	return b.String()
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	const maxLen = 2000
	if len(data) > maxLen {
		return string(data[:maxLen]) + "…(truncated)"
	}
	return string(data)
}
