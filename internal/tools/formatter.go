package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arbor-ai/arbor/internal/llm"
	"github.com/arbor-ai/arbor/pkg/schema"
	"github.com/arbor-ai/arbor/pkg/tool"
)

const formatterSystemPrompt = `You turn the current run state into a clean, user-facing reply. Read the
request and the step memory, follow the formatting guidance (tone, audience,
structure) and produce a single well-structured, markdown-safe answer. Do not
repeat raw tool output verbatim when a summary serves better.

Respond with a single JSON object and nothing else:
  {"text": "<the formatted reply>"}`

type formatterGeneration struct {
	Text string `json:"text"`
}

// FormatterTool produces a polished text reply from the run state and
// explicit formatting guidance.
type FormatterTool struct {
	client llm.Client
	logger *slog.Logger
}

// NewFormatterTool creates the format_output tool.
func NewFormatterTool(client llm.Client, logger *slog.Logger) *FormatterTool {
	return &FormatterTool{client: client, logger: logger}
}

func (t *FormatterTool) Name() string { return "format_output" }

func (t *FormatterTool) Description() string {
	return "Generate a polished, markdown-friendly text response from the current state and formatting guidance"
}

func (t *FormatterTool) InputSchema() tool.Schema {
	return tool.Schema{
		"guidance": {
			Type:        "string",
			Description: "How to present the answer (tone, audience, sections, bullets)",
			Required:    true,
		},
	}
}

func (t *FormatterTool) Invoke(ctx context.Context, snap *tool.Snapshot, inputs map[string]any) (*schema.Response, error) {
	guidance, _ := inputs["guidance"].(string)

	prompt := fmt.Sprintf("%s## Formatting guidance\n%s\n", promptContext(snap), guidance)

	var gen formatterGeneration
	if err := completeJSON(ctx, t.client, formatterSystemPrompt, prompt, &gen); err != nil {
		return nil, err
	}
	if strings.TrimSpace(gen.Text) == "" {
		return nil, schema.NewError(schema.ErrCodeToolExecution, "model produced an empty reply")
	}

	t.logger.DebugContext(ctx, "output formatted", "chars", len(gen.Text))
	return schema.NewText(gen.Text, "formatted reply"), nil
}
