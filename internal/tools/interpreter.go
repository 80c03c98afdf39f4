package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arbor-ai/arbor/internal/llm"
	"github.com/arbor-ai/arbor/internal/sandbox"
	"github.com/arbor-ai/arbor/pkg/schema"
	"github.com/arbor-ai/arbor/pkg/tool"
)

const interpreterSystemPrompt = `You plan a small self-contained script that computes exactly what the
guidance asks, using values from the step memory as literals. The script must
print a single JSON object with the computed values to stdout and nothing
else. Raise a clear error message for invalid inputs.

Respond with a single JSON object and nothing else:
  {"code": "<script>", "output_variables": ["<key>", ...],
   "purpose": "<what the script computes>"}
output_variables lists the keys the printed JSON object will contain.`

const defaultInterpreterTimeout = 30 * time.Second

type snippetPlan struct {
	Code            string   `json:"code"`
	OutputVariables []string `json:"output_variables"`
	Purpose         string   `json:"purpose"`
}

// InterpreterTool plans a computation script with the model and executes it
// in the sandbox, returning the printed values as a data response. Useful for
// arithmetic and aggregation work over values already in memory.
type InterpreterTool struct {
	client  llm.Client
	sandbox sandbox.Sandbox
	command string
	args    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewInterpreterTool creates the run_interpreter tool. The planned script is
// fed to command on stdin; command defaults to python3.
func NewInterpreterTool(client llm.Client, sb sandbox.Sandbox, command string, logger *slog.Logger) *InterpreterTool {
	if command == "" {
		command = "python3"
	}
	return &InterpreterTool{
		client:  client,
		sandbox: sb,
		command: command,
		args:    []string{"-"},
		timeout: defaultInterpreterTimeout,
		logger:  logger,
	}
}

func (t *InterpreterTool) Name() string { return "run_interpreter" }

func (t *InterpreterTool) Description() string {
	return "Plan a computation script from guidance and execute it in a sandboxed interpreter"
}

func (t *InterpreterTool) InputSchema() tool.Schema {
	return tool.Schema{
		"guidance": {
			Type:        "string",
			Description: "What to compute",
			Required:    true,
		},
	}
}

func (t *InterpreterTool) Invoke(ctx context.Context, snap *tool.Snapshot, inputs map[string]any) (*schema.Response, error) {
	guidance, _ := inputs["guidance"].(string)

	prompt := fmt.Sprintf("%s## Guidance\n%s\n", promptContext(snap), guidance)

	var plan snippetPlan
	if err := completeJSON(ctx, t.client, interpreterSystemPrompt, prompt, &plan); err != nil {
		return nil, err
	}
	if strings.TrimSpace(plan.Code) == "" {
		return nil, schema.NewError(schema.ErrCodeToolExecution, "model produced an empty script")
	}
	t.logger.DebugContext(ctx, "snippet planned", "purpose", plan.Purpose)

	res, err := t.sandbox.Execute(ctx, sandbox.ExecSpec{
		Command: t.command,
		Args:    t.args,
		Stdin:   plan.Code,
		Limits:  sandbox.Limits{Timeout: t.timeout},
	})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution,
			"interpreter exited with code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	values, err := parseInterpreterOutput(res.Stdout)
	if err != nil {
		return nil, err
	}
	for _, name := range plan.OutputVariables {
		if _, ok := values[name]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeToolExecution,
				"expected output variable %q missing from interpreter result", name)
		}
	}

	description := plan.Purpose
	if description == "" {
		description = "computed values"
	}
	return schema.NewData(values, description), nil
}

// parseInterpreterOutput accepts a JSON object, or a JSON array wrapped under
// a single key so downstream steps can reference it.
func parseInterpreterOutput(stdout string) (schema.Item, error) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil, schema.NewError(schema.ErrCodeToolExecution, "interpreter printed no output")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
		return schema.Item(obj), nil
	}
	var arr []any
	if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
		return schema.Item{"result": arr}, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeToolExecution,
		"interpreter output is not JSON: %q", truncate(trimmed, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
