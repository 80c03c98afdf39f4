package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arbor-ai/arbor/internal/llm"
	"github.com/arbor-ai/arbor/pkg/schema"
	"github.com/arbor-ai/arbor/pkg/tool"
)

const chartSystemPrompt = `You design chart specifications from data already present in the step
memory. Never invent data points; use only values that appear in memory.

Respond with a single JSON object and nothing else:
  {"charts": [{"title": "...", "x_labels": [...],
    "y_values": {"<series>": [...]},
    "x_axis_label": "...", "y_axis_label": "...", "description": "..."}],
   "overall_description": "..."}
Every y_values series must have exactly one value per x label.`

// ChartSpec is one renderable chart. Series values in YValues are aligned
// with XLabels.
type ChartSpec struct {
	Title       string               `json:"title"`
	XLabels     []any                `json:"x_labels"`
	YValues     map[string][]float64 `json:"y_values"`
	XAxisLabel  string               `json:"x_axis_label"`
	YAxisLabel  string               `json:"y_axis_label"`
	Description string               `json:"description"`
}

type chartGeneration struct {
	Charts             []ChartSpec `json:"charts"`
	OverallDescription string      `json:"overall_description"`
}

// ChartTool turns data recorded in the step memory into bar or line chart
// specs. It needs prior data steps to work from; invoking it on an empty
// memory usually fails the task.
type ChartTool struct {
	client llm.Client
	logger *slog.Logger
}

// NewChartTool creates the run_chart tool.
func NewChartTool(client llm.Client, logger *slog.Logger) *ChartTool {
	return &ChartTool{client: client, logger: logger}
}

func (t *ChartTool) Name() string { return "run_chart" }

func (t *ChartTool) Description() string {
	return "Visualise data that exists in the environment as bar or line charts; requires prior data steps"
}

func (t *ChartTool) InputSchema() tool.Schema {
	return tool.Schema{
		"chart_type": {
			Type:        "string",
			Description: "Type of chart to generate, either 'bar' or 'line'",
			Required:    true,
		},
		"guidance": {
			Type:        "string",
			Description: "How the chart should be built and which data to include",
			Required:    true,
		},
	}
}

func (t *ChartTool) Invoke(ctx context.Context, snap *tool.Snapshot, inputs map[string]any) (*schema.Response, error) {
	chartType, _ := inputs["chart_type"].(string)
	guidance, _ := inputs["guidance"].(string)

	if chartType != "bar" && chartType != "line" {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution,
			"unsupported chart type %q, expected bar or line", chartType)
	}

	prompt := fmt.Sprintf("%s## Guidance\nProduce %s charts. %s\n",
		promptContext(snap), chartType, guidance)

	var gen chartGeneration
	if err := completeJSON(ctx, t.client, chartSystemPrompt, prompt, &gen); err != nil {
		return nil, err
	}
	if len(gen.Charts) == 0 {
		return nil, schema.NewError(schema.ErrCodeToolExecution, "model produced no charts")
	}

	payload := make([]schema.Item, 0, len(gen.Charts))
	for i, c := range gen.Charts {
		if err := validateChart(c); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "chart %d: %s", i, err.Error()).WithCause(err)
		}
		payload = append(payload, schema.Item{
			"chart_type":   chartType,
			"title":        c.Title,
			"x_labels":     c.XLabels,
			"y_values":     c.YValues,
			"x_axis_label": c.XAxisLabel,
			"y_axis_label": c.YAxisLabel,
			"description":  c.Description,
		})
	}

	t.logger.DebugContext(ctx, "charts generated", "count", len(payload), "chart_type", chartType)
	resp, err := schema.NewResponse(schema.KindChart, payload, gen.OverallDescription, map[string]any{
		"chart_type": chartType,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "build chart response: %s", err.Error()).WithCause(err)
	}
	return resp, nil
}

func validateChart(c ChartSpec) error {
	if c.Title == "" {
		return fmt.Errorf("missing title")
	}
	if len(c.XLabels) == 0 {
		return fmt.Errorf("no x labels")
	}
	if len(c.YValues) == 0 {
		return fmt.Errorf("no y series")
	}
	for name, series := range c.YValues {
		if len(series) != len(c.XLabels) {
			return fmt.Errorf("series %q has %d values for %d x labels", name, len(series), len(c.XLabels))
		}
	}
	return nil
}
