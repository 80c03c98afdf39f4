package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/arbor-ai/arbor/internal/store"
	"github.com/arbor-ai/arbor/pkg/schema"
	"github.com/arbor-ai/arbor/pkg/tool"
)

// handleRun executes a query end to end and returns the collected stream.
func (s *ArborServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query is required"), nil
	}
	if s.engine == nil {
		return mcp.NewToolResultError("engine is not configured"), nil
	}

	run, runErr := s.engine.Run(ctx, query)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("start run failed: %v", runErr)), nil
	}

	var responses []*schema.Response
	for resp := range run.Responses() {
		responses = append(responses, resp)
	}
	<-run.Done()

	result := map[string]any{
		"run_id":    run.ID(),
		"status":    string(run.Status()),
		"responses": responses,
	}
	if err := run.Err(); err != nil {
		result["error"] = err.Error()
	}
	return marshalResult(result)
}

// handleRuns lists stored runs.
func (s *ArborServer) handleRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("run store is not configured"), nil
	}

	filter := store.RunFilter{Limit: int(req.GetFloat("limit", 20))}
	if statusStr := req.GetString("status", ""); statusStr != "" {
		status := schema.RunStatus(statusStr)
		filter.Status = &status
	}

	runs, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list runs failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs, "count": len(runs)})
}

// handleTools lists the branch view: tools with schemas plus reachable branches.
func (s *ArborServer) handleTools(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.registry == nil {
		return mcp.NewToolResultError("registry is not configured"), nil
	}

	branch := req.GetString("branch", tool.BaseBranch)
	view, err := s.registry.View(branch)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("branch lookup failed: %v", err)), nil
	}

	tools := make([]map[string]any, 0, len(view.Tools))
	for _, t := range view.Tools {
		tools = append(tools, map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"inputs":      t.InputSchema(),
		})
	}
	return marshalResult(map[string]any{
		"branch":      view.Branch,
		"instruction": view.Instruction,
		"tools":       tools,
		"branches":    view.Branches,
	})
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
