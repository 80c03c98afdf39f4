// Package mcp exposes the workflow engine to MCP clients over stdio: start a
// run and collect its stream, inspect past runs, and list the registered
// branches and tools.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/arbor-ai/arbor/internal/engine"
	"github.com/arbor-ai/arbor/internal/store"
	"github.com/arbor-ai/arbor/pkg/tool"
)

// ArborServerDeps holds the dependencies for creating an ArborServer.
type ArborServerDeps struct {
	Engine   *engine.Engine
	Registry *tool.Registry
	Store    store.RunStore
	Logger   *slog.Logger
}

// ArborServer wraps an MCP server with workflow tool handlers.
type ArborServer struct {
	engine    *engine.Engine
	registry  *tool.Registry
	store     store.RunStore
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewArborServer creates an ArborServer with all 3 tools registered.
func NewArborServer(deps ArborServerDeps) *ArborServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &ArborServer{
		engine:   deps.Engine,
		registry: deps.Registry,
		store:    deps.Store,
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"arbor",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Arbor is an agentic analysis workflow engine. Use arbor.run to execute a query end to end, arbor.runs to inspect past runs, and arbor.tools to list the registered branches and tools."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *ArborServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *ArborServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *ArborServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: runsTool(), Handler: s.handleRuns},
		{Tool: toolsTool(), Handler: s.handleTools},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("arbor.run",
		mcp.WithDescription("Execute an analysis query and return the full response stream"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural language query to execute")),
	)
}

func runsTool() mcp.Tool {
	return mcp.NewTool("arbor.runs",
		mcp.WithDescription("List past runs, optionally filtered by status"),
		mcp.WithString("status", mcp.Enum("active", "completed", "failed", "cancelled"),
			mcp.Description("Only return runs with this status")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs to return (default 20)")),
	)
}

func toolsTool() mcp.Tool {
	return mcp.NewTool("arbor.tools",
		mcp.WithDescription("List the tools and reachable branches visible from a branch"),
		mcp.WithString("branch", mcp.Description("Branch to inspect (default: base)")),
	)
}
