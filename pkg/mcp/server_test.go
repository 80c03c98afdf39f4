package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewArborServer(t *testing.T) {
	s := NewArborServer(ArborServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
}

func TestToolRegistration(t *testing.T) {
	s := NewArborServer(ArborServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 3)

	expectedTools := []string{
		"arbor.run",
		"arbor.runs",
		"arbor.tools",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"run", "arbor.run", "Execute an analysis query and return the full response stream"},
		{"runs", "arbor.runs", "List past runs, optionally filtered by status"},
		{"tools", "arbor.tools", "List the tools and reachable branches visible from a branch"},
	}

	s := NewArborServer(ArborServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
