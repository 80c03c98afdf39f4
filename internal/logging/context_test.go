package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RunID(ctx))

	ctx = WithRunID(ctx, "run-7")
	ctx = WithBranch(ctx, "charts")
	ctx = WithTool(ctx, "run_chart")

	assert.Equal(t, "run-7", RunID(ctx))
	assert.Equal(t, "charts", Branch(ctx))
	assert.Equal(t, "run_chart", ToolName(ctx))
}

func TestCorrelationHandler_InjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithTool(WithRunID(context.Background(), "run-9"), "run_sql")
	logger.InfoContext(ctx, "executing")

	out := buf.String()
	require.Contains(t, out, "run_id=run-9")
	require.Contains(t, out, "tool=run_sql")
	assert.NotContains(t, out, "branch=")
}
