package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-ai/arbor/pkg/schema"
	"github.com/arbor-ai/arbor/pkg/tool"
)

func sampleSnapshot() *tool.Snapshot {
	return &tool.Snapshot{
		RunID:  "run-1",
		Query:  "revenue by region",
		Branch: "base",
		Steps: []tool.StepView{
			{
				Seq:  1,
				Tool: "run_sql",
				Response: schema.NewTable(
					[]string{"region", "revenue"},
					[]schema.Item{{"region": "emea", "revenue": 12.5}},
					"revenue table", nil,
				),
			},
		},
		StepCount: 1,
	}
}

func TestHasReference(t *testing.T) {
	assert.False(t, HasReference(map[string]any{"guidance": "plain text"}))
	assert.True(t, HasReference(map[string]any{"guidance": "use ${{ .last.payload }}"}))
	assert.False(t, HasReference(map[string]any{"n": 3}))
}

func TestResolve_WholeReferenceKeepsType(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.Resolve(context.Background(), map[string]any{
		"rows": "${{ .last.payload }}",
	}, sampleSnapshot())
	require.NoError(t, err)

	rows, ok := out["rows"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	assert.Equal(t, "emea", row["region"])
}

func TestResolve_EmbeddedReferenceStringifies(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.Resolve(context.Background(), map[string]any{
		"guidance": "chart the ${{ .steps[0].tool }} output for query: ${{ .query }}",
	}, sampleSnapshot())
	require.NoError(t, err)
	assert.Equal(t, "chart the run_sql output for query: revenue by region", out["guidance"])
}

func TestResolve_NonStringAndPlainValuesPassThrough(t *testing.T) {
	interp := NewInterpolator()
	out, err := interp.Resolve(context.Background(), map[string]any{
		"guidance": "no references here",
		"limit":    5,
	}, sampleSnapshot())
	require.NoError(t, err)
	assert.Equal(t, "no references here", out["guidance"])
	assert.Equal(t, 5, out["limit"])
}

func TestResolve_BadExpression(t *testing.T) {
	interp := NewInterpolator()
	_, err := interp.Resolve(context.Background(), map[string]any{
		"rows": "${{ .steps[ }}",
	}, sampleSnapshot())
	require.Error(t, err)
}

func TestGoJQEngine_MultipleOutputs(t *testing.T) {
	eng := NewGoJQEngine()
	v, err := eng.Evaluate(context.Background(), ".items[]", map[string]any{
		"items": []any{1.0, 2.0},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, v)
}

func TestGoJQEngine_CachesCompiledCode(t *testing.T) {
	eng := NewGoJQEngine()
	for i := 0; i < 3; i++ {
		v, err := eng.Evaluate(context.Background(), ".query", map[string]any{"query": "q"})
		require.NoError(t, err)
		assert.Equal(t, "q", v)
	}
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	assert.Len(t, eng.cache, 1)
}
