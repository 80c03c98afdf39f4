package e2e

import (
	"context"
	"database/sql"
	"iter"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/arbor-ai/arbor/internal/engine"
	"github.com/arbor-ai/arbor/internal/llm"
	"github.com/arbor-ai/arbor/internal/store"
	"github.com/arbor-ai/arbor/internal/streaming"
	"github.com/arbor-ai/arbor/internal/tools"
	"github.com/arbor-ai/arbor/pkg/schema"
	"github.com/arbor-ai/arbor/pkg/tool"
)

// --- Test harness ---

// scriptedClient replays canned completions, one per Complete call.
type scriptedClient struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (c *scriptedClient) Complete(context.Context, string, string, llm.Params) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls >= len(c.responses) {
		return "", schema.NewError(schema.ErrCodeExecution, "no scripted completion left")
	}
	out := c.responses[c.calls]
	c.calls++
	return out, nil
}

// scriptedDecider replays canned decisions, then terminates.
type scriptedDecider struct {
	mu        sync.Mutex
	decisions []*schema.Decision
	calls     int
}

func (d *scriptedDecider) Decide(context.Context, *tool.Snapshot, *tool.BranchView, string) (*schema.Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	if i < len(d.decisions) {
		return d.decisions[i], nil
	}
	return &schema.Decision{
		Outcome: schema.OutcomeTerminate,
		Summary: schema.NewSummary("all done", "run complete"),
	}, nil
}

type harness struct {
	t       *testing.T
	store   *store.LibSQLStore
	hub     *streaming.MemoryHub
	decider *scriptedDecider
	client  *scriptedClient
	engine  *engine.Engine
}

// newHarness wires a full stack: libSQL run store, seeded analysis database,
// SQL and formatter tools on real branches, and a scripted decision layer.
func newHarness(t *testing.T, decisions []*schema.Decision, completions []string) *harness {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	logger := slog.New(slog.DiscardHandler)

	s, err := store.NewLibSQLStore("file:" + filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })

	analysisDB, err := sql.Open("libsql", "file:"+filepath.Join(dir, "analysis.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = analysisDB.Close() })
	seedAnalysisDB(t, analysisDB)

	client := &scriptedClient{responses: completions}

	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(tool.BaseBranch,
		tools.NewSQLTool(analysisDB, client, "table sales(region TEXT, amount REAL)", logger)))
	require.NoError(t, registry.AddBranch("reporting",
		"Present the gathered data.", tool.BaseBranch, "presentation tools"))
	require.NoError(t, registry.Register("reporting", tools.NewFormatterTool(client, logger)))

	decider := &scriptedDecider{decisions: decisions}
	hub := streaming.NewMemoryHub()

	eng, err := engine.New(registry, decider, hub, s, logger, engine.Config{MaxSteps: 5})
	require.NoError(t, err)

	return &harness{t: t, store: s, hub: hub, decider: decider, client: client, engine: eng}
}

func seedAnalysisDB(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`CREATE TABLE sales (region TEXT NOT NULL, amount REAL NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO sales (region, amount) VALUES ('north', 120.5), ('south', 80.0)`)
	require.NoError(t, err)
}

func collect(t *testing.T, run *engine.Run) []*schema.Response {
	t.Helper()
	var out []*schema.Response
	for resp := range run.Responses() {
		out = append(out, resp)
	}
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	return out
}

// --- Tests ---

func TestRun_QueryFormatSummarize(t *testing.T) {
	h := newHarness(t,
		[]*schema.Decision{
			{Outcome: schema.OutcomeInvokeTool, Tool: "run_sql",
				Inputs: map[string]any{"guidance": "total revenue across all regions"}},
			{Outcome: schema.OutcomeSwitchBranch, Branch: "reporting"},
			{Outcome: schema.OutcomeInvokeTool, Tool: "format_output",
				Inputs: map[string]any{"guidance": "one plain sentence"}},
		},
		[]string{
			`{"query": "SELECT SUM(amount) AS total FROM sales", "purpose": "total revenue", "column_descriptions": {"total": "sum of all sales"}}`,
			`{"text": "Total revenue across all regions is 200.50."}`,
		},
	)
	ctx := context.Background()

	run, err := h.engine.Run(ctx, "what is our total revenue?")
	require.NoError(t, err)

	responses := collect(t, run)
	require.Len(t, responses, 3)

	assert.Equal(t, schema.KindTable, responses[0].Kind)
	require.Len(t, responses[0].Payload, 1)
	assert.Equal(t, 200.5, responses[0].Payload[0]["total"])

	assert.Equal(t, schema.KindText, responses[1].Kind)
	assert.Equal(t, schema.KindSummary, responses[2].Kind)

	require.NoError(t, run.Err())
	assert.Equal(t, schema.RunStatusCompleted, run.Status())

	rec, err := h.store.GetRun(ctx, run.ID())
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, rec.Status)
	assert.Equal(t, 2, rec.StepCount)
	require.NotNil(t, rec.CompletedAt)

	nodes, err := h.store.ListNodes(ctx, run.ID())
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "run_sql", nodes[0].Tool)
	assert.Equal(t, tool.BaseBranch, nodes[0].BranchID)
	assert.Equal(t, "format_output", nodes[1].Tool)
	assert.Equal(t, "reporting", nodes[1].BranchID)
	assert.Equal(t, nodes[0].Seq+1, nodes[1].Seq)
}

func TestRun_PersistsLifecycleEvents(t *testing.T) {
	h := newHarness(t,
		[]*schema.Decision{
			{Outcome: schema.OutcomeInvokeTool, Tool: "run_sql",
				Inputs: map[string]any{"guidance": "list regions"}},
		},
		[]string{`{"query": "SELECT region FROM sales ORDER BY region", "purpose": "regions", "column_descriptions": {}}`},
	)
	ctx := context.Background()

	run, err := h.engine.Run(ctx, "which regions do we sell in?")
	require.NoError(t, err)
	collect(t, run)

	events, err := h.store.GetEvents(ctx, run.ID(), 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	var types []string
	for i, ev := range events {
		types = append(types, ev.Type)
		assert.Equal(t, int64(i+1), ev.Sequence)
	}
	assert.Equal(t, schema.EventRunStarted, types[0])
	assert.Contains(t, types, schema.EventStepRecorded)
	assert.Equal(t, schema.EventRunCompleted, types[len(types)-1])
}

func TestRun_FatalErrorIsTerminalAndPersisted(t *testing.T) {
	h := newHarness(t,
		[]*schema.Decision{
			{Outcome: schema.OutcomeInvokeTool, Tool: "run_python",
				Inputs: map[string]any{"guidance": "anything"}},
		},
		nil,
	)
	ctx := context.Background()

	run, err := h.engine.Run(ctx, "use a tool that does not exist")
	require.NoError(t, err)

	responses := collect(t, run)
	require.Len(t, responses, 1)
	assert.Equal(t, schema.KindError, responses[0].Kind)
	assert.True(t, responses[0].IsTerminal())

	require.Error(t, run.Err())
	assert.Equal(t, schema.RunStatusFailed, run.Status())

	rec, err := h.store.GetRun(ctx, run.ID())
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, rec.Status)
	assert.NotEmpty(t, rec.Error)

	// Fatal failures never become tree nodes.
	nodes, err := h.store.ListNodes(ctx, run.ID())
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestRun_StopCancelsWithoutTerminalItem(t *testing.T) {
	h := newHarness(t,
		[]*schema.Decision{
			{Outcome: schema.OutcomeInvokeTool, Tool: "run_sql",
				Inputs: map[string]any{"guidance": "first"}},
			{Outcome: schema.OutcomeInvokeTool, Tool: "run_sql",
				Inputs: map[string]any{"guidance": "second"}},
		},
		[]string{
			`{"query": "SELECT 1 AS one", "purpose": "first", "column_descriptions": {}}`,
			`{"query": "SELECT 2 AS two", "purpose": "second", "column_descriptions": {}}`,
		},
	)
	ctx := context.Background()

	run, err := h.engine.Run(ctx, "two queries, but stop early")
	require.NoError(t, err)

	next, stop := iter.Pull(run.Responses())
	defer stop()
	first, ok := next()
	require.True(t, ok)
	assert.Equal(t, schema.KindTable, first.Kind)
	run.Stop()

	for {
		resp, ok := next()
		if !ok {
			break
		}
		assert.False(t, resp.IsTerminal())
	}
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	// The second query was never generated.
	h.client.mu.Lock()
	generated := h.client.calls
	h.client.mu.Unlock()
	assert.Equal(t, 1, generated)

	assert.Equal(t, schema.RunStatusCancelled, run.Status())
	require.Error(t, run.Err())
	ae := &schema.ArborError{}
	require.ErrorAs(t, run.Err(), &ae)
	assert.Equal(t, schema.ErrCodeCancelled, ae.Code)
}

func TestRun_HubObservesRunEvents(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	events, cancel, err := h.hub.Subscribe(ctx, streaming.EventFilter{})
	require.NoError(t, err)
	defer cancel()

	run, err := h.engine.Run(ctx, "finish immediately")
	require.NoError(t, err)
	collect(t, run)

	deadline := time.After(5 * time.Second)
	var seen []string
	for {
		select {
		case ev := <-events:
			require.Equal(t, run.ID(), ev.RunID)
			seen = append(seen, ev.EventType)
			if ev.EventType == schema.EventRunCompleted {
				assert.Equal(t, schema.EventRunStarted, seen[0])
				return
			}
		case <-deadline:
			t.Fatalf("run.completed not observed, saw %v", seen)
		}
	}
}
