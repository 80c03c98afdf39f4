package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-ai/arbor/internal/engine"
	"github.com/arbor-ai/arbor/pkg/schema"
	"github.com/arbor-ai/arbor/pkg/tool"
)

type terminateDecider struct{}

func (terminateDecider) Decide(context.Context, *tool.Snapshot, *tool.BranchView, string) (*schema.Decision, error) {
	return &schema.Decision{
		Outcome: schema.OutcomeTerminate,
		Summary: schema.NewSummary("done", "run complete"),
	}, nil
}

type recordingStarter struct {
	engine  *engine.Engine
	queries []string
	started atomic.Int32
	runs    chan *engine.Run
}

func (r *recordingStarter) Run(ctx context.Context, query string) (*engine.Run, error) {
	r.queries = append(r.queries, query)
	r.started.Add(1)
	run, err := r.engine.Run(ctx, query)
	if err == nil {
		r.runs <- run
	}
	return run, err
}

func newStarter(t *testing.T) *recordingStarter {
	t.Helper()
	e, err := engine.New(tool.NewRegistry(), terminateDecider{}, nil, nil,
		slog.New(slog.DiscardHandler), engine.Config{})
	require.NoError(t, err)
	return &recordingStarter{engine: e, runs: make(chan *engine.Run, 8)}
}

func TestAdd_ValidatesCronAndDuplicates(t *testing.T) {
	s := NewScheduler(newStarter(t), slog.New(slog.DiscardHandler))

	require.NoError(t, s.Add(Schedule{ID: "nightly", Cron: "0 2 * * *", Query: "daily revenue report"}))
	assert.Error(t, s.Add(Schedule{ID: "nightly", Cron: "0 2 * * *", Query: "again"}))
	assert.Error(t, s.Add(Schedule{ID: "bad", Cron: "not a cron", Query: "q"}))
	assert.Error(t, s.Add(Schedule{ID: "", Cron: "* * * * *", Query: "q"}))
	assert.Error(t, s.Add(Schedule{ID: "no-query", Cron: "* * * * *", Query: ""}))
}

func TestNextRun(t *testing.T) {
	s := NewScheduler(newStarter(t), slog.New(slog.DiscardHandler))
	require.NoError(t, s.Add(Schedule{ID: "hourly", Cron: "0 * * * *", Query: "q"}))

	next, ok := s.NextRun("hourly")
	require.True(t, ok)
	assert.True(t, next.After(time.Now().UTC().Add(-time.Minute)))
	assert.Equal(t, 0, next.Minute())

	_, ok = s.NextRun("missing")
	assert.False(t, ok)
}

func TestTick_FiresDueSchedule(t *testing.T) {
	starter := newStarter(t)
	s := NewScheduler(starter, slog.New(slog.DiscardHandler))
	require.NoError(t, s.Add(Schedule{ID: "minutely", Cron: "* * * * *", Query: "refresh the dashboard"}))

	s.tick(context.Background(), time.Now().UTC().Add(2*time.Minute))

	select {
	case run := <-starter.runs:
		<-run.Done()
		assert.Equal(t, schema.RunStatusCompleted, run.Status())
	case <-time.After(5 * time.Second):
		t.Fatal("schedule did not fire")
	}
	assert.Equal(t, []string{"refresh the dashboard"}, starter.queries)
}

func TestTick_SkipsNotDue(t *testing.T) {
	starter := newStarter(t)
	s := NewScheduler(starter, slog.New(slog.DiscardHandler))
	require.NoError(t, s.Add(Schedule{ID: "yearly", Cron: "0 0 1 1 *", Query: "annual report"}))

	s.tick(context.Background(), time.Now().UTC())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), starter.started.Load())
}

func TestTick_AdvancesNextRun(t *testing.T) {
	starter := newStarter(t)
	s := NewScheduler(starter, slog.New(slog.DiscardHandler))
	require.NoError(t, s.Add(Schedule{ID: "minutely", Cron: "* * * * *", Query: "q"}))

	before, _ := s.NextRun("minutely")
	fireAt := time.Now().UTC().Add(2 * time.Minute)
	s.tick(context.Background(), fireAt)
	after, _ := s.NextRun("minutely")
	assert.True(t, after.After(before))
	assert.True(t, after.After(fireAt))

	select {
	case run := <-starter.runs:
		<-run.Done()
	case <-time.After(5 * time.Second):
		t.Fatal("schedule did not fire")
	}
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(newStarter(t), slog.New(slog.DiscardHandler))
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	s.Stop()
}
