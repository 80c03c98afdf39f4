// Package scheduler triggers recurring runs from cron expressions, e.g. a
// nightly report query. Schedules are registered at startup; each firing
// starts a fresh engine run and drains its stream so the loop advances.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arbor-ai/arbor/internal/engine"
	"github.com/arbor-ai/arbor/pkg/schema"
)

// RunStarter is the interface the scheduler uses to start runs. Satisfied by
// *engine.Engine.
type RunStarter interface {
	Run(ctx context.Context, query string) (*engine.Run, error)
}

// Schedule is one recurring query.
type Schedule struct {
	ID    string `json:"id"`
	Cron  string `json:"cron"`
	Query string `json:"query"`
}

type entry struct {
	schedule Schedule
	spec     cron.Schedule
	nextRun  time.Time
}

// Scheduler fires registered schedules on a one-minute tick.
type Scheduler struct {
	starter RunStarter
	parser  cron.Parser
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	cancel  context.CancelFunc
	done    chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewScheduler creates a Scheduler using the standard five-field cron format.
func NewScheduler(starter RunStarter, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		starter:  starter,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		entries:  make(map[string]*entry),
		inflight: make(map[string]struct{}),
	}
}

// Add registers a schedule. The cron expression is validated immediately.
func (s *Scheduler) Add(sched Schedule) error {
	if sched.ID == "" || sched.Query == "" {
		return schema.NewError(schema.ErrCodeValidation, "schedule requires an id and a query")
	}
	spec, err := s.parser.Parse(sched.Cron)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"invalid cron expression %q: %s", sched.Cron, err.Error()).WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[sched.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "schedule %q already registered", sched.ID)
	}
	s.entries[sched.ID] = &entry{
		schedule: sched,
		spec:     spec,
		nextRun:  spec.Next(time.Now().UTC()),
	}
	return nil
}

// Remove drops a schedule.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// NextRun reports when a schedule fires next.
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.nextRun, true
}

// Start launches the background loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

// Stop halts the loop and waits for it to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	s.tick(ctx, time.Now().UTC())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now.UTC())
		}
	}
}

// tick fires every due schedule. Firings run concurrently; a schedule still
// executing is skipped rather than doubled up.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if !e.nextRun.After(now) {
			due = append(due, e)
			e.nextRun = e.spec.Next(now)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if !s.tryAcquire(e.schedule.ID) {
			s.logger.Warn("schedule still running, skipping", "schedule_id", e.schedule.ID)
			continue
		}
		go func(sched Schedule) {
			defer s.release(sched.ID)
			s.fire(ctx, sched)
		}(e.schedule)
	}
}

func (s *Scheduler) fire(ctx context.Context, sched Schedule) {
	s.logger.Info("firing schedule", "schedule_id", sched.ID)

	run, err := s.starter.Run(ctx, sched.Query)
	if err != nil {
		s.logger.Error("start scheduled run", "schedule_id", sched.ID, "error", err)
		return
	}
	for range run.Responses() {
	}
	<-run.Done()
	if err := run.Err(); err != nil {
		s.logger.Error("scheduled run failed", "schedule_id", sched.ID, "run_id", run.ID(), "error", err)
		return
	}
	s.logger.Info("scheduled run completed", "schedule_id", sched.ID, "run_id", run.ID())
}

func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}
