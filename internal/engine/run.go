package engine

import (
	"context"
	"iter"
	"sync"

	"github.com/arbor-ai/arbor/pkg/schema"
)

// Run is the consumer's handle on one executing workflow. The loop is demand
// driven: it suspends after every delivered item and resumes only when the
// consumer asks for the next one, so abandoning the stream after item N means
// no decision or tool invocation for item N+1 ever starts.
//
// The stream always ends with exactly one terminal item (a summary on
// success, an error response otherwise), except on cancellation, where it
// simply ends. After Done, Err reports the fatal error if the run failed.
type Run struct {
	id     string
	out    chan *schema.Response
	demand chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	err    error
	status schema.RunStatus
}

func newRun(id string, cancel context.CancelFunc) *Run {
	return &Run{
		id:     id,
		out:    make(chan *schema.Response),
		demand: make(chan struct{}),
		cancel: cancel,
		done:   make(chan struct{}),
		status: schema.RunStatusActive,
	}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Responses returns the ordered response stream. Iterating drives the run:
// each pull signals demand for one more item. Breaking out of the iteration
// cancels the run. Single consumer.
func (r *Run) Responses() iter.Seq[*schema.Response] {
	return func(yield func(*schema.Response) bool) {
		for {
			select {
			case r.demand <- struct{}{}:
			case <-r.done:
			}
			resp, ok := <-r.out
			if !ok {
				return
			}
			if !yield(resp) {
				r.cancel()
				return
			}
		}
	}
}

// Stop cancels the run. In-flight work is abandoned and the stream closes.
func (r *Run) Stop() { r.cancel() }

// Done is closed when the run has fully finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Err returns the fatal error of a failed run, or nil. Stable once Done is
// closed.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Status returns the current lifecycle status.
func (r *Run) Status() schema.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Run) finish(status schema.RunStatus, err error) {
	r.mu.Lock()
	r.status = status
	r.err = err
	r.mu.Unlock()
}

// awaitDemand blocks until the consumer pulls the next item or the run
// context ends. Reports whether demand arrived.
func (r *Run) awaitDemand(ctx context.Context) bool {
	select {
	case <-r.demand:
		return true
	case <-ctx.Done():
		return false
	}
}

// send delivers one response to the consumer that demanded it, blocking until
// it is taken or the run context is cancelled. Reports whether the item was
// delivered.
func (r *Run) send(ctx context.Context, resp *schema.Response) bool {
	select {
	case r.out <- resp:
		return true
	case <-ctx.Done():
		return false
	}
}
