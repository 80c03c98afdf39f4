package streaming

import (
	"context"
	"slices"
	"sync"
)

// subscriberBuffer bounds each subscription channel. A subscriber that falls
// this far behind starts losing events.
const subscriberBuffer = 64

type subscription struct {
	ch     chan RunEvent
	filter EventFilter
}

// MemoryHub is an in-process EventHub backed by buffered channels.
type MemoryHub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscription
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[int]*subscription)}
}

// Publish fans the event out to every matching subscriber. Delivery is best
// effort: a full subscriber channel drops the event rather than blocking the
// run loop.
func (h *MemoryHub) Publish(ctx context.Context, event RunEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.filter.matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a filtered subscription and returns its channel together
// with a cancel function that removes it.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan RunEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &subscription{ch: make(chan RunEvent, subscriberBuffer), filter: filter}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
	return sub.ch, cancel, nil
}

func (f EventFilter) matches(e RunEvent) bool {
	if f.RunID != "" && f.RunID != e.RunID {
		return false
	}
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
		return false
	}
	return true
}
