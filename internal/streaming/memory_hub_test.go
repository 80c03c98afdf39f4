package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-ai/arbor/pkg/schema"
)

func recv(t *testing.T, ch <-chan RunEvent) RunEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return RunEvent{}
	}
}

func TestMemoryHub_PublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "r1", EventType: schema.EventRunStarted}))

	ev := recv(t, ch)
	assert.Equal(t, "r1", ev.RunID)
	assert.Equal(t, schema.EventRunStarted, ev.EventType)
}

func TestMemoryHub_FilterByRunAndType(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{
		RunID:      "r1",
		EventTypes: []string{schema.EventStepRecorded},
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "r2", EventType: schema.EventStepRecorded}))
	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "r1", EventType: schema.EventRunStarted}))
	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "r1", EventType: schema.EventStepRecorded, NodeID: "n1"}))

	ev := recv(t, ch)
	assert.Equal(t, "n1", ev.NodeID)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	cancel()

	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "r1", EventType: schema.EventRunStarted}))
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event after cancel: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryHub_PublishCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := hub.Publish(ctx, RunEvent{RunID: "r1"})
	require.Error(t, err)
}
