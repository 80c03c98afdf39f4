package streaming

import "context"

// RunEvent is a real-time event emitted while a run executes: lifecycle
// changes, decisions, recorded steps.
type RunEvent struct {
	RunID     string `json:"run_id"`
	NodeID    string `json:"node_id,omitempty"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time run events. This is an observation
// side channel for transports and dashboards; the authoritative response
// stream of a run is the engine's Run.Responses channel.
type EventHub interface {
	Publish(ctx context.Context, event RunEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan RunEvent, func(), error)
}
