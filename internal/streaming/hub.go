package streaming

import (
	"context"
	"slices"

	"github.com/rendis/autopilot/pkg/schema"
)

// Event types published on a hub.
const (
	EventProgress = "progress"
	EventState    = "state"
)

// StreamEvent is a real-time event emitted during a run.
type StreamEvent struct {
	RunID     string                     `json:"run_id,omitempty"`
	EventType string                     `json:"event_type"`
	Progress  *schema.AutomationProgress `json:"progress,omitempty"`
	State     schema.RunState            `json:"state,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// Matches reports whether e passes the filter. Empty fields match everything.
func (f EventFilter) Matches(e StreamEvent) bool {
	if f.RunID != "" && f.RunID != e.RunID {
		return false
	}
	return len(f.EventTypes) == 0 || slices.Contains(f.EventTypes, e.EventType)
}

// EventHub provides pub/sub for real-time run events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}

// ProgressPublisher adapts a hub to a controller progress sink.
// Publishing never blocks the run.
func ProgressPublisher(hub EventHub) func(schema.AutomationProgress) {
	return func(p schema.AutomationProgress) {
		_ = hub.Publish(context.Background(), StreamEvent{
			RunID:     p.RunID,
			EventType: EventProgress,
			Progress:  &p,
		})
	}
}

// StatePublisher adapts a hub to a run-state transition hook.
func StatePublisher(hub EventHub) func(from, to schema.RunState) {
	return func(_, to schema.RunState) {
		_ = hub.Publish(context.Background(), StreamEvent{EventType: EventState, State: to})
	}
}
