// Package events carries generation progress from the orchestrator to any
// listener (CLI printer, test harness, future UI) over a buffered bus.
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies a progress event.
type EventType int

const (
	EventRunStarted EventType = iota
	EventPhaseStarted
	EventPhaseCompleted
	EventPhaseFailed
	EventTaskStarted
	EventTaskCompleted
	EventTaskFailed
	EventTaskCached
	EventInvalidation
	EventRunCompleted
	EventRunFailed
	EventRunCancelled
)

var eventTypeNames = map[EventType]string{
	EventRunStarted:     "run_started",
	EventPhaseStarted:   "phase_started",
	EventPhaseCompleted: "phase_completed",
	EventPhaseFailed:    "phase_failed",
	EventTaskStarted:    "task_started",
	EventTaskCompleted:  "task_completed",
	EventTaskFailed:     "task_failed",
	EventTaskCached:     "task_cached",
	EventInvalidation:   "invalidation",
	EventRunCompleted:   "run_completed",
	EventRunFailed:      "run_failed",
	EventRunCancelled:   "run_cancelled",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON emits the symbolic name so serialized event streams stay
// readable.
func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// ProgressEvent is one progress update. Fraction is the completed share of
// the owning phase's tasks; Label is the human-readable current task.
type ProgressEvent struct {
	Type      EventType      `json:"type"`
	ProjectID string         `json:"project_id"`
	Phase     string         `json:"phase,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	Label     string         `json:"label,omitempty"`
	Fraction  float64        `json:"fraction"`
	Err       string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Subscriber receives progress events.
type Subscriber interface {
	// ID returns the unique subscriber identifier.
	ID() string

	// EventTypes returns the event types this subscriber wants.
	// Empty slice means all events.
	EventTypes() []EventType

	// OnEvent is called for each matching event, in emission order.
	OnEvent(event *ProgressEvent)
}

// SubscriberFunc adapts a function to the Subscriber interface with a
// wildcard subscription.
type SubscriberFunc struct {
	Name string
	Fn   func(event *ProgressEvent)
}

func (s SubscriberFunc) ID() string             { return s.Name }
func (s SubscriberFunc) EventTypes() []EventType { return nil }
func (s SubscriberFunc) OnEvent(event *ProgressEvent) {
	s.Fn(event)
}
