package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubscriber struct {
	id     string
	types  []EventType
	mu     sync.Mutex
	events []*ProgressEvent
}

func (r *recordingSubscriber) ID() string              { return r.id }
func (r *recordingSubscriber) EventTypes() []EventType { return r.types }
func (r *recordingSubscriber) OnEvent(event *ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingSubscriber) snapshot() []*ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ProgressEvent, len(r.events))
	copy(out, r.events)
	return out
}

func TestBusDeliversInEmissionOrder(t *testing.T) {
	t.Parallel()

	bus := NewBus(16)
	sub := &recordingSubscriber{id: "order"}
	bus.Subscribe(sub)
	bus.Start()

	labels := []string{"a", "b", "c", "d", "e"}
	for _, label := range labels {
		bus.Publish(&ProgressEvent{Type: EventTaskCompleted, Label: label, Timestamp: time.Now()})
	}
	bus.Close()

	got := sub.snapshot()
	require.Len(t, got, len(labels))
	for i, label := range labels {
		assert.Equal(t, label, got[i].Label)
	}
}

func TestBusFiltersByEventType(t *testing.T) {
	t.Parallel()

	bus := NewBus(16)
	failures := &recordingSubscriber{id: "failures", types: []EventType{EventTaskFailed}}
	everything := &recordingSubscriber{id: "all"}
	bus.Subscribe(failures)
	bus.Subscribe(everything)
	bus.Start()

	bus.Publish(&ProgressEvent{Type: EventTaskCompleted})
	bus.Publish(&ProgressEvent{Type: EventTaskFailed, Err: "boom"})
	bus.Close()

	assert.Len(t, failures.snapshot(), 1)
	assert.Len(t, everything.snapshot(), 2)
}

func TestBusUnsubscribe(t *testing.T) {
	t.Parallel()

	bus := NewBus(16)
	sub := &recordingSubscriber{id: "gone"}
	bus.Subscribe(sub)
	bus.Unsubscribe("gone")
	bus.Start()

	bus.Publish(&ProgressEvent{Type: EventRunStarted})
	bus.Close()

	assert.Empty(t, sub.snapshot())
}

func TestBusPublishAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	bus := NewBus(1)
	bus.Start()
	bus.Close()

	// Must not panic or block.
	bus.Publish(&ProgressEvent{Type: EventRunCompleted})
}
