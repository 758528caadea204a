package events

import (
	"sync"
)

// Bus fans progress events out to subscribers. A single dispatch goroutine
// drains a buffered channel, so delivery order matches emission order.
type Bus struct {
	subscribers         map[EventType][]Subscriber
	wildcardSubscribers []Subscriber

	buffer chan *ProgressEvent

	mu         sync.RWMutex
	dispatchMu sync.Mutex
	closed     bool
	done       chan struct{}
	wg         sync.WaitGroup
}

// NewBus creates a bus with the given buffer size (default 1024).
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1024
	}

	return &Bus{
		subscribers:         make(map[EventType][]Subscriber),
		wildcardSubscribers: make([]Subscriber, 0),
		buffer:              make(chan *ProgressEvent, bufferSize),
		done:                make(chan struct{}),
	}
}

// Publish enqueues an event. Blocks if the buffer is full rather than
// dropping: progress events feed resumability decisions downstream, and the
// producer (orchestrator) is far slower than delivery.
func (b *Bus) Publish(event *ProgressEvent) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	select {
	case b.buffer <- event:
	case <-b.done:
	}
}

// Subscribe registers a subscriber.
func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	eventTypes := sub.EventTypes()
	if len(eventTypes) == 0 {
		b.wildcardSubscribers = append(b.wildcardSubscribers, sub)
		return
	}

	for _, eventType := range eventTypes {
		b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	}
}

// Unsubscribe removes a subscriber by id.
func (b *Bus) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.wildcardSubscribers = filterSubs(b.wildcardSubscribers, subscriberID)
	for eventType, subs := range b.subscribers {
		b.subscribers[eventType] = filterSubs(subs, subscriberID)
	}
}

func filterSubs(subs []Subscriber, id string) []Subscriber {
	filtered := make([]Subscriber, 0, len(subs))
	for _, sub := range subs {
		if sub.ID() != id {
			filtered = append(filtered, sub)
		}
	}
	return filtered
}

// Start launches the dispatch goroutine.
func (b *Bus) Start() {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()

	if b.closed {
		return
	}

	b.wg.Add(1)
	go b.dispatch()
}

func (b *Bus) dispatch() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.buffer:
			b.deliver(event)
		case <-b.done:
			// Drain anything already queued before exiting.
			for {
				select {
				case event := <-b.buffer:
					b.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(event *ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.wildcardSubscribers {
		sub.OnEvent(event)
	}

	if subs, ok := b.subscribers[event.Type]; ok {
		for _, sub := range subs {
			sub.OnEvent(event)
		}
	}
}

// Close shuts the bus down after delivering queued events.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()
}
