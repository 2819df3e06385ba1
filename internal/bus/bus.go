// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies different event types
type EventType string

// Event types for cortexpuppet
const (
	// Session lifecycle
	EventTypeTrackingStarted EventType = "tracking.started"
	EventTypeTrackingStopped EventType = "tracking.stopped"
	EventTypeTrackingReset   EventType = "tracking.reset"

	// Per-frame outcomes
	EventTypeFrameMapped  EventType = "tracking.mapped"
	EventTypeFrameNoFace  EventType = "tracking.no_face"
	EventTypeFrameDropped EventType = "tracking.dropped"

	// Delivery
	EventTypeSinkError EventType = "sink.error"

	// Configuration
	EventTypeConfigChanged EventType = "config.changed"
)

// Event represents a bus event
type Event struct {
	Type      EventType
	SessionID string
	Time      time.Time
	Data      map[string]any
}

// NewEvent creates an event stamped with the current time.
func NewEvent(t EventType, sessionID string, data map[string]any) Event {
	return Event{Type: t, SessionID: sessionID, Time: time.Now(), Data: data}
}

// Handler is a function that handles events
type Handler func(Event)

type subscription struct {
	id string
	fn Handler
}

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]subscription
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]subscription),
	}
}

// Subscribe adds a handler for an event type and returns its subscription id
func (b *EventBus) Subscribe(eventType EventType, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, fn: handler})
	return id
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) []string {
	ids := make([]string, 0, len(eventTypes))
	for _, et := range eventTypes {
		ids = append(ids, b.Subscribe(et, handler))
	}
	return ids
}

// Unsubscribe removes a handler by subscription id
func (b *EventBus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for et, subs := range b.handlers {
		for i, s := range subs {
			if s.id == id {
				b.handlers[et] = append(subs[:i:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

func (b *EventBus) snapshot(t EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.handlers[t]
	handlers := make([]Handler, len(subs))
	for i, s := range subs {
		handlers[i] = s.fn
	}
	return handlers
}

// Publish sends an event to all subscribed handlers
func (b *EventBus) Publish(event Event) {
	for _, handler := range b.snapshot(event.Type) {
		// Call handlers in goroutines to avoid blocking
		go handler(event)
	}
}

// PublishSync sends an event and waits for all handlers to complete
func (b *EventBus) PublishSync(event Event) {
	var wg sync.WaitGroup
	for _, handler := range b.snapshot(event.Type) {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(event)
		}(handler)
	}
	wg.Wait()
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]subscription)
}
