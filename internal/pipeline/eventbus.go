package pipeline

import (
	"sync"
	"time"
)

// EventType represents the type of pipeline event.
type EventType string

const (
	EventStateChanged EventType = "state_changed"
	EventRecalled     EventType = "recalled"
	EventGenerated    EventType = "generated"
	EventExtracted    EventType = "extracted"
	EventBlocked      EventType = "blocked"
	EventExecuted     EventType = "executed"
	EventRecorded     EventType = "recorded"
	EventEvicted      EventType = "evicted"
	EventError        EventType = "error"
)

// Event represents a pipeline event with associated data.
type Event struct {
	Type      EventType
	Timestamp time.Time
	RequestID string
	Data      map[string]any
}

// EventHandler is a function that handles events.
type EventHandler func(Event)

// EventBus decouples the pipeline from whoever displays or logs its progress.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types.
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allHandlers = append(eb.allHandlers, handler)
}

// Publish sends an event to all registered handlers, type-specific ones first.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	specific := append([]EventHandler(nil), eb.handlers[event.Type]...)
	all := append([]EventHandler(nil), eb.allHandlers...)
	eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, handler := range specific {
		handler(event)
	}
	for _, handler := range all {
		handler(event)
	}
}

// PublishWithData publishes an event with associated data.
func (eb *EventBus) PublishWithData(eventType EventType, requestID string, data map[string]any) {
	eb.Publish(Event{
		Type:      eventType,
		RequestID: requestID,
		Data:      data,
	})
}
