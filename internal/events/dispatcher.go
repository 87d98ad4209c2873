package events

import (
	"context"
	"sync"
)

// EventHandler consumes one published conversation event.
type EventHandler func(context.Context, Event) error

// Dispatcher fans conversation events out to in-process subscribers.
// Publishing happens after the owning transition is durable, so handlers
// observe committed state only.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

// SubscribeAll registers one handler for several event types.
func SubscribeAll(d Dispatcher, handler EventHandler, types ...EventType) {
	for _, eventType := range types {
		d.Subscribe(eventType, handler)
	}
}

// memoryDispatcher delivers synchronously on the publisher's goroutine.
type memoryDispatcher struct {
	mu       sync.RWMutex
	handlers map[EventType][]EventHandler
}

// NewInMemoryDispatcher returns the process-local dispatcher.
func NewInMemoryDispatcher() Dispatcher {
	return &memoryDispatcher{handlers: make(map[EventType][]EventHandler)}
}

// Publish invokes every handler subscribed to the event's type. A failing
// handler does not stop the rest; notification fan-out is best effort.
func (d *memoryDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	subscribed := append([]EventHandler(nil), d.handlers[event.Type]...)
	d.mu.RUnlock()

	for _, handler := range subscribed {
		// Best effort: one failing subscriber must not starve the others.
		_ = handler(ctx, event)
	}
	return nil
}

func (d *memoryDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}
