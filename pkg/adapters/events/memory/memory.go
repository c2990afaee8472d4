package memory

import (
	"context"
	"sync"

	"github.com/aescanero/dagrun/pkg/ports"
)

// InMemoryEventBus implements EventBus with synchronous in-process delivery.
// Published events are also retained for inspection in tests.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]ports.EventHandler
	published   []ports.Event
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string][]ports.EventHandler),
	}
}

// Publish records the event and hands it to every subscriber of topic
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	e.mu.Lock()
	e.published = append(e.published, event)
	handlers := append([]ports.EventHandler(nil), e.subscribers[topic]...)
	e.mu.Unlock()

	for _, h := range handlers {
		_ = h(ctx, event)
	}
	return nil
}

// Subscribe registers handler for topic
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subscribers[topic] = append(e.subscribers[topic], handler)
	return nil
}

// Published returns every event published so far
func (e *InMemoryEventBus) Published() []ports.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]ports.Event(nil), e.published...)
}

// Close drops all subscribers
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.subscribers = make(map[string][]ports.EventHandler)
	return nil
}
