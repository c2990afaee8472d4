package ports

import (
	"context"
	"time"
)

// EventType names a task lifecycle event.
type EventType string

const (
	EventTypeTaskStarted   EventType = "task.started"
	EventTypeTaskCompleted EventType = "task.completed"
	EventTypeTaskFailed    EventType = "task.failed"
)

// Event is a lifecycle notification for external consumers.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	TaskID    string                 `json:"task_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventHandler consumes events delivered by an EventBus.
type EventHandler func(ctx context.Context, event Event) error

// EventBus publishes lifecycle events to topics.
type EventBus interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}
