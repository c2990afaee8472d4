package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/aescanero/dagrun/pkg/ports"
	"go.uber.org/zap"
)

// LifecycleRecorder consumes the task lifecycle stream and turns terminal
// events into task metrics.
type LifecycleRecorder struct {
	bus     ports.EventBus
	metrics ports.MetricsCollector
	logger  *zap.Logger
}

// NewLifecycleRecorder creates a recorder reading from bus
func NewLifecycleRecorder(bus ports.EventBus, metrics ports.MetricsCollector, logger *zap.Logger) *LifecycleRecorder {
	return &LifecycleRecorder{
		bus:     bus,
		metrics: metrics,
		logger:  logger,
	}
}

// Start subscribes to the lifecycle topic until ctx is cancelled
func (r *LifecycleRecorder) Start(ctx context.Context) error {
	if err := r.bus.Subscribe(ctx, TopicTaskEvents, r.handle); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", TopicTaskEvents, err)
	}
	return nil
}

func (r *LifecycleRecorder) handle(ctx context.Context, event ports.Event) error {
	switch event.Type {
	case ports.EventTypeTaskStarted:
		r.logger.Debug("task started",
			zap.String("task_id", event.TaskID))
	case ports.EventTypeTaskCompleted, ports.EventTypeTaskFailed:
		status, _ := event.Data["status"].(string)
		if status == "" {
			status = "unknown"
		}
		seconds, _ := event.Data[EventDataDurationKey].(float64)
		duration := time.Duration(seconds * float64(time.Second))

		r.metrics.RecordTaskCompleted(status, duration)
		r.logger.Info("task finished",
			zap.String("task_id", event.TaskID),
			zap.String("status", status),
			zap.Duration("duration", duration))
	default:
		r.logger.Warn("unknown lifecycle event",
			zap.String("task_id", event.TaskID),
			zap.String("event_type", string(event.Type)))
	}
	return nil
}
