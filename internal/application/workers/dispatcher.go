package workers

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
	"go.uber.org/zap"
)

// DispatcherConfig selects how subtasks reach their workers.
type DispatcherConfig struct {
	// Backend runs isolated types. Nil disables isolation.
	Backend       ports.IsolationBackend
	IsolatedTypes []string
	PollInterval  time.Duration
	Timeout       time.Duration
}

// Dispatcher hands one subtask to its worker and always returns an outcome.
// Worker errors and panics never escape it.
type Dispatcher struct {
	registry *Registry
	backend  ports.IsolationBackend
	isolated map[string]bool
	poll     time.Duration
	timeout  time.Duration
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	now      func() time.Time

	inFlight atomic.Int64
	finished atomic.Int64
	failed   atomic.Int64
}

// NewDispatcher creates a dispatcher over registry
func NewDispatcher(registry *Registry, cfg DispatcherConfig, metrics ports.MetricsCollector, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		backend:  cfg.Backend,
		isolated: make(map[string]bool),
		poll:     cfg.PollInterval,
		timeout:  cfg.Timeout,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
	if d.poll <= 0 {
		d.poll = time.Second
	}
	if d.timeout <= 0 {
		d.timeout = time.Minute
	}
	if cfg.Backend != nil {
		for _, t := range cfg.IsolatedTypes {
			d.isolated[t] = true
		}
	}
	return d
}

// CanDispatch reports whether kind resolves to a worker or isolation backend.
func (d *Dispatcher) CanDispatch(kind string) bool {
	if d.isolated[kind] {
		return true
	}
	_, ok := d.registry.Resolve(kind)
	return ok
}

// Stats returns in-flight, finished and failed dispatch counts.
func (d *Dispatcher) Stats() (inFlight, finished, failed int64) {
	return d.inFlight.Load(), d.finished.Load(), d.failed.Load()
}

// Dispatch runs subtask and returns its outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, subtask domain.Subtask, input map[string]interface{}) domain.Outcome {
	d.metrics.SetInFlightSubtasks(int(d.inFlight.Add(1)))
	start := time.Now()

	var out domain.Outcome
	if d.isolated[subtask.Type] {
		out = d.runIsolated(ctx, subtask, input)
	} else {
		out = d.runDirect(ctx, subtask, input)
	}

	d.metrics.SetInFlightSubtasks(int(d.inFlight.Add(-1)))
	d.finished.Add(1)
	if out.Status == domain.StatusFailed {
		d.failed.Add(1)
	}
	d.metrics.RecordSubtaskExecuted(subtask.Type, string(out.Status), time.Since(start))

	d.logger.Debug("subtask dispatched",
		zap.String("subtask_id", subtask.ID),
		zap.String("type", subtask.Type),
		zap.String("status", string(out.Status)),
		zap.Duration("duration", time.Since(start)))
	return out
}

func (d *Dispatcher) runDirect(ctx context.Context, subtask domain.Subtask, input map[string]interface{}) (out domain.Outcome) {
	worker, ok := d.registry.Resolve(subtask.Type)
	if !ok {
		return domain.Failed(fmt.Sprintf("%s for type: %s", domain.ErrWorkerUnavailable, subtask.Type))
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("worker panicked",
				zap.String("subtask_id", subtask.ID),
				zap.String("type", subtask.Type),
				zap.Any("panic", r))
			out = domain.Failed(fmt.Sprintf("%s: panic: %v", domain.ErrWorkerExecution, r))
		}
	}()

	res, err := worker.Execute(ctx, subtask, input)
	if err != nil {
		d.logger.Warn("worker returned error",
			zap.String("subtask_id", subtask.ID),
			zap.String("type", subtask.Type),
			zap.Error(err))
		return domain.Failed(fmt.Errorf("%w: %w", domain.ErrWorkerExecution, err).Error())
	}
	return normalize(res)
}

// normalize maps a worker report onto a terminal outcome.
func normalize(out domain.Outcome) domain.Outcome {
	switch out.Status {
	case domain.StatusCompleted:
		out.Progress = 1
		out.Error = ""
	case domain.StatusFailed:
		if out.Error == "" {
			out.Error = domain.ErrWorkerExecution.Error()
		}
	case "":
		if out.Error != "" {
			out.Status = domain.StatusFailed
		} else {
			out.Status = domain.StatusCompleted
			out.Progress = 1
		}
	default:
		return domain.Failed(fmt.Sprintf("%s: non-terminal status %q", domain.ErrWorkerExecution, out.Status))
	}
	if out.Progress < 0 {
		out.Progress = 0
	}
	if out.Progress > 1 {
		out.Progress = 1
	}
	return out
}

func (d *Dispatcher) event(subtask domain.Subtask, action domain.Action, details string) domain.LogEntry {
	return domain.LogEntry{
		Timestamp:   d.now().UTC(),
		SubtaskID:   subtask.ID,
		SubtaskType: subtask.Type,
		Action:      action,
		Details:     details,
	}
}

func (d *Dispatcher) runIsolated(ctx context.Context, subtask domain.Subtask, input map[string]interface{}) domain.Outcome {
	handle, err := d.backend.Start(ctx, ports.IsolationRequest{
		WorkerType: subtask.Type,
		SubtaskID:  subtask.ID,
		Input:      input,
	})
	if err != nil {
		d.metrics.RecordIsolationRun("start_failed")
		out := domain.Failed(fmt.Sprintf("%s: failed to start isolated run: %v", domain.ErrWorkerExecution, err))
		out.Events = []domain.LogEntry{d.event(subtask, domain.ActionContainerFailed, err.Error())}
		return out
	}

	events := []domain.LogEntry{d.event(subtask, domain.ActionContainerStarted, "Started container "+handle)}

	defer func() {
		// Removal must happen even when the caller's context is gone.
		if err := d.backend.Remove(context.Background(), handle); err != nil {
			d.logger.Warn("failed to remove isolated run",
				zap.String("handle", handle),
				zap.Error(err))
		}
	}()

	status, err := d.wait(ctx, handle)
	if err != nil {
		outcome := "failed"
		if errors.Is(err, domain.ErrIsolationTimeout) {
			outcome = "timeout"
		}
		d.metrics.RecordIsolationRun(outcome)
		d.logger.Warn("isolated run did not finish",
			zap.String("subtask_id", subtask.ID),
			zap.String("handle", handle),
			zap.Error(err))

		out := domain.Failed(err.Error())
		out.Events = append(events, d.event(subtask, domain.ActionContainerFailed, err.Error()))
		return out
	}

	res, err := d.backend.Result(ctx, handle)
	if err != nil {
		d.metrics.RecordIsolationRun("failed")
		out := domain.Failed(fmt.Sprintf("%s: failed to read isolated result: %v", domain.ErrWorkerExecution, err))
		out.ContainerID = handle
		out.Events = append(events, d.event(subtask, domain.ActionContainerFailed, err.Error()))
		return out
	}

	var out domain.Outcome
	if res.Status == domain.StatusCompleted {
		out = domain.Completed(res.Result)
		d.metrics.RecordIsolationRun("completed")
		events = append(events, d.event(subtask, domain.ActionContainerCompleted,
			fmt.Sprintf("Container %s exited with code %d", handle, status.ExitCode)))
	} else {
		msg := res.Error
		if msg == "" {
			msg = fmt.Sprintf("container exited with code %d", status.ExitCode)
		}
		out = domain.Failed(msg)
		d.metrics.RecordIsolationRun("failed")
		events = append(events, d.event(subtask, domain.ActionContainerFailed, msg))
	}
	out.ContainerID = handle
	out.Events = events
	return out
}

// wait polls the backend until the run exits or the timeout elapses.
func (d *Dispatcher) wait(ctx context.Context, handle string) (ports.IsolationStatus, error) {
	deadline := time.NewTimer(d.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		status, err := d.backend.Status(ctx, handle)
		if err != nil {
			return status, fmt.Errorf("%w: status of %s: %w", domain.ErrWorkerExecution, handle, err)
		}
		if status.Exited {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, fmt.Errorf("%w: %w", domain.ErrWorkerExecution, ctx.Err())
		case <-deadline.C:
			return status, fmt.Errorf("%w: %s did not exit within %s", domain.ErrIsolationTimeout, handle, d.timeout)
		case <-ticker.C:
		}
	}
}
