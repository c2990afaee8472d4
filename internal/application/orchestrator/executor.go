package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/dagrun/internal/application/state"
	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// TopicTaskEvents is the lifecycle stream topic.
	TopicTaskEvents = "task.events"
	// EventDataDurationKey carries the run time in seconds on terminal events.
	EventDataDurationKey = "duration_seconds"
)

// Dispatcher runs one subtask on its worker.
type Dispatcher interface {
	CanDispatch(kind string) bool
	Dispatch(ctx context.Context, subtask domain.Subtask, input map[string]interface{}) domain.Outcome
}

// Executor drives one task from its stored snapshot to a terminal status.
//
// A single goroutine owns the task while it runs. Each launched subtask gets
// a copy of its record and reports back on a completion channel; the
// coordinator blocks on that channel whenever work is in flight.
type Executor struct {
	repo       *state.Repository
	dispatcher Dispatcher
	eventBus   ports.EventBus
	metrics    ports.MetricsCollector
	logger     *zap.Logger
	now        func() time.Time
}

type completion struct {
	id      string
	outcome domain.Outcome
}

// NewExecutor creates a new executor
func NewExecutor(
	repo *state.Repository,
	dispatcher Dispatcher,
	eventBus ports.EventBus,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		repo:       repo,
		dispatcher: dispatcher,
		eventBus:   eventBus,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Execute loads task id with its request and log, then runs it.
func (e *Executor) Execute(ctx context.Context, id string) (*domain.Task, error) {
	task, err := e.repo.LoadTask(ctx, id)
	if err != nil {
		e.logger.Error("cannot execute task",
			zap.String("task_id", id),
			zap.Error(err))
		return nil, err
	}

	req, err := e.repo.LoadRequest(ctx, id)
	if err != nil {
		e.logger.Warn("task request unavailable, running without context",
			zap.String("task_id", id),
			zap.Error(err))
		req = &domain.TaskRequest{}
	}

	entries, err := e.repo.LoadLogs(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.logger.Warn("event log unavailable, starting a new one",
			zap.String("task_id", id),
			zap.Error(err))
	}

	return e.Run(ctx, task, req, entries)
}

// Run executes task in place and returns it in its terminal state. Store
// failures are logged and never stop the run. The returned error is non-nil
// only when the subtask graph is malformed.
func (e *Executor) Run(ctx context.Context, task *domain.Task, req *domain.TaskRequest, entries []domain.LogEntry) (*domain.Task, error) {
	if req == nil {
		req = &domain.TaskRequest{}
	}
	start := time.Now()
	log := domain.NewEventLog(entries)
	logger := e.logger.With(zap.String("task_id", task.ID))

	// Units left running by an interrupted attempt are started again.
	for i := range task.Subtasks {
		if task.Subtasks[i].Status == domain.StatusInProgress {
			task.Subtasks[i].Status = domain.StatusPending
		}
	}

	graph, err := domain.NewGraph(task.Subtasks)
	if err != nil {
		logger.Error("task graph rejected", zap.Error(err))
		e.finish(ctx, task, log, start, err.Error())
		return task, err
	}

	task.Status = domain.StatusInProgress
	task.UpdatedAt = e.now().UTC()
	e.persist(ctx, task, log)
	e.publish(ctx, ports.EventTypeTaskStarted, task, nil)
	logger.Info("task execution started", zap.Int("subtasks", graph.Len()))

	var results []domain.SubtaskResult
	for _, st := range task.Subtasks {
		if st.Status == domain.StatusCompleted {
			results = append(results, domain.SubtaskResult{ID: st.ID, Type: st.Type, Result: st.Result})
		}
	}

	done := make(chan completion, len(task.Subtasks))
	inFlight := 0
	ready := readySet(graph, task)

	for len(ready) > 0 || inFlight > 0 {
		statuses := task.Statuses()
		for _, id := range ready {
			st, _ := task.Subtask(id)
			now := e.now().UTC()

			switch {
			case graph.BlockedByFailure(id, statuses):
				logger.Debug("subtask blocked by failed dependency",
					zap.String("subtask_id", id),
					zap.Strings("dependencies", graph.Dependencies(id)))
				e.fail(st, log, domain.ErrDependencyFailed.Error(), now)
			case !e.dispatcher.CanDispatch(st.Type):
				e.fail(st, log, fmt.Sprintf("%s for type: %s", domain.ErrWorkerUnavailable, st.Type), now)
			default:
				st.Status = domain.StatusInProgress
				st.UpdatedAt = now
				log.Append(domain.LogEntry{
					Timestamp:   now,
					SubtaskID:   st.ID,
					SubtaskType: st.Type,
					Action:      domain.ActionStarted,
					Details:     fmt.Sprintf("Started %s subtask", st.Type),
				})
				inFlight++
				go e.launch(ctx, *st, workerInput(req, results), done)
			}
		}

		if inFlight > 0 {
			e.persist(ctx, task, log)

			batch := []completion{<-done}
		drain:
			for {
				select {
				case c := <-done:
					batch = append(batch, c)
				default:
					break drain
				}
			}

			for _, c := range batch {
				inFlight--
				if r, ok := e.apply(task, log, c); ok {
					results = append(results, r)
				}
			}
		}

		ready = readySet(graph, task)
		task.Progress = task.CompletedFraction()
		task.UpdatedAt = e.now().UTC()
		e.persist(ctx, task, log)
	}

	e.finish(ctx, task, log, start, "")
	logger.Info("task execution finished",
		zap.String("status", string(task.Status)),
		zap.Float64("progress", task.Progress),
		zap.Duration("duration", time.Since(start)))
	return task, nil
}

// readySet returns, in plan order, the pending subtasks that either can run
// or must be failed because a dependency failed.
func readySet(graph *domain.Graph, task *domain.Task) []string {
	statuses := task.Statuses()
	mark := make(map[string]bool)
	for _, id := range graph.Ready(statuses) {
		mark[id] = true
	}
	for _, id := range graph.Blocked(statuses) {
		mark[id] = true
	}

	var ready []string
	for _, st := range task.Subtasks {
		if mark[st.ID] {
			ready = append(ready, st.ID)
		}
	}
	return ready
}

func workerInput(req *domain.TaskRequest, results []domain.SubtaskResult) map[string]interface{} {
	return map[string]interface{}{
		domain.InputTask:           req.Task,
		domain.InputContext:        req.Context,
		domain.InputSubtaskResults: append([]domain.SubtaskResult(nil), results...),
	}
}

// launch runs one subtask and always reports exactly one completion.
func (e *Executor) launch(ctx context.Context, subtask domain.Subtask, input map[string]interface{}, done chan<- completion) {
	out := domain.Failed(domain.ErrWorkerExecution.Error())
	defer func() {
		if r := recover(); r != nil {
			out = domain.Failed(fmt.Sprintf("%s: panic: %v", domain.ErrWorkerExecution, r))
		}
		done <- completion{id: subtask.ID, outcome: out}
	}()
	out = e.dispatcher.Dispatch(ctx, subtask, input)
}

// apply records an outcome. It returns the result to expose to later
// subtasks when the unit completed.
func (e *Executor) apply(task *domain.Task, log *domain.EventLog, c completion) (domain.SubtaskResult, bool) {
	st, ok := task.Subtask(c.id)
	if !ok {
		return domain.SubtaskResult{}, false
	}
	for _, ev := range c.outcome.Events {
		log.Append(ev)
	}

	now := e.now().UTC()
	st.ContainerID = c.outcome.ContainerID
	if c.outcome.Status != domain.StatusCompleted {
		msg := c.outcome.Error
		if msg == "" {
			msg = domain.ErrWorkerExecution.Error()
		}
		e.fail(st, log, msg, now)
		return domain.SubtaskResult{}, false
	}

	st.Status = domain.StatusCompleted
	st.Progress = 1
	st.Result = c.outcome.Result
	st.Error = ""
	st.UpdatedAt = now
	log.Append(domain.LogEntry{
		Timestamp:   now,
		SubtaskID:   st.ID,
		SubtaskType: st.Type,
		Action:      domain.ActionCompleted,
		Details:     fmt.Sprintf("Completed %s subtask", st.Type),
	})
	return domain.SubtaskResult{ID: st.ID, Type: st.Type, Result: st.Result}, true
}

func (e *Executor) fail(st *domain.Subtask, log *domain.EventLog, msg string, now time.Time) {
	st.Status = domain.StatusFailed
	st.Error = msg
	st.UpdatedAt = now
	log.Append(domain.LogEntry{
		Timestamp:   now,
		SubtaskID:   st.ID,
		SubtaskType: st.Type,
		Action:      domain.ActionFailed,
		Details:     "Subtask failed: " + msg,
	})
}

// finish settles leftovers and writes the terminal snapshot. A non-empty
// reason fails the task outright.
func (e *Executor) finish(ctx context.Context, task *domain.Task, log *domain.EventLog, start time.Time, reason string) {
	now := e.now().UTC()
	for i := range task.Subtasks {
		st := &task.Subtasks[i]
		if st.Status.IsTerminal() {
			continue
		}
		msg := domain.ErrDependencyFailed.Error()
		if reason != "" {
			msg = reason
		}
		e.fail(st, log, msg, now)
	}

	allCompleted := reason == ""
	for _, st := range task.Subtasks {
		if st.Status != domain.StatusCompleted {
			allCompleted = false
		}
	}

	task.Progress = task.CompletedFraction()
	task.UpdatedAt = now
	eventType := ports.EventTypeTaskCompleted
	if allCompleted {
		task.Status = domain.StatusCompleted
		task.Result = Summarize(task.Subtasks)
		task.Error = ""
		log.Append(domain.LogEntry{Timestamp: now, Action: domain.ActionTaskCompleted, Details: "All subtasks completed"})
	} else {
		task.Status = domain.StatusFailed
		task.Error = "one or more subtasks failed"
		if reason != "" {
			task.Error = reason
		}
		eventType = ports.EventTypeTaskFailed
		log.Append(domain.LogEntry{Timestamp: now, Action: domain.ActionTaskFailed, Details: task.Error})
	}

	e.persist(ctx, task, log)
	e.repo.Forget(task.ID)
	elapsed := time.Since(start)
	e.publish(ctx, eventType, task, map[string]interface{}{
		"progress":           task.Progress,
		EventDataDurationKey: elapsed.Seconds(),
	})
	// Without a bus no LifecycleRecorder sees the event.
	if e.eventBus == nil {
		e.metrics.RecordTaskCompleted(string(task.Status), elapsed)
	}
}

// persist writes the snapshot and the log. Failures degrade observability
// only; the in-memory task stays authoritative.
func (e *Executor) persist(ctx context.Context, task *domain.Task, log *domain.EventLog) {
	if err := e.repo.SaveTask(ctx, task); err != nil {
		e.logger.Warn("failed to persist task snapshot",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
	if err := e.repo.SaveLogs(ctx, task.ID, log.Entries(), log.TakeDelta()); err != nil {
		e.logger.Warn("failed to persist event log",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}

func (e *Executor) publish(ctx context.Context, typ ports.EventType, task *domain.Task, data map[string]interface{}) {
	if e.eventBus == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["status"] = string(task.Status)
	if task.Error != "" {
		data["error"] = task.Error
	}

	event := ports.Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: e.now().UTC(),
		TaskID:    task.ID,
		Data:      data,
	}
	if err := e.eventBus.Publish(ctx, TopicTaskEvents, event); err != nil {
		e.logger.Warn("failed to publish lifecycle event",
			zap.String("task_id", task.ID),
			zap.String("event_type", string(typ)),
			zap.Error(err))
	}
}
