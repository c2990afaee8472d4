package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/dagrun/internal/application/replay"
	"github.com/aescanero/dagrun/internal/application/state"
	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrShuttingDown rejects submissions once shutdown has begun.
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// Manager accepts task submissions and runs each one on its own executor
// goroutine.
type Manager struct {
	repo      *state.Repository
	executor  *Executor
	planner   ports.Planner
	validator *Validator
	metrics   ports.MetricsCollector
	logger    *zap.Logger
	newID     func() string

	// Track active executions
	executions sync.Map // map[string]*execution
	wg         sync.WaitGroup
	mu         sync.Mutex
	active     int
	closed     bool
}

// execution holds state for a single running task
type execution struct {
	taskID    string
	startedAt time.Time
}

// ReplayData is the JSON replay payload of a task.
type ReplayData struct {
	Task     *domain.Task      `json:"task"`
	Logs     []domain.LogEntry `json:"logs"`
	Speed    float64           `json:"speed"`
	Duration float64           `json:"duration"`
}

// NewManager creates a new orchestrator manager
func NewManager(
	repo *state.Repository,
	executor *Executor,
	planner ports.Planner,
	validator *Validator,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		repo:      repo,
		executor:  executor,
		planner:   planner,
		validator: validator,
		metrics:   metrics,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// Submit validates and plans req, stores the pending task and starts its
// execution in the background. The returned task is the pending snapshot.
func (m *Manager) Submit(ctx context.Context, req *domain.TaskRequest) (*domain.Task, error) {
	if err := m.validator.ValidateRequest(req); err != nil {
		m.metrics.RecordTaskSubmitted("rejected")
		return nil, err
	}

	plan, err := m.planner.Plan(ctx, req)
	if err != nil {
		m.metrics.RecordTaskSubmitted("rejected")
		return nil, fmt.Errorf("planning failed: %w", err)
	}
	if err := m.validator.ValidatePlan(plan); err != nil {
		m.metrics.RecordTaskSubmitted("rejected")
		return nil, err
	}

	stored := *req
	task := domain.NewTask(m.newID(), plan, time.Now())
	logger := m.logger.With(zap.String("task_id", task.ID))

	persisted := true
	if err := m.repo.SaveRequest(ctx, task.ID, &stored); err != nil {
		logger.Warn("failed to store task request", zap.Error(err))
		persisted = false
	}
	if err := m.repo.SaveTask(ctx, task); err != nil {
		logger.Warn("failed to store task, running from memory", zap.Error(err))
		persisted = false
	}
	if err := m.repo.SaveLogs(ctx, task.ID, nil, nil); err != nil {
		logger.Warn("failed to initialise event log", zap.Error(err))
	}

	snapshot := task.Clone()
	if err := m.start(task, &stored, persisted); err != nil {
		m.metrics.RecordTaskSubmitted("rejected")
		return nil, err
	}

	m.metrics.RecordTaskSubmitted(string(domain.StatusPending))
	logger.Info("task submitted",
		zap.Int("subtasks", len(plan)),
		zap.Bool("persisted", persisted))
	return snapshot, nil
}

func (m *Manager) start(task *domain.Task, req *domain.TaskRequest, persisted bool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShuttingDown
	}
	m.wg.Add(1)
	m.active++
	m.metrics.SetActiveExecutions(m.active)
	m.mu.Unlock()

	m.executions.Store(task.ID, &execution{taskID: task.ID, startedAt: time.Now()})

	go func() {
		defer func() {
			m.executions.Delete(task.ID)
			m.mu.Lock()
			m.active--
			m.metrics.SetActiveExecutions(m.active)
			m.mu.Unlock()
			m.wg.Done()
		}()

		// Executions are not cancellable once started.
		ctx := context.Background()
		if persisted {
			_, err := m.executor.Execute(ctx, task.ID)
			if err == nil || errors.Is(err, domain.ErrTaskNotFound) || errors.Is(err, domain.ErrConfiguration) {
				return
			}
			m.logger.Warn("stored task unreadable, running from memory",
				zap.String("task_id", task.ID),
				zap.Error(err))
		}
		if _, err := m.executor.Run(ctx, task, req, nil); err != nil {
			m.logger.Error("task execution aborted",
				zap.String("task_id", task.ID),
				zap.Error(err))
		}
	}()
	return nil
}

// Get returns the stored snapshot of a task
func (m *Manager) Get(ctx context.Context, id string) (*domain.Task, error) {
	return m.repo.LoadTask(ctx, id)
}

// Logs returns the event log of a task, empty when none is stored
func (m *Manager) Logs(ctx context.Context, id string) ([]domain.LogEntry, error) {
	entries, err := m.repo.LoadLogs(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.LogEntry{}, nil
	}
	return entries, err
}

// List returns the ids of every stored task
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.repo.ListTaskIDs(ctx)
}

// Delete removes a task with its request and log
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.repo.DeleteTask(ctx, id); err != nil {
		return err
	}
	m.logger.Info("task deleted", zap.String("task_id", id))
	return nil
}

// Replay returns a task with its sorted log and the replay duration at speed
func (m *Manager) Replay(ctx context.Context, id string, speed float64) (*ReplayData, error) {
	task, err := m.repo.LoadTask(ctx, id)
	if err != nil {
		return nil, err
	}

	logs, err := m.Logs(ctx, id)
	if err != nil {
		return nil, err
	}

	return &ReplayData{
		Task:     task,
		Logs:     logs,
		Speed:    speed,
		Duration: replay.Duration(logs, speed),
	}, nil
}

// ActiveExecutions returns the ids of running tasks
func (m *Manager) ActiveExecutions() []string {
	var ids []string
	m.executions.Range(func(key, value interface{}) bool {
		ids = append(ids, key.(string))
		return true
	})
	return ids
}

// Shutdown stops accepting tasks and waits for running executions until ctx
// expires
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("orchestrator manager shut down complete")
		return nil
	case <-ctx.Done():
		m.executions.Range(func(key, value interface{}) bool {
			exec := value.(*execution)
			m.logger.Warn("execution still running at shutdown",
				zap.String("task_id", exec.taskID),
				zap.Duration("running_for", time.Since(exec.startedAt)))
			return true
		})
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}
