package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/dagrun/internal/application/state"
	"github.com/aescanero/dagrun/internal/application/workers"
	eventsmemory "github.com/aescanero/dagrun/pkg/adapters/events/memory"
	promadapter "github.com/aescanero/dagrun/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/dagrun/pkg/adapters/storage/memory"
	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	store    *memory.Store
	repo     *state.Repository
	bus      *eventsmemory.InMemoryEventBus
	registry *prometheus.Registry
	metrics  *promadapter.Collector
	executor *Executor
}

func newHarness(t *testing.T, ws map[string]ports.Worker, cfg workers.DispatcherConfig) *harness {
	t.Helper()
	registry := prometheus.NewRegistry()
	metrics := promadapter.NewCollector(registry)
	store := memory.NewStore()
	repo := state.NewRepository(store, time.Hour, metrics, zap.NewNop())

	reg, err := workers.NewRegistry(ws)
	require.NoError(t, err)
	dispatcher := workers.NewDispatcher(reg, cfg, metrics, zap.NewNop())
	bus := eventsmemory.NewInMemoryEventBus()

	return &harness{
		store:    store,
		repo:     repo,
		bus:      bus,
		registry: registry,
		metrics:  metrics,
		executor: NewExecutor(repo, dispatcher, bus, metrics, zap.NewNop()),
	}
}

func (h *harness) seed(t *testing.T, subtasks ...domain.Subtask) *domain.Task {
	t.Helper()
	task := domain.NewTask("task-1", subtasks, time.Now())
	ctx := context.Background()
	require.NoError(t, h.repo.SaveTask(ctx, task))
	require.NoError(t, h.repo.SaveRequest(ctx, task.ID, &domain.TaskRequest{Task: "test task"}))
	return task
}

func st(id, kind string, deps ...string) domain.Subtask {
	s := domain.Subtask{ID: id, Type: kind}
	for _, d := range deps {
		s.Dependencies = append(s.Dependencies, domain.Dependency{SubtaskID: d})
	}
	return s
}

// recorder is a worker that logs invocations and fails selected ids.
type recorder struct {
	mu     sync.Mutex
	calls  []string
	inputs map[string]map[string]interface{}
	fail   map[string]bool
}

func newRecorder(fail ...string) *recorder {
	r := &recorder{inputs: make(map[string]map[string]interface{}), fail: make(map[string]bool)}
	for _, id := range fail {
		r.fail[id] = true
	}
	return r
}

func (r *recorder) Execute(ctx context.Context, subtask domain.Subtask, input map[string]interface{}) (domain.Outcome, error) {
	r.mu.Lock()
	r.calls = append(r.calls, subtask.ID)
	r.inputs[subtask.ID] = input
	r.mu.Unlock()

	if r.fail[subtask.ID] {
		return domain.Outcome{}, errors.New("simulated failure")
	}
	return domain.Completed(subtask.ID + " done"), nil
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func indexOf(list []string, v string) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}

func diamond() []domain.Subtask {
	return []domain.Subtask{
		st("A", "step"),
		st("B", "step"),
		st("C", "step", "A", "B"),
		st("D", "step", "C"),
	}
}

func TestExecuteRespectsDependencies(t *testing.T) {
	rec := newRecorder()
	h := newHarness(t, map[string]ports.Worker{"step": rec}, workers.DispatcherConfig{})
	h.seed(t, diamond()...)

	task, err := h.executor.Execute(context.Background(), "task-1")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, task.Status)
	assert.Equal(t, 1.0, task.Progress)
	assert.Contains(t, task.Result, "# Task Execution Summary")

	calls := rec.Calls()
	require.Len(t, calls, 4)
	assert.Less(t, indexOf(calls, "A"), indexOf(calls, "C"))
	assert.Less(t, indexOf(calls, "B"), indexOf(calls, "C"))
	assert.Less(t, indexOf(calls, "C"), indexOf(calls, "D"))

	results := rec.inputs["C"][domain.InputSubtaskResults].([]domain.SubtaskResult)
	ids := []string{results[0].ID, results[1].ID}
	sort.Strings(ids)
	assert.Equal(t, []string{"A", "B"}, ids)
	assert.Equal(t, "test task", rec.inputs["A"][domain.InputTask])
}

func TestExecuteDependencyFailure(t *testing.T) {
	rec := newRecorder("B")
	h := newHarness(t, map[string]ports.Worker{"step": rec}, workers.DispatcherConfig{})
	h.seed(t, diamond()...)

	task, err := h.executor.Execute(context.Background(), "task-1")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Equal(t, "one or more subtasks failed", task.Error)

	a, _ := task.Subtask("A")
	assert.Equal(t, domain.StatusCompleted, a.Status)
	assert.Equal(t, "A done", a.Result)

	b, _ := task.Subtask("B")
	assert.Equal(t, domain.StatusFailed, b.Status)
	assert.Contains(t, b.Error, "simulated failure")

	for _, id := range []string{"C", "D"} {
		s, _ := task.Subtask(id)
		assert.Equal(t, domain.StatusFailed, s.Status, id)
		assert.Equal(t, "dependency failed", s.Error, id)
	}

	calls := rec.Calls()
	sort.Strings(calls)
	assert.Equal(t, []string{"A", "B"}, calls, "blocked subtasks must not reach a worker")
	assert.Equal(t, 0.25, task.Progress)

	stored, err := h.repo.LoadTask(context.Background(), "task-1")
	require.NoError(t, err)
	storedA, _ := stored.Subtask("A")
	assert.Equal(t, domain.StatusCompleted, storedA.Status)
	assert.Equal(t, domain.StatusFailed, stored.Status)
}

func TestExecuteMissingWorker(t *testing.T) {
	rec := newRecorder()
	h := newHarness(t, map[string]ports.Worker{"step": rec}, workers.DispatcherConfig{})
	h.seed(t, st("X", "unknown"), st("Y", "step", "X"), st("Z", "step"))

	task, err := h.executor.Execute(context.Background(), "task-1")
	require.NoError(t, err)

	x, _ := task.Subtask("X")
	assert.Equal(t, domain.StatusFailed, x.Status)
	assert.Equal(t, "no worker available for type: unknown", x.Error)

	y, _ := task.Subtask("Y")
	assert.Equal(t, "dependency failed", y.Error)

	z, _ := task.Subtask("Z")
	assert.Equal(t, domain.StatusCompleted, z.Status, "independent work still runs")
	assert.Equal(t, []string{"Z"}, rec.Calls())

	logs, err := h.repo.LoadLogs(context.Background(), "task-1")
	require.NoError(t, err)
	var sawFailure bool
	for _, e := range logs {
		if e.SubtaskID != "X" {
			continue
		}
		assert.NotEqual(t, domain.ActionStarted, e.Action)
		if e.Action == domain.ActionFailed {
			sawFailure = true
			assert.Contains(t, e.Details, "no worker available")
		}
	}
	assert.True(t, sawFailure)
}

func TestRootSubtasksStartTogether(t *testing.T) {
	var (
		mu      sync.Mutex
		started int
		release = make(chan struct{})
	)
	barrier := ports.WorkerFunc(func(ctx context.Context, s domain.Subtask, in map[string]interface{}) (domain.Outcome, error) {
		mu.Lock()
		started++
		if started == 3 {
			close(release)
		}
		mu.Unlock()

		select {
		case <-release:
			return domain.Completed("ok"), nil
		case <-time.After(2 * time.Second):
			return domain.Failed("roots were not started concurrently"), nil
		}
	})

	h := newHarness(t, map[string]ports.Worker{"root": barrier}, workers.DispatcherConfig{})
	h.seed(t, st("r1", "root"), st("r2", "root"), st("r3", "root"))

	task, err := h.executor.Execute(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, task.Status)
}

func TestProgressNeverDecreases(t *testing.T) {
	h := newHarness(t, map[string]ports.Worker{"step": newRecorder()}, workers.DispatcherConfig{})
	h.seed(t, diamond()...)

	sub, err := h.repo.SubscribeUpdates(context.Background(), "task-1")
	require.NoError(t, err)
	defer sub.Close()

	_, err = h.executor.Execute(context.Background(), "task-1")
	require.NoError(t, err)

	var snapshots []domain.Task
	for {
		select {
		case msg := <-sub.Messages():
			var task domain.Task
			require.NoError(t, json.Unmarshal(msg, &task))
			snapshots = append(snapshots, task)
			continue
		default:
		}
		break
	}

	require.NotEmpty(t, snapshots)
	for i := 1; i < len(snapshots); i++ {
		assert.GreaterOrEqual(t, snapshots[i].Progress, snapshots[i-1].Progress)
	}
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, domain.StatusCompleted, last.Status)
	assert.Equal(t, 1.0, last.Progress)
}

func TestExecuteTaskNotFound(t *testing.T) {
	h := newHarness(t, nil, workers.DispatcherConfig{})

	_, err := h.executor.Execute(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestRunWithUnavailableStore(t *testing.T) {
	h := newHarness(t, map[string]ports.Worker{"step": newRecorder()}, workers.DispatcherConfig{})
	task := domain.NewTask("task-1", diamond(), time.Now())
	h.store.SetUnavailable(true)

	out, err := h.executor.Run(context.Background(), task, &domain.TaskRequest{Task: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, out.Status)
	assert.Equal(t, 0, h.store.Writes())
}

func TestRunRejectsMalformedSnapshot(t *testing.T) {
	h := newHarness(t, map[string]ports.Worker{"step": newRecorder()}, workers.DispatcherConfig{})
	task := &domain.Task{ID: "bad", Subtasks: []domain.Subtask{
		{ID: "a", Type: "step", Status: domain.StatusPending, Dependencies: []domain.Dependency{{SubtaskID: "ghost"}}},
	}}

	out, err := h.executor.Run(context.Background(), task, nil, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Equal(t, domain.StatusFailed, out.Status)
	assert.Equal(t, domain.StatusFailed, out.Subtasks[0].Status)
}

func TestLifecycleEvents(t *testing.T) {
	h := newHarness(t, map[string]ports.Worker{"step": newRecorder("A")}, workers.DispatcherConfig{})
	h.seed(t, st("A", "step"))

	_, err := h.executor.Execute(context.Background(), "task-1")
	require.NoError(t, err)

	events := h.bus.Published()
	require.Len(t, events, 2)
	assert.Equal(t, ports.EventTypeTaskStarted, events[0].Type)
	assert.Equal(t, ports.EventTypeTaskFailed, events[1].Type)
	assert.Equal(t, "task-1", events[1].TaskID)
}

type stuckBackend struct {
	mu      sync.Mutex
	removed int
}

func (b *stuckBackend) Start(ctx context.Context, req ports.IsolationRequest) (string, error) {
	return "worker-" + req.WorkerType + "-stuck", nil
}

func (b *stuckBackend) Status(ctx context.Context, handle string) (ports.IsolationStatus, error) {
	return ports.IsolationStatus{}, nil
}

func (b *stuckBackend) Result(ctx context.Context, handle string) (ports.IsolationResult, error) {
	return ports.IsolationResult{}, errors.New("still running")
}

func (b *stuckBackend) Remove(ctx context.Context, handle string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed++
	return nil
}

func TestIsolationTimeout(t *testing.T) {
	backend := &stuckBackend{}
	h := newHarness(t, nil, workers.DispatcherConfig{
		Backend:       backend,
		IsolatedTypes: []string{"sandboxed"},
		PollInterval:  5 * time.Millisecond,
		Timeout:       40 * time.Millisecond,
	})
	h.seed(t, st("S", "sandboxed"))

	task, err := h.executor.Execute(context.Background(), "task-1")
	require.NoError(t, err)

	require.Len(t, task.Subtasks, 1)
	s := task.Subtasks[0]
	assert.Equal(t, domain.StatusFailed, s.Status)
	assert.Contains(t, s.Error, "isolation timeout")
	assert.Empty(t, s.ContainerID)
	assert.Equal(t, 1, backend.removed)

	logs, err := h.repo.LoadLogs(context.Background(), "task-1")
	require.NoError(t, err)
	var actions []domain.Action
	for _, e := range logs {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, domain.ActionContainerStarted)
	assert.Contains(t, actions, domain.ActionContainerFailed)
	assert.Equal(t, domain.ActionTaskFailed, actions[len(actions)-1])
}
