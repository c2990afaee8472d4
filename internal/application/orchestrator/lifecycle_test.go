package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aescanero/dagrun/internal/application/state"
	"github.com/aescanero/dagrun/internal/application/workers"
	promadapter "github.com/aescanero/dagrun/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/dagrun/pkg/adapters/storage/memory"
	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const finishedHeader = `
# HELP dagrun_tasks_finished_total Total number of tasks that reached a terminal status
# TYPE dagrun_tasks_finished_total counter
`

func TestLifecycleRecorderCountsFinishedTasks(t *testing.T) {
	h := newHarness(t, map[string]ports.Worker{"step": newRecorder("B")}, workers.DispatcherConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, NewLifecycleRecorder(h.bus, h.metrics, zap.NewNop()).Start(ctx))

	h.seed(t, st("A", "step"))
	task, err := h.executor.Execute(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, task.Status)

	terminal := h.bus.Published()[1]
	assert.Contains(t, terminal.Data, EventDataDurationKey)

	expected := finishedHeader + `dagrun_tasks_finished_total{status="completed"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(h.registry, strings.NewReader(expected), "dagrun_tasks_finished_total"))
}

func TestLifecycleRecorderIgnoresStartedEvents(t *testing.T) {
	registry := prometheus.NewRegistry()
	rec := NewLifecycleRecorder(nil, promadapter.NewCollector(registry), zap.NewNop())

	require.NoError(t, rec.handle(context.Background(), ports.Event{Type: ports.EventTypeTaskStarted, TaskID: "t"}))
	count, err := testutil.GatherAndCount(registry, "dagrun_tasks_finished_total")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Terminal events without data are still counted.
	require.NoError(t, rec.handle(context.Background(), ports.Event{Type: ports.EventTypeTaskFailed, TaskID: "t"}))
	expected := finishedHeader + `dagrun_tasks_finished_total{status="unknown"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "dagrun_tasks_finished_total"))
}

func TestExecutorWithoutBusRecordsDirectly(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := promadapter.NewCollector(registry)
	repo := state.NewRepository(memory.NewStore(), time.Hour, metrics, zap.NewNop())
	reg, err := workers.NewRegistry(map[string]ports.Worker{"step": newRecorder()})
	require.NoError(t, err)
	executor := NewExecutor(repo, workers.NewDispatcher(reg, workers.DispatcherConfig{}, metrics, zap.NewNop()), nil, metrics, zap.NewNop())

	task := domain.NewTask("task-1", []domain.Subtask{st("A", "step")}, time.Now())
	_, err = executor.Run(context.Background(), task, &domain.TaskRequest{Task: "test"}, nil)
	require.NoError(t, err)

	expected := finishedHeader + `dagrun_tasks_finished_total{status="completed"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "dagrun_tasks_finished_total"))
}
