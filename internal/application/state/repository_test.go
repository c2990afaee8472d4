package state

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	promadapter "github.com/aescanero/dagrun/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/dagrun/pkg/adapters/storage/memory"
	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRepository(t *testing.T) (*Repository, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	metrics := promadapter.NewCollector(prometheus.NewRegistry())
	return NewRepository(store, time.Hour, metrics, zap.NewNop()), store
}

func sampleTask() *domain.Task {
	return domain.NewTask("t1", []domain.Subtask{
		{ID: "a", Type: "web_research"},
		{ID: "b", Type: "content_creation", Dependencies: []domain.Dependency{{SubtaskID: "a"}}},
	}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestSaveAndLoadTask(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	task := sampleTask()
	require.NoError(t, repo.SaveTask(ctx, task))

	loaded, err := repo.LoadTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, task.ID, loaded.ID)
	assert.Len(t, loaded.Subtasks, 2)
	assert.Equal(t, []string{"a"}, loaded.Subtasks[1].DependencyIDs())
}

func TestLoadTaskNotFound(t *testing.T) {
	repo, _ := newTestRepository(t)

	_, err := repo.LoadTask(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestSaveTaskPublishesSnapshot(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	sub, err := repo.SubscribeUpdates(ctx, "t1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, repo.SaveTask(ctx, sampleTask()))

	var got domain.Task
	require.NoError(t, json.Unmarshal(receive(t, sub.Messages()), &got))
	assert.Equal(t, "t1", got.ID)
}

func TestSaveTaskSkipsIdenticalWrites(t *testing.T) {
	ctx := context.Background()
	repo, store := newTestRepository(t)

	sub, err := repo.SubscribeUpdates(ctx, "t1")
	require.NoError(t, err)
	defer sub.Close()

	task := sampleTask()
	require.NoError(t, repo.SaveTask(ctx, task))
	require.NoError(t, repo.SaveTask(ctx, task))
	assert.Equal(t, 1, store.Writes())

	receive(t, sub.Messages())
	select {
	case <-sub.Messages():
		t.Fatal("identical snapshot must not be republished")
	case <-time.After(50 * time.Millisecond):
	}

	task.Progress = 0.5
	require.NoError(t, repo.SaveTask(ctx, task))
	assert.Equal(t, 2, store.Writes())
}

// publishFailStore fails the next n publishes and passes everything else through.
type publishFailStore struct {
	*memory.Store

	mu sync.Mutex
	n  int
}

func (s *publishFailStore) Publish(ctx context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	if s.n > 0 {
		s.n--
		s.mu.Unlock()
		return errors.New("publish down")
	}
	s.mu.Unlock()
	return s.Store.Publish(ctx, channel, payload)
}

func TestSaveTaskRetriesAfterPublishFailure(t *testing.T) {
	ctx := context.Background()
	store := &publishFailStore{Store: memory.NewStore(), n: 1}
	metrics := promadapter.NewCollector(prometheus.NewRegistry())
	repo := NewRepository(store, time.Hour, metrics, zap.NewNop())

	sub, err := repo.SubscribeUpdates(ctx, "t1")
	require.NoError(t, err)
	defer sub.Close()

	task := sampleTask()
	assert.Error(t, repo.SaveTask(ctx, task))
	require.NoError(t, repo.SaveTask(ctx, task))

	var got domain.Task
	require.NoError(t, json.Unmarshal(receive(t, sub.Messages()), &got))
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, 2, store.Writes())
}

func TestSaveLogsRetriesAfterPublishFailure(t *testing.T) {
	ctx := context.Background()
	store := &publishFailStore{Store: memory.NewStore(), n: 1}
	metrics := promadapter.NewCollector(prometheus.NewRegistry())
	repo := NewRepository(store, time.Hour, metrics, zap.NewNop())

	sub, err := repo.SubscribeLogs(ctx, "t1")
	require.NoError(t, err)
	defer sub.Close()

	entries := []domain.LogEntry{{Timestamp: time.Now(), SubtaskID: "a", Action: domain.ActionStarted}}
	assert.Error(t, repo.SaveLogs(ctx, "t1", entries, entries))
	require.NoError(t, repo.SaveLogs(ctx, "t1", entries, entries))

	var delta []domain.LogEntry
	require.NoError(t, json.Unmarshal(receive(t, sub.Messages()), &delta))
	assert.Len(t, delta, 1)
}

func TestSaveTaskStoreUnavailable(t *testing.T) {
	repo, store := newTestRepository(t)
	store.SetUnavailable(true)

	err := repo.SaveTask(context.Background(), sampleTask())
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	// A failed write must not be remembered as the last one.
	store.SetUnavailable(false)
	require.NoError(t, repo.SaveTask(context.Background(), sampleTask()))
	assert.Equal(t, 1, store.Writes())
}

func TestLogsRoundTripAndDelta(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	sub, err := repo.SubscribeLogs(ctx, "t1")
	require.NoError(t, err)
	defer sub.Close()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []domain.LogEntry{
		{Timestamp: base.Add(time.Second), SubtaskID: "b", Action: domain.ActionStarted},
		{Timestamp: base, SubtaskID: "a", Action: domain.ActionStarted},
	}
	require.NoError(t, repo.SaveLogs(ctx, "t1", entries, entries[:1]))

	var delta []domain.LogEntry
	require.NoError(t, json.Unmarshal(receive(t, sub.Messages()), &delta))
	require.Len(t, delta, 1)
	assert.Equal(t, "b", delta[0].SubtaskID)

	loaded, err := repo.LoadLogs(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "a", loaded[0].SubtaskID)
}

func TestLoadLogsMissing(t *testing.T) {
	repo, _ := newTestRepository(t)

	_, err := repo.LoadLogs(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRequestRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	req := &domain.TaskRequest{Task: "research go", Context: map[string]interface{}{"lang": "go"}}
	require.NoError(t, repo.SaveRequest(ctx, "t1", req))

	loaded, err := repo.LoadRequest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "research go", loaded.Task)
	assert.Equal(t, "go", loaded.Context["lang"])
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	task := sampleTask()
	require.NoError(t, repo.SaveTask(ctx, task))
	require.NoError(t, repo.SaveRequest(ctx, task.ID, &domain.TaskRequest{Task: "x"}))
	require.NoError(t, repo.SaveLogs(ctx, task.ID, nil, nil))

	ids, err := repo.ListTaskIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, ids)

	require.NoError(t, repo.DeleteTask(ctx, "t1"))
	_, err = repo.LoadTask(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	_, err = repo.LoadRequest(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, repo.DeleteTask(ctx, "t1"), domain.ErrTaskNotFound)
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "task:x", TaskKey("x"))
	assert.Equal(t, "task_request:x", RequestKey("x"))
	assert.Equal(t, "task_logs:x", LogsKey("x"))
	assert.Equal(t, "task_updates:x", UpdatesChannel("x"))
	assert.Equal(t, "task_logs:x", LogsChannel("x"))
}
