package state

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
	"go.uber.org/zap"
)

const (
	taskPrefix     = "task:"
	requestPrefix  = "task_request:"
	logsPrefix     = "task_logs:"
	updatesChannel = "task_updates:"
	logsChannel    = "task_logs:"
)

// TaskKey returns the snapshot key of a task.
func TaskKey(id string) string { return taskPrefix + id }

// RequestKey returns the key of the original submission.
func RequestKey(id string) string { return requestPrefix + id }

// LogsKey returns the event log key of a task.
func LogsKey(id string) string { return logsPrefix + id }

// UpdatesChannel returns the channel snapshots are published on.
func UpdatesChannel(id string) string { return updatesChannel + id }

// LogsChannel returns the channel log deltas are published on.
func LogsChannel(id string) string { return logsChannel + id }

// Repository is the typed view of the store used by the engine and the API.
type Repository struct {
	store   ports.Store
	ttl     time.Duration
	metrics ports.MetricsCollector
	logger  *zap.Logger

	mu   sync.Mutex
	last map[string][sha256.Size]byte
}

// NewRepository creates a repository writing values with ttl.
func NewRepository(store ports.Store, ttl time.Duration, metrics ports.MetricsCollector, logger *zap.Logger) *Repository {
	return &Repository{
		store:   store,
		ttl:     ttl,
		metrics: metrics,
		logger:  logger,
		last:    make(map[string][sha256.Size]byte),
	}
}

// SaveTask writes a full snapshot and publishes it on the updates channel.
func (r *Repository) SaveTask(ctx context.Context, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	written, err := r.put(ctx, "save_task", TaskKey(task.ID), data)
	if err != nil || !written {
		return err
	}

	if err := r.store.Publish(ctx, UpdatesChannel(task.ID), data); err != nil {
		r.unmark(TaskKey(task.ID))
		r.metrics.RecordStoreError("publish_task")
		return fmt.Errorf("failed to publish task update: %w", err)
	}
	return nil
}

// LoadTask reads a task snapshot. A missing key yields ErrTaskNotFound.
func (r *Repository) LoadTask(ctx context.Context, id string) (*domain.Task, error) {
	data, err := r.store.Get(ctx, TaskKey(id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
		}
		r.metrics.RecordStoreError("load_task")
		return nil, fmt.Errorf("failed to load task: %w", err)
	}

	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", id, err)
	}
	return &task, nil
}

// SaveRequest stores the original submission.
func (r *Repository) SaveRequest(ctx context.Context, id string, req *domain.TaskRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	_, err = r.put(ctx, "save_request", RequestKey(id), data)
	return err
}

// LoadRequest reads the original submission.
func (r *Repository) LoadRequest(ctx context.Context, id string) (*domain.TaskRequest, error) {
	data, err := r.store.Get(ctx, RequestKey(id))
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.metrics.RecordStoreError("load_request")
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	var req domain.TaskRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request %s: %w", id, err)
	}
	return &req, nil
}

// SaveLogs replaces the stored log with entries and publishes delta.
func (r *Repository) SaveLogs(ctx context.Context, id string, entries, delta []domain.LogEntry) error {
	if entries == nil {
		entries = []domain.LogEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal logs: %w", err)
	}

	if _, err := r.put(ctx, "save_logs", LogsKey(id), data); err != nil {
		return err
	}

	if len(delta) == 0 {
		return nil
	}
	payload, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("failed to marshal log delta: %w", err)
	}
	if err := r.store.Publish(ctx, LogsChannel(id), payload); err != nil {
		r.unmark(LogsKey(id))
		r.metrics.RecordStoreError("publish_logs")
		return fmt.Errorf("failed to publish log delta: %w", err)
	}
	return nil
}

// LoadLogs reads the stored event log in timestamp order.
func (r *Repository) LoadLogs(ctx context.Context, id string) ([]domain.LogEntry, error) {
	data, err := r.store.Get(ctx, LogsKey(id))
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.metrics.RecordStoreError("load_logs")
		}
		return nil, fmt.Errorf("failed to load logs: %w", err)
	}

	var entries []domain.LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal logs %s: %w", id, err)
	}
	domain.SortEntries(entries)
	return entries, nil
}

// SubscribeUpdates streams task snapshots.
func (r *Repository) SubscribeUpdates(ctx context.Context, id string) (ports.Subscription, error) {
	return r.store.Subscribe(ctx, UpdatesChannel(id))
}

// SubscribeLogs streams log deltas.
func (r *Repository) SubscribeLogs(ctx context.Context, id string) (ports.Subscription, error) {
	return r.store.Subscribe(ctx, LogsChannel(id))
}

// DeleteTask removes the snapshot, request and log of a task.
func (r *Repository) DeleteTask(ctx context.Context, id string) error {
	ok, err := r.store.Exists(ctx, TaskKey(id))
	if err != nil {
		r.metrics.RecordStoreError("exists")
		return fmt.Errorf("failed to check task: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}

	if err := r.store.Delete(ctx, TaskKey(id), RequestKey(id), LogsKey(id)); err != nil {
		r.metrics.RecordStoreError("delete")
		return fmt.Errorf("failed to delete task: %w", err)
	}
	r.Forget(id)
	return nil
}

// ListTaskIDs returns the ids of every stored task.
func (r *Repository) ListTaskIDs(ctx context.Context) ([]string, error) {
	keys, err := r.store.ListKeys(ctx, taskPrefix)
	if err != nil {
		r.metrics.RecordStoreError("list")
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if id := strings.TrimPrefix(k, taskPrefix); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Ping checks store reachability.
func (r *Repository) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// Forget drops the write-deduplication state of a task.
func (r *Repository) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.last, TaskKey(id))
	delete(r.last, RequestKey(id))
	delete(r.last, LogsKey(id))
}

// unmark drops the remembered hash of key so the next identical write goes
// through. A write only counts once it has also been published.
func (r *Repository) unmark(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.last, key)
}

// put writes data unless it equals the last successful write of key.
func (r *Repository) put(ctx context.Context, op, key string, data []byte) (bool, error) {
	sum := sha256.Sum256(data)

	r.mu.Lock()
	prev, seen := r.last[key]
	r.mu.Unlock()
	if seen && prev == sum {
		return false, nil
	}

	if err := r.store.Set(ctx, key, data, r.ttl); err != nil {
		r.metrics.RecordStoreError(op)
		r.logger.Warn("store write failed",
			zap.String("key", key),
			zap.Error(err))
		return false, fmt.Errorf("failed to write %s: %w", key, err)
	}

	r.mu.Lock()
	r.last[key] = sum
	r.mu.Unlock()
	return true, nil
}
