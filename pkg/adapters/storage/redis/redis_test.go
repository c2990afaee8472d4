package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, zap.NewNop()), mr
}

func TestStoreKeyValue(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	_, err := s.Get(ctx, "task:missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Set(ctx, "task:1", []byte(`{"task_id":"1"}`), 7*24*time.Hour))
	require.NoError(t, s.Set(ctx, "task:2", []byte(`{"task_id":"2"}`), 0))
	require.NoError(t, s.Set(ctx, "task_request:1", []byte(`{}`), 0))

	got, err := s.Get(ctx, "task:1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"task_id":"1"}`, string(got))
	assert.Equal(t, 7*24*time.Hour, mr.TTL("task:1"))

	keys, err := s.ListKeys(ctx, "task:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"task:1", "task:2"}, keys)

	ok, err := s.Exists(ctx, "task:2")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "task:2", "task_request:1"))
	ok, err = s.Exists(ctx, "task:2")
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(8 * 24 * time.Hour)
	_, err = s.Get(ctx, "task:1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStorePubSub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, _ := newTestStore(t)

	sub, err := s.Subscribe(ctx, "task_updates:1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.Publish(ctx, "task_updates:1", []byte(`{"status":"in_progress"}`)))

	select {
	case msg := <-sub.Messages():
		assert.JSONEq(t, `{"status":"in_progress"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	require.NoError(t, sub.Close())
}

func TestStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	mr.Close()

	err := s.Set(ctx, "task:1", []byte("x"), 0)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = s.Get(ctx, "task:1")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), domain.ErrStoreUnavailable)
}
