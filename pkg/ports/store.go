package ports

import (
	"context"
	"time"
)

// Store is a key-value store with TTL expiry and publish/subscribe.
//
// Get returns domain.ErrNotFound for absent keys. Transport failures are
// wrapped with domain.ErrStoreUnavailable.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Ping(ctx context.Context) error
}

// Subscription delivers messages published on one channel until closed.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}
