package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store implements ports.Store using Redis
type Store struct {
	client *redis.Client
	logger *zap.Logger
}

// NewStore creates a new Redis store
func NewStore(client *redis.Client, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
	}
}

// Get returns the value stored under key
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%s: %w", key, domain.ErrNotFound)
		}
		return nil, unavailable("get", key, err)
	}
	return data, nil
}

// Set stores value under key with a TTL (0 means no expiry)
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", key, err)
	}

	s.logger.Debug("key saved",
		zap.String("key", key),
		zap.Int("bytes", len(value)),
		zap.Duration("ttl", ttl))

	return nil
}

// Delete removes keys
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return unavailable("delete", strings.Join(keys, ","), err)
	}
	return nil
}

// Exists checks if key is present
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("exists", key, err)
	}
	return n > 0, nil
}

// ListKeys returns every key starting with prefix
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	pattern := prefix + "*"

	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, unavailable("scan", pattern, err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// Publish sends payload to every subscriber of channel
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return unavailable("publish", channel, err)
	}
	return nil
}

// Subscribe listens on channel until the subscription is closed or ctx ends
func (s *Store) Subscribe(ctx context.Context, channel string) (ports.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channel)

	// Wait for the subscription to be confirmed so no publish is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, unavailable("subscribe", channel, err)
	}

	sub := &subscription{
		pubsub: pubsub,
		out:    make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go sub.forward(ctx)

	s.logger.Debug("subscribed to channel", zap.String("channel", channel))

	return sub, nil
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", "", err)
	}
	return nil
}

type subscription struct {
	pubsub *redis.PubSub
	out    chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) forward(ctx context.Context) {
	defer close(s.out)

	in := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}
}

// Messages returns the delivery channel; it is closed when the subscription ends
func (s *subscription) Messages() <-chan []byte {
	return s.out
}

// Close unsubscribes
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("redis %s %s: %w: %w", op, key, domain.ErrStoreUnavailable, err)
}
