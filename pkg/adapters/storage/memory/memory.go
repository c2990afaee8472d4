package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
)

// Store implements ports.Store using an in-memory map.
// TTLs are honoured lazily on read. SetUnavailable simulates an outage.
type Store struct {
	mu          sync.RWMutex
	values      map[string]entry
	subscribers map[string][]*subscription
	unavailable bool
	writes      int
	now         func() time.Time
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// NewStore creates a new in-memory store
func NewStore() *Store {
	return &Store{
		values:      make(map[string]entry),
		subscribers: make(map[string][]*subscription),
		now:         time.Now,
	}
}

// SetUnavailable makes every subsequent operation fail with ErrStoreUnavailable
func (s *Store) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = down
}

// Writes returns how many Set calls reached the store
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *Store) check(op string) error {
	if s.unavailable {
		return fmt.Errorf("memory %s: %w", op, domain.ErrStoreUnavailable)
	}
	return nil
}

// Get returns the value stored under key
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check("get"); err != nil {
		return nil, err
	}
	e, ok := s.values[key]
	if !ok || s.expired(e) {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrNotFound)
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores a copy of value under key
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("set"); err != nil {
		return err
	}
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.values[key] = e
	s.writes++
	return nil
}

// Delete removes keys
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("delete"); err != nil {
		return err
	}
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

// Exists checks if key is present
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check("exists"); err != nil {
		return false, err
	}
	e, ok := s.values[key]
	return ok && !s.expired(e), nil
}

// ListKeys returns every live key starting with prefix, sorted
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check("list"); err != nil {
		return nil, err
	}
	var keys []string
	for k, e := range s.values {
		if strings.HasPrefix(k, prefix) && !s.expired(e) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Publish delivers payload to current subscribers of channel
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	s.mu.RLock()
	if err := s.check("publish"); err != nil {
		s.mu.RUnlock()
		return err
	}
	subs := append([]*subscription(nil), s.subscribers[channel]...)
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(append([]byte(nil), payload...))
	}
	return nil
}

// Subscribe registers a subscriber on channel
func (s *Store) Subscribe(ctx context.Context, channel string) (ports.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("subscribe"); err != nil {
		return nil, err
	}
	sub := &subscription{
		store:   s,
		channel: channel,
		out:     make(chan []byte, 256),
	}
	s.subscribers[channel] = append(s.subscribers[channel], sub)

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	return sub, nil
}

// Ping reports availability
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check("ping")
}

func (s *Store) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}

func (s *Store) unsubscribe(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[sub.channel]
	for i, candidate := range subs {
		if candidate == sub {
			s.subscribers[sub.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(s.subscribers[sub.channel]) == 0 {
		delete(s.subscribers, sub.channel)
	}
}

type subscription struct {
	store   *Store
	channel string
	out     chan []byte
	mu      sync.Mutex
	closed  bool
}

func (s *subscription) deliver(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- payload:
	default:
		// Slow subscriber, drop like Redis does for a saturated client
	}
}

// Messages returns the delivery channel
func (s *subscription) Messages() <-chan []byte {
	return s.out
}

// Close unsubscribes and closes the delivery channel
func (s *subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.out)
	s.mu.Unlock()

	s.store.unsubscribe(s)
	return nil
}
