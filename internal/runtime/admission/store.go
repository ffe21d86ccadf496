package admission

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps one counter per key and window. Increment must be atomic per
// key: concurrent callers each observe a distinct count.
type Store interface {
	// Increment records one hit for key in the window starting at
	// windowStart and returns the count including it. A counter whose stored
	// window differs from windowStart starts again from zero.
	Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error)
}

type counter struct {
	windowStart time.Time
	windowEnd   time.Time
	count       int64
}

// MemoryStore is a process-local Store. Counters are not shared between
// replicas; use RedisStore for that.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryStore starts a janitor that evicts expired counters every
// interval. A non-positive interval disables the janitor.
func NewMemoryStore(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		counters: make(map[string]*counter),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if interval <= 0 {
		close(s.done)
		return s
	}
	go s.janitor(interval)
	return s
}

func (s *MemoryStore) Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		c = &counter{}
		s.counters[key] = c
	}
	if !c.windowStart.Equal(windowStart) {
		c.windowStart = windowStart
		c.windowEnd = windowStart.Add(window)
		c.count = 0
	}
	c.count++
	return c.count, nil
}

// Sweep evicts counters whose window ended at or before now and returns how
// many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, c := range s.counters {
		if !c.windowEnd.After(now) {
			delete(s.counters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live counters.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

func (s *MemoryStore) janitor(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

// RedisStore shares counters between replicas. Each window gets its own key,
// so a new window never sees the previous count and Redis expires old keys.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore uses client for counters under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "shopmesh:admission"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Increment(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	k := s.key(key, windowStart)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.PExpireAt(ctx, k, windowStart.Add(window))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("admission: redis increment: %w", err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) key(key string, windowStart time.Time) string {
	return s.prefix + ":" + key + ":" + strconv.FormatInt(windowStart.UnixMilli(), 10)
}
