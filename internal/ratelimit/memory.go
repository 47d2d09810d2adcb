package ratelimit

import (
	"context"
	"sync"
	"time"

	"school-service/internal/bucketing"
)

const (
	defaultShards = 32
	// evictEvery is how many accesses a shard sees between expiry sweeps.
	evictEvery = 64
)

// MemoryStore is a process-local WindowStore. Keys are spread over shards by
// murmur3 hash and each shard has its own mutex, so requests from different
// clients rarely contend. Expired windows are evicted lazily on access; there
// is no background sweeper.
type MemoryStore struct {
	shards  []*windowShard
	buckets *bucketing.Buckets
}

type windowShard struct {
	mu       sync.Mutex
	windows  map[string]*RateWindow
	accesses int
}

// NewMemoryStore creates a store with the given number of shards. Values
// below one fall back to the default.
func NewMemoryStore(shards int) *MemoryStore {
	if shards < 1 {
		shards = defaultShards
	}
	s := &MemoryStore{
		shards:  make([]*windowShard, shards),
		buckets: bucketing.New(shards),
	}
	for i := range s.shards {
		s.shards[i] = &windowShard{windows: make(map[string]*RateWindow)}
	}
	return s
}

func (s *MemoryStore) Consume(ctx context.Context, key string, max int, window time.Duration, now time.Time) (Result, error) {
	if max <= 0 || window <= 0 {
		return Result{}, ErrInvalidRule
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	shard.evictExpired(now)

	w, res := consume(shard.windows[key], key, max, window, now)
	shard.windows[key] = w
	return res, nil
}

func (s *MemoryStore) Peek(ctx context.Context, key string, now time.Time) (RateWindow, bool, error) {
	if err := ctx.Err(); err != nil {
		return RateWindow{}, false, err
	}

	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	w, ok := shard.windows[key]
	if !ok {
		return RateWindow{}, false, nil
	}
	if w.Expired(now) {
		delete(shard.windows, key)
		return RateWindow{}, false, nil
	}
	return *w, true, nil
}

func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	shard := s.shardFor(key)
	shard.mu.Lock()
	delete(shard.windows, key)
	shard.mu.Unlock()
	return nil
}

// Len returns the number of windows currently held, expired or not.
func (s *MemoryStore) Len() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		n += len(shard.windows)
		shard.mu.Unlock()
	}
	return n
}

func (s *MemoryStore) shardFor(key string) *windowShard {
	return s.shards[s.buckets.For(key)]
}

// evictExpired must be called with mu held.
func (sh *windowShard) evictExpired(now time.Time) {
	sh.accesses++
	if sh.accesses%evictEvery != 0 {
		return
	}
	for k, w := range sh.windows {
		if w.Expired(now) {
			delete(sh.windows, k)
		}
	}
}
