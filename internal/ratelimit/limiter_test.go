package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func newTestLimiter(t *testing.T, general, sensitive int) *Limiter {
	t.Helper()
	l, err := NewLimiter(NewMemoryStore(4), map[Scope]Rule{
		ScopeGeneral:   {MaxRequests: general, Window: 15 * time.Minute},
		ScopeSensitive: {MaxRequests: sensitive, Window: 15 * time.Minute},
	})
	require.NoError(t, err)
	return l
}

func TestLimiter_AdmitsExactlyMax(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, 5, 2)

	for i := 1; i <= 5; i++ {
		d, err := l.CheckAndConsume(ctx, "1.2.3.4", ScopeGeneral, t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 5-i, d.Remaining)
		assert.Equal(t, 5, d.Limit)
	}

	d, err := l.CheckAndConsume(ctx, "1.2.3.4", ScopeGeneral, t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, t0.Add(time.Second+15*time.Minute), d.ResetAt)
	assert.Equal(t, 15*time.Minute-9*time.Second, d.RetryAfter)

	w, ok, err := l.Peek(ctx, "1.2.3.4", ScopeGeneral, t0.Add(11*time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, w.Count, "rejections must not increment")
	assert.Equal(t, w.ResetAt, w.LockedUntil)
}

func TestLimiter_FreshWindowAfterExpiry(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, 2, 2)

	for i := 0; i < 3; i++ {
		_, err := l.CheckAndConsume(ctx, "c", ScopeGeneral, t0)
		require.NoError(t, err)
	}

	// resetAt itself counts as expired
	d, err := l.CheckAndConsume(ctx, "c", ScopeGeneral, t0.Add(15*time.Minute))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)

	w, ok, err := l.Peek(ctx, "c", ScopeGeneral, t0.Add(15*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, w.Count)
	assert.Equal(t, t0.Add(15*time.Minute), w.WindowStart)
}

func TestLimiter_ScopesAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(t, 10, 1)

	d, err := l.CheckAndConsume(ctx, "c", ScopeSensitive, t0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.CheckAndConsume(ctx, "c", ScopeSensitive, t0)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = l.CheckAndConsume(ctx, "c", ScopeGeneral, t0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.CheckAndConsume(ctx, "other", ScopeSensitive, t0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_UnknownScope(t *testing.T) {
	l := newTestLimiter(t, 1, 1)
	_, err := l.CheckAndConsume(context.Background(), "c", Scope("uploads"), t0)
	assert.ErrorIs(t, err, ErrUnknownScope)
}

func TestNewLimiter_RejectsInvalidRule(t *testing.T) {
	_, err := NewLimiter(NewMemoryStore(1), map[Scope]Rule{ScopeGeneral: {MaxRequests: 0, Window: time.Minute}})
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestLimiter_ConcurrentNeverOverAdmits(t *testing.T) {
	ctx := context.Background()
	const max = 50
	l := newTestLimiter(t, max, max)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				d, err := l.CheckAndConsume(ctx, "hot", ScopeGeneral, t0)
				if err == nil && d.Allowed {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(max), admitted.Load())
}

func TestDecision_RetryAfterSeconds(t *testing.T) {
	assert.Equal(t, int64(900), Decision{RetryAfter: 15 * time.Minute}.RetryAfterSeconds())
	assert.Equal(t, int64(1), Decision{RetryAfter: 10 * time.Millisecond}.RetryAfterSeconds())
	assert.Equal(t, int64(0), Decision{}.RetryAfterSeconds())
}

func TestMemoryStore_LazyEviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(1)

	for i := 0; i < evictEvery-1; i++ {
		_, err := s.Consume(ctx, fmt.Sprintf("k%d", i), 10, time.Minute, t0)
		require.NoError(t, err)
	}
	assert.Equal(t, evictEvery-1, s.Len())

	// the next access triggers a sweep of the shard
	_, err := s.Consume(ctx, "late", 10, time.Minute, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewMemoryStore(1)
	_, err := s.Consume(ctx, "k", 1, time.Minute, t0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_Reset(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	_, err := s.Consume(ctx, "k", 1, time.Minute, t0)
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx, "k"))
	res, err := s.Consume(ctx, "k", 1, time.Minute, t0)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
