package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"school-service/internal/client"
	"school-service/internal/config"
	"school-service/internal/ratelimit"
)

// newTestClient connects to REDIS_URL or skips.
func newTestClient(t *testing.T) *client.RedisClient {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	cfg := &config.Config{Redis: config.RedisConfig{URL: url, PoolSize: 4}}
	c, err := client.NewRedisClient(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRateLimitCache_FixedWindow(t *testing.T) {
	cache := NewRateLimitCache(newTestClient(t))
	ctx := context.Background()
	key := "test:" + uuid.NewString()
	t.Cleanup(func() { _ = cache.Reset(ctx, key) })

	now := time.Now().UTC().Truncate(time.Millisecond)
	for i := 1; i <= 3; i++ {
		res, err := cache.Consume(ctx, key, 3, time.Minute, now)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 3-i, res.Remaining)
		assert.Equal(t, now.Add(time.Minute), res.ResetAt)
	}

	res, err := cache.Consume(ctx, key, 3, time.Minute, now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	w, found, err := cache.Peek(ctx, key, now.Add(time.Second))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, w.Count, "a rejection does not count")

	res, err = cache.Consume(ctx, key, 3, time.Minute, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Count)
}

func TestLockoutCache_LocksAtThreshold(t *testing.T) {
	cache := NewLockoutCache(newTestClient(t))
	ctx := context.Background()
	id := "test-" + uuid.NewString()
	t.Cleanup(func() { _ = cache.Clear(ctx, id) })

	now := time.Now().UTC().Truncate(time.Millisecond)
	var rec ratelimit.LockoutRecord
	for i := 0; i < 3; i++ {
		var err error
		rec, err = cache.Fail(ctx, id, 3, time.Minute, now)
		require.NoError(t, err)
	}
	assert.True(t, rec.Locked(now))

	r, err := cache.Fail(ctx, id, 3, time.Minute, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 3, r.FailureCount, "no-op while locked")
	assert.Equal(t, now.Add(time.Minute), r.LockedUntil)

	_, found, err := cache.Status(ctx, id, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLockoutCache_StatusKeepsRestartedRecord(t *testing.T) {
	cache := NewLockoutCache(newTestClient(t))
	ctx := context.Background()
	id := "test-" + uuid.NewString()
	t.Cleanup(func() { _ = cache.Clear(ctx, id) })

	now := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		_, err := cache.Fail(ctx, id, 3, time.Minute, now)
		require.NoError(t, err)
	}

	// the lock has passed: reads clear it while new failures restart it
	later := now.Add(2 * time.Minute)
	const failures = 40
	var g errgroup.Group
	for i := 0; i < failures; i++ {
		g.Go(func() error {
			_, err := cache.Fail(ctx, id, 100, time.Minute, later)
			return err
		})
		g.Go(func() error {
			_, _, err := cache.Status(ctx, id, later)
			return err
		})
	}
	require.NoError(t, g.Wait())

	rec, found, err := cache.Status(ctx, id, later)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, failures, rec.FailureCount)
	assert.False(t, rec.Locked(later))
}
