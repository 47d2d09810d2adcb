package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"school-service/internal/client"
	"school-service/internal/ratelimit"
	"school-service/internal/util"
)

const rateLimitPrefix = "rate_limit:"

// consumeScript applies the fixed window rule atomically. Times are unix
// milliseconds supplied by the caller so every replica shares one clock
// source per request.
var consumeScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

local h = redis.call('HMGET', key, 'count', 'start', 'reset')
local count = tonumber(h[1])
local reset = tonumber(h[3])

if count == nil or now >= reset then
	reset = now + window
	redis.call('HSET', key, 'count', 1, 'start', now, 'reset', reset)
	redis.call('PEXPIRE', key, window)
	return {1, 1, reset, now}
end

if count >= max then
	return {0, count, reset, tonumber(h[2])}
end

count = redis.call('HINCRBY', key, 'count', 1)
return {1, count, reset, tonumber(h[2])}
`)

// RateLimitCache is a ratelimit.WindowStore shared by every replica.
type RateLimitCache struct {
	client *client.RedisClient
}

var _ ratelimit.WindowStore = (*RateLimitCache)(nil)

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

func (c *RateLimitCache) Consume(ctx context.Context, key string, max int, window time.Duration, now time.Time) (ratelimit.Result, error) {
	res, err := c.client.RunScript(ctx, consumeScript, []string{rateLimitPrefix + key},
		now.UnixMilli(), window.Milliseconds(), max)
	if err != nil {
		util.Error("Failed to consume rate window",
			zap.String("key", key),
			zap.Int("max", max),
			zap.Error(err))
		return ratelimit.Result{}, fmt.Errorf("failed to consume rate window: %w", err)
	}

	vals, err := int64Slice(res, 4)
	if err != nil {
		return ratelimit.Result{}, fmt.Errorf("consume script: %w", err)
	}

	count := int(vals[1])
	remaining := max - count
	if remaining < 0 {
		remaining = 0
	}
	return ratelimit.Result{
		Allowed:   vals[0] == 1,
		Count:     count,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(vals[2]).UTC(),
	}, nil
}

func (c *RateLimitCache) Peek(ctx context.Context, key string, now time.Time) (ratelimit.RateWindow, bool, error) {
	h, err := c.client.HGetAll(ctx, rateLimitPrefix+key)
	if err != nil {
		return ratelimit.RateWindow{}, false, fmt.Errorf("failed to read rate window: %w", err)
	}
	if len(h) == 0 {
		return ratelimit.RateWindow{}, false, nil
	}

	count, err1 := strconv.Atoi(h["count"])
	start, err2 := strconv.ParseInt(h["start"], 10, 64)
	reset, err3 := strconv.ParseInt(h["reset"], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		util.Warn("Invalid rate window format", zap.String("key", key), zap.Any("fields", h))
		return ratelimit.RateWindow{}, false, nil
	}

	w := ratelimit.RateWindow{
		ScopeKey:    key,
		Count:       count,
		WindowStart: time.UnixMilli(start).UTC(),
		ResetAt:     time.UnixMilli(reset).UTC(),
	}
	if w.Expired(now) {
		return ratelimit.RateWindow{}, false, nil
	}
	return w, true, nil
}

func (c *RateLimitCache) Reset(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, rateLimitPrefix+key); err != nil {
		util.Error("Failed to reset rate window", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to reset rate window: %w", err)
	}
	return nil
}

// int64Slice converts a script reply of n integers. Lua nil entries map to 0.
func int64Slice(res interface{}, n int) ([]int64, error) {
	items, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected reply %T", res)
	}
	if len(items) < n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(items))
	}
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		switch v := items[i].(type) {
		case int64:
			out[i] = v
		case nil:
		default:
			return nil, fmt.Errorf("unexpected value %T at %d", v, i)
		}
	}
	return out, nil
}
