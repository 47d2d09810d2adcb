package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"school-service/internal/client"
	"school-service/internal/ratelimit"
	"school-service/internal/util"
)

const lockoutPrefix = "login_lockout:"

// failScript mirrors MemoryLockoutStore.Fail. Unlocked records expire after
// the lockout duration without further failures.
var failScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])
local lockout = tonumber(ARGV[3])

local h = redis.call('HMGET', key, 'failures', 'last', 'locked_until')
local failures = tonumber(h[1])
local locked = tonumber(h[3]) or 0

if failures ~= nil and locked > 0 and now < locked then
	return {failures, tonumber(h[2]), locked}
end
if failures == nil or locked > 0 then
	failures = 0
	locked = 0
end

failures = failures + 1
if failures >= threshold then
	locked = now + lockout
end
redis.call('HSET', key, 'failures', failures, 'last', now, 'locked_until', locked)
redis.call('PEXPIRE', key, lockout)
return {failures, now, locked}
`)

// statusScript reads a record and drops it once its lock has passed. Reading
// and clearing in one script keeps a concurrent Fail that restarted the
// record from being wiped.
var statusScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])

local h = redis.call('HMGET', key, 'failures', 'last', 'locked_until')
local failures = tonumber(h[1])
if failures == nil then
	return {}
end
local locked = tonumber(h[3]) or 0
if locked > 0 and now >= locked then
	redis.call('DEL', key)
	return {}
end
return {failures, tonumber(h[2]) or 0, locked}
`)

// LockoutCache is a ratelimit.LockoutStore shared by every replica.
type LockoutCache struct {
	client *client.RedisClient
}

var _ ratelimit.LockoutStore = (*LockoutCache)(nil)

func NewLockoutCache(client *client.RedisClient) *LockoutCache {
	return &LockoutCache{client: client}
}

func (c *LockoutCache) Fail(ctx context.Context, identifier string, threshold int, lockout time.Duration, now time.Time) (ratelimit.LockoutRecord, error) {
	res, err := c.client.RunScript(ctx, failScript, []string{lockoutPrefix + identifier},
		now.UnixMilli(), threshold, lockout.Milliseconds())
	if err != nil {
		util.Error("Failed to record login failure", zap.String("identifier", identifier), zap.Error(err))
		return ratelimit.LockoutRecord{}, fmt.Errorf("failed to record login failure: %w", err)
	}

	vals, err := int64Slice(res, 3)
	if err != nil {
		return ratelimit.LockoutRecord{}, fmt.Errorf("fail script: %w", err)
	}
	return record(identifier, vals[0], vals[1], vals[2]), nil
}

func (c *LockoutCache) Status(ctx context.Context, identifier string, now time.Time) (ratelimit.LockoutRecord, bool, error) {
	res, err := c.client.RunScript(ctx, statusScript, []string{lockoutPrefix + identifier}, now.UnixMilli())
	if err != nil {
		return ratelimit.LockoutRecord{}, false, fmt.Errorf("failed to read lockout: %w", err)
	}
	if items, ok := res.([]interface{}); ok && len(items) == 0 {
		return ratelimit.LockoutRecord{}, false, nil
	}

	vals, err := int64Slice(res, 3)
	if err != nil {
		return ratelimit.LockoutRecord{}, false, fmt.Errorf("status script: %w", err)
	}
	return record(identifier, vals[0], vals[1], vals[2]), true, nil
}

func (c *LockoutCache) Clear(ctx context.Context, identifier string) error {
	if err := c.client.Del(ctx, lockoutPrefix+identifier); err != nil {
		return fmt.Errorf("failed to clear lockout: %w", err)
	}
	return nil
}

func record(identifier string, failures, lastMs, lockedMs int64) ratelimit.LockoutRecord {
	rec := ratelimit.LockoutRecord{
		Identifier:    identifier,
		FailureCount:  int(failures),
		LastFailureAt: time.UnixMilli(lastMs).UTC(),
	}
	if lockedMs > 0 {
		rec.LockedUntil = time.UnixMilli(lockedMs).UTC()
	}
	return rec
}
