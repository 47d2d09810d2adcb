package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"school-service/internal/metrics"
)

// Scope names a rate limit bucket with its own threshold.
type Scope string

const (
	ScopeGeneral   Scope = "general"
	ScopeSensitive Scope = "sensitive"
)

// Rule is the threshold for one scope.
type Rule struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultRules returns 100 requests per 15 minutes for general traffic and 10
// per 15 minutes for sensitive endpoints.
func DefaultRules() map[Scope]Rule {
	return map[Scope]Rule{
		ScopeGeneral:   {MaxRequests: 100, Window: 15 * time.Minute},
		ScopeSensitive: {MaxRequests: 10, Window: 15 * time.Minute},
	}
}

// Decision is the answer to one CheckAndConsume call.
type Decision struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, as sent in the
// Retry-After header.
func (d Decision) RetryAfterSeconds() int64 {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int64(math.Ceil(d.RetryAfter.Seconds()))
}

// Limiter applies fixed-window rules per (client, scope) pair on top of an
// injected WindowStore.
type Limiter struct {
	store WindowStore
	rules map[Scope]Rule
}

// NewLimiter validates rules and returns a limiter backed by store.
func NewLimiter(store WindowStore, rules map[Scope]Rule) (*Limiter, error) {
	copied := make(map[Scope]Rule, len(rules))
	for scope, r := range rules {
		if r.MaxRequests <= 0 || r.Window <= 0 {
			return nil, fmt.Errorf("%w: scope %s", ErrInvalidRule, scope)
		}
		copied[scope] = r
	}
	return &Limiter{store: store, rules: copied}, nil
}

// Rule returns the configured rule for scope.
func (l *Limiter) Rule(scope Scope) (Rule, bool) {
	r, ok := l.rules[scope]
	return r, ok
}

// CheckAndConsume counts one request for clientKey in scope. A rejected call
// does not increment the window.
func (l *Limiter) CheckAndConsume(ctx context.Context, clientKey string, scope Scope, now time.Time) (Decision, error) {
	rule, ok := l.rules[scope]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}

	res, err := l.store.Consume(ctx, WindowKey(clientKey, scope), rule.MaxRequests, rule.Window, now)
	if err != nil {
		return Decision{}, fmt.Errorf("consume %s window: %w", scope, err)
	}

	d := Decision{
		Allowed:   res.Allowed,
		Remaining: res.Remaining,
		Limit:     rule.MaxRequests,
		ResetAt:   res.ResetAt,
	}
	if !res.Allowed {
		d.RetryAfter = res.ResetAt.Sub(now)
		metrics.RateLimitRejectionsTotal.WithLabelValues(string(scope)).Inc()
	}
	return d, nil
}

// Peek returns the current window for clientKey in scope without counting.
func (l *Limiter) Peek(ctx context.Context, clientKey string, scope Scope, now time.Time) (RateWindow, bool, error) {
	return l.store.Peek(ctx, WindowKey(clientKey, scope), now)
}

// Reset drops the window for clientKey in scope.
func (l *Limiter) Reset(ctx context.Context, clientKey string, scope Scope) error {
	return l.store.Reset(ctx, WindowKey(clientKey, scope))
}

// WindowKey composes the scope key stored for a client.
func WindowKey(clientKey string, scope Scope) string {
	return clientKey + ":" + string(scope)
}
