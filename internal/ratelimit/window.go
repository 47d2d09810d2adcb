package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownScope = errors.New("unknown rate limit scope")
	ErrInvalidRule  = errors.New("invalid rate limit rule")
)

// RateWindow tracks request volume for one scope key. Count never exceeds the
// configured maximum while the window is open; an expired window is replaced,
// never incremented.
type RateWindow struct {
	ScopeKey    string
	Count       int
	WindowStart time.Time
	ResetAt     time.Time
	// LockedUntil is set once Count reaches the maximum and equals ResetAt.
	LockedUntil time.Time
}

// Expired reports whether now is at or past ResetAt.
func (w RateWindow) Expired(now time.Time) bool {
	return !now.Before(w.ResetAt)
}

// Result is the outcome of one Consume call.
type Result struct {
	Allowed   bool
	Count     int
	Remaining int
	ResetAt   time.Time
}

// WindowStore holds fixed windows keyed by scope key. Consume must check and
// increment atomically per key.
type WindowStore interface {
	Consume(ctx context.Context, key string, max int, window time.Duration, now time.Time) (Result, error)
	Peek(ctx context.Context, key string, now time.Time) (RateWindow, bool, error)
	Reset(ctx context.Context, key string) error
}

// consume applies the fixed window rule to w in place. It returns the
// possibly replaced window and the result.
func consume(w *RateWindow, key string, max int, window time.Duration, now time.Time) (*RateWindow, Result) {
	if w == nil || w.Expired(now) {
		w = &RateWindow{
			ScopeKey:    key,
			Count:       1,
			WindowStart: now,
			ResetAt:     now.Add(window),
		}
		if w.Count >= max {
			w.LockedUntil = w.ResetAt
		}
		return w, Result{Allowed: true, Count: 1, Remaining: max - 1, ResetAt: w.ResetAt}
	}

	if w.Count >= max {
		return w, Result{Allowed: false, Count: w.Count, Remaining: 0, ResetAt: w.ResetAt}
	}

	w.Count++
	if w.Count >= max {
		w.LockedUntil = w.ResetAt
	}
	return w, Result{Allowed: true, Count: w.Count, Remaining: max - w.Count, ResetAt: w.ResetAt}
}
