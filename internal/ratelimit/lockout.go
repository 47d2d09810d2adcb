package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"school-service/internal/metrics"
)

var ErrEmptyIdentifier = errors.New("empty lockout identifier")

// LockoutRecord tracks authentication failures for one identifier.
type LockoutRecord struct {
	Identifier    string    `json:"identifier"`
	FailureCount  int       `json:"failure_count"`
	LastFailureAt time.Time `json:"last_failure_at"`
	LockedUntil   time.Time `json:"locked_until,omitempty"`
}

// Locked reports whether the record blocks attempts at now.
func (r LockoutRecord) Locked(now time.Time) bool {
	return !r.LockedUntil.IsZero() && now.Before(r.LockedUntil)
}

// LockoutStatus is what callers of the tracker see.
type LockoutStatus struct {
	Allowed           bool       `json:"allowed"`
	RemainingAttempts int        `json:"remaining_attempts"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
}

// LockoutStore keeps lockout records. Fail is atomic per identifier: it is a
// no-op while the record is locked, restarts an expired record, and sets
// LockedUntil when the count reaches threshold. Status clears an expired lock
// before answering.
type LockoutStore interface {
	Fail(ctx context.Context, identifier string, threshold int, lockout time.Duration, now time.Time) (LockoutRecord, error)
	Status(ctx context.Context, identifier string, now time.Time) (LockoutRecord, bool, error)
	Clear(ctx context.Context, identifier string) error
}

// MemoryLockoutStore is the process-local LockoutStore.
type MemoryLockoutStore struct {
	mu      sync.Mutex
	records map[string]*LockoutRecord
}

func NewMemoryLockoutStore() *MemoryLockoutStore {
	return &MemoryLockoutStore{records: make(map[string]*LockoutRecord)}
}

func (s *MemoryLockoutStore) Fail(ctx context.Context, identifier string, threshold int, lockout time.Duration, now time.Time) (LockoutRecord, error) {
	if err := ctx.Err(); err != nil {
		return LockoutRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identifier]
	if ok && rec.Locked(now) {
		return *rec, nil
	}
	if !ok || !rec.LockedUntil.IsZero() {
		rec = &LockoutRecord{Identifier: identifier}
		s.records[identifier] = rec
	}

	rec.FailureCount++
	rec.LastFailureAt = now
	if rec.FailureCount >= threshold {
		rec.LockedUntil = now.Add(lockout)
	}
	return *rec, nil
}

func (s *MemoryLockoutStore) Status(ctx context.Context, identifier string, now time.Time) (LockoutRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return LockoutRecord{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identifier]
	if !ok {
		return LockoutRecord{}, false, nil
	}
	if !rec.LockedUntil.IsZero() && !rec.Locked(now) {
		delete(s.records, identifier)
		return LockoutRecord{}, false, nil
	}
	return *rec, true, nil
}

func (s *MemoryLockoutStore) Clear(ctx context.Context, identifier string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.records, identifier)
	s.mu.Unlock()
	return nil
}

// Tracker applies the lockout policy on top of a LockoutStore. It is advisory:
// an attacker rotating identifiers is not slowed by any single record.
type Tracker struct {
	store     LockoutStore
	threshold int
	duration  time.Duration
}

// NewTracker returns a tracker locking an identifier for duration after
// threshold consecutive failures.
func NewTracker(store LockoutStore, threshold int, duration time.Duration) *Tracker {
	if threshold <= 0 {
		threshold = 5
	}
	if duration <= 0 {
		duration = 30 * time.Minute
	}
	return &Tracker{store: store, threshold: threshold, duration: duration}
}

func (t *Tracker) Threshold() int { return t.threshold }

// CheckStatus reports whether identifier may attempt to authenticate.
func (t *Tracker) CheckStatus(ctx context.Context, identifier string, now time.Time) (LockoutStatus, error) {
	id, err := normalize(identifier)
	if err != nil {
		return LockoutStatus{}, err
	}
	rec, ok, err := t.store.Status(ctx, id, now)
	if err != nil {
		return LockoutStatus{}, fmt.Errorf("lockout status: %w", err)
	}
	if !ok {
		return LockoutStatus{Allowed: true, RemainingAttempts: t.threshold}, nil
	}
	return t.status(rec, now), nil
}

// RecordFailure counts a failed attempt. While locked it changes nothing.
func (t *Tracker) RecordFailure(ctx context.Context, identifier string, now time.Time) (LockoutStatus, error) {
	id, err := normalize(identifier)
	if err != nil {
		return LockoutStatus{}, err
	}
	rec, err := t.store.Fail(ctx, id, t.threshold, t.duration, now)
	if err != nil {
		return LockoutStatus{}, fmt.Errorf("record lockout failure: %w", err)
	}
	if rec.FailureCount == t.threshold && rec.LastFailureAt.Equal(now) {
		metrics.LockoutsTotal.Inc()
	}
	return t.status(rec, now), nil
}

// RecordSuccess deletes the record for identifier.
func (t *Tracker) RecordSuccess(ctx context.Context, identifier string) error {
	id, err := normalize(identifier)
	if err != nil {
		return err
	}
	if err := t.store.Clear(ctx, id); err != nil {
		return fmt.Errorf("clear lockout: %w", err)
	}
	return nil
}

// Record returns the raw record for identifier, if any.
func (t *Tracker) Record(ctx context.Context, identifier string, now time.Time) (LockoutRecord, bool, error) {
	id, err := normalize(identifier)
	if err != nil {
		return LockoutRecord{}, false, err
	}
	return t.store.Status(ctx, id, now)
}

func (t *Tracker) status(rec LockoutRecord, now time.Time) LockoutStatus {
	if rec.Locked(now) {
		until := rec.LockedUntil
		return LockoutStatus{Allowed: false, RemainingAttempts: 0, LockedUntil: &until}
	}
	remaining := t.threshold - rec.FailureCount
	if remaining < 0 {
		remaining = 0
	}
	return LockoutStatus{Allowed: true, RemainingAttempts: remaining}
}

// NormalizeIdentifier trims and lower-cases a login identifier.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func normalize(identifier string) (string, error) {
	id := NormalizeIdentifier(identifier)
	if id == "" {
		return "", ErrEmptyIdentifier
	}
	return id, nil
}
