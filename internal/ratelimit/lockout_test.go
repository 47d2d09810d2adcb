package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_LocksAtThreshold(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryLockoutStore(), 5, 30*time.Minute)

	for i := 1; i <= 4; i++ {
		st, err := tr.RecordFailure(ctx, "jdoe", t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, st.Allowed)
		assert.Equal(t, 5-i, st.RemainingAttempts)
		assert.Nil(t, st.LockedUntil)
	}

	fifth := t0.Add(5 * time.Second)
	st, err := tr.RecordFailure(ctx, "jdoe", fifth)
	require.NoError(t, err)
	assert.False(t, st.Allowed)
	require.NotNil(t, st.LockedUntil)
	assert.Equal(t, fifth.Add(30*time.Minute), *st.LockedUntil)

	st, err = tr.CheckStatus(ctx, "jdoe", fifth.Add(29*time.Minute))
	require.NoError(t, err)
	assert.False(t, st.Allowed)
	assert.Equal(t, 0, st.RemainingAttempts)

	other, err := tr.CheckStatus(ctx, "asmith", fifth)
	require.NoError(t, err)
	assert.True(t, other.Allowed)
	assert.Equal(t, 5, other.RemainingAttempts)
}

func TestTracker_FailureWhileLockedIsNoop(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryLockoutStore(), 2, time.Minute)

	_, _ = tr.RecordFailure(ctx, "jdoe", t0)
	st, err := tr.RecordFailure(ctx, "jdoe", t0)
	require.NoError(t, err)
	lockedUntil := *st.LockedUntil

	st, err = tr.RecordFailure(ctx, "jdoe", t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, st.Allowed)
	assert.Equal(t, lockedUntil, *st.LockedUntil)

	rec, ok, err := tr.Record(ctx, "jdoe", t0.Add(30*time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, rec.FailureCount)
	assert.Equal(t, t0, rec.LastFailureAt)
}

func TestTracker_ExpiredLockIsCleared(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryLockoutStore(), 2, time.Minute)

	_, _ = tr.RecordFailure(ctx, "jdoe", t0)
	_, _ = tr.RecordFailure(ctx, "jdoe", t0)

	st, err := tr.CheckStatus(ctx, "jdoe", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, st.Allowed)
	assert.Equal(t, 2, st.RemainingAttempts)

	_, ok, err := tr.Record(ctx, "jdoe", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	st, err = tr.RecordFailure(ctx, "jdoe", t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, st.Allowed)
	assert.Equal(t, 1, st.RemainingAttempts)
}

func TestTracker_FailureAfterExpiryRestartsCount(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryLockoutStore(), 2, time.Minute)

	_, _ = tr.RecordFailure(ctx, "jdoe", t0)
	_, _ = tr.RecordFailure(ctx, "jdoe", t0)

	// no CheckStatus in between: Fail itself restarts the expired record
	st, err := tr.RecordFailure(ctx, "jdoe", t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, st.Allowed)
	assert.Equal(t, 1, st.RemainingAttempts)
}

func TestTracker_SuccessResets(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryLockoutStore(), 3, time.Minute)

	_, _ = tr.RecordFailure(ctx, "jdoe", t0)
	_, _ = tr.RecordFailure(ctx, "jdoe", t0)
	require.NoError(t, tr.RecordSuccess(ctx, "jdoe"))

	st, err := tr.CheckStatus(ctx, "jdoe", t0)
	require.NoError(t, err)
	assert.True(t, st.Allowed)
	assert.Equal(t, 3, st.RemainingAttempts)

	// success also lifts an active lock
	for i := 0; i < 3; i++ {
		_, _ = tr.RecordFailure(ctx, "jdoe", t0)
	}
	require.NoError(t, tr.RecordSuccess(ctx, "jdoe"))
	st, err = tr.CheckStatus(ctx, "jdoe", t0)
	require.NoError(t, err)
	assert.True(t, st.Allowed)
}

func TestTracker_NormalizesIdentifier(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryLockoutStore(), 2, time.Minute)

	_, _ = tr.RecordFailure(ctx, " JDoe ", t0)
	st, err := tr.RecordFailure(ctx, "jdoe", t0)
	require.NoError(t, err)
	assert.False(t, st.Allowed)

	_, err = tr.CheckStatus(ctx, "   ", t0)
	assert.ErrorIs(t, err, ErrEmptyIdentifier)
}

func TestNewTracker_Defaults(t *testing.T) {
	tr := NewTracker(NewMemoryLockoutStore(), 0, 0)
	assert.Equal(t, 5, tr.Threshold())
	assert.Equal(t, 30*time.Minute, tr.duration)
}
