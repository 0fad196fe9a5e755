package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, recovery time.Duration) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker(threshold, recovery)
	now := time.Unix(1000, 0)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_OpensOnThreshold(t *testing.T) {
	cb, _ := newTestBreaker(5, time.Minute)

	for i := 0; i < 4; i++ {
		require.NoError(t, cb.Allow())
		cb.RecordFailure()
		assert.Equal(t, CircuitClosed, cb.State(), "failure %d must not open yet", i+1)
	}

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsCounter(t *testing.T) {
	cb, _ := newTestBreaker(5, time.Minute)

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	cb.RecordSuccess()
	assert.Equal(t, 0, cb.FailureCount())

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitClosed, cb.State(), "counter restarted after success")
}

func TestCircuitBreaker_RecoveryBoundary(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)

	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(time.Minute - time.Millisecond)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen, "just before recovery timeout")

	*now = now.Add(2 * time.Millisecond)
	assert.NoError(t, cb.Allow(), "just after recovery timeout admits the probe")
	assert.Equal(t, CircuitHalfOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenSingleProbe(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)

	cb.RecordFailure()
	*now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Allow())

	// A second caller while the probe is in flight gets rejected.
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreaker_ProbeOutcomes(t *testing.T) {
	t.Run("successful probe closes", func(t *testing.T) {
		cb, now := newTestBreaker(1, time.Minute)
		cb.RecordFailure()
		*now = now.Add(2 * time.Minute)
		require.NoError(t, cb.Allow())

		cb.RecordSuccess()
		assert.Equal(t, CircuitClosed, cb.State())
		assert.Equal(t, 0, cb.FailureCount())
		assert.NoError(t, cb.Allow())
	})

	t.Run("failed probe reopens", func(t *testing.T) {
		cb, now := newTestBreaker(1, time.Minute)
		cb.RecordFailure()
		*now = now.Add(2 * time.Minute)
		require.NoError(t, cb.Allow())

		cb.RecordFailure()
		assert.Equal(t, CircuitOpen, cb.State())
		assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen, "recovery clock restarted")
	})
}

func TestCircuitBreaker_NeverJumpsClosedToHalfOpen(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	// While closed, Allow never transitions regardless of elapsed time.
	for i := 0; i < 10; i++ {
		require.NoError(t, cb.Allow())
		assert.Equal(t, CircuitClosed, cb.State())
	}
}
