package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(5, time.Minute)
	require.Equal(t, BreakerClosed, cb.State())

	for i := 0; i < 4; i++ {
		require.True(t, cb.AllowExecution())
		cb.RecordFailure()
		assert.Equal(t, BreakerClosed, cb.State(), "failure %d must not open the breaker yet", i+1)
	}

	require.True(t, cb.AllowExecution())
	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())

	// Sixth attempt is refused without becoming a fresh failure.
	assert.False(t, cb.AllowExecution())
	assert.Equal(t, BreakerOpen, cb.State())
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(2, 30*time.Millisecond)
	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, BreakerOpen, cb.State())
	require.False(t, cb.AllowExecution())

	time.Sleep(40 * time.Millisecond)

	// Recovery elapsed: exactly one trial is admitted.
	require.True(t, cb.AllowExecution())
	assert.Equal(t, BreakerHalfOpen, cb.State())
	assert.False(t, cb.AllowExecution(), "second caller must not get a trial slot")

	cb.RecordSuccess()
	assert.Equal(t, BreakerClosed, cb.State())
	assert.True(t, cb.AllowExecution())
}

func TestCircuitBreakerFailedTrialReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 20*time.Millisecond)
	cb.RecordFailure()
	require.Equal(t, BreakerOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	require.True(t, cb.AllowExecution())
	require.Equal(t, BreakerHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.AllowExecution())
}
