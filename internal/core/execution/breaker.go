package execution

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state for one venue.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// CircuitBreaker tracks consecutive failures for one venue. After
// threshold consecutive failures it opens and rejects calls until the
// recovery interval elapses, then admits exactly one trial (half-open).
// A successful trial closes it; a failed trial reopens it.
//
// AllowExecution, RecordSuccess and RecordFailure are atomic with
// respect to each other.
type CircuitBreaker struct {
	mu            sync.Mutex
	state         BreakerState
	failures      int
	lastFailure   time.Time
	trialInFlight bool

	threshold int
	recovery  time.Duration
}

// NewCircuitBreaker builds a closed breaker. threshold must be >= 1.
func NewCircuitBreaker(threshold int, recovery time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{threshold: threshold, recovery: recovery}
}

// AllowExecution reports whether a call may proceed, transitioning
// OPEN -> HALF_OPEN once the recovery interval has elapsed. A true
// return from a half-open breaker claims the single trial slot.
func (cb *CircuitBreaker) AllowExecution() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(cb.lastFailure) >= cb.recovery {
			cb.state = BreakerHalfOpen
			cb.trialInFlight = true
			return true
		}
		return false
	case BreakerHalfOpen:
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true
	}
	return false
}

// RecordSuccess closes the breaker and clears the failure run.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failures = 0
	cb.trialInFlight = false
}

// RecordFailure notes one failed call. A half-open trial failure
// reopens immediately; otherwise the breaker opens once the run of
// consecutive failures reaches the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.state == BreakerHalfOpen {
		cb.state = BreakerOpen
		cb.trialInFlight = false
		return
	}
	if cb.failures >= cb.threshold {
		cb.state = BreakerOpen
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
