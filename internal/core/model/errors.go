package model

import "errors"

// Error taxonomy for the control plane. Callers branch on these with
// errors.Is; everything else wraps one of them.
var (
	// ErrValidation marks a malformed request. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrRiskRejected marks an order that failed a risk rule.
	ErrRiskRejected = errors.New("risk check rejected")

	// ErrExchange marks a transient venue failure, retryable with
	// backoff and failover.
	ErrExchange = errors.New("exchange error")

	// ErrCircuitOpen is returned when a venue's breaker refuses the
	// call. Not counted as a fresh failure against the venue.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrEmergencyStop is the hard block raised before any mutating
	// operation when a matching stop is active.
	ErrEmergencyStop = errors.New("trading halted by emergency stop")

	// ErrPersistence wraps storage failures. The core performs no
	// compensating writes; callers treat the operation as not having
	// happened.
	ErrPersistence = errors.New("persistence error")

	// ErrExecutionCancelled resolves a cancelled in-flight execution.
	ErrExecutionCancelled = errors.New("execution cancelled")

	// ErrConcurrentExecution rejects a second simultaneous execution
	// of the same order id.
	ErrConcurrentExecution = errors.New("order execution already in flight")

	// ErrNotFound is returned by storage lookups with no match.
	ErrNotFound = errors.New("not found")
)
