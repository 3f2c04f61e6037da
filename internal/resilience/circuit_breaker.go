package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/lexiqai/speech-player/internal/observability"
)

// ErrCircuitOpen is returned by Call while the circuit rejects requests
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Circuit is open, requests fail immediately
	StateHalfOpen                     // Testing if service has recovered
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker fails session opens fast after repeated failures.
// It never retries; a rejected call returns ErrCircuitOpen.
type CircuitBreaker struct {
	name          string
	maxFailures   int           // Number of failures before opening circuit
	resetTimeout  time.Duration // Time to wait before attempting half-open
	halfOpenMax   int           // Max requests in half-open state
	halfOpenCount int           // Current requests in half-open state

	mu                sync.RWMutex
	state             CircuitState
	failureCount      int
	lastFailTime      time.Time
	successCount      int
	requestCount      int64
	failureCountTotal int64
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  1, // A single successful open closes the circuit again
		state:        StateClosed,
	}
}

// Name returns the breaker's service name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Call executes fn with circuit breaker protection. Failures for which
// counts returns false (e.g. caller cancellation) do not trip the circuit.
func (cb *CircuitBreaker) Call(fn func() error, counts func(error) bool) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil && counts != nil && !counts(err) {
		cb.release()
		return err
	}

	cb.RecordResult(err == nil)
	return err
}

// allowRequest checks if a request should be allowed
func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		// Circuit is open - check if we should transition to half-open
		if time.Since(cb.lastFailTime) >= cb.resetTimeout {
			cb.setState(StateHalfOpen)
			cb.halfOpenCount = 1
			cb.successCount = 0
			return true
		}
		return false

	case StateHalfOpen:
		if cb.halfOpenCount < cb.halfOpenMax {
			cb.halfOpenCount++
			return true
		}
		return false
	}

	return false
}

// release gives back a half-open probe slot without recording a result
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.halfOpenCount > 0 {
		cb.halfOpenCount--
	}
}

// RecordResult records the result of a request
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requestCount++

	if success {
		cb.recordSuccess()
	} else {
		cb.recordFailure()
	}
}

// recordSuccess records a successful request
func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case StateClosed:
		// Reset failure count on success
		cb.failureCount = 0

	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenMax {
			cb.setState(StateClosed)
			cb.failureCount = 0
			cb.halfOpenCount = 0
			cb.successCount = 0
		}
	}
}

// recordFailure records a failed request
func (cb *CircuitBreaker) recordFailure() {
	cb.failureCountTotal++
	cb.lastFailTime = time.Now()
	observability.IncrementCircuitBreakerFailures(cb.name)

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.maxFailures {
			cb.setState(StateOpen)
		}

	case StateHalfOpen:
		// Any failure in half-open immediately opens the circuit
		cb.setState(StateOpen)
		cb.halfOpenCount = 0
		cb.successCount = 0
	}
}

// setState must be called with mu held
func (cb *CircuitBreaker) setState(state CircuitState) {
	cb.state = state
	observability.UpdateCircuitBreakerState(cb.name, int(state))
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() (state CircuitState, requestCount, failureCount int64, failureRate float64) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	state = cb.state
	requestCount = cb.requestCount
	failureCount = cb.failureCountTotal

	if requestCount > 0 {
		failureRate = float64(failureCount) / float64(requestCount) * 100.0
	}

	return
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	cb.failureCount = 0
	cb.halfOpenCount = 0
	cb.successCount = 0
	cb.requestCount = 0
	cb.failureCountTotal = 0
}
