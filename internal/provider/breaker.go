package provider

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Fantasim/btcoracle/internal/config"
)

// StateChangeFunc is notified after a breaker changes state. It runs with the
// breaker locked and must not call back into it.
type StateChangeFunc func(provider, from, to string, consecutiveFails int)

// CircuitBreaker stops calling a provider after threshold consecutive
// failures. Once cooldown has elapsed it lets a limited number of probe calls
// through (half-open); a probe success closes it, a probe failure reopens it.
type CircuitBreaker struct {
	mu               sync.Mutex
	name             string
	state            string
	consecutiveFails int
	threshold        int
	cooldown         time.Duration
	lastFailure      time.Time
	halfOpenAllowed  int
	halfOpenCount    int
	onChange         StateChangeFunc
}

// NewCircuitBreaker creates a closed breaker for the named provider.
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration, onChange StateChangeFunc) *CircuitBreaker {
	return &CircuitBreaker{
		name:            name,
		state:           config.CircuitClosed,
		threshold:       threshold,
		cooldown:        cooldown,
		halfOpenAllowed: config.CircuitBreakerHalfOpenMax,
		onChange:        onChange,
	}
}

// Allow reports whether a call may be made now.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case config.CircuitClosed:
		return true
	case config.CircuitOpen:
		if time.Since(cb.lastFailure) < cb.cooldown {
			return false
		}
		cb.transition(config.CircuitHalfOpen)
		cb.halfOpenCount = 1
		return true
	case config.CircuitHalfOpen:
		if cb.halfOpenCount < cb.halfOpenAllowed {
			cb.halfOpenCount++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.halfOpenCount = 0
	cb.transition(config.CircuitClosed)
}

// RecordFailure counts a failure and opens the breaker when due.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = time.Now()

	if cb.state == config.CircuitHalfOpen || cb.consecutiveFails >= cb.threshold {
		cb.halfOpenCount = 0
		cb.transition(config.CircuitOpen)
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to string) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	slog.Info("circuit breaker state changed",
		"provider", cb.name,
		"from", from,
		"to", to,
		"consecutiveFails", cb.consecutiveFails,
	)

	if cb.onChange != nil {
		cb.onChange(cb.name, from, to, cb.consecutiveFails)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current failure count.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFails
}
