// Package fault implements the protective layer around the upstream call:
// a circuit breaker, a token-bucket rate limiter, and a status/message error
// classifier (spec.md §4.7).
package fault

import (
	"sync"
	"time"

	"github.com/vendorgate/gateway/internal/config"
)

// State is a circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker implements the standard closed/open/half-open circuit breaker
// (spec.md §4.7 "Circuit breaker").
type Breaker struct {
	mu                sync.Mutex
	state             State
	failures          int
	halfOpenSuccesses int
	openedAt          time.Time

	failureThreshold   int
	resetTimeout       time.Duration
	halfOpenSuccessReq int
}

// NewBreaker creates a breaker with the spec-mandated default thresholds.
func NewBreaker() *Breaker {
	return &Breaker{
		state:              StateClosed,
		failureThreshold:   config.DefaultBreakerFailureThreshold,
		resetTimeout:       config.DefaultBreakerResetTimeout,
		halfOpenSuccessReq: config.DefaultBreakerHalfOpenSuccesses,
	}
}

// CanExecute reports whether a request may proceed: always true in
// CLOSED/HALF_OPEN, and true in OPEN only once the reset window has
// elapsed (which also transitions the state to HALF_OPEN).
func (b *Breaker) CanExecute(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) >= b.resetTimeout {
			b.state = StateHalfOpen
			b.halfOpenSuccesses = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess notes a successful call.
func (b *Breaker) RecordSuccess(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.halfOpenSuccessReq {
			b.state = StateClosed
			b.failures = 0
			b.halfOpenSuccesses = 0
		}
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure notes a failed call.
func (b *Breaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.halfOpenSuccesses = 0
	case StateClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = StateOpen
			b.openedAt = now
		}
	}
}

// CurrentState reports the breaker's state, for diagnostics.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
