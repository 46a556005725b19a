package eventpool

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

const (
	failureThreshold = 5
	recoveryTimeout  = 30 * time.Second
)

// CircuitBreaker gates batch flushes toward the event server. Five
// consecutive failures open it; after the recovery timeout one probe is
// allowed, and a single success closes it again.
type CircuitBreaker struct {
	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	now      func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{state: BreakerClosed, now: time.Now}
}

// CanExecute reports whether a flush may proceed. An open breaker whose
// recovery timeout has elapsed transitions to half-open and admits one
// probe.
func (b *CircuitBreaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= recoveryTimeout {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	}
	return false
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
}

// RecordFailure counts a failed flush. The half-open probe failing, or
// the threshold being reached, opens the breaker.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= failureThreshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// State returns the current state without side effects.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
