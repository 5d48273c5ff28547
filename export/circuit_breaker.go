package export

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CircuitBreaker prevents cascading failures when a Sink's backing
// store is unavailable. Three states: closed (normal), open (failing
// fast), half-open (probing for recovery).
type CircuitBreaker struct {
	mu            sync.RWMutex
	maxFailures   int
	resetTimeout  time.Duration
	failures      int
	lastFailTime  time.Time
	state         string // "closed", "open", "half-open"
	onStateChange func(from, to string)
}

// NewCircuitBreaker creates a breaker that opens after maxFailures
// consecutive failures and probes for recovery after resetTimeout.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        "closed",
	}
}

// WithStateChangeCallback adds a callback invoked on every state transition.
func (cb *CircuitBreaker) WithStateChangeCallback(fn func(from, to string)) *CircuitBreaker {
	cb.onStateChange = fn
	return cb
}

// Execute runs fn if the circuit is closed or half-open, otherwise
// fails fast.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.allow() {
		return fmt.Errorf("circuit breaker open (state=%s): %w", cb.State(), ErrUnavailable)
	}
	err := fn()
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case "open":
		if time.Since(cb.lastFailTime) > cb.resetTimeout {
			cb.setState("half-open")
			return true
		}
		return false
	case "half-open":
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailTime = time.Now()
		if cb.failures >= cb.maxFailures && cb.state != "open" {
			cb.setState("open")
		}
		return
	}
	if cb.state == "half-open" {
		cb.setState("closed")
	}
	cb.failures = 0
}

func (cb *CircuitBreaker) setState(newState string) {
	oldState := cb.state
	cb.state = newState
	if cb.onStateChange != nil {
		cb.onStateChange(oldState, newState)
	}
}

// State returns the current state: "closed", "open", or "half-open".
func (cb *CircuitBreaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the circuit back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.setState("closed")
}

// Failures returns the current consecutive-failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// BreakerSink wraps a Sink so repeated failures against its backing
// store fail fast instead of piling up latency, e.g. for an S3Sink
// whose bucket has become unreachable.
type BreakerSink struct {
	inner   Sink
	breaker *CircuitBreaker
}

// NewBreakerSink wraps inner with a circuit breaker that opens after
// maxFailures consecutive errors and probes for recovery every
// resetTimeout.
func NewBreakerSink(inner Sink, maxFailures int, resetTimeout time.Duration) *BreakerSink {
	return &BreakerSink{inner: inner, breaker: NewCircuitBreaker(maxFailures, resetTimeout)}
}

func (s *BreakerSink) Write(ctx context.Context, name string, data []byte) error {
	return s.breaker.Execute(ctx, func() error {
		return s.inner.Write(ctx, name, data)
	})
}

func (s *BreakerSink) Read(ctx context.Context, name string) ([]byte, error) {
	var out []byte
	err := s.breaker.Execute(ctx, func() error {
		data, err := s.inner.Read(ctx, name)
		out = data
		return err
	})
	return out, err
}
