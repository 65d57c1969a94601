package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError reports a short-circuited call and when the breaker probes again.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	retryAfter := max(e.RetryAfter, 0)
	if e.Name == "" {
		return fmt.Sprintf("%v: retry in %s", ErrCircuitOpen, retryAfter)
	}
	return fmt.Sprintf("%v for %s: retry in %s", ErrCircuitOpen, e.Name, retryAfter)
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

type CircuitBreakerState string

const (
	CircuitClosed   CircuitBreakerState = "closed"
	CircuitOpen     CircuitBreakerState = "open"
	CircuitHalfOpen CircuitBreakerState = "half_open"
)

type CircuitBreakerConfig struct {
	Name              string
	FailureThreshold  int
	SuccessThreshold  int
	OpenTimeout       time.Duration
	HalfOpenMaxFlight int

	// IsFailure decides whether an error counts against the breaker.
	// Defaults to every non-nil error except context cancellation.
	IsFailure func(error) bool

	// Now overrides the time source.
	Now func() time.Time
}

// CircuitBreaker stops calling a failing dependency for OpenTimeout after
// FailureThreshold consecutive failures, then lets a limited number of probes through.
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg CircuitBreakerConfig

	state        CircuitBreakerState
	failures     int
	successes    int
	openUntil    time.Time
	halfInFlight int
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	if cfg.HalfOpenMaxFlight <= 0 {
		cfg.HalfOpenMaxFlight = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed}
}

func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refreshLocked(cb.cfg.Now())
	return cb.state
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.cfg.Now()
	cb.refreshLocked(now)

	switch cb.state {
	case CircuitOpen:
		return cb.openErrLocked(now)
	case CircuitHalfOpen:
		if cb.halfInFlight >= cb.cfg.HalfOpenMaxFlight {
			return cb.openErrLocked(now)
		}
		cb.halfInFlight++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	halfOpen := cb.state == CircuitHalfOpen
	if halfOpen && cb.halfInFlight > 0 {
		cb.halfInFlight--
	}

	switch {
	case err != nil && cb.cfg.IsFailure(err):
		cb.failures++
		if halfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.resetLocked(CircuitOpen)
			cb.openUntil = cb.cfg.Now().Add(cb.cfg.OpenTimeout)
		}
	case err != nil:
		// neutral outcome, e.g. caller cancellation
	case halfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.resetLocked(CircuitClosed)
		}
	default:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) refreshLocked(now time.Time) {
	if cb.state == CircuitOpen && !now.Before(cb.openUntil) {
		cb.resetLocked(CircuitHalfOpen)
	}
}

func (cb *CircuitBreaker) resetLocked(state CircuitBreakerState) {
	cb.state = state
	cb.failures = 0
	cb.successes = 0
	cb.halfInFlight = 0
}

func (cb *CircuitBreaker) openErrLocked(now time.Time) error {
	return &CircuitOpenError{
		Name:       cb.cfg.Name,
		RetryAfter: max(cb.openUntil.Sub(now), 0),
	}
}
