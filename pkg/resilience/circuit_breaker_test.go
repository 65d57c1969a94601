package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

var errBoom = errors.New("boom")

func fail(context.Context) error { return errBoom }
func pass(context.Context) error { return nil }

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	clock := &fakeNow{t: time.Unix(1000, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		OpenTimeout:      time.Second,
		Now:              clock.now,
	})

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errBoom)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errBoom)
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), pass)
	require.ErrorIs(t, err, ErrCircuitOpen)

	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "test", openErr.Name)
	assert.Equal(t, time.Second, openErr.RetryAfter)
}

func TestCircuitBreakerHalfOpenClosesOnSuccess(t *testing.T) {
	clock := &fakeNow{t: time.Unix(1000, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      time.Second,
		Now:              clock.now,
	})

	_ = cb.Execute(context.Background(), fail)
	clock.advance(time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), pass))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeNow{t: time.Unix(1000, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenTimeout:      time.Second,
		Now:              clock.now,
	})

	_ = cb.Execute(context.Background(), fail)
	clock.advance(time.Second)
	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreakerIgnoresNeutralErrors(t *testing.T) {
	errClient := errors.New("client error")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, errClient) },
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errClient })
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerDefaultIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	_ = cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.Equal(t, CircuitClosed, cb.State())
}
