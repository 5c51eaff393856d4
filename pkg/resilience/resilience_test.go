package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
)

var errFlaky = errors.New("flaky")

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "encode", fastRetry(3), func() error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "encode", fastRetry(2), func() error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 2, calls)
}

func TestRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "load", fastRetry(5), func() error {
		calls++
		return Permanent(apperrors.ErrModelLoad)
	})
	assert.ErrorIs(t, err, apperrors.ErrModelLoad)
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, "encode", fastRetry(5), func() error { return errFlaky })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var states []State
	cb := NewCircuitBreaker("embedder", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     10 * time.Millisecond,
		OnStateChange:    func(_ string, s State) { states = append(states, s) },
	})

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errFlaky })
	}
	assert.Equal(t, StateOpen, cb.Current())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.Current())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, states)
}

func TestCircuitBreakerIgnoredErrors(t *testing.T) {
	cb := NewCircuitBreaker("embedder", CircuitBreakerConfig{FailureThreshold: 1})
	ignore := func(err error) bool { return errors.Is(err, apperrors.ErrInvalidInput) }

	err := cb.ExecuteIgnoring(func() error { return apperrors.ErrInvalidInput }, ignore)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, StateClosed, cb.Current())
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 5*time.Millisecond, "search", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = WithTimeout(context.Background(), time.Second, "search", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestCircuitBreakerLimitsHalfOpenProbes(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("embedder", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(func() error { return errFlaky })
	require.Equal(t, StateOpen, cb.Current())

	now = now.Add(time.Second)
	require.NoError(t, cb.admit())
	assert.Equal(t, StateHalfOpen, cb.Current())
	assert.ErrorIs(t, cb.admit(), ErrCircuitOpen)

	cb.record(true)
	assert.Equal(t, StateOpen, cb.Current())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(7).String())
}

func TestRetryDelayIsCapped(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}.withDefaults()

	first := cfg.delay(1)
	assert.InDelta(t, float64(10*time.Millisecond), float64(first), float64(time.Millisecond))
	for attempt := 1; attempt <= 20; attempt++ {
		assert.LessOrEqual(t, cfg.delay(attempt), 50*time.Millisecond)
	}
}
