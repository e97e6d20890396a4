package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) (*Executor, *time.Time) {
	t.Helper()
	b, now := newTestBreaker(t)
	e := NewExecutor(b, RetrySettings{
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		CallTimeout: 50 * time.Millisecond,
	})
	e.sleep = func(time.Duration) {}
	return e, now
}

func boolFallback(valid bool) func(context.Context, error) (bool, error) {
	return func(context.Context, error) (bool, error) { return valid, nil }
}

func TestExecuteReturnsResultOnSuccess(t *testing.T) {
	e, _ := newTestExecutor(t)

	got, err := Execute(context.Background(), e,
		func(context.Context) (bool, error) { return true, nil },
		boolFallback(false),
	)
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, StateClosed, e.Breaker().State())
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	e, _ := newTestExecutor(t)

	calls := 0
	got, err := Execute(context.Background(), e,
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("connection reset")
			}
			return "ok", nil
		},
		func(context.Context, error) (string, error) { return "degraded", nil },
	)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestExecuteFallsBackWhenRetriesExhausted(t *testing.T) {
	e, _ := newTestExecutor(t)

	calls := 0
	var fallbackErr error
	got, err := Execute(context.Background(), e,
		func(context.Context) (bool, error) {
			calls++
			return false, errors.New("http 500")
		},
		func(_ context.Context, cause error) (bool, error) {
			fallbackErr = cause
			return true, nil
		},
	)
	require.NoError(t, err)
	assert.True(t, got, "fallback result must be returned")
	assert.Equal(t, 3, calls)
	require.Error(t, fallbackErr)
	assert.Contains(t, fallbackErr.Error(), "http 500")
}

func TestExecuteShortCircuitsWhenOpen(t *testing.T) {
	e, _ := newTestExecutor(t)

	// Trip the breaker with five failed calls.
	for i := 0; i < 5; i++ {
		e.Breaker().Allow()
		e.Breaker().RecordFailure()
	}
	require.Equal(t, StateOpen, e.Breaker().State())

	calls := 0
	got, err := Execute(context.Background(), e,
		func(context.Context) (bool, error) {
			calls++
			return false, errors.New("should not run")
		},
		func(_ context.Context, cause error) (bool, error) {
			assert.ErrorIs(t, cause, ErrOpen)
			return true, nil
		},
	)
	require.NoError(t, err)
	assert.True(t, got)
	assert.Zero(t, calls, "open breaker must not attempt the real call")
}

func TestExecuteStopsRetryingOnceBreakerOpens(t *testing.T) {
	e, _ := newTestExecutor(t)

	// Four prior failures: the next recorded failure trips the breaker,
	// so the retry loop must stop after a single attempt.
	for i := 0; i < 4; i++ {
		e.Breaker().Allow()
		e.Breaker().RecordFailure()
	}

	calls := 0
	_, err := Execute(context.Background(), e,
		func(context.Context) (bool, error) {
			calls++
			return false, errors.New("still down")
		},
		boolFallback(false),
	)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateOpen, e.Breaker().State())
}

func TestExecuteTimeoutCountsAsFailure(t *testing.T) {
	e, _ := newTestExecutor(t)

	var fallbackErr error
	_, err := Execute(context.Background(), e,
		func(ctx context.Context) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		},
		func(_ context.Context, cause error) (bool, error) {
			fallbackErr = cause
			return false, nil
		},
	)
	require.NoError(t, err)
	assert.ErrorIs(t, fallbackErr, ErrCallTimeout)
}

func TestExecuteRespectsCallerCancellation(t *testing.T) {
	e, _ := newTestExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Execute(ctx, e,
		func(context.Context) (bool, error) {
			calls++
			return false, errors.New("down")
		},
		boolFallback(false),
	)
	require.NoError(t, err)
	assert.LessOrEqual(t, calls, 1, "cancelled context must not be retried")
}

func TestExecuteSevenCallScenario(t *testing.T) {
	// Six consecutive dependency failures trip the breaker; the next
	// call must go straight to the fallback without a real attempt.
	b, _ := newTestBreaker(t)
	e := NewExecutor(b, RetrySettings{
		MaxAttempts: 1,
		Backoff:     time.Millisecond,
		CallTimeout: 50 * time.Millisecond,
	})
	e.sleep = func(time.Duration) {}

	realCalls := 0
	op := func(context.Context) (bool, error) {
		realCalls++
		return false, errors.New("validator down")
	}

	for i := 0; i < 6; i++ {
		_, err := Execute(context.Background(), e, op, boolFallback(true))
		require.NoError(t, err)
	}
	attempted := realCalls

	got, err := Execute(context.Background(), e, op, boolFallback(true))
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, attempted, realCalls, "seventh call must not reach the dependency")
}
