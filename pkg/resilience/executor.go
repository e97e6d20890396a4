package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrOpen is returned internally when the breaker refuses a call. Callers of
// Execute never see it: the fallback result is returned instead.
var ErrOpen = errors.New("circuit breaker open")

// ErrCallTimeout marks a guarded call that exceeded its timeout. Timeouts
// count as failures toward the breaker window.
var ErrCallTimeout = errors.New("call timed out")

// RetrySettings bounds the automatic retry applied while the breaker is
// closed. Backoff doubles per attempt.
type RetrySettings struct {
	MaxAttempts int
	Backoff     time.Duration
	CallTimeout time.Duration
}

func (r RetrySettings) withDefaults() RetrySettings {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.Backoff <= 0 {
		r.Backoff = 100 * time.Millisecond
	}
	if r.CallTimeout <= 0 {
		r.CallTimeout = 3 * time.Second
	}
	return r
}

// Executor wraps calls to one external dependency with a circuit breaker,
// per-call timeout, bounded retry, and a mandatory fallback. Reused uniformly
// for every guarded dependency.
type Executor struct {
	breaker *Breaker
	retry   RetrySettings
	sleep   func(time.Duration)
}

// NewExecutor creates an executor around the given breaker.
func NewExecutor(breaker *Breaker, retry RetrySettings) *Executor {
	return &Executor{
		breaker: breaker,
		retry:   retry.withDefaults(),
		sleep:   time.Sleep,
	}
}

// Breaker exposes the underlying breaker, mainly for health reporting.
func (e *Executor) Breaker() *Breaker { return e.breaker }

// Execute runs op under the executor's guard. On success the op result is
// returned. When the breaker is open, or every attempt fails or times out,
// fallback is invoked with the last error and its best-effort result is
// returned; the raw dependency error never propagates.
func Execute[T any](
	ctx context.Context,
	e *Executor,
	op func(context.Context) (T, error),
	fallback func(context.Context, error) (T, error),
) (T, error) {
	var lastErr error

	for try := 1; try <= e.retry.MaxAttempts; try++ {
		if !e.breaker.Allow() {
			if lastErr == nil {
				lastErr = fmt.Errorf("%w: %s", ErrOpen, e.breaker.Name())
			}
			return fallback(ctx, lastErr)
		}

		result, err := attempt(ctx, e, op)
		if err == nil {
			e.breaker.RecordSuccess()
			return result, nil
		}
		e.breaker.RecordFailure()
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		// Retry only while closed; an opened breaker means the
		// dependency is considered down.
		if e.breaker.State() != StateClosed {
			break
		}
		if try < e.retry.MaxAttempts {
			e.sleep(e.retry.Backoff * time.Duration(1<<(try-1)))
		}
	}

	return fallback(ctx, lastErr)
}

// attempt runs op with the per-call timeout applied. An op that outlives the
// timeout is abandoned and reported as ErrCallTimeout.
func attempt[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.retry.CallTimeout)
	defer cancel()

	type outcome struct {
		result T
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := op(callCtx)
		done <- outcome{result: r, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-callCtx.Done():
		var zero T
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrCallTimeout, e.retry.CallTimeout)
		}
		return zero, callCtx.Err()
	}
}
