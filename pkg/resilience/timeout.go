package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when an operation exceeds its timeout
var ErrTimeout = errors.New("operation timed out")

// WithTimeout runs fn with a deadline of timeout and returns its result.
// A non-positive timeout runs fn with ctx unchanged. When the deadline
// passes first ErrTimeout is returned; fn keeps its cancelled context.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(timeoutCtx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-timeoutCtx.Done():
		var zero T
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return zero, ErrTimeout
		}
		return zero, timeoutCtx.Err()
	}
}
