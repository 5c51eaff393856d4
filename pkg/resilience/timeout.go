package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
)

// WithTimeout runs fn with a derived context that is cancelled after the
// given timeout. If fn does not return in time the result wraps both
// apperrors.ErrTimeout and context.DeadlineExceeded. fn keeps running in the
// background until it observes the cancelled context.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()
	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && timeoutCtx.Err() != nil && !errors.Is(err, apperrors.ErrTimeout) {
			return apperrors.Wrapf(apperrors.ErrTimeout, err, "%s (limit: %v)", name, timeout)
		}
		return err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("%s: parent context cancelled: %w", name, ctx.Err())
		}
		return apperrors.Wrapf(apperrors.ErrTimeout, context.DeadlineExceeded, "%s (limit: %v)", name, timeout)
	}
}
