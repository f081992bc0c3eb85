package upstream

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Retry runs op up to attempts times with a fixed delay between tries.
// Only errors matching one of retryable are retried; anything else stops
// immediately. The last error is returned once attempts run out.
func Retry[T any](ctx context.Context, attempts int, delay time.Duration, op func(context.Context) (T, error), retryable ...error) (T, error) {
	if attempts < 1 {
		attempts = 1
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		for _, target := range retryable {
			if errors.Is(err, target) {
				return v, err
			}
		}
		return v, backoff.Permanent(err)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(delay)),
		backoff.WithMaxTries(uint(attempts)),
	)
}
