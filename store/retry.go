package store

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryBackoff is the base delay between transaction attempts.
var RetryBackoff = 50 * time.Millisecond

// RunAttempts executes attempt up to maxAttempts times. Only contention
// failures (provider code CodeAborted or an *Error of kind KindAborted) are
// retried; every other error is returned immediately. When the budget is
// exhausted the last contention error is returned.
func RunAttempts(ctx context.Context, maxAttempts int, attempt func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	b := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewExponential(RetryBackoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := attempt(ctx)
		if IsContention(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// IsContention reports whether err signals a transaction conflict.
func IsContention(err error) bool {
	if err == nil {
		return false
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Code == CodeAborted
	}
	return KindOf(err) == KindAborted
}
