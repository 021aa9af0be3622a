// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"time"

	"github.com/siderolabs/go-retry/retry"
)

// RetryTransient runs op until it succeeds, fails with a non-transient error,
// or maxDuration elapses. Backoff grows exponentially from unit. The returned
// error wraps the last error op produced.
func RetryTransient(ctx context.Context, maxDuration, unit time.Duration, op func(ctx context.Context) error) error {
	var lastErr error

	err := retry.Exponential(maxDuration, retry.WithUnits(unit)).RetryWithContext(ctx, func(ctx context.Context) error {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if IsTransientError(lastErr) {
			return retry.ExpectedError(lastErr)
		}
		return lastErr
	})
	if err == nil {
		return nil
	}
	if lastErr == nil {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("retry aborted: %w", ctxErr)
	}
	return lastErr
}
