package util

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/clouddeck/buildgate/pkg/api/logger"
)

// RetryPolicy bounds retries of transient external-call failures with
// exponential backoff. It is immutable after construction.
type RetryPolicy struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Initial: 2 * time.Second, Max: 30 * time.Second}
}

// Delay returns the backoff delay before the given retry (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry <= 0 {
		return 0
	}
	d := p.Initial * (1 << (retry - 1))
	if d > p.Max {
		return p.Max
	}
	return d
}

// Retry invokes fn until it succeeds, fails with a non-transient error,
// or the policy's retry budget is exhausted. Fatal (typed) failures are
// returned immediately; only errors accepted by transient are retried.
func Retry(ctx context.Context, log logger.Logger, policy RetryPolicy, subject string, transient func(error) bool, fn func(ctx context.Context) error) error {
	var last error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt)
			log.Warn(ctx, "%s failed (%v), retrying in %s (%d/%d)", subject, last, delay, attempt, policy.MaxRetries)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errors.Wrapf(ctx.Err(), "canceled while retrying %s", subject)
			}
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !transient(last) || attempt >= policy.MaxRetries {
			return last
		}
	}
}
