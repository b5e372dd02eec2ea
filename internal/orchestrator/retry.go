package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"server/internal/domain"
)

// retryPolicy bounds transient-failure retries around provider calls. Max is
// the total attempt budget, so Max=3 means one call and at most two retries.
// Delays double from Base; once the budget is spent the original error is
// returned.
type retryPolicy struct {
	Max  uint64
	Base time.Duration
}

// call runs fn under the policy. Only transient errors are retried: a
// provider-reported generation failure is definitive for its prompt, the busy
// answer is surfaced to the user, and cancellation always wins.
func (p retryPolicy) call(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Max
	if attempts == 0 {
		attempts = 1
	}
	backoff := retry.WithMaxRetries(attempts-1, retry.NewExponential(p.Base))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// retryable reports whether an error is worth another attempt. Transport and
// unclassified errors are; definitive provider answers and control-flow
// sentinels are not.
func retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrProviderFailure),
		errors.Is(err, domain.ErrProviderBusy),
		errors.Is(err, domain.ErrStopped),
		errors.Is(err, domain.ErrMalformedScript),
		errors.Is(err, domain.ErrMissingPrompt),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
