package billing

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rentbill/backend/internal/domain/shared"
)

// RetryPolicy bounds the exponential backoff used around persistence and
// collaborator calls.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = max(d.MaxInterval, p.InitialInterval)
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	p = p.normalized()
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)
}

// errRetriesExhausted marks a retryable failure that ran out of attempts.
var errRetriesExhausted = errors.New("retries exhausted")

// retry runs op until it succeeds, returns an error for which retryable is
// false, or the policy runs out of attempts. onRetry, if set, is called
// before every new attempt.
func retry(ctx context.Context, policy RetryPolicy, retryable func(error) bool, onRetry func(err error, attempt int), op func(attempt int) error) error {
	attempt := 0
	var lastErr error
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 && onRetry != nil {
			onRetry(lastErr, attempt)
		}
		err := op(attempt)
		lastErr = err
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy.backOff(ctx))

	if err != nil && retryable(err) {
		return errors.Join(errRetriesExhausted, err)
	}
	return err
}

// isConcurrencyConflict reports whether err is a lost optimistic-lock race.
func isConcurrencyConflict(err error) bool {
	return errors.Is(err, shared.ErrConcurrencyConflict)
}

// isTransient treats every error except domain rule violations as transient.
func isTransient(err error) bool {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return shared.IsRetryable(err)
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
