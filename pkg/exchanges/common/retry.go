package common

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy applies exponential backoff to transient venue failures.
// Delay for attempt n is BaseDelay * 2^n. Non-retryable errors abort
// immediately; auth-refresh-and-retry is handled inside each adapter,
// not here.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Retryable decides whether an error is worth another attempt. When nil,
	// DefaultRetryable is used.
	Retryable func(error) bool
}

// DefaultRetryPolicy matches the venue request policy used across adapters:
// up to 3 attempts, 500ms base delay, retry on 429/5xx/network only.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
	}
}

// DefaultRetryable retries transient APIErrors and plain transport errors.
func DefaultRetryable(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	if errors.Is(err, ErrReauthorizationRequired) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Anything else at this layer is a transport-level failure.
	return true
}

// Do runs fn under the policy and returns its last error if all attempts fail.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := p.BaseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
	}
	return err
}
