package transport

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/sharkoder/sharkoder/internal/constants"
	"github.com/sharkoder/sharkoder/internal/remotefs"
)

var errNoAdapters = errors.New("no adapter configured for this operation")

// RetryPolicy bounds how many times a Transient error is retried before
// being surfaced to the stage (spec §7: "Transient network ... Retry within
// adapter (<=3 attempts, exponential backoff starting 1s)").
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy matches the error-handling table in spec §7.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    constants.DefaultMaxTransientRetries,
		InitialBackoff: constants.InitialBackoff,
		MaxBackoff:     constants.MaxBackoff,
	}
}

// WithRetry runs fn, retrying on KindTransient errors with exponential
// backoff up to policy.MaxAttempts. Non-transient errors return immediately.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if remotefs.KindOf(lastErr) != remotefs.KindTransient {
			return lastErr
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		wait := backoffFor(policy, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

func backoffFor(policy RetryPolicy, attempt int) time.Duration {
	d := policy.InitialBackoff * time.Duration(math.Pow(2, float64(attempt)))
	if d > policy.MaxBackoff {
		d = policy.MaxBackoff
	}
	return d
}

// FileLockedRetry retries fn up to FileLockedMaxRetries times with a
// 500ms*attempt backoff, for the FileLocked disposition in spec §7.
func FileLockedRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= constants.FileLockedMaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == constants.FileLockedMaxRetries {
			break
		}
		wait := constants.FileLockedBackoffFactor * time.Duration(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}
