package refresh

import (
	"context"
	"math"
	"time"
)

// RetryPolicy decides whether a failed provider call is retried and how
// long to back off between attempts.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// ShouldRetry reports whether another attempt is allowed after retryCount
// failed attempts. Only transient errors are ever retried; validation,
// gate and computation errors indicate conditions a retry cannot fix.
func (p RetryPolicy) ShouldRetry(err error, retryCount int) bool {
	if err == nil {
		return false
	}
	if retryCount >= p.MaxRetries {
		return false
	}
	return KindOf(err) == KindTransient
}

// GetDelay computes the backoff before attempt retryCount+1:
// initial * multiplier^retryCount, capped at MaxDelay.
func (p RetryPolicy) GetDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(retryCount))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// WaitForRetry sleeps for the backoff delay. The wait aborts early when
// the context is cancelled so shutdown is not held up by a backoff.
func (p RetryPolicy) WaitForRetry(ctx context.Context, retryCount int) error {
	timer := time.NewTimer(p.GetDelay(retryCount))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
