package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines retry behavior for transient failures.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Jitter     float64
	// IsRetryable defaults to DefaultIsRetryable.
	IsRetryable func(error) bool
	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error)
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff, MaxBackoff: 2 * time.Second}
}

// Do runs fn until it succeeds, fails permanently, ctx ends, or the retry
// budget is spent.
func Do[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	isRetryable := p.IsRetryable
	if isRetryable == nil {
		isRetryable = DefaultIsRetryable
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 2 * time.Second
	}
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error
	for i := 0; i <= p.MaxRetries; i++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !isRetryable(err) || i == p.MaxRetries {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(i+1, err)
		}
		t := time.NewTimer(backoffDelay(p.Backoff, maxBackoff, p.Jitter, i, r))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, lastErr
		case <-t.C:
		}
	}
	if p.MaxRetries == 0 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("retry failed: %w", lastErr)
}

// PermanentError marks an error that must not be retried.
type PermanentError struct{ Err error }

func (e PermanentError) Error() string { return e.Err.Error() }
func (e PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so DefaultIsRetryable rejects it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return PermanentError{Err: err}
}

// DefaultIsRetryable retries everything except cancellation, deadlines,
// rate limits and permanent errors.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsRateLimit(err) {
		return false
	}
	var perm PermanentError
	return !errors.As(err, &perm)
}

func backoffDelay(base, max time.Duration, jitter float64, attempt int, r *rand.Rand) time.Duration {
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > max {
		d = max
	}
	if jitter > 0 {
		d += time.Duration(float64(d) * jitter * r.Float64())
	}
	return d
}
