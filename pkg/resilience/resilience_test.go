package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoRetriesTransientFailures(t *testing.T) {
	p := NewRetryPolicy(2, time.Millisecond)
	calls := 0
	got, err := Do(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("expected success after retries, got %q %v", got, err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	p := NewRetryPolicy(5, time.Millisecond)
	calls := 0
	base := errors.New("empty")
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, Permanent(base)
	})
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped base error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestDoDoesNotRetryRateLimit(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond)
	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, RateLimitError{Provider: "test", Message: "slow down"}
	})
	if !IsRateLimit(err) || calls != 1 {
		t.Fatalf("expected one rate-limited call, got %d calls err=%v", calls, err)
	}
}

func TestCircuitBreakerOpensOnRateLimits(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Hour)
	cb.OnError(errors.New("not a rate limit"))
	if !cb.Allow() {
		t.Fatalf("plain errors must not open the breaker")
	}
	cb.OnError(RateLimitError{})
	cb.OnError(RateLimitError{})
	if cb.Allow() {
		t.Fatalf("expected breaker open after threshold")
	}
	cb.OnSuccess()
	if !cb.Allow() {
		t.Fatalf("expected breaker closed after success")
	}
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }

	cb.OnError(RateLimitError{})
	if cb.State() != BreakerOpen || cb.Allow() {
		t.Fatalf("expected open breaker to refuse calls")
	}

	now = now.Add(time.Minute)
	if !cb.Allow() {
		t.Fatalf("expected probe after cooldown")
	}
	if cb.State() != BreakerHalfOpen || cb.Allow() {
		t.Fatalf("expected a single probe while half open")
	}
	cb.OnError(RateLimitError{})
	if cb.State() != BreakerOpen || cb.Allow() {
		t.Fatalf("expected failed probe to re-open")
	}

	now = now.Add(time.Minute)
	if !cb.Allow() {
		t.Fatalf("expected second probe")
	}
	cb.OnSuccess()
	if cb.State() != BreakerClosed || !cb.Allow() {
		t.Fatalf("expected successful probe to close, state %s", cb.State())
	}
}
