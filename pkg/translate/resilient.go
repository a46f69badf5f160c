package translate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/parla/pkg/errorsx"
	"github.com/harunnryd/parla/pkg/logging"
	"github.com/harunnryd/parla/pkg/metrics"
	"github.com/harunnryd/parla/pkg/resilience"
)

// Options tune the resilient wrapper.
type Options struct {
	Timeout           time.Duration
	Retry             resilience.RetryPolicy
	Breaker           *resilience.CircuitBreaker
	SystemInstruction string
	Observer          metrics.Observer
	Logger            *slog.Logger
}

// Resilient wraps a provider with timeout, retry, breaker and output
// validation. Every error it returns is an *Error.
type Resilient struct {
	inner  Translator
	opts   Options
	logger *slog.Logger
	mu     sync.Mutex
	open   bool
}

func NewResilient(inner Translator, opts Options) *Resilient {
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	if opts.Observer == nil {
		opts.Observer = metrics.NoopObserver{}
	}
	if strings.TrimSpace(opts.SystemInstruction) == "" {
		opts.SystemInstruction = DefaultSystemInstruction
	}
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	r := &Resilient{inner: inner, opts: opts, logger: logging.NewComponentLogger(base, "translator")}
	prev := r.opts.Retry.OnRetry
	r.opts.Retry.OnRetry = func(attempt int, err error) {
		r.logger.Warn("translation_retry",
			slog.String("provider", inner.Name()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		r.record(metrics.EventRetry, nil)
		if prev != nil {
			prev(attempt, err)
		}
	}
	return r
}

func (r *Resilient) Name() string { return r.inner.Name() }

func (r *Resilient) Translate(ctx context.Context, req Request) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return "", &Error{Provider: r.Name(), Reason: "nothing to translate", Code: errorsx.ReasonTranslationError}
	}
	if strings.TrimSpace(req.SystemInstruction) == "" {
		req.SystemInstruction = r.opts.SystemInstruction
	}

	if !r.opts.Breaker.Allow() {
		r.setOpen(true)
		r.record(metrics.EventBreakerDenied, nil)
		return "", &Error{
			Provider: r.Name(),
			Reason:   "translation service is rate limited, try again shortly",
			Code:     errorsx.ReasonTranslationCircuitOpen,
			Err:      resilience.RateLimitError{Provider: r.Name(), Message: "degraded"},
		}
	}

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	out, err := resilience.Do(ctx, r.opts.Retry, func(ctx context.Context) (string, error) {
		text, err := r.inner.Translate(ctx, req)
		if err != nil {
			return "", err
		}
		text, err = Clean(text)
		if err != nil {
			return "", resilience.Permanent(err)
		}
		return text, nil
	})
	if err != nil {
		if resilience.IsRateLimit(err) {
			r.record(metrics.EventRateLimit, nil)
		}
		r.opts.Breaker.OnError(err)
		r.setOpen(r.opts.Breaker.State() == resilience.BreakerOpen)
		return "", r.classify(err)
	}
	r.opts.Breaker.OnSuccess()
	r.setOpen(false)
	return out, nil
}

func (r *Resilient) classify(err error) error {
	switch {
	case errors.Is(err, ErrEmptyResponse):
		return &Error{Provider: r.Name(), Reason: EmptyResponseReason, Code: errorsx.ReasonTranslationEmpty, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Provider: r.Name(), Reason: "translation timed out", Code: errorsx.ReasonTranslationTimeout, Err: err}
	case resilience.IsRateLimit(err):
		return NewError(r.Name(), errorsx.ReasonTranslationRateLimit, "", err)
	default:
		return NewError(r.Name(), errorsx.ReasonTranslationError, "", err)
	}
}

func (r *Resilient) record(name string, fields map[string]any) {
	r.opts.Observer.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: map[string]string{
			metrics.TagProvider:  r.inner.Name(),
			metrics.TagComponent: "translator",
		},
		Fields: fields,
	})
}

func (r *Resilient) setOpen(open bool) {
	r.mu.Lock()
	changed := r.open != open
	r.open = open
	r.mu.Unlock()
	if !changed {
		return
	}
	if open {
		r.record(metrics.EventBreakerOpen, nil)
		return
	}
	r.record(metrics.EventBreakerClose, nil)
}
