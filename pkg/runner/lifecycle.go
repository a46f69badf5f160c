package runner

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrInvalidState = errors.New("invalid state transition")
	ErrDrainTimeout = errors.New("drain timeout")
)

// Work is the long-running body of a LifecycleRunner. It must return when
// ctx is cancelled.
type Work func(ctx context.Context) error

type Options struct {
	// DrainTimeout bounds Drain. Defaults to 10s.
	DrainTimeout time.Duration
	// Banner receives the startup banner. Nil disables it.
	Banner io.Writer
}

// LifecycleRunner runs one piece of work, then drains it exactly once
// whether the work returned on its own, ctx ended or Stop was called.
type LifecycleRunner struct {
	state    int32
	work     Work
	cancel   context.CancelFunc
	mu       sync.Mutex
	onceStop sync.Once
	hooks    Hooks
	drainer  Drainer
	stopErr  error
	opts     Options
}

func NewLifecycleRunner(work Work, drainer Drainer, hooks Hooks, opts Options) *LifecycleRunner {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	return &LifecycleRunner{
		state:   int32(StateNew),
		work:    work,
		hooks:   hooks,
		drainer: drainer,
		opts:    opts,
	}
}

func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return ErrInvalidState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	PrintBanner(r.opts.Banner)
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.setState(StateRunning)

	var workErr error
	if r.work != nil {
		workErr = r.work(ctx)
	} else {
		<-ctx.Done()
	}
	cancel()
	return errors.Join(workErr, r.stop())
}

// Stop cancels the work. Run returns once draining finishes.
func (r *LifecycleRunner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel == nil {
		// Never started.
		return r.stop()
	}
	cancel()
	return nil
}

func (r *LifecycleRunner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		if r.drainer != nil {
			done := make(chan error, 1)
			go func() { done <- r.drainer.Drain() }()
			select {
			case err := <-done:
				r.stopErr = err
			case <-time.After(r.opts.DrainTimeout):
				r.stopErr = ErrDrainTimeout
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.setState(StateStopped)
	})
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}
