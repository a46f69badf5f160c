package metrics

import (
	"errors"
	"time"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Fanout delivers every event to each non-nil observer in order.
type Fanout []Observer

func (f Fanout) RecordEvent(ev MetricsEvent) {
	for _, obs := range f {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}

// Flush flushes every member that buffers output and joins their errors.
func (f Fanout) Flush() error {
	var errs []error
	for _, obs := range f {
		if fl, ok := obs.(Flusher); ok {
			errs = append(errs, fl.Flush())
		}
	}
	return errors.Join(errs...)
}

// Tag returns the tag value for key, or "".
func (ev MetricsEvent) Tag(key string) string {
	if ev.Tags == nil {
		return ""
	}
	return ev.Tags[key]
}
