package observers

import (
	"context"
	"log/slog"

	"github.com/harunnryd/parla/pkg/metrics"
	"github.com/harunnryd/parla/pkg/redact"
)

// LoggerObserver mirrors turn events into the session log. Failures and
// vendor back-pressure are logged at warn, everything else at debug.
type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log.With(slog.String("component", "events"))}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	level := eventLevel(ev.Name)
	ctx := context.Background()
	if !o.log.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, 4+len(ev.Tags)+len(ev.Fields))
	if id := ev.Tag(metrics.TagUtteranceID); id != "" {
		attrs = append(attrs, slog.String("utterance_id", id))
	}
	if ev.Value != 0 {
		attrs = append(attrs, slog.Float64("value", ev.Value))
	}
	for k, v := range ev.Tags {
		if k == metrics.TagUtteranceID || k == metrics.TagSessionID {
			continue
		}
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range ev.Fields {
		if s, ok := v.(string); ok {
			attrs = append(attrs, slog.String(k, redact.Text(s)))
			continue
		}
		attrs = append(attrs, slog.Any(k, v))
	}
	o.log.LogAttrs(ctx, level, ev.Name, attrs...)
}

func eventLevel(name string) slog.Level {
	switch name {
	case metrics.EventTranslationFailed,
		metrics.EventSpeechFailed,
		metrics.EventTranscriptionError,
		metrics.EventFrameCaptureFailed,
		metrics.EventRateLimit,
		metrics.EventBreakerOpen,
		metrics.EventBreakerDenied:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

var _ metrics.Observer = (*LoggerObserver)(nil)
