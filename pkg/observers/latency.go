package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/parla/pkg/metrics"
)

// LatencyObserver logs one turn_latency line per finished turn, breaking
// the time from dispatch to the end of speech into its stages.
type LatencyObserver struct {
	mu    sync.Mutex
	turns map[string]*turnTrace
	log   *slog.Logger
}

type turnTrace struct {
	dispatched  time.Time
	queueMs     float64
	translateMs float64
	speechMs    float64
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		turns: make(map[string]*turnTrace),
		log:   log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	id := ev.Tag(metrics.TagUtteranceID)
	if id == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.turns[id]
	switch ev.Name {
	case metrics.EventTurnDispatched:
		o.turns[id] = &turnTrace{dispatched: ev.Time, queueMs: ev.Value, translateMs: -1, speechMs: -1}
		return
	case metrics.EventTranslationDone:
		if t != nil {
			t.translateMs = ev.Value
		}
		return
	case metrics.EventTranslationFailed:
		if t != nil {
			t.translateMs = ev.Value
			o.logLocked(id, t, ev.Time, "translation_failed")
		}
	case metrics.EventSpeechDone:
		if t != nil {
			t.speechMs = ev.Value
			o.logLocked(id, t, ev.Time, "spoken")
		}
	case metrics.EventSpeechFailed:
		if t != nil {
			t.speechMs = ev.Value
			o.logLocked(id, t, ev.Time, "speech_failed")
		}
	default:
		return
	}
	delete(o.turns, id)
}

// Pending returns how many dispatched turns have not finished.
func (o *LatencyObserver) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.turns)
}

func (o *LatencyObserver) logLocked(id string, t *turnTrace, end time.Time, outcome string) {
	o.log.Info("turn_latency",
		"utterance_id", id,
		"outcome", outcome,
		"queue_ms", int64(t.queueMs),
		"translate_ms", int64(t.translateMs),
		"speech_ms", int64(t.speechMs),
		"total_ms", durationMs(t.dispatched, end),
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
