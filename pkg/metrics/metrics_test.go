package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestFanoutSkipsNil(t *testing.T) {
	a, b := NewMemoryObserver(), NewMemoryObserver()
	Fanout{a, nil, b}.RecordEvent(MetricsEvent{Name: EventSpeechDone})
	if a.Count(EventSpeechDone) != 1 || b.Count(EventSpeechDone) != 1 {
		t.Fatalf("expected both observers to receive the event")
	}
}

type flushCounter struct {
	NoopObserver
	flushed int
}

func (f *flushCounter) Flush() error {
	f.flushed++
	return nil
}

func TestAsyncObserverFlushesOnClose(t *testing.T) {
	fc := &flushCounter{}
	a := NewAsyncObserver(Fanout{NewMemoryObserver(), fc}, 4)
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if fc.flushed != 1 {
		t.Fatalf("expected one flush, got %d", fc.flushed)
	}
}

func TestAsyncObserverDrainsOnClose(t *testing.T) {
	mem := NewMemoryObserver()
	a := NewAsyncObserver(mem, 16)
	for i := 0; i < 10; i++ {
		a.RecordEvent(MetricsEvent{Name: EventTurnDispatched})
	}
	a.Close()
	if got := mem.Count(EventTurnDispatched); got != 10 {
		t.Fatalf("expected 10 delivered events, got %d", got)
	}
	a.RecordEvent(MetricsEvent{Name: EventTurnDispatched})
	a.Close()
	if got := mem.Count(EventTurnDispatched); got != 10 {
		t.Fatalf("expected events after close to be ignored, got %d", got)
	}
}

func TestJSONLObserverWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	obs := NewJSONLObserver(&buf)
	obs.RecordEvent(MetricsEvent{Name: EventEndpointDetected, Time: time.Now(), Tags: map[string]string{TagSessionID: "s1"}})
	obs.RecordEvent(MetricsEvent{Name: EventTurnDispatched, Time: time.Now(), Value: 12})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var first eventRecord
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Schema != eventsSchema || first.Name != EventEndpointDetected || first.Tags[TagSessionID] != "s1" {
		t.Fatalf("unexpected line %+v", first)
	}
	if obs.Failed() != 0 {
		t.Fatalf("expected no write failures, got %d", obs.Failed())
	}
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestJSONLObserverCountsWriteFailures(t *testing.T) {
	obs := NewJSONLObserver(brokenWriter{})
	obs.RecordEvent(MetricsEvent{Name: EventSpeechDone})
	if obs.Failed() != 1 {
		t.Fatalf("expected 1 failure, got %d", obs.Failed())
	}
}

func TestPrometheusObserverCounts(t *testing.T) {
	p := NewPrometheusObserver()
	p.RecordEvent(MetricsEvent{Name: EventStatusChange, Tags: map[string]string{TagStatus: "LISTENING"}})
	p.RecordEvent(MetricsEvent{Name: EventStatusChange, Tags: map[string]string{TagStatus: "TRANSLATING"}})
	p.RecordEvent(MetricsEvent{Name: EventTranslationDone, Value: 420})
	p.RecordEvent(MetricsEvent{Name: EventSpeechDone, Value: 1300})
	p.RecordEvent(MetricsEvent{Name: EventBreakerOpen})

	if got := testutil.ToFloat64(p.events.WithLabelValues(EventStatusChange)); got != 2 {
		t.Fatalf("expected 2 status events, got %f", got)
	}
	if got := testutil.ToFloat64(p.status.WithLabelValues("LISTENING")); got != 0 {
		t.Fatalf("expected previous status cleared, got %f", got)
	}
	if got := testutil.ToFloat64(p.status.WithLabelValues("TRANSLATING")); got != 1 {
		t.Fatalf("expected current status set, got %f", got)
	}
	if got := testutil.ToFloat64(p.turns.WithLabelValues("spoken")); got != 1 {
		t.Fatalf("expected one spoken turn, got %f", got)
	}
	if got := testutil.ToFloat64(p.breakerState); got != 1 {
		t.Fatalf("expected breaker open, got %f", got)
	}
	if n := testutil.CollectAndCount(p.stage); n != 2 {
		t.Fatalf("expected 2 stage series, got %d", n)
	}
}

func TestExporterServesMetrics(t *testing.T) {
	p := NewPrometheusObserver()
	p.RecordEvent(MetricsEvent{Name: EventSpeechDone, Value: 10})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewExporter("", p).serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "parla_events_total") {
		t.Fatalf("expected parla metrics in output")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("exporter did not stop")
	}
}
