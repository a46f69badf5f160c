package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parla"

// PrometheusObserver turns conversation events into counters, histograms
// and a status gauge on its own registry.
type PrometheusObserver struct {
	registry *prometheus.Registry

	events       *prometheus.CounterVec
	stage        *prometheus.HistogramVec
	turns        *prometheus.CounterVec
	status       *prometheus.GaugeVec
	breakerState prometheus.Gauge

	mu         sync.Mutex
	lastStatus string
}

func NewPrometheusObserver() *PrometheusObserver {
	p := &PrometheusObserver{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Conversation events by name",
		}, []string{"event"}),
		stage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each turn stage in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
		}, []string{"stage", "outcome"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by outcome",
		}, []string{"outcome"}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status",
			Help:      "1 for the current conversation status, 0 otherwise",
		}, []string{"status"}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "translator_breaker_open",
			Help:      "1 while the translator circuit breaker is open",
		}),
	}
	p.registry.MustRegister(p.events, p.stage, p.turns, p.status, p.breakerState)
	p.registry.MustRegister(collectors.NewGoCollector())
	p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return p
}

func (p *PrometheusObserver) Registry() *prometheus.Registry { return p.registry }

func (p *PrometheusObserver) RecordEvent(ev MetricsEvent) {
	p.events.WithLabelValues(ev.Name).Inc()
	seconds := ev.Value / 1000
	switch ev.Name {
	case EventStatusChange:
		p.setStatus(ev.Tag(TagStatus))
	case EventTurnDispatched:
		p.stage.WithLabelValues("queue", "ok").Observe(seconds)
	case EventTranslationDone:
		p.stage.WithLabelValues("translate", "ok").Observe(seconds)
	case EventTranslationFailed:
		p.stage.WithLabelValues("translate", "error").Observe(seconds)
		p.turns.WithLabelValues("translation_failed").Inc()
	case EventSpeechDone:
		p.stage.WithLabelValues("speech", "ok").Observe(seconds)
		p.turns.WithLabelValues("spoken").Inc()
	case EventSpeechFailed:
		p.stage.WithLabelValues("speech", "error").Observe(seconds)
		p.turns.WithLabelValues("speech_failed").Inc()
	case EventBreakerOpen:
		p.breakerState.Set(1)
	case EventBreakerClose:
		p.breakerState.Set(0)
	}
}

func (p *PrometheusObserver) setStatus(status string) {
	if status == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastStatus != "" {
		p.status.WithLabelValues(p.lastStatus).Set(0)
	}
	p.status.WithLabelValues(status).Set(1)
	p.lastStatus = status
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusObserver) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Exporter serves /metrics and /health until its context ends.
type Exporter struct {
	addr    string
	handler http.Handler
}

func NewExporter(addr string, obs *PrometheusObserver) *Exporter {
	return &Exporter{addr: addr, handler: obs.Handler()}
}

func (e *Exporter) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.addr)
	if err != nil {
		return err
	}
	return e.serve(ctx, ln)
}

func (e *Exporter) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.handler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return err
	}
}
