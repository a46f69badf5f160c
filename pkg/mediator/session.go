package mediator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/harunnryd/parla/pkg/adapters/stt"
	"github.com/harunnryd/parla/pkg/adapters/tts"
	"github.com/harunnryd/parla/pkg/audio"
	"github.com/harunnryd/parla/pkg/errorsx"
	"github.com/harunnryd/parla/pkg/logging"
	"github.com/harunnryd/parla/pkg/metrics"
	"github.com/harunnryd/parla/pkg/observers"
	"github.com/harunnryd/parla/pkg/redact"
	"github.com/harunnryd/parla/pkg/resilience"
	"github.com/harunnryd/parla/pkg/translate"
	"github.com/harunnryd/parla/pkg/turn"
	"github.com/harunnryd/parla/pkg/vision"
)

const localStreamID = "local"

type SessionOptions struct {
	Providers *ProviderRegistry
	Logger    *slog.Logger
	// Observers receive every event next to the configured sinks.
	Observers []metrics.Observer
	// DisableAudio skips opening the audio devices.
	DisableAudio bool
}

// Session owns one mediation session: the vendors, the audio devices, the
// observers and the turn controller that drives them.
type Session struct {
	cfg    Config
	id     string
	logger *slog.Logger

	controller  *turn.Controller
	transcriber stt.StreamingSTT
	translator  translate.Translator
	speech      tts.SpeechOutput
	sampler     *vision.Sampler

	audio    *audio.System
	capture  audio.Capture
	async    *metrics.AsyncObserver
	prom     *metrics.PrometheusObserver
	timeline *observers.TimelineObserver
	events   *os.File

	drainOnce sync.Once
	drainErr  error
}

func NewSession(ctx context.Context, cfg Config, opts SessionOptions) (*Session, error) {
	providers := opts.Providers
	if providers == nil {
		providers = NewBuiltinRegistry()
	}
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	s := &Session{
		cfg:    cfg,
		id:     uuid.NewString(),
		logger: logging.NewComponentLogger(base, "session"),
	}
	info := SessionInfo{SessionID: s.id, StreamID: localStreamID}

	s.logger.Info("parla_init",
		slog.String("session_id", s.id),
		slog.String("environment", cfg.Environment),
		slog.String("transcription_provider", cfg.Vendors.Transcription.Provider),
		slog.String("translator_provider", cfg.Vendors.Translator.Provider),
		slog.String("speech_provider", cfg.Vendors.Speech.Provider),
		slog.String("vision_source", cfg.Vision.Source))

	obs, err := s.buildObservers(base, opts.Observers)
	if err != nil {
		return nil, err
	}

	var sink audio.Sink = audio.Discard{}
	if !opts.DisableAudio {
		sys, err := audio.Open(cfg.Audio)
		switch {
		case err == nil:
			s.audio = sys
			s.capture = sys.Capture()
			sink = sys.Playback()
		case errors.Is(err, audio.ErrUnavailable):
			s.logger.Warn("audio_unavailable", slog.String("error", err.Error()))
		default:
			s.logger.Warn("audio_open_failed", slog.String("error", err.Error()))
		}
	}

	transcriber, err := providers.BuildTranscriber(cfg, info)
	if err != nil {
		// Live listening reports itself unavailable; typed input still works.
		s.logger.Warn("transcription_unavailable", slog.String("error", err.Error()))
		transcriber = nil
	}
	s.transcriber = transcriber

	inner, err := providers.BuildTranslator(ctx, cfg)
	if err != nil {
		s.release()
		return nil, errorsx.Wrapf(err, errorsx.ReasonConfigInvalid, "translator")
	}
	s.translator = inner

	speech, err := providers.BuildSpeech(cfg, info, sink)
	if err != nil {
		s.release()
		return nil, errorsx.Wrapf(err, errorsx.ReasonConfigInvalid, "speech")
	}
	s.speech = speech

	res := cfg.Resilience
	resilient := translate.NewResilient(inner, translate.Options{
		Retry:             resilience.NewRetryPolicy(res.Retries, ms(res.RetryBackoffMS)),
		Breaker:           resilience.NewCircuitBreaker(res.BreakerThreshold, ms(res.BreakerCooldownMS)),
		SystemInstruction: cfg.Translator.SystemInstruction,
		Observer:          obs,
		Logger:            base,
	})

	initial, err := vision.ParseSource(cfg.Vision.Source)
	if err != nil {
		s.release()
		return nil, errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	sources := map[vision.Source]vision.FrameSource{}
	if p := strings.TrimSpace(cfg.Vision.CameraPath); p != "" {
		sources[vision.SourceCamera] = vision.NewFileSource("camera", p)
	}
	if p := strings.TrimSpace(cfg.Vision.ScreenPath); p != "" {
		sources[vision.SourceScreen] = vision.NewFileSource("screen", p)
	}
	selector := vision.NewSelector(initial, sources)
	s.sampler = vision.NewSampler(selector, vision.SamplerConfig{
		MaxDimension: cfg.Vision.MaxDimension,
		Quality:      cfg.Vision.JPEGQuality,
		Timeout:      ms(cfg.Vision.CaptureTimeoutMS),
		StreamID:     localStreamID,
	}, obs, base)

	controller, err := turn.NewController(turn.Config{
		SessionID:          s.id,
		EndpointDebounce:   ms(cfg.Turn.EndpointDebounceMS),
		TranslateTimeout:   ms(cfg.Turn.TranslateTimeoutMS),
		SpeechTimeout:      ms(cfg.Turn.SpeechTimeoutMS),
		DisableAutoRestart: !cfg.Turn.AutoRestart,
		SystemInstruction:  cfg.Translator.SystemInstruction,
	}, turn.Deps{
		Transcriber: transcriber,
		Translator:  resilient,
		Speech:      speech,
		Frames:      s.sampler,
		Sources:     selector,
		Observer:    obs,
		Logger:      base,
	})
	if err != nil {
		s.release()
		return nil, err
	}
	s.controller = controller
	return s, nil
}

func (s *Session) buildObservers(base *slog.Logger, extra []metrics.Observer) (metrics.Observer, error) {
	obs := metrics.Fanout{
		observers.NewLatencyObserver(base),
		observers.NewLoggerObserver(base),
	}
	o := s.cfg.Observability
	if dir := strings.TrimSpace(o.ArtifactsDir); dir != "" {
		if o.RetentionDays > 0 {
			removed, err := observers.PurgeTimelines(dir, time.Duration(o.RetentionDays)*24*time.Hour, time.Now())
			if err != nil {
				s.logger.Warn("artifact_purge_failed", slog.String("error", err.Error()))
			} else if removed > 0 {
				s.logger.Info("artifacts_purged", slog.Int("removed", removed))
			}
		}
		s.timeline = observers.NewTimelineObserver(dir)
		obs = append(obs, s.timeline)
	}
	if path := strings.TrimSpace(o.EventsFile); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, errorsx.Wrapf(err, errorsx.ReasonConfigInvalid, "events file")
		}
		s.events = f
		obs = append(obs, metrics.NewJSONLObserver(f))
	}
	if strings.TrimSpace(o.MetricsAddr) != "" {
		s.prom = metrics.NewPrometheusObserver()
		obs = append(obs, s.prom)
	}
	obs = append(obs, extra...)
	s.async = metrics.NewAsyncObserver(obs, 2048)
	return s.async, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Controller() *turn.Controller { return s.controller }

func (s *Session) Sampler() *vision.Sampler { return s.sampler }

// Run starts speech output, the controller, the microphone pump and the
// metrics exporter, and blocks until ctx ends or one of them fails.
func (s *Session) Run(ctx context.Context) error {
	if err := s.speech.Start(ctx); err != nil {
		return errorsx.Wrapf(err, errorsx.ReasonSpeechConnect, "start speech")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.controller.Run(gctx)
	})

	if s.capture != nil && s.transcriber != nil {
		if err := s.capture.Start(gctx); err != nil {
			s.logger.Warn("capture_start_failed", slog.String("error", err.Error()))
		} else {
			g.Go(func() error {
				defer s.capture.Stop()
				gate := func() bool { return s.controller.Snapshot().Capturing() }
				return audio.Pump(gctx, s.capture, s.transcriber, gate, localStreamID, s.cfg.Audio.InputSampleRate, s.logger)
			})
		}
	}

	if s.prom != nil {
		exporter := metrics.NewExporter(s.cfg.Observability.MetricsAddr, s.prom)
		g.Go(func() error {
			if err := exporter.Serve(gctx); err != nil {
				s.logger.Warn("metrics_exporter_failed",
					slog.String("addr", s.cfg.Observability.MetricsAddr),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if s.cfg.Turn.StartListening {
		s.controller.SetMic(true)
	}

	s.logger.Info("session_running", slog.String("session_id", s.id))
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Drain releases vendor connections, audio devices and observers. It is
// safe to call more than once.
func (s *Session) Drain() error {
	s.drainOnce.Do(func() {
		s.drainErr = s.release()
		s.logger.Info("session_drained", slog.String("session_id", s.id))
	})
	return s.drainErr
}

func (s *Session) release() error {
	var errs []error
	if s.speech != nil {
		errs = append(errs, s.speech.Close())
	}
	if c, ok := s.translator.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if s.audio != nil {
		errs = append(errs, s.audio.Close())
	}
	if s.async != nil {
		errs = append(errs, s.async.Close())
		if n := s.async.Dropped(); n > 0 {
			s.logger.Warn("events_dropped", slog.Int64("count", n))
		}
	}
	if s.timeline != nil {
		errs = append(errs, s.timeline.Close())
	}
	if s.events != nil {
		errs = append(errs, s.events.Close())
	}
	return errors.Join(errs...)
}
