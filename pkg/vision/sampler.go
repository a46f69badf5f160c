package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"time"

	"golang.org/x/image/draw"

	"github.com/harunnryd/parla/pkg/errorsx"
	"github.com/harunnryd/parla/pkg/frames"
	"github.com/harunnryd/parla/pkg/logging"
	"github.com/harunnryd/parla/pkg/metrics"
)

const (
	DefaultMaxDimension = 1024
	DefaultQuality      = 80
	DefaultTimeout      = 2 * time.Second
	MIMEJPEG            = "image/jpeg"
)

type SamplerConfig struct {
	MaxDimension int
	Quality      int
	Timeout      time.Duration
	StreamID     string
}

// Sampler turns the selected source into one JPEG frame. Capture never
// fails past its boundary: problems are logged and yield nil.
type Sampler struct {
	cfg      SamplerConfig
	selector *Selector
	obs      metrics.Observer
	logger   *slog.Logger
}

func NewSampler(selector *Selector, cfg SamplerConfig, obs metrics.Observer, logger *slog.Logger) *Sampler {
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = DefaultMaxDimension
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultQuality
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if selector == nil {
		selector = NewSelector(SourceNone, nil)
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{cfg: cfg, selector: selector, obs: obs, logger: logging.NewComponentLogger(logger, "frame_sampler")}
}

func (s *Sampler) Selector() *Selector { return s.selector }

// Capture returns the current frame or nil.
func (s *Sampler) Capture(ctx context.Context) (out *frames.ImageFrame) {
	selected, src := s.selector.Active()
	if selected == SourceNone {
		return nil
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.fail(selected, fmt.Errorf("panic: %v", r))
			out = nil
		}
	}()
	if src == nil || !src.Ready() {
		s.fail(selected, ErrNotReady)
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	img, err := src.Capture(ctx)
	if err != nil {
		s.fail(selected, err)
		return nil
	}
	data, err := Encode(img, s.cfg.MaxDimension, s.cfg.Quality)
	if err != nil {
		s.fail(selected, err)
		return nil
	}
	f := frames.NewImageFrame(s.cfg.StreamID, time.Now().UnixNano(), data, MIMEJPEG, map[string]string{
		frames.MetaSource: string(selected),
	})
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventFrameCaptured,
		Time:  time.Now(),
		Value: float64(time.Since(start).Milliseconds()),
		Tags: map[string]string{
			metrics.TagSource:    string(selected),
			metrics.TagComponent: "vision",
		},
		Fields: map[string]any{"bytes": len(data)},
	})
	return &f
}

func (s *Sampler) fail(selected Source, err error) {
	s.logger.Warn("frame_capture_failed",
		slog.String("source", string(selected)),
		slog.String("reason_code", string(errorsx.ReasonFrameCapture)),
		slog.String("error", err.Error()))
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventFrameCaptureFailed,
		Time: time.Now(),
		Tags: map[string]string{
			metrics.TagSource:    string(selected),
			metrics.TagComponent: "vision",
			metrics.TagReason:    err.Error(),
		},
	})
}

// Encode scales img so neither side exceeds maxDim and encodes it as JPEG.
func Encode(img image.Image, maxDim, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy())
	}
	w, h := fit(b.Dx(), b.Dy(), maxDim)
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		img = dst
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func fit(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		nh := h * maxDim / w
		if nh < 1 {
			nh = 1
		}
		return maxDim, nh
	}
	nw := w * maxDim / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxDim
}
