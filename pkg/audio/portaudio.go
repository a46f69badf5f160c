//go:build portaudio

package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/harunnryd/parla/pkg/logging"
)

const outputFramesPerBuffer = 960

// System owns the PortAudio runtime and the default input and output
// devices.
type System struct {
	capture  *deviceCapture
	playback *devicePlayback
}

func Open(cfg Config) (*System, error) {
	cfg = cfg.withDefaults()
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	logger := logging.NewComponentLogger(slog.Default(), "audio")
	return &System{
		capture: &deviceCapture{
			cfg:    cfg,
			out:    make(chan []byte, 100),
			logger: logger,
		},
		playback: &devicePlayback{
			cfg:    cfg,
			in:     make(chan []byte, 500),
			logger: logger,
		},
	}, nil
}

func (s *System) Capture() Capture { return s.capture }
func (s *System) Playback() Sink   { return s.playback }

func (s *System) Close() error {
	s.capture.Stop()
	_ = s.playback.Close()
	return portaudio.Terminate()
}

type deviceCapture struct {
	cfg    Config
	out    chan []byte
	logger *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	running bool

	sent    uint64
	dropped uint64
}

func (c *deviceCapture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	in := make([]int16, c.cfg.FramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(Channels, 0, float64(c.cfg.InputSampleRate), len(in), in)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start input stream: %w", err)
	}
	c.stream = stream
	c.running = true
	c.logger.Info("capture_started",
		slog.Int("sample_rate", c.cfg.InputSampleRate),
		slog.Int("frames_per_buffer", c.cfg.FramesPerBuffer))
	go c.loop(ctx, stream, in)
	return nil
}

func (c *deviceCapture) Chunks() <-chan []byte { return c.out }

func (c *deviceCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
		c.stream = nil
	}
	c.running = false
}

func (c *deviceCapture) loop(ctx context.Context, stream *portaudio.Stream, in []int16) {
	var lastDropLog time.Time
	defer func() {
		c.logger.Info("capture_stopped",
			slog.Uint64("sent", c.sent),
			slog.Uint64("dropped", c.dropped))
	}()
	for {
		if ctx.Err() != nil {
			c.Stop()
			return
		}
		c.mu.Lock()
		live := c.running && c.stream == stream
		c.mu.Unlock()
		if !live {
			return
		}
		if err := stream.Read(); err != nil {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		select {
		case c.out <- Int16ToBytes(in):
			c.sent++
		default:
			c.dropped++
			if time.Since(lastDropLog) > time.Second {
				c.logger.Warn("capture_chunks_dropped",
					slog.Uint64("sent", c.sent),
					slog.Uint64("dropped", c.dropped))
				lastDropLog = time.Now()
			}
		}
	}
}

type devicePlayback struct {
	cfg    Config
	in     chan []byte
	logger *slog.Logger

	once     sync.Once
	startErr error
	pending  atomic.Int64

	mu     sync.Mutex
	stream *portaudio.Stream
	done   chan struct{}
}

func (p *devicePlayback) start() error {
	p.once.Do(func() {
		out := make([]int16, outputFramesPerBuffer)
		stream, err := portaudio.OpenDefaultStream(0, Channels, float64(p.cfg.OutputSampleRate), len(out), out)
		if err != nil {
			p.startErr = fmt.Errorf("open output stream: %w", err)
			return
		}
		if err := stream.Start(); err != nil {
			stream.Close()
			p.startErr = fmt.Errorf("start output stream: %w", err)
			return
		}
		p.stream = stream
		p.done = make(chan struct{})
		go p.loop(out)
	})
	return p.startErr
}

func (p *devicePlayback) Write(pcm []byte) error {
	if err := p.start(); err != nil {
		return err
	}
	p.pending.Add(int64(len(pcm)))
	select {
	case p.in <- pcm:
		return nil
	default:
		p.pending.Add(-int64(len(pcm)))
		return fmt.Errorf("playback buffer full")
	}
}

func (p *devicePlayback) Drain(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for p.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (p *devicePlayback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil
	}
	close(p.done)
	p.stream.Stop()
	err := p.stream.Close()
	p.stream = nil
	return err
}

func (p *devicePlayback) loop(out []int16) {
	buf := make([]byte, 0, len(out)*4)
	frameBytes := len(out) * 2
	write := func(n int) {
		for i := range out {
			if i*2+1 < len(buf) {
				out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
			} else {
				out[i] = 0
			}
		}
		p.mu.Lock()
		if p.stream != nil {
			_ = p.stream.Write()
		}
		p.mu.Unlock()
		buf = buf[n:]
		p.pending.Add(-int64(n))
	}
	for {
		select {
		case <-p.done:
			return
		case data := <-p.in:
			buf = append(buf, data...)
			for len(buf) >= frameBytes {
				write(frameBytes)
			}
		default:
			if len(buf) > 0 {
				// Tail of an utterance: pad with silence.
				write(len(buf))
				continue
			}
			select {
			case <-p.done:
				return
			case data := <-p.in:
				buf = append(buf, data...)
				for len(buf) >= frameBytes {
					write(frameBytes)
				}
			}
		}
	}
}
