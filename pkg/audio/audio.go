// Package audio moves PCM16 audio between the local sound devices and the
// speech vendors. Device access needs the portaudio build tag; without it
// Open reports ErrUnavailable and callers fall back to Discard.
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/harunnryd/parla/pkg/frames"
	"github.com/harunnryd/parla/pkg/logging"
)

const (
	// DefaultInputSampleRate suits speech recognition.
	DefaultInputSampleRate = 16000
	// DefaultOutputSampleRate matches the pcm_24000 synthesis format.
	DefaultOutputSampleRate = 24000
	Channels                = 1
)

var ErrUnavailable = errors.New("audio: device support not compiled in")

type Config struct {
	InputSampleRate  int `mapstructure:"input_sample_rate"`
	OutputSampleRate int `mapstructure:"output_sample_rate"`
	// FramesPerBuffer applies to capture; 0 means 100ms.
	FramesPerBuffer int `mapstructure:"frames_per_buffer"`
}

func (c Config) withDefaults() Config {
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = DefaultInputSampleRate
	}
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = DefaultOutputSampleRate
	}
	if c.FramesPerBuffer <= 0 {
		c.FramesPerBuffer = c.InputSampleRate / 10
	}
	return c
}

// Sink plays synthesized PCM16 little-endian audio.
type Sink interface {
	Write(pcm []byte) error
	// Drain blocks until everything written so far has been played.
	Drain(ctx context.Context) error
	Close() error
}

// Capture produces PCM16 little-endian microphone chunks.
type Capture interface {
	Start(ctx context.Context) error
	Chunks() <-chan []byte
	Stop()
}

// Discard is a Sink that drops audio.
type Discard struct{}

func (Discard) Write([]byte) error              { return nil }
func (Discard) Drain(ctx context.Context) error { return ctx.Err() }
func (Discard) Close() error                    { return nil }

// Sender receives captured audio, typically a transcription stream.
type Sender interface {
	SendAudio(frame frames.AudioFrame) error
}

// Pump forwards captured chunks to dst while gate reports true. It returns
// when ctx is done or the capture channel closes.
func Pump(ctx context.Context, src Capture, dst Sender, gate func() bool, streamID string, rate int, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.NewComponentLogger(logger, "audio_pump")
	var sent, skipped uint64
	var streamed time.Duration
	for {
		select {
		case <-ctx.Done():
			logger.Info("audio_pump_stopped",
				slog.Uint64("sent", sent),
				slog.Uint64("skipped", skipped),
				slog.Duration("streamed", streamed))
			return nil
		case chunk, ok := <-src.Chunks():
			if !ok {
				return nil
			}
			if gate != nil && !gate() {
				skipped++
				continue
			}
			f := frames.NewAudioFrame(streamID, time.Now().UnixNano(), chunk, rate, Channels, map[string]string{
				frames.MetaSource:   "mic",
				frames.MetaEncoding: "linear16",
			})
			if err := dst.SendAudio(f); err != nil {
				skipped++
				logger.Debug("audio_send_failed", slog.String("error", err.Error()))
				continue
			}
			sent++
			streamed += f.Duration()
		}
	}
}

// Int16ToBytes converts samples to PCM16 little-endian bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
