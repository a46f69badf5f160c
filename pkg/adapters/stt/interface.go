package stt

import (
	"context"

	"github.com/harunnryd/parla/pkg/frames"
)

// StreamingSTT defines the contract for any transcription vendor.
//
// Results is created once and stays open across Start/Close cycles. Every
// stream that was started reports exactly one frames.ControlStreamEnded when
// it stops, whether Close was called or the vendor hung up. Failures arrive
// as frames.ControlError with an opaque reason in frames.MetaReason.
type StreamingSTT interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start opens a new transcription stream.
	Start(ctx context.Context) error
	// Close stops the current stream.
	Close() error
	// SendAudio forwards captured audio to the active stream.
	SendAudio(frame frames.AudioFrame) error
	// Results returns a channel of fragment and control frames.
	Results() <-chan frames.Frame
}

// Config contains vendor-agnostic transcription configuration.
type Config struct {
	StreamID   string
	SessionID  string
	SampleRate int
	Language   string
}

// Fragment reports whether f is a transcript fragment and returns its text
// and finality.
func Fragment(f frames.Frame) (text string, isFinal bool, ok bool) {
	tf, ok := f.(frames.TextFrame)
	if !ok {
		return "", false, false
	}
	return tf.Text(), tf.IsFinal(), true
}
