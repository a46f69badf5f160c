package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/parla/pkg/adapters/stt"
	"github.com/harunnryd/parla/pkg/frames"
)

type STTConfig struct {
	StreamID string
	// Transcript is emitted as a final fragment on the first audio frame of
	// each stream, after InterimTranscript when that is set.
	Transcript        string
	InterimTranscript string
	StartErr          error
}

// StreamingSTT is a scriptable transcription stream.
type StreamingSTT struct {
	cfg     STTConfig
	out     chan frames.Frame
	mu      sync.Mutex
	started bool
	emitted bool
	starts  int
	closes  int
}

func NewSTT(cfg STTConfig) *StreamingSTT {
	return &StreamingSTT{cfg: cfg, out: make(chan frames.Frame, 256)}
}

func (s *StreamingSTT) Name() string { return "mock_stt" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.StartErr != nil {
		return s.cfg.StartErr
	}
	s.started = true
	s.emitted = false
	s.starts++
	return nil
}

// Close stops the stream and reports it ended.
func (s *StreamingSTT) Close() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.closes++
	s.mu.Unlock()
	s.emitControl(frames.ControlStreamEnded, "closed")
	return nil
}

func (s *StreamingSTT) SendAudio(frame frames.AudioFrame) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("not started")
	}
	if s.emitted || s.cfg.Transcript == "" {
		s.mu.Unlock()
		return nil
	}
	s.emitted = true
	s.mu.Unlock()

	if s.cfg.InterimTranscript != "" {
		s.Emit(s.cfg.InterimTranscript, false)
	}
	s.Emit(s.cfg.Transcript, true)
	return nil
}

func (s *StreamingSTT) Results() <-chan frames.Frame { return s.out }

// Emit pushes a transcript fragment.
func (s *StreamingSTT) Emit(text string, isFinal bool) {
	s.out <- frames.NewFragment(s.cfg.StreamID, text, isFinal, map[string]string{
		frames.MetaSource: "stt",
	})
}

// Drop ends the current stream as if the vendor hung up.
func (s *StreamingSTT) Drop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	s.emitControl(frames.ControlStreamEnded, "dropped")
}

// Fail reports a stream error without ending the stream.
func (s *StreamingSTT) Fail(reason string) {
	s.emitControl(frames.ControlError, reason)
}

func (s *StreamingSTT) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Counts returns how many times the stream was started and closed.
func (s *StreamingSTT) Counts() (starts, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.closes
}

func (s *StreamingSTT) emitControl(code frames.ControlCode, reason string) {
	s.out <- frames.NewControlFrame(s.cfg.StreamID, time.Now().UnixNano(), code, map[string]string{
		frames.MetaSource: "stt",
		frames.MetaReason: reason,
	})
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
