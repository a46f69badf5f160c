package mock

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/parla/pkg/adapters/tts"
	"github.com/harunnryd/parla/pkg/frames"
)

type TTSConfig struct {
	StreamID string
	// AutoComplete reports completion for every request after Delay.
	AutoComplete bool
	Delay        time.Duration
	// FailReason makes auto-completed requests fail instead.
	FailReason string
	SpeakErr   error
}

// SpeechOutput records requests and reports completion on demand.
type SpeechOutput struct {
	cfg      TTSConfig
	out      chan frames.Frame
	mu       sync.Mutex
	requests []tts.Request
	started  bool
}

func NewTTS(cfg TTSConfig) *SpeechOutput {
	return &SpeechOutput{cfg: cfg, out: make(chan frames.Frame, 64)}
}

func (s *SpeechOutput) Name() string { return "mock_tts" }

func (s *SpeechOutput) Start(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *SpeechOutput) Close() error {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

func (s *SpeechOutput) Speak(req tts.Request) error {
	if s.cfg.SpeakErr != nil {
		return s.cfg.SpeakErr
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if !s.cfg.AutoComplete {
		return nil
	}
	go func() {
		if s.cfg.Delay > 0 {
			time.Sleep(s.cfg.Delay)
		}
		if s.cfg.FailReason != "" {
			s.Fail(req.ID, s.cfg.FailReason)
			return
		}
		s.Complete(req.ID)
	}()
	return nil
}

func (s *SpeechOutput) Results() <-chan frames.Frame { return s.out }

// Complete reports that request id finished playing.
func (s *SpeechOutput) Complete(id string) {
	s.out <- tts.DoneFrame(s.cfg.StreamID, "mock_tts", id)
}

// Fail reports that request id could not be spoken.
func (s *SpeechOutput) Fail(id, reason string) {
	s.out <- tts.ErrorFrame(s.cfg.StreamID, "mock_tts", id, reason)
}

func (s *SpeechOutput) Requests() []tts.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tts.Request(nil), s.requests...)
}

var _ tts.SpeechOutput = (*SpeechOutput)(nil)
