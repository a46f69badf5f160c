package deepgram

import (
	"context"
	"io"
	"testing"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/harunnryd/parla/pkg/adapters/stt"
	"github.com/harunnryd/parla/pkg/errorsx"
	"github.com/harunnryd/parla/pkg/frames"
)

// attach installs a stream without dialing the vendor.
func attach(s *StreamingSTT) *stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	st := &stream{gen: s.gen}
	st.ctx, st.cancel = context.WithCancel(context.Background())
	st.pipeReader, st.pipeWriter = io.Pipe()
	s.current = st
	return st
}

func message(text string, final bool) *msginterfaces.MessageResponse {
	return &msginterfaces.MessageResponse{
		IsFinal: final,
		Channel: msginterfaces.Channel{
			Alternatives: []msginterfaces.Alternative{{Transcript: text}},
		},
	}
}

func next(t *testing.T, s *StreamingSTT) frames.Frame {
	t.Helper()
	select {
	case f := <-s.Results():
		return f
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for frame")
	}
	return nil
}

func TestMessageEmitsFragments(t *testing.T) {
	s := New(Config{APIKey: "k", StreamID: "s1"})
	st := attach(s)
	cb := &callback{parent: s, stream: st}

	_ = cb.Message(message("hello", false))
	_ = cb.Message(message("", true))
	_ = cb.Message(message("hello there", true))

	text, final, ok := stt.Fragment(next(t, s))
	if !ok || text != "hello" || final {
		t.Fatalf("unexpected interim fragment %q final=%v ok=%v", text, final, ok)
	}
	text, final, ok = stt.Fragment(next(t, s))
	if !ok || text != "hello there" || !final {
		t.Fatalf("unexpected final fragment %q final=%v ok=%v", text, final, ok)
	}
}

func TestStaleStreamMessagesDropped(t *testing.T) {
	s := New(Config{APIKey: "k", StreamID: "s1"})
	old := attach(s)
	_ = s.Close()
	if f := next(t, s); f.(frames.ControlFrame).Code() != frames.ControlStreamEnded {
		t.Fatalf("expected stream ended, got %#v", f)
	}

	attach(s)
	_ = (&callback{parent: s, stream: old}).Message(message("late", true))
	select {
	case f := <-s.Results():
		t.Fatalf("expected stale message dropped, got %#v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStreamEndedOncePerStream(t *testing.T) {
	s := New(Config{APIKey: "k", StreamID: "s1"})
	st := attach(s)
	cb := &callback{parent: s, stream: st}

	_ = cb.Close(&msginterfaces.CloseResponse{})
	_ = s.Close()
	_ = cb.Close(&msginterfaces.CloseResponse{})

	f := next(t, s).(frames.ControlFrame)
	if f.Code() != frames.ControlStreamEnded || f.Reason() != "remote_closed" {
		t.Fatalf("unexpected frame code=%s reason=%s", f.Code(), f.Reason())
	}
	select {
	case f := <-s.Results():
		t.Fatalf("expected a single stream end, got %#v", f)
	case <-time.After(50 * time.Millisecond):
	}
	if err := s.SendAudio(frames.NewAudioFrame("s1", 0, []byte{0, 0}, 16000, 1, nil)); err == nil {
		t.Fatalf("expected send to fail after stream end")
	}
}

func TestErrorEventEmitsControlError(t *testing.T) {
	s := New(Config{APIKey: "k", StreamID: "s1"})
	st := attach(s)
	_ = (&callback{parent: s, stream: st}).Error(&msginterfaces.ErrorResponse{ErrCode: "NET-0001", ErrMsg: "socket closed"})

	f := next(t, s).(frames.ControlFrame)
	if f.Code() != frames.ControlError || f.Reason() != "socket closed" {
		t.Fatalf("unexpected frame code=%s reason=%s", f.Code(), f.Reason())
	}
}

func TestStartWithoutAPIKey(t *testing.T) {
	err := New(Config{}).Start(context.Background())
	if !errorsx.HasReason(err, errorsx.ReasonTranscriptionUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestStreamEndedSurvivesFullBuffer(t *testing.T) {
	s := New(Config{APIKey: "k", StreamID: "s1"})
	s.out = make(chan frames.Frame, 1)
	st := attach(s)
	_ = (&callback{parent: s, stream: st}).Message(message("hello", true))

	done := make(chan struct{})
	go func() {
		s.finish(st, "remote_closed")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("finish blocked on a full buffer")
	}

	if text, _, ok := stt.Fragment(next(t, s)); !ok || text != "hello" {
		t.Fatalf("expected buffered fragment first, got %q", text)
	}
	f, ok := next(t, s).(frames.ControlFrame)
	if !ok || f.Code() != frames.ControlStreamEnded {
		t.Fatalf("expected stream ended after the buffer drained, got %#v", f)
	}
}
