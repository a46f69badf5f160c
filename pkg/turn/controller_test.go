package turn

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/parla/pkg/adapters/tts"
	"github.com/harunnryd/parla/pkg/frames"
	"github.com/harunnryd/parla/pkg/language"
	"github.com/harunnryd/parla/pkg/ledger"
	"github.com/harunnryd/parla/pkg/metrics"
	"github.com/harunnryd/parla/pkg/providers/mock"
	"github.com/harunnryd/parla/pkg/translate"
	"github.com/harunnryd/parla/pkg/vision"
)

const waitTimeout = 3 * time.Second

type statusLog struct {
	mu      sync.Mutex
	changes []StatusChange
	ch      chan StatusChange
}

func newStatusLog() *statusLog {
	return &statusLog{ch: make(chan StatusChange, 128)}
}

func (l *statusLog) OnStatusChange(ev StatusChange) {
	l.mu.Lock()
	l.changes = append(l.changes, ev)
	l.mu.Unlock()
	l.ch <- ev
}

func (l *statusLog) waitFor(t *testing.T, want Status) StatusChange {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-l.ch:
			if ev.To == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s (history %v)", want, l.history())
		}
	}
}

func (l *statusLog) history() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Status, 0, len(l.changes))
	for _, c := range l.changes {
		out = append(out, c.To)
	}
	return out
}

func (l *statusLog) saw(s Status) bool {
	for _, h := range l.history() {
		if h == s {
			return true
		}
	}
	return false
}

type harness struct {
	c      *Controller
	stt    *mock.StreamingSTT
	speech *mock.SpeechOutput
	tr     *mock.Translator
	log    *statusLog
	obs    *metrics.MemoryObserver
}

type harnessOpts struct {
	translator mock.TranslatorConfig
	speech     mock.TTSConfig
	cfg        Config
	noSTT      bool
	frames     FrameSampler
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	h := &harness{
		stt:    mock.NewSTT(mock.STTConfig{StreamID: "test"}),
		speech: mock.NewTTS(opts.speech),
		tr:     mock.NewTranslator(opts.translator),
		log:    newStatusLog(),
		obs:    metrics.NewMemoryObserver(),
	}
	deps := Deps{
		Transcriber: h.stt,
		Translator:  h.tr,
		Speech:      h.speech,
		Frames:      opts.frames,
		Observer:    h.obs,
	}
	if opts.noSTT {
		deps.Transcriber = nil
	}
	if opts.cfg.EndpointDebounce == 0 {
		opts.cfg.EndpointDebounce = 50 * time.Millisecond
	}
	c, err := NewController(opts.cfg, deps)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	h.c = c
	c.AddListener(h.log)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-c.Done()
	})
	return h
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func entries(l *ledger.Ledger) []ledger.Utterance {
	var out []ledger.Utterance
	for u := range l.All() {
		out = append(out, u)
	}
	return out
}

func TestConversationRoundTrip(t *testing.T) {
	h := newHarness(t, harnessOpts{
		translator: mock.TranslatorConfig{Replies: map[string]string{"I missed you": "Te eché de menos"}},
		speech:     mock.TTSConfig{AutoComplete: true, Delay: 20 * time.Millisecond},
	})

	h.c.ToggleMic()
	h.log.waitFor(t, StatusListening)

	h.stt.Emit("I missed you", true)
	h.log.waitFor(t, StatusTranslating)
	h.log.waitFor(t, StatusSpeaking)
	h.log.waitFor(t, StatusIdle)
	h.log.waitFor(t, StatusListening)

	got := entries(h.c.Ledger())
	if len(got) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(got))
	}
	u := got[0]
	if u.OriginalText != "I missed you" || u.TranslatedText != "Te eché de menos" || u.State != ledger.StateDone {
		t.Fatalf("unexpected entry %+v", u)
	}
	reqs := h.speech.Requests()
	if len(reqs) != 1 || reqs[0].Language != language.ES || reqs[0].ID != u.ID.String() {
		t.Fatalf("unexpected speech requests %+v", reqs)
	}
	if h.c.Message() != "" {
		t.Fatalf("expected no error message, got %q", h.c.Message())
	}
}

func TestTranslationFailureMarksLedgerAndRecovers(t *testing.T) {
	h := newHarness(t, harnessOpts{
		translator: mock.TranslatorConfig{Fn: func(ctx context.Context, req translate.Request) (string, error) {
			return "", errors.New("network failure")
		}},
	})

	if err := h.c.Submit(context.Background(), "Hola"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ev := h.log.waitFor(t, StatusError)
	if ev.Message != MessageTranslationFailed+"network failure" {
		t.Fatalf("unexpected message %q", ev.Message)
	}
	got := entries(h.c.Ledger())
	if len(got) != 1 || got[0].State != ledger.StateFailed || got[0].Display() != ledger.FailedMarker {
		t.Fatalf("expected failed entry, got %+v", got)
	}
	if got[0].OriginalText != "Hola" {
		t.Fatalf("original text changed: %q", got[0].OriginalText)
	}

	h.c.ToggleMic()
	h.log.waitFor(t, StatusListening)
	if h.c.Message() != "" {
		t.Fatalf("expected error cleared, got %q", h.c.Message())
	}
}

func TestAtMostOneTranslationInFlight(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, harnessOpts{
		translator: mock.TranslatorConfig{Fn: func(ctx context.Context, req translate.Request) (string, error) {
			if req.Text == "uno" {
				<-release
			}
			return "translated " + req.Text, nil
		}},
		speech: mock.TTSConfig{AutoComplete: true},
	})

	h.c.SetMic(true)
	h.log.waitFor(t, StatusListening)
	if err := h.c.Submit(context.Background(), "uno"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := h.c.Submit(context.Background(), "tres"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while translating, got %v", err)
	}
	h.stt.Emit("dos", true)
	eventually(t, "endpoint queued", func() bool { return h.c.Snapshot().Queued == 1 })
	if h.c.Status() != StatusTranslating {
		t.Fatalf("expected TRANSLATING, got %s", h.c.Status())
	}

	close(release)
	eventually(t, "both turns translated", func() bool {
		got := entries(h.c.Ledger())
		return len(got) == 2 && got[0].State == ledger.StateDone && got[1].State == ledger.StateDone
	})
	h.log.waitFor(t, StatusListening)

	if h.tr.MaxConcurrent() != 1 {
		t.Fatalf("expected at most one concurrent translation, got %d", h.tr.MaxConcurrent())
	}
	calls := h.tr.Calls()
	if len(calls) != 2 || calls[0].Text != "uno" || calls[1].Text != "dos" {
		t.Fatalf("unexpected call order %+v", calls)
	}
}

func TestQueuedTurnDispatchedAfterFailure(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, harnessOpts{
		translator: mock.TranslatorConfig{Fn: func(ctx context.Context, req translate.Request) (string, error) {
			if req.Text == "uno" {
				<-release
				return "", errors.New("network failure")
			}
			return "two", nil
		}},
		speech: mock.TTSConfig{AutoComplete: true},
	})

	h.c.SetMic(true)
	h.log.waitFor(t, StatusListening)
	if err := h.c.Submit(context.Background(), "uno"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.log.waitFor(t, StatusTranslating)
	h.stt.Emit("dos", true)
	eventually(t, "endpoint queued", func() bool { return h.c.Snapshot().Queued == 1 })

	close(release)
	h.log.waitFor(t, StatusError)
	next := h.log.waitFor(t, StatusTranslating)
	if next.From != StatusError {
		t.Fatalf("expected queued turn to start from ERROR, got %s", next.From)
	}
	h.log.waitFor(t, StatusSpeaking)
	h.log.waitFor(t, StatusIdle)

	got := entries(h.c.Ledger())
	if len(got) != 2 {
		t.Fatalf("expected two entries, got %d", len(got))
	}
	if got[0].OriginalText != "uno" || got[0].State != ledger.StateFailed {
		t.Fatalf("expected first entry failed, got %+v", got[0])
	}
	if got[1].OriginalText != "dos" || got[1].State != ledger.StateDone || got[1].TranslatedText != "two" {
		t.Fatalf("expected second entry done, got %+v", got[1])
	}
	if h.tr.MaxConcurrent() != 1 {
		t.Fatalf("expected at most one concurrent translation, got %d", h.tr.MaxConcurrent())
	}
}

func TestSpokenTranslationIsNotTranscribed(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	h.c.SetMic(true)
	h.log.waitFor(t, StatusListening)
	eventually(t, "capturing", func() bool { return h.c.Snapshot().Capturing() })
	if err := h.c.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.log.waitFor(t, StatusSpeaking)
	if h.c.Snapshot().Capturing() {
		t.Fatalf("microphone must be paused while speaking")
	}

	h.stt.Emit("hola amigo", true)
	h.stt.Emit("hola", false)
	time.Sleep(150 * time.Millisecond)
	if n := h.c.Ledger().Len(); n != 1 {
		t.Fatalf("speaker output became a turn: %d entries", n)
	}
	if q := h.c.Snapshot().Queued; q != 0 {
		t.Fatalf("expected nothing queued, got %d", q)
	}

	var reqs []tts.Request
	eventually(t, "speech request", func() bool { reqs = h.speech.Requests(); return len(reqs) == 1 })
	h.speech.Complete(reqs[0].ID)
	h.log.waitFor(t, StatusIdle)
	h.log.waitFor(t, StatusListening)
	eventually(t, "capturing again", func() bool { return h.c.Snapshot().Capturing() })

	h.stt.Emit("I missed you", true)
	eventually(t, "next turn", func() bool { return h.c.Ledger().Len() == 2 })
	if calls := h.tr.Calls(); len(calls) != 2 || calls[1].Text != "I missed you" {
		t.Fatalf("unexpected translator calls %+v", calls)
	}
}

func newIdleController(t *testing.T, obs metrics.Observer) *Controller {
	t.Helper()
	c, err := NewController(Config{}, Deps{
		Translator: mock.NewTranslator(mock.TranslatorConfig{}),
		Speech:     mock.NewTTS(mock.TTSConfig{}),
		Observer:   obs,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return c
}

func TestLateTranslationResolvesItsOwnEntry(t *testing.T) {
	obs := metrics.NewMemoryObserver()
	c := newIdleController(t, obs)
	late := c.Ledger().Append(ledger.Utterance{OriginalText: "I missed you"})
	lost := c.Ledger().Append(ledger.Utterance{OriginalText: "Hola"})

	c.onTranslation(translationEvent{id: late, text: "Te eché de menos"})
	c.onTranslation(translationEvent{id: lost, err: errors.New("timeout")})

	u, _ := c.Ledger().Get(late)
	if u.State != ledger.StateDone || u.TranslatedText != "Te eché de menos" || u.TargetLanguage != language.ES {
		t.Fatalf("expected late entry translated, got %+v", u)
	}
	u, _ = c.Ledger().Get(lost)
	if u.State != ledger.StateFailed || u.FailureReason != "timeout" {
		t.Fatalf("expected failed entry, got %+v", u)
	}
	if c.Status() != StatusIdle {
		t.Fatalf("late results must not change status, got %s", c.Status())
	}
	if n := obs.Count(metrics.EventStaleResult); n != 2 {
		t.Fatalf("expected 2 stale results recorded, got %d", n)
	}
}

func TestEndpointAfterMicOffIsDropped(t *testing.T) {
	c := newIdleController(t, nil)
	c.onEndpointDetected("trailing words")
	c.drainEndpoints()
	if n := c.Ledger().Len(); n != 0 {
		t.Fatalf("expected endpoint dropped with mic off, got %d entries", n)
	}
	if c.Status() != StatusIdle {
		t.Fatalf("expected IDLE, got %s", c.Status())
	}
}

func TestSubmitWhileSpeakingIsQueued(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	if err := h.c.Submit(context.Background(), "first"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.log.waitFor(t, StatusSpeaking)
	if err := h.c.Submit(context.Background(), "second"); err != nil {
		t.Fatalf("submit while speaking: %v", err)
	}
	eventually(t, "queued turn", func() bool { return h.c.Snapshot().Queued == 1 })

	var reqs []tts.Request
	eventually(t, "first speech request", func() bool { reqs = h.speech.Requests(); return len(reqs) == 1 })
	h.speech.Complete(reqs[0].ID)
	h.log.waitFor(t, StatusIdle)
	h.log.waitFor(t, StatusTranslating)
	h.log.waitFor(t, StatusSpeaking)
}

func TestEmptySubmissionIgnored(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	if err := h.c.Submit(context.Background(), "   "); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	if h.c.Ledger().Len() != 0 {
		t.Fatalf("blank input must not create entries")
	}
}

type failingSource struct{}

func (failingSource) Name() string { return "broken" }
func (failingSource) Ready() bool  { return true }
func (failingSource) Capture(ctx context.Context) (image.Image, error) {
	return nil, errors.New("camera unplugged")
}

func TestFrameCaptureFailureDegradesToTextOnly(t *testing.T) {
	sel := vision.NewSelector(vision.SourceCamera, map[vision.Source]vision.FrameSource{vision.SourceCamera: failingSource{}})
	h := newHarness(t, harnessOpts{
		frames: vision.NewSampler(sel, vision.SamplerConfig{}, nil, nil),
		speech: mock.TTSConfig{AutoComplete: true},
	})

	if err := h.c.Submit(context.Background(), "look at this"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.log.waitFor(t, StatusIdle)

	calls := h.tr.Calls()
	if len(calls) != 1 || calls[0].Frame != nil {
		t.Fatalf("expected a text-only request, got %+v", calls)
	}
	if h.log.saw(StatusError) {
		t.Fatalf("frame failure must not surface an error: %v", h.log.history())
	}
}

type fixedSampler struct{ frame frames.ImageFrame }

func (f fixedSampler) Capture(ctx context.Context) *frames.ImageFrame { return &f.frame }

func TestFrameAttachedAtDispatch(t *testing.T) {
	img := frames.NewImageFrame("test", 1, []byte{0xff, 0xd8, 0xff}, vision.MIMEJPEG, nil)
	h := newHarness(t, harnessOpts{frames: fixedSampler{frame: img}, speech: mock.TTSConfig{AutoComplete: true}})

	if err := h.c.Submit(context.Background(), "this dog"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.log.waitFor(t, StatusIdle)
	calls := h.tr.Calls()
	if len(calls) != 1 || calls[0].Frame == nil || calls[0].Frame.MIME() != vision.MIMEJPEG {
		t.Fatalf("expected frame on request, got %+v", calls)
	}
}

func TestSpeechFailureSetsError(t *testing.T) {
	h := newHarness(t, harnessOpts{speech: mock.TTSConfig{AutoComplete: true, FailReason: "synthesis-failed"}})

	if err := h.c.Submit(context.Background(), "Hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ev := h.log.waitFor(t, StatusError)
	if ev.Message != MessageSpeechFailed {
		t.Fatalf("unexpected message %q", ev.Message)
	}
	u := entries(h.c.Ledger())[0]
	if u.State != ledger.StateDone {
		t.Fatalf("translation must stay recorded after speech failure, got %s", u.State)
	}
}

func TestSpeechTimeout(t *testing.T) {
	h := newHarness(t, harnessOpts{cfg: Config{SpeechTimeout: 40 * time.Millisecond}})

	if err := h.c.Submit(context.Background(), "Hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ev := h.log.waitFor(t, StatusError)
	if ev.Message != MessageSpeechFailed {
		t.Fatalf("unexpected message %q", ev.Message)
	}
}

func TestInterimSpeechEndpointsAfterSilence(t *testing.T) {
	h := newHarness(t, harnessOpts{speech: mock.TTSConfig{AutoComplete: true}})

	h.c.SetMic(true)
	h.log.waitFor(t, StatusListening)
	h.stt.Emit("hola", false)
	h.stt.Emit("hola amigo", false)
	h.log.waitFor(t, StatusTranslating)

	var calls []translate.Request
	eventually(t, "translator call", func() bool { calls = h.tr.Calls(); return len(calls) == 1 })
	if calls[0].Text != "hola amigo" {
		t.Fatalf("expected latest interim text, got %q", calls[0].Text)
	}
}

func TestStreamEndRestartsTranscription(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	h.c.ToggleMic()
	h.log.waitFor(t, StatusListening)
	h.stt.Drop()

	ev := h.log.waitFor(t, StatusListening)
	if ev.From != StatusListening {
		t.Fatalf("expected self-transition, got %s -> %s", ev.From, ev.To)
	}
	starts, _ := h.stt.Counts()
	if starts != 2 {
		t.Fatalf("expected restart, got %d starts", starts)
	}
}

func TestMicOffStopsWithoutRestart(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	h.c.ToggleMic()
	h.log.waitFor(t, StatusListening)
	h.c.ToggleMic()
	h.log.waitFor(t, StatusIdle)

	time.Sleep(minRestartInterval + 100*time.Millisecond)
	starts, closes := h.stt.Counts()
	if starts != 1 || closes != 1 {
		t.Fatalf("expected one start and one close, got %d/%d", starts, closes)
	}
	if h.c.Status() != StatusIdle {
		t.Fatalf("expected IDLE, got %s", h.c.Status())
	}
}

func TestMicOffDuringTurnFinishesIdle(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, harnessOpts{
		translator: mock.TranslatorConfig{Fn: func(ctx context.Context, req translate.Request) (string, error) {
			<-release
			return "Hello", nil
		}},
		speech: mock.TTSConfig{AutoComplete: true},
	})

	h.c.SetMic(true)
	h.log.waitFor(t, StatusListening)
	h.stt.Emit("Hola", true)
	h.log.waitFor(t, StatusTranslating)

	h.c.ToggleMic()
	eventually(t, "mic off", func() bool { return !h.c.Snapshot().MicOn })
	if h.c.Status() != StatusTranslating {
		t.Fatalf("mic toggle must not interrupt the turn, got %s", h.c.Status())
	}

	close(release)
	h.log.waitFor(t, StatusIdle)
	time.Sleep(50 * time.Millisecond)
	if h.c.Status() != StatusIdle {
		t.Fatalf("expected to stay IDLE with mic off, got %s", h.c.Status())
	}
}

func TestTranscriptionErrorSurfaced(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	h.c.SetMic(true)
	h.log.waitFor(t, StatusListening)
	h.stt.Fail("network")
	ev := h.log.waitFor(t, StatusError)
	if ev.Message != MessageRecognitionError+"network" {
		t.Fatalf("unexpected message %q", ev.Message)
	}
}

func TestMissingTranscriberReportedButTypingWorks(t *testing.T) {
	h := newHarness(t, harnessOpts{noSTT: true, speech: mock.TTSConfig{AutoComplete: true}})

	ev := h.log.waitFor(t, StatusError)
	if ev.Message != MessageRecognitionMissing {
		t.Fatalf("unexpected message %q", ev.Message)
	}
	if err := h.c.Submit(context.Background(), "Hola"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.log.waitFor(t, StatusSpeaking)
	h.log.waitFor(t, StatusIdle)
}

func TestEmptyTranslationFails(t *testing.T) {
	h := newHarness(t, harnessOpts{translator: mock.TranslatorConfig{Replies: map[string]string{"Hola": "  "}}})

	if err := h.c.Submit(context.Background(), "Hola"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ev := h.log.waitFor(t, StatusError)
	if !strings.HasSuffix(ev.Message, translate.EmptyResponseReason) {
		t.Fatalf("unexpected message %q", ev.Message)
	}
}

func TestStatusEventsRecorded(t *testing.T) {
	h := newHarness(t, harnessOpts{speech: mock.TTSConfig{AutoComplete: true}})
	if err := h.c.Submit(context.Background(), "Hola"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.log.waitFor(t, StatusIdle)

	names := map[string]bool{}
	for _, ev := range h.obs.Snapshot() {
		names[ev.Name] = true
	}
	for _, want := range []string{metrics.EventStatusChange, metrics.EventTurnDispatched, metrics.EventTranslationDone, metrics.EventSpeechDone} {
		if !names[want] {
			t.Fatalf("missing %s event in %v", want, names)
		}
	}
}
