package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/parla/pkg/adapters/stt"
	"github.com/harunnryd/parla/pkg/adapters/tts"
	"github.com/harunnryd/parla/pkg/endpoint"
	"github.com/harunnryd/parla/pkg/errorsx"
	"github.com/harunnryd/parla/pkg/frames"
	"github.com/harunnryd/parla/pkg/language"
	"github.com/harunnryd/parla/pkg/ledger"
	"github.com/harunnryd/parla/pkg/logging"
	"github.com/harunnryd/parla/pkg/metrics"
	"github.com/harunnryd/parla/pkg/redact"
	"github.com/harunnryd/parla/pkg/translate"
	"github.com/harunnryd/parla/pkg/vision"
)

var (
	ErrEmpty   = errors.New("turn: empty text")
	ErrBusy    = errors.New("turn: translation in progress")
	ErrStopped = errors.New("turn: controller stopped")
	ErrRunning = errors.New("turn: controller already running")

	errNoTranscriber = errors.New("no transcription provider configured")
)

const (
	DefaultTranslateTimeout = 15 * time.Second
	DefaultSpeechTimeout    = 30 * time.Second

	// minRestartInterval spaces out restarts of a stream that keeps dying.
	minRestartInterval = 500 * time.Millisecond
)

// FrameSampler captures the visual context for a turn. It returns nil when
// no frame is available and must not block for long.
type FrameSampler interface {
	Capture(ctx context.Context) *frames.ImageFrame
}

// SourceSelector switches the active frame source.
type SourceSelector interface {
	Set(src vision.Source)
	Current() vision.Source
}

type Config struct {
	SessionID          string
	EndpointDebounce   time.Duration
	TranslateTimeout   time.Duration
	SpeechTimeout      time.Duration
	DisableAutoRestart bool
	SystemInstruction  string
}

// Deps are the collaborators driven by the controller. Translator and Speech
// are required. A nil Transcriber means live listening is unavailable.
type Deps struct {
	Transcriber stt.StreamingSTT
	Translator  translate.Translator
	Speech      tts.SpeechOutput
	Frames      FrameSampler
	Sources     SourceSelector
	Ledger      *ledger.Ledger
	Observer    metrics.Observer
	Logger      *slog.Logger
}

// Origin tells where an utterance came from.
type Origin string

const (
	OriginSpeech Origin = "speech"
	OriginManual Origin = "manual"
)

// Snapshot is a read-only view of the controller.
type Snapshot struct {
	Status       Status
	Message      string
	MicOn        bool
	Transcribing bool
	Queued       int
	InFlight     string
	Source       vision.Source
}

// Capturing reports whether microphone audio should reach the transcriber.
// It is false while a translation is being spoken so the speaker is not
// transcribed as a new turn.
func (s Snapshot) Capturing() bool {
	return s.Transcribing && s.Status != StatusSpeaking
}

type pendingTurn struct {
	id     uuid.UUID
	text   string
	origin Origin
	at     time.Time
}

type activeTurn struct {
	pendingTurn
	dispatched  time.Time
	speakStart  time.Time
	speechTimer *time.Timer
}

type micEvent struct {
	toggle bool
	on     bool
}

type submitEvent struct {
	text  string
	reply chan error
}

type translationEvent struct {
	id      uuid.UUID
	text    string
	err     error
	elapsed time.Duration
}

type speechTimeoutEvent struct{ id uuid.UUID }

type restartEvent struct{}

// Controller sequences capture, translation and speech for each turn.
//
// All state changes happen on the goroutine running Run, one event at a
// time. Public methods only post events, except the read accessors.
type Controller struct {
	cfg        Config
	sm         *stateMachine
	ledger     *ledger.Ledger
	stt        stt.StreamingSTT
	translator translate.Translator
	speech     tts.SpeechOutput
	sampler    FrameSampler
	sources    SourceSelector
	obs        metrics.Observer
	logger     *slog.Logger
	timer      *endpoint.Timer

	events  chan any
	done    chan struct{}
	running atomic.Bool
	ctx     context.Context

	epMu     sync.Mutex
	epQueue  []string
	epSignal chan struct{}

	// Owned by the Run goroutine.
	micOn          bool
	sttActive      bool
	sttOpen        int
	sttUnavailable bool
	lastStart      time.Time
	restartPending bool
	inflight       *activeTurn
	queue          []pendingTurn

	snapMu sync.RWMutex
	snap   Snapshot
}

func NewController(cfg Config, deps Deps) (*Controller, error) {
	if deps.Translator == nil {
		return nil, errors.New("turn: translator is required")
	}
	if deps.Speech == nil {
		return nil, errors.New("turn: speech output is required")
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.TranslateTimeout <= 0 {
		cfg.TranslateTimeout = DefaultTranslateTimeout
	}
	if cfg.SpeechTimeout <= 0 {
		cfg.SpeechTimeout = DefaultSpeechTimeout
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.New()
	}
	if deps.Observer == nil {
		deps.Observer = metrics.NoopObserver{}
	}
	base := deps.Logger
	if base == nil {
		base = slog.Default()
	}
	c := &Controller{
		cfg:        cfg,
		sm:         newStateMachine(),
		ledger:     deps.Ledger,
		stt:        deps.Transcriber,
		translator: deps.Translator,
		speech:     deps.Speech,
		sampler:    deps.Frames,
		sources:    deps.Sources,
		obs:        deps.Observer,
		logger:     logging.NewComponentLogger(base, "turn_controller").With(slog.String("session_id", cfg.SessionID)),
		events:     make(chan any, 64),
		done:       make(chan struct{}),
		epSignal:   make(chan struct{}, 1),
		ctx:        context.Background(),
	}
	c.timer = endpoint.New(cfg.EndpointDebounce, c.onEndpointDetected)
	c.sm.AddListener(StatusListenerFunc(c.recordStatus))
	c.snap.Status = StatusIdle
	return c, nil
}

// Ledger returns the conversation record.
func (c *Controller) Ledger() *ledger.Ledger { return c.ledger }

func (c *Controller) SessionID() string { return c.cfg.SessionID }

func (c *Controller) Status() Status { return c.sm.Status() }

func (c *Controller) Message() string { return c.sm.Message() }

// AddListener registers a listener for status changes. Listeners run on the
// controller goroutine and must not block.
func (c *Controller) AddListener(l StatusListener) { c.sm.AddListener(l) }

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	s := c.snap
	c.snapMu.RUnlock()
	s.Status = c.sm.Status()
	s.Message = c.sm.Message()
	if c.sources != nil {
		s.Source = c.sources.Current()
	} else {
		s.Source = vision.SourceNone
	}
	return s
}

// ToggleMic stops listening when Listening and starts it otherwise. During
// a turn it only flips whether listening resumes afterwards.
func (c *Controller) ToggleMic() { c.post(micEvent{toggle: true}) }

// SetMic turns listening on or off explicitly.
func (c *Controller) SetMic(on bool) { c.post(micEvent{on: on}) }

// Submit translates typed text. It is refused while a translation is in
// flight and queued behind a turn that is still speaking.
func (c *Controller) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmpty
	}
	reply := make(chan error, 1)
	if !c.post(submitEvent{text: text, reply: reply}) {
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// SetSource selects the frame source used by later turns.
func (c *Controller) SetSource(src vision.Source) {
	if c.sources == nil {
		c.logger.Warn("frame_source_unsupported", slog.String("source", string(src)))
		return
	}
	c.sources.Set(src)
	c.logger.Info("frame_source_changed", slog.String("source", string(src)))
}

// Run processes events until ctx ends.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	c.ctx = ctx
	defer close(c.done)
	defer c.shutdown()

	var sttResults <-chan frames.Frame
	if c.stt != nil {
		sttResults = c.stt.Results()
	} else {
		c.sttUnavailable = true
		c.transcriptionFailed(errorsx.Wrap(errNoTranscriber, errorsx.ReasonTranscriptionUnavailable))
	}
	speechResults := c.speech.Results()

	c.logger.Info("turn_controller_started",
		slog.String("translator", c.translator.Name()),
		slog.String("speech", c.speech.Name()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.events:
			c.handle(ev)
		case <-c.epSignal:
			c.drainEndpoints()
		case f, ok := <-sttResults:
			if !ok {
				sttResults = nil
				continue
			}
			c.onTranscription(f)
		case f, ok := <-speechResults:
			if !ok {
				speechResults = nil
				continue
			}
			c.onSpeech(f)
		}
		c.publish()
	}
}

func (c *Controller) post(ev any) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) handle(ev any) {
	switch e := ev.(type) {
	case micEvent:
		if e.toggle {
			c.toggleMic()
		} else if e.on {
			c.startListening("mic on")
		} else {
			c.stopListening("mic off")
		}
	case submitEvent:
		e.reply <- c.submit(e.text)
	case translationEvent:
		c.onTranslation(e)
	case speechTimeoutEvent:
		c.onSpeechTimeout(e.id)
	case restartEvent:
		c.restartPending = false
		c.restartTranscription()
	}
}

// --- microphone and transcription ---

func (c *Controller) toggleMic() {
	switch status := c.sm.Status(); {
	case status == StatusListening:
		c.stopListening("mic toggled off")
	case status == StatusIdle || status == StatusError:
		c.startListening("mic toggled on")
	case status.Busy() && c.micOn:
		c.stopListening("mic toggled off")
	default:
		c.startListening("mic toggled on")
	}
}

func (c *Controller) startListening(reason string) {
	c.micOn = true
	if !c.sttActive {
		if err := c.openTranscription(); err != nil {
			c.micOn = false
			c.transcriptionFailed(err)
			return
		}
	}
	if status := c.sm.Status(); status == StatusIdle || status == StatusError {
		c.transition(StatusListening, reason, "")
	}
}

func (c *Controller) stopListening(reason string) {
	c.micOn = false
	c.timer.Reset()
	if c.sttActive {
		c.sttActive = false
		if err := c.stt.Close(); err != nil {
			c.logger.Warn("transcription_close_error", slog.String("error", err.Error()))
		}
	}
	if c.inflight != nil {
		return
	}
	if status := c.sm.Status(); status == StatusListening || status == StatusError {
		c.transition(StatusIdle, reason, "")
	}
}

func (c *Controller) openTranscription() error {
	if c.stt == nil || c.sttUnavailable {
		return errorsx.Wrap(errNoTranscriber, errorsx.ReasonTranscriptionUnavailable)
	}
	if err := c.stt.Start(c.ctx); err != nil {
		if errorsx.HasReason(err, errorsx.ReasonTranscriptionUnavailable) {
			c.sttUnavailable = true
		}
		return errorsx.Wrap(err, errorsx.ReasonTranscriptionError)
	}
	c.sttActive = true
	c.sttOpen++
	c.lastStart = time.Now()
	c.record(metrics.EventTranscriptionStarted, 0, map[string]string{metrics.TagProvider: c.stt.Name()}, nil)
	return nil
}

func (c *Controller) transcriptionFailed(err error) {
	code := errorsx.Reason(err)
	msg := MessageRecognitionError + err.Error()
	if code == errorsx.ReasonTranscriptionUnavailable {
		msg = MessageRecognitionMissing
	}
	c.logger.Error("transcription_failed",
		slog.String("reason_code", string(code)),
		slog.String("error", err.Error()))
	c.record(metrics.EventTranscriptionError, 0, map[string]string{metrics.TagReason: string(code)}, nil)
	c.surfaceError(string(code), msg)
}

func (c *Controller) onTranscription(f frames.Frame) {
	switch fr := f.(type) {
	case frames.TextFrame:
		if !c.micOn || !c.sttActive {
			return
		}
		if c.sm.Status() == StatusSpeaking {
			c.logger.Debug("fragment_dropped_while_speaking", slog.Bool("final", fr.IsFinal()))
			return
		}
		c.timer.Push(endpoint.Fragment{Text: fr.Text(), IsFinal: fr.IsFinal()})
		c.drainEndpoints()
	case frames.ControlFrame:
		switch fr.Code() {
		case frames.ControlStreamEnded:
			c.onStreamEnded()
		case frames.ControlError:
			c.onTranscriptionError(fr.Reason())
		}
	}
}

func (c *Controller) onStreamEnded() {
	if c.sttOpen > 0 {
		c.sttOpen--
	}
	if c.sttOpen > 0 {
		// A newer stream is already running.
		return
	}
	wasActive := c.sttActive
	c.sttActive = false
	if !wasActive || !c.micOn {
		return
	}
	c.logger.Info("transcription_stream_ended", slog.String("status", c.sm.Status().String()))
	if c.cfg.DisableAutoRestart {
		c.micOn = false
		if c.inflight == nil && c.sm.Status() == StatusListening {
			c.transition(StatusIdle, "transcription ended", "")
		}
		return
	}
	if wait := minRestartInterval - time.Since(c.lastStart); wait > 0 {
		if !c.restartPending {
			c.restartPending = true
			time.AfterFunc(wait, func() { c.post(restartEvent{}) })
		}
		return
	}
	c.restartTranscription()
}

// restartTranscription reopens the stream after it ended on its own.
func (c *Controller) restartTranscription() {
	if !c.micOn || c.sttActive {
		return
	}
	if err := c.openTranscription(); err != nil {
		c.micOn = false
		c.transcriptionFailed(err)
		return
	}
	c.record(metrics.EventTranscriptionRestarted, 0, nil, nil)
	if c.sm.Status() == StatusListening {
		c.transition(StatusListening, "transcription restarted", "")
	}
}

func (c *Controller) onTranscriptionError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	c.logger.Warn("transcription_error", slog.String("reason", reason))
	c.record(metrics.EventTranscriptionError, 0, map[string]string{metrics.TagReason: reason}, nil)
	if !c.micOn {
		return
	}
	c.surfaceError(string(errorsx.ReasonTranscriptionError), MessageRecognitionError+reason)
}

// --- endpoints and submissions ---

// onEndpointDetected runs on whichever goroutine completed the endpoint.
func (c *Controller) onEndpointDetected(text string) {
	c.epMu.Lock()
	c.epQueue = append(c.epQueue, text)
	c.epMu.Unlock()
	select {
	case c.epSignal <- struct{}{}:
	default:
	}
}

func (c *Controller) drainEndpoints() {
	c.epMu.Lock()
	pending := c.epQueue
	c.epQueue = nil
	c.epMu.Unlock()
	for _, text := range pending {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if !c.micOn {
			c.logger.Debug("endpoint_dropped_mic_off", slog.Int("chars", len(text)))
			continue
		}
		c.record(metrics.EventEndpointDetected, 0, nil, map[string]any{"chars": len(text)})
		c.accept(text, OriginSpeech)
	}
}

func (c *Controller) submit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmpty
	}
	if c.sm.Status() == StatusTranslating {
		return ErrBusy
	}
	c.accept(text, OriginManual)
	return nil
}

// accept records the utterance and either dispatches it or queues it behind
// the turn in flight.
func (c *Controller) accept(text string, origin Origin) {
	id := c.ledger.Append(ledger.Utterance{
		OriginalText:        text,
		SourceLanguageGuess: language.Guess(text),
	})
	p := pendingTurn{id: id, text: text, origin: origin, at: time.Now()}
	if c.inflight != nil {
		c.queue = append(c.queue, p)
		c.logger.Info("turn_queued",
			slog.String("utterance_id", id.String()),
			slog.String("origin", string(origin)),
			slog.Int("queue_len", len(c.queue)))
		c.record(metrics.EventTurnQueued, float64(len(c.queue)), map[string]string{metrics.TagUtteranceID: id.String()}, nil)
		return
	}
	c.dispatch(p)
}

func (c *Controller) dispatch(p pendingTurn) {
	turn := &activeTurn{pendingTurn: p, dispatched: time.Now()}
	c.inflight = turn
	c.transition(StatusTranslating, "turn dispatched ("+string(p.origin)+")", "")

	frame := c.captureFrame()
	c.logger.Info("turn_dispatched",
		slog.String("utterance_id", p.id.String()),
		slog.String("origin", string(p.origin)),
		slog.String("text", redact.Text(p.text)),
		slog.Bool("has_frame", frame != nil))
	c.record(metrics.EventTurnDispatched, float64(turn.dispatched.Sub(p.at).Milliseconds()),
		map[string]string{metrics.TagUtteranceID: p.id.String()},
		map[string]any{"has_frame": frame != nil, "origin": string(p.origin)})

	go c.runTranslation(c.ctx, p.id, p.text, frame)
}

func (c *Controller) captureFrame() (f *frames.ImageFrame) {
	if c.sampler == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("frame_capture_panic", slog.Any("panic", r))
			f = nil
		}
	}()
	return c.sampler.Capture(c.ctx)
}

func (c *Controller) runTranslation(ctx context.Context, id uuid.UUID, text string, frame *frames.ImageFrame) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TranslateTimeout)
	defer cancel()

	out, err := func() (out string, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("translator panic: %v", r)
			}
		}()
		return c.translator.Translate(ctx, translate.Request{
			Text:              text,
			Frame:             frame,
			SystemInstruction: c.cfg.SystemInstruction,
		})
	}()
	if err == nil && ctx.Err() != nil && strings.TrimSpace(out) == "" {
		err = ctx.Err()
	}
	c.post(translationEvent{id: id, text: out, err: err, elapsed: time.Since(start)})
}

// --- translation results ---

func (c *Controller) onTranslation(e translationEvent) {
	turn := c.inflight
	if turn == nil || turn.id != e.id || c.sm.Status() != StatusTranslating {
		c.onStaleTranslation(e)
		return
	}
	text, err := e.text, e.err
	if err == nil {
		if text, err = translate.Clean(text); err != nil {
			err = &translate.Error{Provider: c.translator.Name(), Reason: translate.EmptyResponseReason, Code: errorsx.ReasonTranslationEmpty, Err: err}
		}
	}
	if err != nil {
		reason := translate.ReasonText(err)
		code := translate.ReasonCode(err)
		c.updateLedger(e.id, ledger.Failed(reason))
		c.logger.Error("translation_failed",
			slog.String("utterance_id", e.id.String()),
			slog.String("reason_code", string(code)),
			slog.String("error", reason),
			slog.Duration("elapsed", e.elapsed))
		c.record(metrics.EventTranslationFailed, float64(e.elapsed.Milliseconds()),
			map[string]string{metrics.TagUtteranceID: e.id.String(), metrics.TagReason: string(code)}, nil)
		c.inflight = nil
		c.transition(StatusError, string(code), MessageTranslationFailed+reason)
		c.finishTurn()
		return
	}

	lang := language.Detect(text, turn.text)
	c.updateLedger(e.id, ledger.Translated(text, lang))
	c.logger.Info("translation_done",
		slog.String("utterance_id", e.id.String()),
		slog.String("language", lang.String()),
		slog.String("text", redact.Text(text)),
		slog.Duration("elapsed", e.elapsed))
	c.record(metrics.EventTranslationDone, float64(e.elapsed.Milliseconds()),
		map[string]string{metrics.TagUtteranceID: e.id.String()},
		map[string]any{"language": lang.String()})

	c.transition(StatusSpeaking, "translation done", "")
	turn.speakStart = time.Now()
	if err := c.speech.Speak(tts.Request{ID: e.id.String(), Text: text, Language: lang}); err != nil {
		c.speechFailed(turn, err.Error())
		return
	}
	id := e.id
	turn.speechTimer = time.AfterFunc(c.cfg.SpeechTimeout, func() { c.post(speechTimeoutEvent{id: id}) })
}

// onStaleTranslation routes a result that no longer matches the turn in
// flight to its own ledger entry.
func (c *Controller) onStaleTranslation(e translationEvent) {
	c.logger.Warn("stale_translation_result", slog.String("utterance_id", e.id.String()))
	c.record(metrics.EventStaleResult, 0, map[string]string{metrics.TagUtteranceID: e.id.String()}, nil)
	orig, ok := c.ledger.Get(e.id)
	if !ok {
		c.updateLedger(e.id, ledger.Failed("unknown utterance"))
		return
	}
	if e.err != nil {
		c.updateLedger(e.id, ledger.Failed(translate.ReasonText(e.err)))
		return
	}
	text, err := translate.Clean(e.text)
	if err != nil {
		c.updateLedger(e.id, ledger.Failed(translate.EmptyResponseReason))
		return
	}
	c.updateLedger(e.id, ledger.Translated(text, language.Detect(text, orig.OriginalText)))
}

func (c *Controller) updateLedger(id uuid.UUID, out ledger.Outcome) {
	if err := c.ledger.UpdateTranslation(id, out); err != nil {
		c.logger.Error("ledger_update_failed",
			slog.String("utterance_id", id.String()),
			slog.String("error", err.Error()))
	}
}

// --- speech results ---

func (c *Controller) onSpeech(f frames.Frame) {
	id, reason, ok := tts.Completion(f)
	if !ok {
		return
	}
	turn := c.inflight
	if turn == nil || turn.id.String() != id || c.sm.Status() != StatusSpeaking {
		c.logger.Warn("stale_speech_result", slog.String("utterance_id", id), slog.String("reason", reason))
		c.record(metrics.EventStaleResult, 0, map[string]string{metrics.TagUtteranceID: id, metrics.TagComponent: "speech"}, nil)
		return
	}
	if reason != "" {
		c.speechFailed(turn, reason)
		return
	}
	if turn.speechTimer != nil {
		turn.speechTimer.Stop()
	}
	elapsed := time.Since(turn.speakStart)
	c.inflight = nil
	c.logger.Info("speech_done",
		slog.String("utterance_id", id),
		slog.Duration("elapsed", elapsed),
		slog.Duration("turn_elapsed", time.Since(turn.at)))
	c.record(metrics.EventSpeechDone, float64(elapsed.Milliseconds()),
		map[string]string{metrics.TagUtteranceID: id},
		map[string]any{"turn_ms": time.Since(turn.at).Milliseconds()})
	c.transition(StatusIdle, "speech done", "")
	c.finishTurn()
}

func (c *Controller) onSpeechTimeout(id uuid.UUID) {
	turn := c.inflight
	if turn == nil || turn.id != id || c.sm.Status() != StatusSpeaking {
		return
	}
	c.speechFailed(turn, string(errorsx.ReasonSpeechTimeout))
}

func (c *Controller) speechFailed(turn *activeTurn, reason string) {
	if turn.speechTimer != nil {
		turn.speechTimer.Stop()
	}
	c.inflight = nil
	c.logger.Error("speech_failed",
		slog.String("utterance_id", turn.id.String()),
		slog.String("reason_code", string(errorsx.ReasonSpeechOutput)),
		slog.String("error", reason))
	c.record(metrics.EventSpeechFailed, float64(time.Since(turn.speakStart).Milliseconds()),
		map[string]string{metrics.TagUtteranceID: turn.id.String(), metrics.TagReason: reason}, nil)
	c.transition(StatusError, string(errorsx.ReasonSpeechOutput), MessageSpeechFailed)
	c.finishTurn()
}

// finishTurn runs after a turn completes: it starts the next queued turn,
// or resumes listening when the mic is still on.
func (c *Controller) finishTurn() {
	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.dispatch(next)
		return
	}
	if c.sm.Status() != StatusIdle || !c.micOn {
		return
	}
	if !c.sttActive {
		if err := c.openTranscription(); err != nil {
			c.micOn = false
			c.transcriptionFailed(err)
			return
		}
	}
	c.transition(StatusListening, "auto-restart", "")
}

// --- plumbing ---

// surfaceError shows a recoverable error unless a turn is in flight, in
// which case the error is only logged and the turn keeps its status.
func (c *Controller) surfaceError(reason, message string) {
	if c.inflight != nil {
		c.logger.Warn("error_deferred_turn_in_flight",
			slog.String("reason_code", reason),
			slog.String("message", message))
		return
	}
	c.transition(StatusError, reason, message)
}

func (c *Controller) transition(to Status, reason, message string) {
	from := c.sm.Status()
	if from == to && to != StatusListening && to != StatusError {
		return
	}
	if err := c.sm.Transition(to, reason, message); err != nil {
		c.logger.Error("invalid_transition",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
			slog.String("reason", reason))
	}
}

func (c *Controller) recordStatus(ev StatusChange) {
	attrs := []any{
		slog.String("from", ev.From.String()),
		slog.String("status", ev.To.String()),
		slog.String("reason", ev.Reason),
	}
	if ev.Message != "" {
		attrs = append(attrs, slog.String("message", ev.Message))
	}
	c.logger.Info("status_change", attrs...)
	c.record(metrics.EventStatusChange, float64(ev.Elapsed.Milliseconds()),
		map[string]string{metrics.TagFrom: ev.From.String(), metrics.TagStatus: ev.To.String()}, nil)
}

func (c *Controller) record(name string, value float64, tags map[string]string, fields map[string]any) {
	all := map[string]string{
		metrics.TagSessionID: c.cfg.SessionID,
		metrics.TagComponent: "turn",
	}
	for k, v := range tags {
		all[k] = v
	}
	c.obs.RecordEvent(metrics.MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Value:  value,
		Tags:   all,
		Fields: fields,
	})
}

func (c *Controller) publish() {
	var inflight string
	if c.inflight != nil {
		inflight = c.inflight.id.String()
	}
	c.snapMu.Lock()
	c.snap.MicOn = c.micOn
	c.snap.Transcribing = c.sttActive
	c.snap.Queued = len(c.queue)
	c.snap.InFlight = inflight
	c.snapMu.Unlock()
}

func (c *Controller) shutdown() {
	c.timer.Stop()
	if c.inflight != nil && c.inflight.speechTimer != nil {
		c.inflight.speechTimer.Stop()
	}
	if c.sttActive {
		c.sttActive = false
		if err := c.stt.Close(); err != nil {
			c.logger.Warn("transcription_close_error", slog.String("error", err.Error()))
		}
	}
	c.publish()
	c.logger.Info("turn_controller_stopped", slog.Int("utterances", c.ledger.Len()))
}
