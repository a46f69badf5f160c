package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/harunnryd/parla/pkg/adapters/stt"
	"github.com/harunnryd/parla/pkg/errorsx"
	"github.com/harunnryd/parla/pkg/frames"
	"github.com/harunnryd/parla/pkg/logging"
	"github.com/harunnryd/parla/pkg/redact"
	"github.com/harunnryd/parla/pkg/resilience"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// controlSendTimeout bounds how long a deferred control frame waits for a
// reader.
const controlSendTimeout = 30 * time.Second

type Params struct {
	UtteranceEndMS int `mapstructure:"utterance_end_ms"`
	Endpointing    int `mapstructure:"endpointing_ms"`
}

type Config struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	SampleRate     int    `mapstructure:"sample_rate"`
	Encoding       string `mapstructure:"encoding"`
	Interim        bool   `mapstructure:"interim"`
	VADEvents      bool   `mapstructure:"vad_events"`
	ConnectRetries int    `mapstructure:"connect_retries"`
	StreamID       string `mapstructure:"-"`
	SessionID      string `mapstructure:"-"`
	Params         Params `mapstructure:"params"`
}

// StreamingSTT streams microphone audio to Deepgram and emits transcript
// fragments. Each Start opens a new websocket; frames from earlier
// connections are dropped, except their single stream-ended notice.
type StreamingSTT struct {
	cfg    Config
	out    chan frames.Frame
	logger *slog.Logger
	retry  resilience.RetryPolicy

	mu      sync.Mutex
	current *stream
	gen     uint64
}

type stream struct {
	gen        uint64
	dgClient   *client.WSCallback
	parent     context.Context
	ctx        context.Context
	cancel     context.CancelFunc
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	metaLogged bool
	endOnce    sync.Once
}

func New(cfg Config) *StreamingSTT {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "multi"
	}
	if cfg.ConnectRetries < 0 {
		cfg.ConnectRetries = 0
	}

	logger := logging.NewComponentLogger(slog.Default(), "deepgram_stt")

	return &StreamingSTT{
		cfg:    cfg,
		out:    make(chan frames.Frame, 256),
		logger: logger,
		retry:  resilience.NewRetryPolicy(cfg.ConnectRetries, 200*time.Millisecond),
	}
}

func (s *StreamingSTT) Name() string { return "deepgram_streaming" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	if s.cfg.APIKey == "" {
		return errorsx.New(errorsx.ReasonTranscriptionUnavailable, "deepgram api key missing")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	st := &stream{gen: s.gen}
	s.mu.Unlock()

	st.parent = ctx
	st.ctx, st.cancel = context.WithCancel(ctx)
	st.pipeReader, st.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}

	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          s.cfg.Model,
		Language:       s.cfg.Language,
		Encoding:       s.cfg.Encoding,
		SampleRate:     s.cfg.SampleRate,
		Channels:       1,
		InterimResults: s.cfg.Interim,
		VadEvents:      s.cfg.VADEvents,
		SmartFormat:    true,
		Punctuate:      true,
	}
	if s.cfg.Params.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = strconv.Itoa(s.cfg.Params.UtteranceEndMS)
	}
	if s.cfg.Params.Endpointing > 0 {
		transcriptOptions.Endpointing = strconv.Itoa(s.cfg.Params.Endpointing)
	}

	s.logger.Info("initializing deepgram connection",
		slog.String("stream_id", s.cfg.StreamID),
		slog.Uint64("generation", st.gen),
		slog.String("model", s.cfg.Model),
		slog.String("language", s.cfg.Language),
		slog.Int("sample_rate", s.cfg.SampleRate))

	cb := &callback{parent: s, stream: st}

	_, err := resilience.Do(st.ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		dgClient, err := client.NewWSUsingCallback(st.ctx, s.cfg.APIKey, clientOptions, transcriptOptions, cb)
		if err != nil {
			return struct{}{}, resilience.Permanent(err)
		}
		if connected := dgClient.Connect(); !connected {
			return struct{}{}, errors.New("deepgram connection failed")
		}
		st.dgClient = dgClient
		return struct{}{}, nil
	})
	if err != nil {
		st.cancel()
		_ = st.pipeWriter.Close()
		s.logger.Error("deepgram_connect_failed",
			slog.String("stream_id", s.cfg.StreamID),
			slog.String("error", err.Error()))
		return errorsx.Wrapf(err, errorsx.ReasonTranscriptionError, "deepgram connect")
	}

	s.mu.Lock()
	s.current = st
	s.mu.Unlock()

	s.logger.Info("deepgram_connected",
		slog.String("stream_id", s.cfg.StreamID),
		slog.Uint64("generation", st.gen))

	go func() {
		err := st.dgClient.Stream(st.pipeReader)
		if err != nil && st.ctx.Err() == nil {
			s.logger.Error("deepgram_stream_error",
				slog.String("error", err.Error()),
				slog.String("stream_id", s.cfg.StreamID))
			s.emitError(st, err.Error())
		}
		s.finish(st, "stream_returned")
	}()

	return nil
}

func (s *StreamingSTT) Close() error {
	s.mu.Lock()
	st := s.current
	s.current = nil
	s.mu.Unlock()
	if st == nil {
		return nil
	}

	s.logger.Info("closing deepgram connection",
		slog.String("stream_id", s.cfg.StreamID),
		slog.Uint64("generation", st.gen))

	st.cancel()
	_ = st.pipeWriter.Close()
	if st.dgClient != nil {
		st.dgClient.Stop()
	}
	s.finish(st, "closed")
	return nil
}

func (s *StreamingSTT) SendAudio(frame frames.AudioFrame) error {
	s.mu.Lock()
	st := s.current
	s.mu.Unlock()
	if st == nil {
		return fmt.Errorf("not started")
	}

	_, err := st.pipeWriter.Write(frame.RawPayload())
	if err != nil && st.ctx.Err() == nil {
		s.logger.Error("failed to send audio to deepgram",
			slog.String("error", err.Error()),
			slog.String("stream_id", s.cfg.StreamID))
		return errorsx.Wrap(err, errorsx.ReasonTranscriptionSend)
	}
	return nil
}

func (s *StreamingSTT) Results() <-chan frames.Frame { return s.out }

// finish reports the end of st exactly once and forgets it if it is still
// current.
func (s *StreamingSTT) finish(st *stream, reason string) {
	st.endOnce.Do(func() {
		s.mu.Lock()
		if s.current == st {
			s.current = nil
		}
		s.mu.Unlock()
		st.cancel()
		_ = st.pipeWriter.Close()
		s.emitControl(st, frames.NewControlFrame(s.cfg.StreamID, time.Now().UnixNano(), frames.ControlStreamEnded, s.meta(st, map[string]string{
			frames.MetaReason: reason,
		})))
	})
}

func (s *StreamingSTT) isCurrent(st *stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current == st
}

func (s *StreamingSTT) emitError(st *stream, reason string) {
	s.emitControl(st, frames.NewControlFrame(s.cfg.StreamID, time.Now().UnixNano(), frames.ControlError, s.meta(st, map[string]string{
		frames.MetaReason: reason,
	})))
}

func (s *StreamingSTT) emit(f frames.Frame) {
	select {
	case s.out <- f:
	default:
		s.logger.Warn("deepgram_out_channel_full",
			slog.String("stream_id", s.cfg.StreamID))
	}
}

// emitControl never drops a control frame while the stream's parent context
// lives. When the buffer is full the send is handed to a goroutine so a
// caller that also reads Results, such as Close on the consumer side, does
// not block.
func (s *StreamingSTT) emitControl(st *stream, f frames.ControlFrame) {
	select {
	case s.out <- f:
		return
	default:
	}
	parent := st.parent
	if parent == nil {
		parent = context.Background()
	}
	s.logger.Warn("deepgram_control_frame_deferred",
		slog.String("stream_id", s.cfg.StreamID),
		slog.Uint64("generation", st.gen))
	go func() {
		ctx, cancel := context.WithTimeout(parent, controlSendTimeout)
		defer cancel()
		select {
		case s.out <- f:
		case <-ctx.Done():
			s.logger.Error("deepgram_control_frame_lost",
				slog.String("stream_id", s.cfg.StreamID),
				slog.Uint64("generation", st.gen),
				slog.String("error", ctx.Err().Error()))
		}
	}()
}

func (s *StreamingSTT) meta(st *stream, extra map[string]string) map[string]string {
	meta := map[string]string{
		frames.MetaSource:     "stt",
		frames.MetaGeneration: strconv.FormatUint(st.gen, 10),
	}
	if s.cfg.SessionID != "" {
		meta[frames.MetaSessionID] = s.cfg.SessionID
	}
	for k, v := range extra {
		meta[k] = v
	}
	return meta
}

// --- Callback Implementation ---

type callback struct {
	parent *StreamingSTT
	stream *stream
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.Uint64("generation", c.stream.gen))
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if !c.parent.isCurrent(c.stream) {
		return nil
	}
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}

	isFinal := mr.IsFinal || mr.SpeechFinal

	c.parent.logger.Debug("transcript_received",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.String("transcript", redact.Text(transcript)),
		slog.Bool("is_final", isFinal))

	c.parent.emit(frames.NewFragment(c.parent.cfg.StreamID, transcript, isFinal, c.parent.meta(c.stream, nil)))
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	if !c.stream.metaLogged {
		c.stream.metaLogged = true
		c.parent.logger.Info("deepgram_metadata_received",
			slog.String("stream_id", c.parent.cfg.StreamID),
			slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.parent.logger.Debug("speech_started_event",
		slog.String("stream_id", c.parent.cfg.StreamID))
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.parent.logger.Debug("utterance_end_event",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.Int("utterance_end_ms", c.parent.cfg.Params.UtteranceEndMS))
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.Uint64("generation", c.stream.gen))
	c.parent.finish(c.stream, "remote_closed")
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	if c.parent.isCurrent(c.stream) {
		reason := er.ErrMsg
		if reason == "" {
			reason = er.ErrCode
		}
		c.parent.emitError(c.stream, reason)
	}
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event",
		slog.String("stream_id", c.parent.cfg.StreamID),
		slog.String("data", string(byData)))
	return nil
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
var _ msginterfaces.LiveMessageCallback = (*callback)(nil)
