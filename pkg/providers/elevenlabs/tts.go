package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/parla/pkg/adapters/tts"
	"github.com/harunnryd/parla/pkg/audio"
	"github.com/harunnryd/parla/pkg/errorsx"
	"github.com/harunnryd/parla/pkg/frames"
	"github.com/harunnryd/parla/pkg/logging"
	"github.com/harunnryd/parla/pkg/redact"
	"github.com/harunnryd/parla/pkg/resilience"
)

const defaultBaseURL = "wss://api.elevenlabs.io/v1/text-to-speech"

type Config struct {
	APIKey       string      `mapstructure:"api_key"`
	VoiceID      string      `mapstructure:"voice_id"`
	Voices       []tts.Voice `mapstructure:"voices"`
	ModelID      string      `mapstructure:"model_id"`
	OutputFormat string      `mapstructure:"output_format"`
	BaseURL      string      `mapstructure:"base_url"`
	StreamID     string      `mapstructure:"-"`
	SessionID    string      `mapstructure:"-"`
}

// SpeechOutput renders each request over its own stream-input websocket and
// plays the audio through a sink. Completion is reported after the vendor
// marks the stream final and the sink has drained.
type SpeechOutput struct {
	cfg    Config
	sink   audio.Sink
	out    chan frames.Frame
	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, sink audio.Sink) *SpeechOutput {
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "pcm_24000"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if sink == nil {
		sink = audio.Discard{}
	}
	return &SpeechOutput{
		cfg:    cfg,
		sink:   sink,
		out:    make(chan frames.Frame, 64),
		logger: logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}
}

func (s *SpeechOutput) Name() string { return "elevenlabs_tts" }

func (s *SpeechOutput) Start(ctx context.Context) error {
	if s.cfg.APIKey == "" {
		return errorsx.New(errorsx.ReasonSpeechConnect, "elevenlabs api key missing")
	}
	if s.cfg.VoiceID == "" && len(s.cfg.Voices) == 0 {
		return errorsx.New(errorsx.ReasonSpeechConnect, "elevenlabs voice missing")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		s.ctx, s.cancel = context.WithCancel(ctx)
	}
	return nil
}

func (s *SpeechOutput) Close() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("tts close called",
		slog.String("stream_id", s.cfg.StreamID))
	return nil
}

func (s *SpeechOutput) Results() <-chan frames.Frame { return s.out }

func (s *SpeechOutput) Speak(req tts.Request) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return errors.New("elevenlabs: empty text")
	}
	s.mu.Lock()
	if s.ctx == nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		return errors.New("elevenlabs: not started")
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := s.render(ctx, req, text); err != nil {
			s.logger.Error("tts_render_failed",
				slog.String("utterance_id", req.ID),
				slog.String("reason_code", string(errorsx.Reason(err))),
				slog.String("error", err.Error()))
			s.emit(tts.ErrorFrame(s.cfg.StreamID, s.Name(), req.ID, err.Error()))
			return
		}
		s.emit(tts.DoneFrame(s.cfg.StreamID, s.Name(), req.ID))
	}()
	return nil
}

func (s *SpeechOutput) render(ctx context.Context, req tts.Request, text string) error {
	voice := tts.SelectVoice(s.cfg.Voices, req.Language, s.cfg.VoiceID)
	if voice == "" {
		return errorsx.Wrap(fmt.Errorf("no voice for %s", req.Language), errorsx.ReasonSpeechConnect)
	}
	u := s.buildURL(voice)

	s.logger.Debug("connecting to ElevenLabs",
		slog.String("utterance_id", req.ID),
		slog.String("voice_id", voice),
		slog.String("output_format", s.cfg.OutputFormat))

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.DialContext(ctx, u, http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return errorsx.Wrap(resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}, errorsx.ReasonSpeechConnect)
		}
		return errorsx.Wrapf(err, errorsx.ReasonSpeechConnect, "connect")
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	messages := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        0.5,
				"similarity_boost": 0.8,
			},
		},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, m := range messages {
		if err := conn.WriteJSON(m); err != nil {
			return errorsx.Wrapf(err, errorsx.ReasonSpeechOutput, "send")
		}
	}

	s.logger.Info("tts_request_sent",
		slog.String("utterance_id", req.ID),
		slog.String("language", req.Language.String()),
		slog.String("text", redact.Text(text)))

	var chunks int
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errorsx.Wrapf(err, errorsx.ReasonSpeechOutput, "read")
		}
		final, err := s.handleMessage(data)
		if err != nil {
			return err
		}
		chunks++
		if final {
			break
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err := s.sink.Drain(ctx); err != nil {
		return errorsx.Wrapf(err, errorsx.ReasonSpeechOutput, "drain")
	}
	s.logger.Debug("tts_request_done",
		slog.String("utterance_id", req.ID),
		slog.Int("messages", chunks))
	return nil
}

type streamMessage struct {
	Audio       string `json:"audio"`
	AudioBase64 string `json:"audio_base_64"`
	IsFinal     *bool  `json:"isFinal"`
	Error       string `json:"error"`
	Message     string `json:"message"`
}

// handleMessage plays any audio in data and reports whether the stream is
// complete.
func (s *SpeechOutput) handleMessage(data []byte) (bool, error) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("tts websocket raw data", "data", string(data))
		return false, nil
	}
	if msg.Error != "" {
		reason := msg.Error
		if msg.Message != "" {
			reason = msg.Message
		}
		return false, errorsx.New(errorsx.ReasonSpeechOutput, reason)
	}
	encoded := msg.Audio
	if encoded == "" {
		encoded = msg.AudioBase64
	}
	if encoded != "" {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			s.logger.Error("tts audio decode error", "error", err)
		} else if err := s.sink.Write(raw); err != nil {
			return false, errorsx.Wrapf(err, errorsx.ReasonSpeechOutput, "play")
		}
	}
	return msg.IsFinal != nil && *msg.IsFinal, nil
}

func (s *SpeechOutput) buildURL(voice string) string {
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	if s.cfg.OutputFormat != "" {
		q.Set("output_format", s.cfg.OutputFormat)
	}
	q.Set("optimize_streaming_latency", "3")
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/" + url.PathEscape(voice) + "/stream-input?" + q.Encode()
}

func (s *SpeechOutput) emit(f frames.Frame) {
	select {
	case s.out <- f:
	default:
		s.logger.Warn("tts output buffer full",
			slog.String("stream_id", s.cfg.StreamID))
	}
}

var _ tts.SpeechOutput = (*SpeechOutput)(nil)
