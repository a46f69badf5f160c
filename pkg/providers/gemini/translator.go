// Package gemini translates utterances with Google's Gemini models, sending
// the current camera or screen frame alongside the text when one exists.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/harunnryd/parla/pkg/errorsx"
	"github.com/harunnryd/parla/pkg/logging"
	"github.com/harunnryd/parla/pkg/redact"
	"github.com/harunnryd/parla/pkg/resilience"
	"github.com/harunnryd/parla/pkg/translate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	DefaultModel = "gemini-2.5-flash"
	// FailureReason is what the user sees when the API call itself fails.
	FailureReason = "Failed to get translation from Gemini API."
)

type Config struct {
	APIKey      string   `mapstructure:"api_key"`
	Model       string   `mapstructure:"model"`
	Temperature *float32 `mapstructure:"temperature"`
}

type generateFunc func(ctx context.Context, model *genai.GenerativeModel, parts ...genai.Part) (*genai.GenerateContentResponse, error)

type Translator struct {
	cfg      Config
	client   *genai.Client
	generate generateFunc
	logger   *slog.Logger
}

func New(ctx context.Context, cfg Config) (*Translator, error) {
	if cfg.APIKey == "" {
		return nil, errorsx.New(errorsx.ReasonConfigInvalid, "gemini api key missing")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	t := newTranslator(cfg, func(ctx context.Context, model *genai.GenerativeModel, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
		return model.GenerateContent(ctx, parts...)
	})
	t.client = client
	return t, nil
}

func newTranslator(cfg Config, generate generateFunc) *Translator {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Translator{
		cfg:      cfg,
		generate: generate,
		logger:   logging.NewComponentLogger(slog.Default(), "gemini"),
	}
}

func (t *Translator) Name() string { return "gemini" }

func (t *Translator) Close() error {
	if t.client == nil {
		return nil
	}
	return t.client.Close()
}

func (t *Translator) Translate(ctx context.Context, req translate.Request) (string, error) {
	model := t.model(req.SystemInstruction)
	parts := Parts(req)

	t.logger.Debug("gemini_request",
		slog.String("model", t.cfg.Model),
		slog.String("text", redact.Text(req.Text)),
		slog.Bool("has_frame", req.Frame != nil))

	resp, err := t.generate(ctx, model, parts...)
	if err != nil {
		t.logger.Error("gemini_request_failed", slog.String("error", err.Error()))
		return "", classify(err)
	}
	return ResponseText(resp), nil
}

func (t *Translator) model(instruction string) *genai.GenerativeModel {
	var m *genai.GenerativeModel
	if t.client != nil {
		m = t.client.GenerativeModel(t.cfg.Model)
	} else {
		m = &genai.GenerativeModel{}
	}
	if t.cfg.Temperature != nil {
		m.GenerationConfig.SetTemperature(*t.cfg.Temperature)
	}
	if instruction != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(instruction)},
		}
	}
	return m
}

// Parts builds the prompt: the utterance, then the frame as inline image
// data.
func Parts(req translate.Request) []genai.Part {
	parts := []genai.Part{genai.Text(req.Text)}
	if req.Frame != nil && len(req.Frame.RawPayload()) > 0 {
		format := strings.TrimPrefix(req.Frame.MIME(), "image/")
		if format == "" {
			format = "jpeg"
		}
		parts = append(parts, genai.ImageData(format, req.Frame.RawPayload()))
	}
	return parts
}

// ResponseText concatenates the text parts of every candidate.
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if s, ok := part.(genai.Text); ok {
				text.WriteString(string(s))
			}
		}
	}
	return text.String()
}

type httpCoder interface {
	HTTPCode() int
}

func statusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	var hc httpCoder
	if errors.As(err, &hc) {
		return hc.HTTPCode()
	}
	return 0
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch code := statusCode(err); {
	case code == http.StatusTooManyRequests:
		return translate.NewError("gemini", errorsx.ReasonTranslationRateLimit, FailureReason,
			resilience.RateLimitError{Provider: "gemini", Message: err.Error()})
	case code >= 400 && code < 500:
		return translate.NewError("gemini", errorsx.ReasonTranslationError, FailureReason, resilience.Permanent(err))
	default:
		return translate.NewError("gemini", errorsx.ReasonTranslationError, FailureReason, err)
	}
}

var _ translate.Translator = (*Translator)(nil)
