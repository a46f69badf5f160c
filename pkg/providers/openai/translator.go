// Package openai translates through any OpenAI-compatible chat completions
// endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/parla/pkg/errorsx"
	"github.com/harunnryd/parla/pkg/logging"
	"github.com/harunnryd/parla/pkg/resilience"
	"github.com/harunnryd/parla/pkg/translate"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
)

type Config struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type Translator struct {
	cfg    Config
	Client *http.Client
	logger *slog.Logger
}

func New(cfg Config) (*Translator, error) {
	if cfg.APIKey == "" {
		return nil, errorsx.New(errorsx.ReasonConfigInvalid, "openai api key missing")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Translator{
		cfg:    cfg,
		Client: &http.Client{Timeout: 60 * time.Second},
		logger: logging.NewComponentLogger(slog.Default(), "openai"),
	}, nil
}

func (t *Translator) Name() string { return "openai" }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// buildRequest renders req as a chat completions payload. A frame becomes
// an image_url part carrying a data URI.
func (t *Translator) buildRequest(req translate.Request) chatRequest {
	var messages []chatMessage
	if req.SystemInstruction != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemInstruction})
	}
	if req.Frame == nil || len(req.Frame.RawPayload()) == 0 {
		messages = append(messages, chatMessage{Role: "user", Content: req.Text})
	} else {
		mime := req.Frame.MIME()
		if mime == "" {
			mime = "image/jpeg"
		}
		uri := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Frame.RawPayload())
		messages = append(messages, chatMessage{Role: "user", Content: []contentPart{
			{Type: "text", Text: req.Text},
			{Type: "image_url", ImageURL: &imageURL{URL: uri}},
		}})
	}
	return chatRequest{Model: t.cfg.Model, Messages: messages}
}

func (t *Translator) Translate(ctx context.Context, req translate.Request) (string, error) {
	b, err := json.Marshal(t.buildRequest(req))
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(t.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

	resp, err := t.client().Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", translate.NewError(t.Name(), errorsx.ReasonTranslationError, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(resp.Body)
		return "", translate.NewError(t.Name(), errorsx.ReasonTranslationRateLimit, "rate limited by provider",
			resilience.RateLimitError{Provider: "openai", Message: string(body)})
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		t.logger.Error("openai_request_failed",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)))
		err := fmt.Errorf("openai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode < 500 {
			err = resilience.Permanent(err)
		}
		return "", translate.NewError(t.Name(), errorsx.ReasonTranslationError, fmt.Sprintf("provider returned status %d", resp.StatusCode), err)
	}

	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", translate.NewError(t.Name(), errorsx.ReasonTranslationError, "malformed provider response", err)
	}
	if len(payload.Choices) == 0 {
		return "", nil
	}
	return payload.Choices[0].Message.Content, nil
}

func (t *Translator) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

var _ translate.Translator = (*Translator)(nil)
