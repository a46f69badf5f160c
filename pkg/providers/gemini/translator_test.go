package gemini

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/harunnryd/parla/pkg/errorsx"
	"github.com/harunnryd/parla/pkg/frames"
	"github.com/harunnryd/parla/pkg/resilience"
	"github.com/harunnryd/parla/pkg/translate"
	"google.golang.org/api/googleapi"
)

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{}
	for _, p := range parts {
		content.Parts = append(content.Parts, genai.Text(p))
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: content}},
	}
}

func TestTranslateSendsTextFrameAndInstruction(t *testing.T) {
	var gotParts []genai.Part
	var gotInstruction string
	tr := newTranslator(Config{}, func(ctx context.Context, model *genai.GenerativeModel, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
		gotParts = parts
		if model.SystemInstruction != nil {
			gotInstruction = string(model.SystemInstruction.Parts[0].(genai.Text))
		}
		return textResponse("Te eché ", "de menos"), nil
	})

	frame := frames.NewImageFrame("s1", 0, []byte{0xff, 0xd8}, "image/jpeg", nil)
	out, err := tr.Translate(context.Background(), translate.Request{
		Text:              "I missed you",
		Frame:             &frame,
		SystemInstruction: "translate",
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if out != "Te eché de menos" {
		t.Fatalf("unexpected output %q", out)
	}
	if gotInstruction != "translate" {
		t.Fatalf("expected system instruction, got %q", gotInstruction)
	}
	if len(gotParts) != 2 {
		t.Fatalf("expected text and image parts, got %d", len(gotParts))
	}
	if txt, ok := gotParts[0].(genai.Text); !ok || string(txt) != "I missed you" {
		t.Fatalf("unexpected first part %#v", gotParts[0])
	}
	blob, ok := gotParts[1].(genai.Blob)
	if !ok || blob.MIMEType != "image/jpeg" || len(blob.Data) != 2 {
		t.Fatalf("unexpected image part %#v", gotParts[1])
	}
}

func TestPartsWithoutFrame(t *testing.T) {
	if parts := Parts(translate.Request{Text: "hola"}); len(parts) != 1 {
		t.Fatalf("expected text only, got %d parts", len(parts))
	}
}

func TestResponseTextNil(t *testing.T) {
	if got := ResponseText(nil); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}
	if got := ResponseText(resp); got != "" {
		t.Fatalf("expected empty for candidate without content, got %q", got)
	}
}

func TestTranslateClassifiesFailures(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		rateLimit bool
		permanent bool
	}{
		{name: "network", err: errors.New("connection reset")},
		{name: "rate limit", err: &googleapi.Error{Code: http.StatusTooManyRequests, Message: "quota"}, rateLimit: true},
		{name: "bad request", err: &googleapi.Error{Code: http.StatusBadRequest, Message: "bad key"}, permanent: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := newTranslator(Config{}, func(context.Context, *genai.GenerativeModel, ...genai.Part) (*genai.GenerateContentResponse, error) {
				return nil, tc.err
			})
			_, err := tr.Translate(context.Background(), translate.Request{Text: "hi"})
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := translate.ReasonText(err); got != FailureReason {
				t.Fatalf("expected %q, got %q", FailureReason, got)
			}
			if resilience.IsRateLimit(err) != tc.rateLimit {
				t.Fatalf("rate limit = %v, want %v", resilience.IsRateLimit(err), tc.rateLimit)
			}
			if tc.rateLimit && translate.ReasonCode(err) != errorsx.ReasonTranslationRateLimit {
				t.Fatalf("unexpected code %s", translate.ReasonCode(err))
			}
			if resilience.DefaultIsRetryable(err) == (tc.permanent || tc.rateLimit) {
				t.Fatalf("retryable = %v for %s", resilience.DefaultIsRetryable(err), tc.name)
			}
		})
	}
}

func TestTranslatePassesContextErrors(t *testing.T) {
	tr := newTranslator(Config{}, func(ctx context.Context, _ *genai.GenerativeModel, _ ...genai.Part) (*genai.GenerateContentResponse, error) {
		return nil, context.DeadlineExceeded
	})
	_, err := tr.Translate(context.Background(), translate.Request{Text: "hi"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(context.Background(), Config{}); !errorsx.HasReason(err, errorsx.ReasonConfigInvalid) {
		t.Fatalf("expected config error, got %v", err)
	}
}
