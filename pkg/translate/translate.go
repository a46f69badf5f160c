// Package translate defines the translator collaborator and the policy that
// wraps every provider: timeouts, retries, rate-limit circuit breaking and
// empty-response rejection.
package translate

import (
	"context"
	"errors"
	"strings"

	"github.com/harunnryd/parla/pkg/errorsx"
	"github.com/harunnryd/parla/pkg/frames"
)

// ErrEmptyResponse is returned when a provider answers with blank text.
var ErrEmptyResponse = errors.New("translate: empty response")

// EmptyResponseReason is shown to the user for ErrEmptyResponse.
const EmptyResponseReason = "Received an empty response from the API."

// Request is one turn's payload: the utterance, at most one image, and the
// translation policy.
type Request struct {
	Text              string
	Frame             *frames.ImageFrame
	SystemInstruction string
}

// Translator turns text in one language of the pair into the other.
type Translator interface {
	Name() string
	Translate(ctx context.Context, req Request) (string, error)
}

// Error is a translation failure with a reason fit for the user.
type Error struct {
	Provider string
	Reason   string
	Code     errorsx.ReasonCode
	Err      error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a translation failure. An err that already is an
// *Error is returned unchanged.
func NewError(provider string, code errorsx.ReasonCode, reason string, err error) error {
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	if reason == "" && err != nil {
		reason = err.Error()
	}
	return &Error{Provider: provider, Reason: reason, Code: code, Err: errorsx.Wrap(err, code)}
}

// ReasonText returns the human-readable reason for any error produced by a
// translator.
func ReasonText(err error) string {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Error()
	}
	return err.Error()
}

// ReasonCode returns the classification of a translator error.
func ReasonCode(err error) errorsx.ReasonCode {
	var te *Error
	if errors.As(err, &te) && te.Code != "" {
		return te.Code
	}
	if r := errorsx.Reason(err); r != errorsx.ReasonUnknown {
		return r
	}
	return errorsx.ReasonTranslationError
}

// Clean trims provider output and rejects blank answers.
func Clean(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
