package tts

import (
	"context"

	"github.com/harunnryd/parla/pkg/frames"
	"github.com/harunnryd/parla/pkg/language"
)

// SpeechOutput defines the contract for any speech vendor.
//
// Each accepted Speak call eventually produces exactly one control frame on
// Results: frames.ControlSpeechDone once the text has been rendered audibly,
// or frames.ControlError with a reason. Both carry the request ID in
// frames.MetaUtteranceID.
type SpeechOutput interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start initializes the vendor connection.
	Start(ctx context.Context) error
	// Close shuts down the vendor connection.
	Close() error
	// Speak queues text for synthesis in the given language.
	Speak(req Request) error
	// Results returns a channel of completion/error frames.
	Results() <-chan frames.Frame
}

// Request is one utterance to render.
type Request struct {
	ID       string
	Text     string
	Language language.Language
}

// Config contains vendor-agnostic speech configuration.
type Config struct {
	StreamID   string
	SessionID  string
	SampleRate int
	Channels   int
}

// Completion inspects a frame from Results.
func Completion(f frames.Frame) (id string, reason string, ok bool) {
	cf, isCtrl := f.(frames.ControlFrame)
	if !isCtrl {
		return "", "", false
	}
	meta := cf.Meta()
	switch cf.Code() {
	case frames.ControlSpeechDone:
		return meta[frames.MetaUtteranceID], "", true
	case frames.ControlError:
		reason = cf.Reason()
		if reason == "" {
			reason = "unknown error"
		}
		return meta[frames.MetaUtteranceID], reason, true
	default:
		return "", "", false
	}
}

// DoneFrame builds the completion frame for request id.
func DoneFrame(streamID, source, id string) frames.ControlFrame {
	return frames.NewControlFrame(streamID, 0, frames.ControlSpeechDone, map[string]string{
		frames.MetaSource:      source,
		frames.MetaUtteranceID: id,
	})
}

// ErrorFrame builds the failure frame for request id.
func ErrorFrame(streamID, source, id, reason string) frames.ControlFrame {
	return frames.NewControlFrame(streamID, 0, frames.ControlError, map[string]string{
		frames.MetaSource:      source,
		frames.MetaUtteranceID: id,
		frames.MetaReason:      reason,
	})
}
