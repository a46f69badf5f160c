package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// ReasonTranscriptionUnavailable means no usable transcription provider
	// exists. It is fatal for live listening; typed input still works.
	ReasonTranscriptionUnavailable ReasonCode = "transcription_unavailable"
	ReasonTranscriptionError       ReasonCode = "transcription_error"
	ReasonTranscriptionSend        ReasonCode = "transcription_send"

	ReasonTranslationError       ReasonCode = "translation_error"
	ReasonTranslationEmpty       ReasonCode = "translation_empty"
	ReasonTranslationRateLimit   ReasonCode = "translation_rate_limit"
	ReasonTranslationCircuitOpen ReasonCode = "translation_circuit_open"
	ReasonTranslationTimeout     ReasonCode = "translation_timeout"

	ReasonSpeechConnect ReasonCode = "speech_connect"
	ReasonSpeechOutput  ReasonCode = "speech_output_error"
	ReasonSpeechTimeout ReasonCode = "speech_timeout"

	ReasonFrameCapture ReasonCode = "frame_capture_failure"

	ReasonConfigInvalid ReasonCode = "config_invalid"
)

// Recoverable reports whether the conversation can continue after an error
// with the given reason.
func Recoverable(reason ReasonCode) bool {
	return reason != ReasonTranscriptionUnavailable && reason != ReasonConfigInvalid
}
