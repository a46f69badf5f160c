package turn

// Status is the conversation status. Exactly one holds at any instant and
// only the Controller changes it.
type Status int

const (
	StatusIdle Status = iota
	StatusListening
	StatusTranslating
	StatusSpeaking
	StatusError
)

// String returns the string representation of a Status
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusListening:
		return "LISTENING"
	case StatusTranslating:
		return "TRANSLATING"
	case StatusSpeaking:
		return "SPEAKING"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Busy reports whether a turn is in flight.
func (s Status) Busy() bool {
	return s == StatusTranslating || s == StatusSpeaking
}

// User-facing messages.
const (
	MessageTranslationFailed  = "Translation failed: "
	MessageSpeechFailed       = "Sorry, I couldn't speak the translation."
	MessageRecognitionError   = "Speech recognition error: "
	MessageRecognitionMissing = "Speech recognition is not supported."
)
