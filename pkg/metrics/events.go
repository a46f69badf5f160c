package metrics

// Event names emitted by the conversation loop and its collaborators.
const (
	EventStatusChange           = "status_change"
	EventEndpointDetected       = "endpoint_detected"
	EventTurnQueued             = "turn_queued"
	EventTurnDispatched         = "turn_dispatched"
	EventTranslationDone        = "translation_done"
	EventTranslationFailed      = "translation_failed"
	EventSpeechDone             = "speech_done"
	EventSpeechFailed           = "speech_failed"
	EventFrameCaptured          = "frame_captured"
	EventFrameCaptureFailed     = "frame_capture_failed"
	EventTranscriptionStarted   = "transcription_started"
	EventTranscriptionRestarted = "transcription_restarted"
	EventTranscriptionError     = "transcription_error"
	EventStaleResult            = "stale_result"

	EventRateLimit     = "rate_limit"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventBreakerDenied = "breaker_denied"
	EventRetry         = "retry"
)

// Tag keys shared by events.
const (
	TagSessionID   = "session_id"
	TagUtteranceID = "utterance_id"
	TagStatus      = "status"
	TagFrom        = "from"
	TagProvider    = "provider"
	TagComponent   = "component"
	TagReason      = "reason"
	TagSource      = "source"
)
