package frames

// Metadata keys shared by producers and consumers of frames.
const (
	MetaStreamID    = "stream_id"
	MetaSessionID   = "session_id"
	MetaSource      = "source"
	MetaReason      = "reason"
	MetaIsFinal     = "is_final"
	MetaLanguage    = "language"
	MetaUtteranceID = "utterance_id"
	MetaEncoding    = "encoding"
	MetaCodec       = "codec"
	MetaGeneration  = "generation"
)
