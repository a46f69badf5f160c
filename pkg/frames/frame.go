package frames

import (
	"time"
)

type Kind string

const (
	KindAudio   Kind = "audio"
	KindText    Kind = "text"
	KindControl Kind = "control"
	KindImage   Kind = "image"
)

type ControlCode string

const (
	// ControlStreamEnded is emitted by a transcription stream when it stops
	// producing fragments, whether or not it was asked to.
	ControlStreamEnded ControlCode = "stream_ended"
	// ControlSpeechDone is emitted by speech output once the utterance has
	// been rendered audibly.
	ControlSpeechDone ControlCode = "speech_done"
	// ControlError carries an opaque failure reason in MetaReason.
	ControlError ControlCode = "error"
)

// Frame is the unit exchanged with vendors. Meta returns a copy.
type Frame interface {
	Kind() Kind
	PTS() int64
	Meta() map[string]string
}

// AudioFrame is a chunk of little-endian PCM16.
type AudioFrame struct {
	pts  int64
	data []byte
	rate int
	ch   int
	meta map[string]string
}

func NewAudioFrame(streamID string, pts int64, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	return AudioFrame{
		pts:  pts,
		data: data,
		rate: rate,
		ch:   ch,
		meta: mergeMeta(streamID, meta),
	}
}

func (a AudioFrame) Kind() Kind              { return KindAudio }
func (a AudioFrame) PTS() int64              { return a.pts }
func (a AudioFrame) Meta() map[string]string { return cloneMeta(a.meta) }
func (a AudioFrame) RawPayload() []byte      { return a.data }
func (a AudioFrame) Rate() int               { return a.rate }
func (a AudioFrame) Channels() int           { return a.ch }

// Duration is the playback length of the chunk.
func (a AudioFrame) Duration() time.Duration {
	if a.rate <= 0 || a.ch <= 0 {
		return 0
	}
	samples := len(a.data) / 2 / a.ch
	return time.Duration(samples) * time.Second / time.Duration(a.rate)
}

// TextFrame carries one transcript fragment. Fragments marked final in
// MetaIsFinal are authoritative; interim fragments supersede each other.
type TextFrame struct {
	pts  int64
	text string
	meta map[string]string
}

func NewTextFrame(streamID string, pts int64, text string, meta map[string]string) TextFrame {
	return TextFrame{
		pts:  pts,
		text: text,
		meta: mergeMeta(streamID, meta),
	}
}

// NewFragment builds a transcript fragment frame.
func NewFragment(streamID, text string, isFinal bool, meta map[string]string) TextFrame {
	m := mergeMeta(streamID, meta)
	if isFinal {
		m[MetaIsFinal] = "true"
	} else {
		m[MetaIsFinal] = "false"
	}
	return TextFrame{pts: time.Now().UnixNano(), text: text, meta: m}
}

func (t TextFrame) Kind() Kind              { return KindText }
func (t TextFrame) PTS() int64              { return t.pts }
func (t TextFrame) Meta() map[string]string { return cloneMeta(t.meta) }
func (t TextFrame) Text() string            { return t.text }
func (t TextFrame) IsFinal() bool           { return t.meta[MetaIsFinal] == "true" }

type ControlFrame struct {
	pts  int64
	code ControlCode
	meta map[string]string
}

func NewControlFrame(streamID string, pts int64, code ControlCode, meta map[string]string) ControlFrame {
	return ControlFrame{
		pts:  pts,
		code: code,
		meta: mergeMeta(streamID, meta),
	}
}

func (c ControlFrame) Kind() Kind              { return KindControl }
func (c ControlFrame) PTS() int64              { return c.pts }
func (c ControlFrame) Meta() map[string]string { return cloneMeta(c.meta) }
func (c ControlFrame) Code() ControlCode       { return c.code }
func (c ControlFrame) Reason() string          { return c.meta[MetaReason] }

// ImageFrame is one encoded still sent as visual context for a turn.
type ImageFrame struct {
	pts  int64
	data []byte
	mime string
	meta map[string]string
}

func NewImageFrame(streamID string, pts int64, data []byte, mime string, meta map[string]string) ImageFrame {
	return ImageFrame{
		pts:  pts,
		data: data,
		mime: mime,
		meta: mergeMeta(streamID, meta),
	}
}

func (i ImageFrame) Kind() Kind              { return KindImage }
func (i ImageFrame) PTS() int64              { return i.pts }
func (i ImageFrame) Meta() map[string]string { return cloneMeta(i.meta) }
func (i ImageFrame) RawPayload() []byte      { return i.data }
func (i ImageFrame) MIME() string            { return i.mime }
func (i ImageFrame) Size() int               { return len(i.data) }

func mergeMeta(streamID string, meta map[string]string) map[string]string {
	out := make(map[string]string, 2+len(meta))
	if streamID != "" {
		out[MetaStreamID] = streamID
	}
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
