//go:build !portaudio

package audio

// System is a placeholder when built without device support.
type System struct{}

func Open(Config) (*System, error) { return nil, ErrUnavailable }

func (s *System) Capture() Capture { return nil }
func (s *System) Playback() Sink   { return Discard{} }
func (s *System) Close() error     { return nil }
