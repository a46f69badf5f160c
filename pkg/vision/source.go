// Package vision captures a single still from the selected visual source at
// the moment a turn is dispatched.
package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Source selects where frames come from.
type Source string

const (
	SourceNone   Source = "none"
	SourceCamera Source = "camera"
	SourceScreen Source = "screen"
)

// ParseSource accepts "none", "camera" or "screen".
func ParseSource(v string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(v))) {
	case SourceNone, "":
		return SourceNone, nil
	case SourceCamera, "primary_camera":
		return SourceCamera, nil
	case SourceScreen, "screen_share":
		return SourceScreen, nil
	default:
		return SourceNone, fmt.Errorf("unknown frame source %q", v)
	}
}

var ErrNotReady = errors.New("vision: source not ready")

// FrameSource produces raw frames on demand.
type FrameSource interface {
	Name() string
	Ready() bool
	Capture(ctx context.Context) (image.Image, error)
}

// FileSource reads the latest still written to a path by an external grabber
// (a webcam daemon, a screenshot tool). Any format with a registered decoder
// works.
type FileSource struct {
	name string
	path string
}

func NewFileSource(name, path string) *FileSource {
	return &FileSource{name: name, path: path}
}

func (f *FileSource) Name() string { return f.name }

func (f *FileSource) Ready() bool {
	if f.path == "" {
		return false
	}
	st, err := os.Stat(f.path)
	return err == nil && st.Mode().IsRegular() && st.Size() > 0
}

func (f *FileSource) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.path == "" {
		return nil, ErrNotReady
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return img, nil
}

// Selector holds the current source choice. It is safe for concurrent use.
type Selector struct {
	mu      sync.RWMutex
	current Source
	sources map[Source]FrameSource
}

func NewSelector(initial Source, sources map[Source]FrameSource) *Selector {
	cp := make(map[Source]FrameSource, len(sources))
	for k, v := range sources {
		if v != nil {
			cp[k] = v
		}
	}
	return &Selector{current: initial, sources: cp}
}

func (s *Selector) Set(src Source) {
	s.mu.Lock()
	s.current = src
	s.mu.Unlock()
}

func (s *Selector) Current() Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Active returns the frame source for the current selection, or nil when
// nothing is selected or the selection has no backing source.
func (s *Selector) Active() (Source, FrameSource) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == SourceNone {
		return SourceNone, nil
	}
	return s.current, s.sources[s.current]
}
