package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/parla/pkg/translate"
)

// TranslateFunc produces a translation for one request.
type TranslateFunc func(ctx context.Context, req translate.Request) (string, error)

type TranslatorConfig struct {
	// Replies maps input text to output. Unmapped input is echoed with a
	// marker.
	Replies map[string]string
	Fn      TranslateFunc
}

// Translator is a scriptable translator that tracks concurrency.
type Translator struct {
	cfg       TranslatorConfig
	mu        sync.Mutex
	calls     []translate.Request
	active    int
	maxActive int
}

func NewTranslator(cfg TranslatorConfig) *Translator {
	return &Translator{cfg: cfg}
}

func (t *Translator) Name() string { return "mock_translator" }

func (t *Translator) Translate(ctx context.Context, req translate.Request) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, req)
	t.active++
	if t.active > t.maxActive {
		t.maxActive = t.active
	}
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.active--
		t.mu.Unlock()
	}()

	if t.cfg.Fn != nil {
		return t.cfg.Fn(ctx, req)
	}
	if out, ok := t.cfg.Replies[req.Text]; ok {
		return out, nil
	}
	return "[translated] " + req.Text, nil
}

func (t *Translator) Calls() []translate.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]translate.Request(nil), t.calls...)
}

// MaxConcurrent returns the highest number of overlapping calls seen.
func (t *Translator) MaxConcurrent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxActive
}

var _ translate.Translator = (*Translator)(nil)
