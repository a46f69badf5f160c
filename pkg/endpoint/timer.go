// Package endpoint decides when a live transcript stream has finished one
// utterance.
package endpoint

import (
	"strings"
	"sync"
	"time"
)

// DefaultDelay is the silence window after the last fragment before interim
// text is treated as complete.
const DefaultDelay = 1500 * time.Millisecond

// Fragment is one piece of a live transcript.
type Fragment struct {
	Text    string
	IsFinal bool
}

// Timer accumulates fragments and emits endpoints.
//
// A final fragment is emitted as soon as it arrives. Interim-only speech is
// emitted once no fragment has arrived for the debounce delay, which can cut
// a speaker off mid-sentence if they pause longer than the delay.
type Timer struct {
	mu         sync.Mutex
	delay      time.Duration
	final      strings.Builder
	interim    string
	timer      *time.Timer
	gen        uint64
	stopped    bool
	onEndpoint func(text string)
}

// New returns a Timer that calls onEndpoint from the goroutine that pushed
// the completing fragment or from the debounce timer goroutine.
func New(delay time.Duration, onEndpoint func(text string)) *Timer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Timer{delay: delay, onEndpoint: onEndpoint}
}

// Push feeds one fragment.
func (t *Timer) Push(f Fragment) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	if f.IsFinal {
		t.final.WriteString(f.Text)
	} else {
		t.interim = f.Text
	}

	var emit string
	if text := strings.TrimSpace(t.final.String()); text != "" {
		emit = text
		t.clearLocked()
	}

	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.delay, func() { t.fire(gen) })
	t.mu.Unlock()

	if emit != "" && t.onEndpoint != nil {
		t.onEndpoint(emit)
	}
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if t.stopped || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	text := strings.TrimSpace(t.interim)
	if text == "" {
		t.mu.Unlock()
		return
	}
	t.clearLocked()
	t.mu.Unlock()

	if t.onEndpoint != nil {
		t.onEndpoint(text)
	}
}

// Reset drops any pending text and cancels the debounce timer.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.clearLocked()
}

// Stop resets the timer and ignores every later fragment.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.clearLocked()
	t.stopped = true
}

func (t *Timer) cancelLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

func (t *Timer) clearLocked() {
	t.final.Reset()
	t.interim = ""
}
