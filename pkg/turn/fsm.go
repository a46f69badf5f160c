package turn

import (
	"sync"
	"time"
)

// StatusChange represents a status transition event.
type StatusChange struct {
	From      Status
	To        Status
	Timestamp time.Time
	Reason    string
	// Message is the user-facing error text. It is empty unless To is
	// StatusError.
	Message string
	// Elapsed is how long From was held.
	Elapsed time.Duration
}

// StatusListener observes status changes.
type StatusListener interface {
	OnStatusChange(event StatusChange)
}

// StatusListenerFunc adapts a function to StatusListener.
type StatusListenerFunc func(StatusChange)

func (f StatusListenerFunc) OnStatusChange(ev StatusChange) { f(ev) }

var validTransitions = map[Status][]Status{
	StatusIdle:        {StatusListening, StatusTranslating, StatusError},
	StatusListening:   {StatusListening, StatusTranslating, StatusIdle, StatusError},
	StatusTranslating: {StatusSpeaking, StatusError},
	StatusSpeaking:    {StatusIdle, StatusError},
	StatusError:       {StatusIdle, StatusListening, StatusTranslating, StatusError},
}

// stateMachine holds the status and the latest error message.
type stateMachine struct {
	mu        sync.RWMutex
	current   Status
	message   string
	since     time.Time
	listeners []StatusListener
	now       func() time.Time
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StatusIdle, since: time.Now(), now: time.Now}
}

func (sm *stateMachine) Status() Status {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Message returns the error text currently shown, if any.
func (sm *stateMachine) Message() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.message
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new status. Entering any status other than
// StatusError clears the message.
func (sm *stateMachine) Transition(to Status, reason, message string) error {
	sm.mu.Lock()
	from := sm.current
	if !CanTransition(from, to) {
		sm.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	now := sm.now()
	elapsed := now.Sub(sm.since)
	sm.current = to
	sm.since = now
	if to == StatusError {
		sm.message = message
	} else {
		sm.message = ""
		message = ""
	}
	event := StatusChange{
		From:      from,
		To:        to,
		Timestamp: now,
		Reason:    reason,
		Message:   message,
		Elapsed:   elapsed,
	}
	// Notify listeners without holding the lock.
	listeners := make([]StatusListener, len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	for _, listener := range listeners {
		listener.OnStatusChange(event)
	}
	return nil
}

// AddListener registers a listener for status change events.
func (sm *stateMachine) AddListener(listener StatusListener) {
	if listener == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, listener)
}

// InvalidTransitionError represents an invalid status transition attempt
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return "invalid status transition from " + e.From.String() + " to " + e.To.String()
}
