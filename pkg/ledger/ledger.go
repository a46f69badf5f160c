// Package ledger keeps the ordered record of utterances exchanged during a
// session and their translation outcomes.
package ledger

import (
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/parla/pkg/language"
)

var (
	// ErrUnknownID is returned when an update targets an id never appended.
	ErrUnknownID = errors.New("ledger: unknown utterance id")
	// ErrAlreadyResolved is returned when an entry that already holds an
	// outcome receives a different one.
	ErrAlreadyResolved = errors.New("ledger: utterance already resolved")
)

const (
	PendingMarker = "..."
	FailedMarker  = "Translation Failed"
)

type State int

const (
	StatePending State = iota
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of translating one utterance.
type Outcome struct {
	Text     string
	Language language.Language
	Failed   bool
	Reason   string
}

// Translated builds a successful outcome.
func Translated(text string, lang language.Language) Outcome {
	return Outcome{Text: text, Language: lang}
}

// Failed builds a failure outcome.
func Failed(reason string) Outcome {
	return Outcome{Failed: true, Reason: reason}
}

// Utterance is one ledger entry. Values returned by the ledger are copies.
type Utterance struct {
	ID                  uuid.UUID
	Seq                 uint64
	OriginalText        string
	TranslatedText      string
	State               State
	FailureReason       string
	SourceLanguageGuess language.Language
	TargetLanguage      language.Language
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Display returns the translation column as presented to the user.
func (u Utterance) Display() string {
	switch u.State {
	case StateDone:
		return u.TranslatedText
	case StateFailed:
		return FailedMarker
	default:
		return PendingMarker
	}
}

// Listener observes every append and update.
type Listener func(Utterance)

// Ledger is an append-only, id-keyed list of utterances.
type Ledger struct {
	mu        sync.RWMutex
	entries   []Utterance
	index     map[uuid.UUID]int
	seq       uint64
	listeners []Listener
	now       func() time.Time
}

func New() *Ledger {
	return &Ledger{index: make(map[uuid.UUID]int), now: time.Now}
}

// AddListener registers fn for subsequent changes.
func (l *Ledger) AddListener(fn Listener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Append records u as pending and returns its id. A zero ID is replaced by
// a fresh time-ordered one.
func (l *Ledger) Append(u Utterance) uuid.UUID {
	l.mu.Lock()
	if u.ID == uuid.Nil {
		u.ID = newID()
	}
	for {
		if _, dup := l.index[u.ID]; !dup {
			break
		}
		u.ID = newID()
	}
	l.seq++
	u.Seq = l.seq
	u.State = StatePending
	u.TranslatedText = ""
	u.FailureReason = ""
	if u.CreatedAt.IsZero() {
		u.CreatedAt = l.now()
	}
	u.UpdatedAt = u.CreatedAt
	l.index[u.ID] = len(l.entries)
	l.entries = append(l.entries, u)
	listeners := append([]Listener(nil), l.listeners...)
	l.mu.Unlock()

	notify(listeners, u)
	return u.ID
}

// UpdateTranslation resolves the entry with the given id. Repeating the
// same outcome is a no-op.
func (l *Ledger) UpdateTranslation(id uuid.UUID, out Outcome) error {
	l.mu.Lock()
	idx, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		return ErrUnknownID
	}
	cur := l.entries[idx]
	if cur.State != StatePending {
		l.mu.Unlock()
		if sameOutcome(cur, out) {
			return nil
		}
		return ErrAlreadyResolved
	}
	if out.Failed {
		cur.State = StateFailed
		cur.FailureReason = out.Reason
	} else {
		cur.State = StateDone
		cur.TranslatedText = out.Text
		cur.TargetLanguage = out.Language
	}
	cur.UpdatedAt = l.now()
	l.entries[idx] = cur
	listeners := append([]Listener(nil), l.listeners...)
	l.mu.Unlock()

	notify(listeners, cur)
	return nil
}

// Get returns a copy of the entry with the given id.
func (l *Ledger) Get(id uuid.UUID) (Utterance, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.index[id]
	if !ok {
		return Utterance{}, false
	}
	return l.entries[idx], true
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// All returns a single-use view of the entries in append order. The copy is
// taken when iteration starts, so changes made while ranging are not seen.
// Ranging the same view again yields nothing; call All for a fresh pass.
func (l *Ledger) All() iter.Seq[Utterance] {
	var used atomic.Bool
	return func(yield func(Utterance) bool) {
		if used.Swap(true) {
			return
		}
		l.mu.RLock()
		snapshot := append([]Utterance(nil), l.entries...)
		l.mu.RUnlock()
		for _, u := range snapshot {
			if !yield(u) {
				return
			}
		}
	}
}

func sameOutcome(u Utterance, out Outcome) bool {
	if out.Failed {
		return u.State == StateFailed && u.FailureReason == out.Reason
	}
	return u.State == StateDone && u.TranslatedText == out.Text && u.TargetLanguage == out.Language
}

func notify(listeners []Listener, u Utterance) {
	for _, fn := range listeners {
		fn(u)
	}
}

func newID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
