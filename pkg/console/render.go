package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/harunnryd/parla/pkg/language"
	"github.com/harunnryd/parla/pkg/ledger"
	"github.com/harunnryd/parla/pkg/redact"
	"github.com/harunnryd/parla/pkg/turn"
)

const previewRunes = 60

type styles struct {
	status   map[turn.Status]lipgloss.Style
	message  lipgloss.Style
	seq      lipgloss.Style
	original lipgloss.Style
	english  lipgloss.Style
	spanish  lipgloss.Style
	pending  lipgloss.Style
	failed   lipgloss.Style
	muted    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	badge := func(bg string) lipgloss.Style {
		return r.NewStyle().Bold(true).Padding(0, 1).
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color(bg))
	}
	return styles{
		status: map[turn.Status]lipgloss.Style{
			turn.StatusIdle:        badge("#5A5A5A"),
			turn.StatusListening:   badge("#25A065"),
			turn.StatusTranslating: badge("#B8860B"),
			turn.StatusSpeaking:    badge("#3B6EA5"),
			turn.StatusError:       badge("#C0392B"),
		},
		message:  r.NewStyle().Foreground(lipgloss.Color("#C0392B")),
		seq:      r.NewStyle().Foreground(lipgloss.Color("240")),
		original: r.NewStyle(),
		english:  r.NewStyle().Foreground(lipgloss.Color("#3B6EA5")),
		spanish:  r.NewStyle().Foreground(lipgloss.Color("#B8860B")),
		pending:  r.NewStyle().Foreground(lipgloss.Color("240")).Italic(true),
		failed:   r.NewStyle().Foreground(lipgloss.Color("#C0392B")).Bold(true),
		muted:    r.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// Renderer prints status changes and ledger entries. It is safe for use
// from listener callbacks.
type Renderer struct {
	mu sync.Mutex
	w  io.Writer
	st styles
}

func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{w: w, st: newStyles(lipgloss.NewRenderer(w))}
}

func (r *Renderer) println(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, s)
}

// StatusLine renders the status badge, with the error message when there
// is one.
func (r *Renderer) StatusLine(status turn.Status, message string) string {
	st, ok := r.st.status[status]
	if !ok {
		st = r.st.status[turn.StatusIdle]
	}
	line := st.Render(status.String())
	if status == turn.StatusError && message != "" {
		line += " " + r.st.message.Render(message)
	}
	return line
}

func (r *Renderer) Status(ev turn.StatusChange) {
	r.println(r.StatusLine(ev.To, ev.Message))
}

// Entry renders one ledger line: sequence, original, and the translation
// column colored by target language.
func (r *Renderer) Entry(u ledger.Utterance) string {
	var out string
	switch u.State {
	case ledger.StateDone:
		st := r.st.english
		if u.TargetLanguage == language.ES {
			st = r.st.spanish
		}
		out = st.Render(u.Display())
	case ledger.StateFailed:
		out = r.st.failed.Render(u.Display())
	default:
		out = r.st.pending.Render(u.Display())
	}
	seq := r.st.seq.Render(fmt.Sprintf("#%d", u.Seq))
	return fmt.Sprintf("%s %s  →  %s", seq, r.st.original.Render(redact.Preview(u.OriginalText, previewRunes)), out)
}

// Utterance prints resolved entries. Pending appends are shown only by Log.
func (r *Renderer) Utterance(u ledger.Utterance) {
	if u.State == ledger.StatePending {
		return
	}
	r.println(r.Entry(u))
}

func (r *Renderer) Log(l *ledger.Ledger) {
	var b strings.Builder
	n := 0
	for u := range l.All() {
		b.WriteString(r.Entry(u))
		b.WriteByte('\n')
		n++
	}
	if n == 0 {
		r.println(r.st.muted.Render("(no utterances yet)"))
		return
	}
	r.println(strings.TrimRight(b.String(), "\n"))
}

func (r *Renderer) Snapshot(s turn.Snapshot) {
	mic := "off"
	if s.MicOn {
		mic = "on"
	}
	info := r.st.muted.Render(fmt.Sprintf("mic %s  queued %d  source %s", mic, s.Queued, s.Source))
	r.println(r.StatusLine(s.Status, s.Message) + " " + info)
}

func (r *Renderer) Notice(s string) { r.println(r.st.muted.Render(s)) }

func (r *Renderer) Help() { r.println(r.st.muted.Render(helpText)) }

func (r *Renderer) Error(err error) {
	r.println(r.st.message.Render(err.Error()))
}
