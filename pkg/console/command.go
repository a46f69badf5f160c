package console

import (
	"errors"
	"fmt"
	"strings"

	"github.com/harunnryd/parla/pkg/vision"
)

type Kind int

const (
	CmdMic Kind = iota
	CmdSay
	CmdSource
	CmdLog
	CmdHelp
	CmdQuit
)

// Command is one parsed input line.
type Command struct {
	Kind   Kind
	Text   string
	Source vision.Source
	// Mic is set for "mic on" and "mic off"; nil means toggle.
	Mic *bool
}

var ErrBlank = errors.New("blank line")

// Parse reads one command. Verbs are case-insensitive; the text of say is
// kept as typed, trimmed.
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, ErrBlank
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(verb) {
	case "mic", "m":
		return parseMic(rest)
	case "say", "s":
		if rest == "" {
			return Command{}, errors.New("say needs text, e.g. say where is the station?")
		}
		return Command{Kind: CmdSay, Text: rest}, nil
	case "source", "src":
		src, err := vision.ParseSource(strings.ToLower(rest))
		if err != nil || rest == "" {
			return Command{}, fmt.Errorf("source must be none, camera or screen")
		}
		return Command{Kind: CmdSource, Source: src}, nil
	case "log", "l":
		return Command{Kind: CmdLog}, nil
	case "help", "h", "?":
		return Command{Kind: CmdHelp}, nil
	case "quit", "q", "exit":
		return Command{Kind: CmdQuit}, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q, type help", verb)
	}
}

func parseMic(arg string) (Command, error) {
	cmd := Command{Kind: CmdMic}
	switch strings.ToLower(arg) {
	case "":
	case "on":
		on := true
		cmd.Mic = &on
	case "off":
		off := false
		cmd.Mic = &off
	default:
		return Command{}, fmt.Errorf("mic takes on, off or nothing")
	}
	return cmd, nil
}

const helpText = `commands:
  mic [on|off]                 toggle or set live listening
  say <text>                   translate typed text
  source none|camera|screen    pick the frame sent with each turn
  log                          show the conversation so far
  quit                         leave`
