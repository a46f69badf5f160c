// Package console is the terminal front end: it prints status and ledger
// changes and turns stdin lines into controller commands.
package console

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/harunnryd/parla/pkg/ledger"
	"github.com/harunnryd/parla/pkg/logging"
	"github.com/harunnryd/parla/pkg/turn"
	"github.com/harunnryd/parla/pkg/vision"
)

// ErrQuit is returned by Run when the user quits or input ends.
var ErrQuit = errors.New("console: quit")

// Controller is the part of the turn controller the console drives.
type Controller interface {
	ToggleMic()
	SetMic(on bool)
	Submit(ctx context.Context, text string) error
	SetSource(src vision.Source)
	Snapshot() turn.Snapshot
	AddListener(l turn.StatusListener)
	Ledger() *ledger.Ledger
}

type Console struct {
	ctrl   Controller
	in     io.Reader
	r      *Renderer
	logger *slog.Logger
}

func New(ctrl Controller, in io.Reader, out io.Writer, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		ctrl:   ctrl,
		in:     in,
		r:      NewRenderer(out),
		logger: logging.NewComponentLogger(logger, "console"),
	}
}

// Run subscribes to the controller and executes commands until quit, end
// of input or ctx ends.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.ctrl.AddListener(turn.StatusListenerFunc(c.r.Status))
	c.ctrl.Ledger().AddListener(c.r.Utterance)
	c.r.Snapshot(c.ctrl.Snapshot())
	c.r.Help()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return ErrQuit
			}
			if err := c.Execute(ctx, line); err != nil {
				if errors.Is(err, ErrQuit) {
					return err
				}
				if !errors.Is(err, ErrBlank) {
					c.r.Error(err)
				}
			}
		}
	}
}

// Execute runs one input line.
func (c *Console) Execute(ctx context.Context, line string) error {
	cmd, err := Parse(line)
	if err != nil {
		return err
	}
	c.logger.Debug("console_command", slog.Int("kind", int(cmd.Kind)))
	switch cmd.Kind {
	case CmdMic:
		if cmd.Mic == nil {
			c.ctrl.ToggleMic()
		} else {
			c.ctrl.SetMic(*cmd.Mic)
		}
	case CmdSay:
		if err := c.ctrl.Submit(ctx, cmd.Text); err != nil {
			if errors.Is(err, turn.ErrBusy) {
				return errors.New("still translating, try again in a moment")
			}
			return err
		}
	case CmdSource:
		c.ctrl.SetSource(cmd.Source)
		c.r.Notice("frame source: " + string(cmd.Source))
	case CmdLog:
		c.r.Log(c.ctrl.Ledger())
	case CmdHelp:
		c.r.Help()
	case CmdQuit:
		return ErrQuit
	}
	return nil
}
