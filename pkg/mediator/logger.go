package mediator

import (
	"io"
	"log/slog"

	"github.com/harunnryd/parla/pkg/logging"
)

// SetDefaultLogger installs the process-wide logger for the configured level
// and format and returns it.
func SetDefaultLogger(w io.Writer, level, format string) *slog.Logger {
	logger := logging.New(w, logging.ParseLevel(level), format)
	slog.SetDefault(logger)
	return logger
}
