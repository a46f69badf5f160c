package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/harunnryd/parla/pkg/mediator"
)

// setup loads the config and installs the default logger. The returned
// close func releases the log file, if any.
func setup(cmd *cobra.Command) (mediator.Config, *slog.Logger, func(), error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := mediator.LoadConfig(path)
	if err != nil {
		return mediator.Config{}, nil, nil, err
	}

	var w io.Writer = os.Stderr
	closeLog := func() {}
	if logPath, _ := cmd.Flags().GetString("log-file"); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return mediator.Config{}, nil, nil, err
		}
		w = f
		closeLog = func() { _ = f.Close() }
	}
	logger := mediator.SetDefaultLogger(w, cfg.LogLevel, cfg.LogFormat)
	return cfg, logger, closeLog, nil
}
