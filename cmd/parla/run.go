package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harunnryd/parla/pkg/console"
	"github.com/harunnryd/parla/pkg/mediator"
	"github.com/harunnryd/parla/pkg/runner"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive mediation session",
		RunE:  runSession,
	}
	cmd.Flags().Bool("no-audio", false, "do not open audio devices; typed input only")
	cmd.Flags().Bool("listen", false, "start with the microphone on")
	cmd.Flags().Duration("drain-timeout", 10*time.Second, "how long to wait for vendors to close on exit")
	return cmd
}

func runSession(cmd *cobra.Command, _ []string) error {
	cfg, logger, closeLog, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	if listen, _ := cmd.Flags().GetBool("listen"); listen {
		cfg.Turn.StartListening = true
	}
	noAudio, _ := cmd.Flags().GetBool("no-audio")
	drainTimeout, _ := cmd.Flags().GetDuration("drain-timeout")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := mediator.NewSession(ctx, cfg, mediator.SessionOptions{
		Logger:       logger,
		DisableAudio: noAudio,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	work := func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return session.Run(gctx) })
		g.Go(func() error {
			return console.New(session.Controller(), cmd.InOrStdin(), out, logger).Run(gctx)
		})
		err := g.Wait()
		if errors.Is(err, console.ErrQuit) {
			return nil
		}
		return err
	}

	lr := runner.NewLifecycleRunner(work, session, runner.Hooks{
		OnStart: func() {
			logger.Info("parla_started",
				slog.String("session_id", session.ID()),
				slog.String("version", runner.Version))
		},
		OnStop: func() {
			logger.Info("parla_stopped", slog.String("session_id", session.ID()))
		},
	}, runner.Options{DrainTimeout: drainTimeout, Banner: out})
	return lr.Run(ctx)
}
