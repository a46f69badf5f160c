package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harunnryd/parla/pkg/frames"
	"github.com/harunnryd/parla/pkg/mediator"
	"github.com/harunnryd/parla/pkg/vision"
)

func newTranslateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "translate <text>",
		Short: "Translate one utterance and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTranslate,
	}
	cmd.Flags().String("image", "", "image file sent as visual context")
	return cmd
}

func runTranslate(cmd *cobra.Command, args []string) error {
	cfg, logger, closeLog, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := cmd.Context()
	var frame *frames.ImageFrame
	if path, _ := cmd.Flags().GetString("image"); path != "" {
		selector := vision.NewSelector(vision.SourceCamera, map[vision.Source]vision.FrameSource{
			vision.SourceCamera: vision.NewFileSource("image", path),
		})
		frame = vision.NewSampler(selector, vision.SamplerConfig{
			MaxDimension: cfg.Vision.MaxDimension,
			Quality:      cfg.Vision.JPEGQuality,
		}, nil, logger).Capture(ctx)
		if frame == nil {
			return fmt.Errorf("could not read image %s", path)
		}
	}

	res, err := mediator.TranslateOnce(ctx, cfg, nil, strings.Join(args, " "), frame, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", res.Language, res.Text)
	return nil
}
