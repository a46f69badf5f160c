package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harunnryd/parla/pkg/mediator"
	"github.com/harunnryd/parla/pkg/runner"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and bundled providers",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "parla %s\n", runner.Version)
			transcribers, translators, speech := mediator.NewBuiltinRegistry().Names()
			fmt.Fprintf(out, "transcription: %v\ntranslator: %v\nspeech: %v\n", transcribers, translators, speech)
		},
	}
}
