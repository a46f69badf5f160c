package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "parla",
		Short:         "Real-time English/Spanish conversation mediator",
		Long:          `parla listens to one side of a conversation, translates each utterance between English and Spanish and speaks the translation aloud.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (yaml, json or toml)")
	root.PersistentFlags().String("log-file", "", "write logs here instead of stderr")
	root.AddCommand(newRunCmd(), newTranslateCmd(), newVersionCmd())
	return root
}
