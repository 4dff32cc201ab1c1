package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	rootCmd := &cobra.Command{
		Use:   "notifyctl",
		Short: "Operator CLI for the notification service",
		Long: `notifyctl publishes test events, dry-runs the classifier and manages
envelopes the consumer dead-lettered. It reads the same configuration as the
server (config.yaml and environment variables).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg := logging.DefaultConfig()
			cfg.Format = "console"
			cfg.Level = "warn"
			if verbose {
				cfg.Level = "debug"
			}
			cfg.Output = cmd.ErrOrStderr()
			logging.Init(cfg)
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log broker and database activity")

	rootCmd.AddCommand(
		newPublishCmd(),
		newClassifyCmd(),
		newDeadLettersCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func printf(w io.Writer, format string, a ...any) {
	fmt.Fprintf(w, format, a...)
}
