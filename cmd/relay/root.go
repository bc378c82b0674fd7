package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay chat prompts to a command-line coding agent",
		Long: `relay runs an external command-line agent once per chat prompt, streams its
output back into the chat as it is produced, and keeps one project workspace
per chat.

Examples:
  relay serve                              # poll Telegram and relay prompts
  relay run --dir ./app "add a README"     # one-shot run in the terminal
  relay config show                        # print the merged configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.verbose {
				_ = os.Setenv("RELAY_LOG_STDERR", "1")
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "config file (default ./relay.yaml or ~/.relay/relay.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "mirror log lines to stderr")

	rootCmd.AddCommand(
		newServeCommand(flags),
		newRunCommand(flags),
		newConfigCommand(flags),
		newVersionCommand(),
	)
	return rootCmd
}
