package commands

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "acpx",
	Short: "acpx drives a headless ACP agent adapter through a per-session queue owner",
	Long: `acpx is a command-line client for a stdio-based Agent Client Protocol adapter.

Each (agent command, working directory, session name) tuple names a persistent
session owned by a single long-lived queue-owner process; acpx's subcommands
attach to that owner (spawning one if none is live) and relay a request.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if Flags.Cwd == "" {
			Flags.Cwd = currentDirOrEmpty()
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&Flags.AgentCommand, "agent-command", "", "agent adapter command line, e.g. \"claude-agent --acp\"")
	rootCmd.PersistentFlags().StringVar(&Flags.Cwd, "cwd", "", "working directory the session runs in (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&Flags.SessionName, "session-name", "", "optional name disambiguating sessions with the same command+cwd")
	rootCmd.PersistentFlags().StringVarP(&Flags.Output, "output", "o", "text", "output mode: text, ndjson, quiet")
	rootCmd.PersistentFlags().BoolVarP(&Flags.Verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(promptCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(setModeCmd)
	rootCmd.AddCommand(setConfigCmd)
	rootCmd.AddCommand(queueOwnerCmd)
}
