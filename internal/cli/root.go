package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - policy gateway for model-suggested shell commands",
	Long: `Warden turns natural-language requests into shell commands through a
model backend, then decides what may actually run: every suggestion is
parsed, classified against policy, optionally held for human approval,
executed under resource limits, and written to an append-only ledger.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the warden config file")
}

func Execute() error {
	return rootCmd.Execute()
}
