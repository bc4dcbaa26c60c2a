// Package cli implements the slackmind command line using cobra.
package cli

import (
	"github.com/spf13/cobra"

	"slackmind/internal/app"
	"slackmind/internal/config"
)

// NewRootCmd builds the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "slackmind",
		Short: "Multi-workspace chat bot with long-term memory",
		Long: `slackmind bridges Slack and Telegram to a hosted language model, keeps
per-conversation history and distills it into per-workspace memory.

Examples:
  slackmind serve
  slackmind chat --app acme
  slackmind summarize acme
  slackmind history clear acme U123
  slackmind secret set acme bot_token`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSummarizeCmd(),
		newHistoryCmd(),
		newCheckCmd(),
		newSecretCmd(),
	)

	root.PersistentFlags().StringP("config", "c", config.DefaultPath, "path to the persona config file (.json or .yaml)")
	return root
}

// openApp loads the configuration named by --config and builds the app.
func openApp(cmd *cobra.Command) (*app.App, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := app.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}
