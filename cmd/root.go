package cmd

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loomwire/loomwire/config"
	"github.com/loomwire/loomwire/observability"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "loomwire",
	Short: "Multi-tenant conversational automation platform for WhatsApp",
	Long: `loomwire routes inbound WhatsApp messages through a deterministic
dialog orchestrator, enriches them with retrieval-augmented context from
per-tenant document corpora, and executes idempotent business actions.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		observability.Configure(cfg.App.LogLevel)
		time.Local = time.UTC
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
