package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serverURL, logLevel string
	dataDir             string
	authToken           string
	webhookURL          string
	webhookUsername     string
	webhookPassword     string
)

var rootCommand = &cobra.Command{
	Use:     "caresync-go",
	Aliases: []string{"caresync"},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 1. Allow 'version' (and 'help') to run without the flag
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		// 2. Manually enforce the flag for all other commands
		if serverURL == "" {
			return fmt.Errorf("required flag(s) \"server-url\" not set")
		}

		return nil
	},
	Short: "CareSync: resilient patient-care data synchronization",
	Long: `CareSync keeps a local view of patient-care data (alerts, medications,
behavior logs, recognition settings) in sync with the remote care service.
It polls feeds with adaptive backoff, replays queued writes once connectivity
returns, and overlays live pushed updates on top of the polled view.`,
}

func Execute() error {
	return rootCommand.Execute()
}

func init() {
	rootCommand.AddGroup(&cobra.Group{ID: "caresync", Title: "Caresync"})

	// Global Peristent Flags with env vars support
	rootCommand.PersistentFlags().StringVar(&serverURL, "server-url", "", "Base URL of the care service API (required)")
	rootCommand.PersistentFlags().StringVar(&authToken, "auth-token", "", "Bearer token for the care service")
	rootCommand.PersistentFlags().StringVar(&dataDir, "data-dir", "caresync-data", "Directory for the durable mutation queue")
	rootCommand.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	rootCommand.PersistentFlags().StringVar(&webhookURL, "webhook-url", "", "Webhook URL for discard alerting")
	rootCommand.PersistentFlags().StringVar(&webhookUsername, "webhook-username", "", "Webhook username for alerting")
	rootCommand.PersistentFlags().StringVar(&webhookPassword, "webhook-password", "", "Webhook password for alerting")
	// Bind to env vars
	_ = viper.BindPFlag("server-url", rootCommand.PersistentFlags().Lookup("server-url"))
	_ = viper.BindPFlag("auth-token", rootCommand.PersistentFlags().Lookup("auth-token"))
	_ = viper.BindPFlag("data-dir", rootCommand.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("log-level", rootCommand.PersistentFlags().Lookup("log-level"))

	viper.SetEnvPrefix("CARESYNC")
	viper.AutomaticEnv()

}
