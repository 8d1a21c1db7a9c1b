package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/pilab-dev/discord-verifier/config"
	"github.com/pilab-dev/discord-verifier/log"
	"github.com/spf13/cobra"
)

const appName = "discord-verifier"

var (
	cfgFile   string
	appConfig config.Config
	appLogger log.Logger = log.Nop()
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "discord-verifier grants a guild role to users who complete Discord OAuth2",
	Long: `A Discord OAuth2 callback service. Users who authorize the application are
checked against an IP reputation service, given the configured guild role, and
reported to an audit webhook.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		appConfig = cfg

		level, ok := log.ParseLevel(cfg.LogLevel)
		appLogger = log.NewZerologAdapter(os.Stdout, level, cfg.LogPretty)
		if !ok {
			appLogger.Warn(cmd.Context(), "Invalid LOG_LEVEL configured, defaulting to 'info'", log.Fields{
				"configured_log_level": cfg.LogLevel,
			})
		}
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		appLogger.Error(context.Background(), "command failed", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		fmt.Sprintf("config file (default is $HOME/.%s/config.yaml)", appName))

	rootCmd.AddCommand(serveCmd, validateCmd, snowflakeCmd, flagsCmd)
}
