package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"aave-rate-digest/internal/aave"
	"aave-rate-digest/internal/app"
	"aave-rate-digest/internal/config"
	"aave-rate-digest/internal/logging"
	"aave-rate-digest/internal/service"
)

const (
	annotationSends      = "sends"
	annotationSkipConfig = "skip-config"
)

var (
	cfgFile   string
	logLevel  string
	network   string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:           "aavedigest",
	Short:         "Send AAVE lending rates to Telegram",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[annotationSkipConfig] != "" || appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if network != "" {
			cfg.Aave.Network = network
		}
		if cmd.Annotations[annotationSends] != "" {
			if err := cfg.ValidateDelivery(); err != nil {
				return err
			}
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command and exits with a code describing the failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps configuration errors to 2, delivery errors to 3 and anything else to 1.
func exitCode(err error) int {
	var (
		cfgErr      *config.Error
		setupErr    *service.ConfigError
		registryErr *aave.ConfigurationError
		deliveryErr *service.DeliveryError
	)
	switch {
	case err == nil:
		return 0
	case errors.As(err, &cfgErr), errors.As(err, &setupErr), errors.As(err, &registryErr):
		return 2
	case errors.As(err, &deliveryErr):
		return 3
	default:
		return 1
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")
	rootCmd.PersistentFlags().StringVar(&network, "network", "", "Override aave.network defined in config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(networksCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
