package cmd

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/services/shipment/config"
)

// Used for flags
var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "shipment-service",
	Short: "Shipment status service",
	Long: `Shipment service recording status notes on the shipment ledger and
keeping the shipment mirror, search index and event stream in step with it.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
}

// loadConfig loads configuration and applies its logging section
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return cfg, err
	}

	configureLogging(cfg.Logging)
	return cfg, nil
}

// configureLogging applies the configured level and format. LOG_LEVEL, read
// in main, wins over the configured level.
func configureLogging(cfg config.LoggingConfig) {
	if strings.EqualFold(cfg.Format, "console") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if os.Getenv("LOG_LEVEL") != "" {
		return
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
