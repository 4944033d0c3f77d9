package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/gatehouse/internal/config"
	"github.com/dropDatabas3/gatehouse/internal/observability/logger"
)

var (
	flagConfig  string
	flagEnvFile string
	flagLogLvl  string
)

func main() {
	root := &cobra.Command{
		Use:           "gatehouse",
		Short:         "OpenID Connect login for local accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Missing env file is fine; explicit settings win anyway.
			_ = godotenv.Load(flagEnvFile)
			logger.Init(logger.Config{Level: flagLogLvl, ServiceName: "gatehouse"})
		},
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "configs/gatehouse.yaml", "settings file")
	root.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "env file to load")
	root.PersistentFlags().StringVar(&flagLogLvl, "log-level", "info", "debug|info|warn|error")

	root.AddCommand(newServeCmd(), newCheckCmd(), newConfigCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func loadSettings() (*config.Settings, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
