// Command sicomore fits hierarchical group models locally and serves them
// over Arrow IPC transports.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VanDung-dev/Sicomore-Engine/api"
	"github.com/VanDung-dev/Sicomore-Engine/config"
	"github.com/VanDung-dev/Sicomore-Engine/logging"
)

// Name is the program name reported by the version command.
const Name = "Sicomore-Engine"

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "sicomore",
		Short: "Hierarchical group selection with interactions across datasets",
		Long: `sicomore clusters the variables of each dataset hierarchically, selects a
compressed group structure per dataset and fits main and interaction effects
between groups of different datasets with a cross-validated lasso.`,
		SilenceUsage: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", Name, api.Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.AddCommand(versionCmd, fitCmd, serveCmd)
}

// loadConfig reads the configuration and builds the logger it describes.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
