package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prismlabs/PRISM/internal/config"
	"github.com/prismlabs/PRISM/internal/logging"
)

var (
	logLevel string
	svcCfg   *config.Config
	logger   *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "prism",
	Short: "Adjoint-based photonic inverse design",
	Long: `PRISM optimizes photonic structures with the adjoint method: one
forward and one adjoint field simulation per iteration yield the exact
gradient of the figure of merit, whatever the number of design parameters.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		svcCfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		if logLevel != "" {
			svcCfg.Logging.Level = logLevel
		}
		logger, err = logging.NewLogger(&logging.Config{
			Level:  svcCfg.Logging.Level,
			Format: svcCfg.Logging.Format,
			Output: svcCfg.Logging.Output,
		})
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}
