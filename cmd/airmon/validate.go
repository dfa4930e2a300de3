package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/campusradio/airmon/internal/config"
	"github.com/campusradio/airmon/internal/logging"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate an airmon configuration file",
	Long: `Validate the syntax and semantics of an airmon configuration file.

This command loads and validates the configuration without starting the
service. It checks for:
  - Valid YAML syntax
  - Required fields
  - Consistent detection thresholds
  - Valid show definitions (days, dates, times)
  - Valid store driver configuration

Example:
  airmon validate --config ./airmon.yaml`,
	RunE: validateConfig,
}

func init() {
	validateCmd.Flags().StringP("config", "c", "airmon.yaml", "Path to configuration file")
	validateCmd.MarkFlagRequired("config")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	logger.Info("validating configuration", "path", configPath)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error("configuration validation failed", "error", err)
		return fmt.Errorf("validation failed: %w", err)
	}

	logger.Info("configuration is valid",
		"path", configPath,
		"stream", logging.ScrubURL(cfg.Stream.URL),
		"shows", len(cfg.Shows),
		"alerts_enabled", cfg.Alerts.Enabled,
		"store_driver", cfg.Store.Driver)

	for i, show := range cfg.Shows {
		logger.Info(fmt.Sprintf("show %d", i+1),
			"id", show.ID,
			"name", show.Name,
			"days", strings.Join(show.Days, ","),
			"time", show.StartTime+"-"+show.EndTime,
			"dates", show.StartDate+" to "+show.EndDate)
	}

	fmt.Fprintf(os.Stdout, "\n✓ Configuration is valid: %s\n", configPath)
	fmt.Fprintf(os.Stdout, "  Shows: %d\n", len(cfg.Shows))
	fmt.Fprintf(os.Stdout, "  Store: %s (%s)\n", cfg.Store.Driver, cfg.Store.Path)
	fmt.Fprintf(os.Stdout, "  Probe: every %dm, %ds samples\n", cfg.Probe.IntervalMinutes, cfg.Probe.DurationSec)

	return nil
}
