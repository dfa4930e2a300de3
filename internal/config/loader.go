package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// weekdayNames maps the abbreviations accepted in show definitions.
var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

// LoadConfig loads and validates an airmon configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional fields. The detection
// defaults match the thresholds the station has run in production.
func applyDefaults(cfg *Config) {
	if cfg.Probe.DurationSec == 0 {
		cfg.Probe.DurationSec = 8
	}
	if cfg.Probe.IntervalMinutes == 0 {
		cfg.Probe.IntervalMinutes = 5
	}

	if cfg.Detection.DeadAirDB == 0 {
		cfg.Detection.DeadAirDB = -72
	}
	if cfg.Detection.AutomationMinDB == 0 {
		cfg.Detection.AutomationMinDB = -12
	}
	if cfg.Detection.AutomationMaxDB == 0 {
		cfg.Detection.AutomationMaxDB = -2
	}
	if cfg.Detection.AutomationRatioThreshold == 0 {
		cfg.Detection.AutomationRatioThreshold = 0.65
	}
	if cfg.Detection.ChunkMs == 0 {
		cfg.Detection.ChunkMs = 500
	}

	if cfg.Alerts.DeadAirThresholdMinutes == 0 {
		cfg.Alerts.DeadAirThresholdMinutes = 5
	}
	if cfg.Alerts.StreamDownThresholdMinutes == 0 {
		cfg.Alerts.StreamDownThresholdMinutes = 1
	}
	if cfg.Alerts.RepeatMinutes == 0 {
		cfg.Alerts.RepeatMinutes = 15
	}
	if cfg.Alerts.AutoRecoverMinutes == 0 {
		cfg.Alerts.AutoRecoverMinutes = 4
	}

	if cfg.Recording.OutputDir == "" {
		cfg.Recording.OutputDir = "./recordings"
	}
	if cfg.Recording.RetryDelaySec == 0 {
		cfg.Recording.RetryDelaySec = 1
	}

	if cfg.AutoDJ.TimeoutSec == 0 {
		cfg.AutoDJ.TimeoutSec = 3
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "bbolt"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./.airmon.db"
	}
}

// validate checks the configuration for errors and inconsistencies.
func validate(cfg *Config) error {
	if cfg.Stream.URL == "" && cfg.Probe.TestSample == "" {
		return fmt.Errorf("stream.url is required unless probe.test_sample is set")
	}

	if cfg.Probe.DurationSec < 1 {
		return fmt.Errorf("probe.duration_sec must be at least 1")
	}
	if cfg.Probe.IntervalMinutes < 1 {
		return fmt.Errorf("probe.interval_minutes must be at least 1")
	}

	d := cfg.Detection
	if d.AutomationMinDB > d.AutomationMaxDB {
		return fmt.Errorf("detection.automation_min_db (%v) exceeds automation_max_db (%v)", d.AutomationMinDB, d.AutomationMaxDB)
	}
	if d.AutomationRatioThreshold < 0 || d.AutomationRatioThreshold > 1 {
		return fmt.Errorf("detection.automation_ratio_threshold must be within [0,1]")
	}
	if d.ChunkMs < 1 {
		return fmt.Errorf("detection.chunk_ms must be positive")
	}

	if cfg.Alerts.Enabled && !cfg.Alerts.DryRun && len(cfg.Alerts.URLs) == 0 {
		return fmt.Errorf("alerts.urls is required when alerts are enabled and not in dry-run mode")
	}

	if cfg.Recording.ResumeAt != "" {
		if _, err := time.Parse(time.RFC3339, cfg.Recording.ResumeAt); err != nil {
			return fmt.Errorf("recording.resume_at must be RFC 3339: %w", err)
		}
	}

	validDrivers := map[string]bool{"bbolt": true, "json": true}
	if !validDrivers[cfg.Store.Driver] {
		return fmt.Errorf("invalid store driver: %s (must be 'bbolt' or 'json')", cfg.Store.Driver)
	}

	showIDs := make(map[string]bool)
	for i := range cfg.Shows {
		show := &cfg.Shows[i]
		if show.ID == "" {
			return fmt.Errorf("show at index %d is missing an id", i)
		}
		if showIDs[show.ID] {
			return fmt.Errorf("duplicate show id: %s", show.ID)
		}
		showIDs[show.ID] = true

		if err := validateShow(show); err != nil {
			return fmt.Errorf("show %s: %w", show.ID, err)
		}
	}

	return nil
}

func validateShow(show *ShowSpec) error {
	if show.Name == "" && show.HostFirst == "" {
		return fmt.Errorf("needs a name or a host name")
	}
	if len(show.Days) == 0 {
		return fmt.Errorf("days cannot be empty")
	}
	for _, day := range show.Days {
		if _, err := ParseWeekday(day); err != nil {
			return err
		}
	}
	for _, field := range []struct{ name, value string }{
		{"start_date", show.StartDate},
		{"end_date", show.EndDate},
	} {
		if field.value == "" {
			return fmt.Errorf("%s is required", field.name)
		}
		if _, err := time.Parse("2006-01-02", field.value); err != nil {
			return fmt.Errorf("%s must be YYYY-MM-DD: %w", field.name, err)
		}
	}
	for _, field := range []struct{ name, value string }{
		{"start_time", show.StartTime},
		{"end_time", show.EndTime},
	} {
		if field.value == "" {
			return fmt.Errorf("%s is required", field.name)
		}
		if _, err := time.Parse("15:04", field.value); err != nil {
			return fmt.Errorf("%s must be HH:MM: %w", field.name, err)
		}
	}
	return nil
}

// ParseWeekday resolves a weekday name or three-letter abbreviation.
func ParseWeekday(name string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if len(key) > 3 {
		key = key[:3]
	}
	day, ok := weekdayNames[key]
	if !ok {
		return 0, fmt.Errorf("unknown weekday: %q", name)
	}
	return day, nil
}
