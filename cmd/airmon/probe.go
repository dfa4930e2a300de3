package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/campusradio/airmon/internal/capture"
	"github.com/campusradio/airmon/internal/classify"
	"github.com/campusradio/airmon/internal/config"
	"github.com/campusradio/airmon/internal/logging"
	"github.com/campusradio/airmon/internal/probe"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run a single stream probe and print the classification",
	Long: `Capture one sample from the configured stream, classify it, and
print the result as JSON. With --file the audio file is classified
directly and the stream is never contacted.

Examples:
  airmon probe --config ./airmon.yaml
  airmon probe --config ./airmon.yaml --file ./aircheck.wav`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringP("config", "c", "airmon.yaml", "Path to configuration file")
	probeCmd.Flags().StringP("file", "f", "", "Classify this WAV file instead of probing the stream")
	probeCmd.MarkFlagRequired("config")
}

// probeOutput is the JSON document the probe command prints.
type probeOutput struct {
	StreamUp *bool           `json:"stream_up,omitempty"`
	Result   classify.Result `json:"result"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	filePath, _ := cmd.Flags().GetString("file")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	classifier := classify.New(classify.Thresholds{
		DeadAirDB:                cfg.Detection.DeadAirDB,
		AutomationMinDB:          cfg.Detection.AutomationMinDB,
		AutomationMaxDB:          cfg.Detection.AutomationMaxDB,
		AutomationRatioThreshold: cfg.Detection.AutomationRatioThreshold,
		ChunkMs:                  cfg.Detection.ChunkMs,
	})

	var out probeOutput

	if filePath != "" {
		out.Result = classifier.AnalyzeFile(filePath)
		return printJSON(out)
	}

	logger.Info("probing stream", "url", logging.ScrubURL(cfg.Stream.URL))

	reach := capture.NewReachabilityChecker()
	up := cfg.Probe.TestSample != "" || reach.IsReachable(cfg.Stream.URL)
	out.StreamUp = &up
	if !up {
		out.Result = classify.Result{
			Classification: classify.StreamDown,
			Reason:         "unreachable",
			SilenceRatio:   1.0,
		}
		return printJSON(out)
	}

	svc := probe.NewService(probe.Config{
		StreamURL:  cfg.Stream.URL,
		TestSample: cfg.Probe.TestSample,
		Duration:   time.Duration(cfg.Probe.DurationSec) * time.Second,
	}, classifier, capture.NewFFmpegFacility("", logger), reach, nil, nil, nil, nil, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result := svc.ProbeOnce(ctx)
	if result == nil {
		return fmt.Errorf("probe failed, see log for details")
	}
	out.Result = *result
	return printJSON(out)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
