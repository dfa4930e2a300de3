package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/campusradio/airmon/internal/alert"
	"github.com/campusradio/airmon/internal/automation"
	"github.com/campusradio/airmon/internal/capture"
	"github.com/campusradio/airmon/internal/classify"
	"github.com/campusradio/airmon/internal/config"
	"github.com/campusradio/airmon/internal/health"
	"github.com/campusradio/airmon/internal/logging"
	"github.com/campusradio/airmon/internal/probe"
	"github.com/campusradio/airmon/internal/schedule"
	"github.com/campusradio/airmon/internal/server"
	"github.com/campusradio/airmon/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the stream monitor, recorder, and HTTP API",
	Long: `Start the full monitoring service.

This command loads the configuration, seeds the show schedule, starts
the probe loop and recording jobs, and serves the monitoring API.

Example:
  airmon serve --config ./airmon.yaml --addr :8080`,
	RunE: runServer,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "airmon.yaml", "Path to configuration file")
	serveCmd.Flags().StringP("addr", "a", ":8080", "HTTP server address (host:port)")
	serveCmd.MarkFlagRequired("config")
}

func runServer(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	addr, _ := cmd.Flags().GetString("addr")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Logging.Output != "" || cfg.Logging.Level != "" || cfg.Logging.Format != "" {
		serveLogger, err := logging.NewFromConfig(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Output)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = serveLogger
		slog.SetDefault(serveLogger)
	}

	logger.Info("starting airmon in serve mode",
		"config", configPath,
		"addr", addr,
		"stream", logging.ScrubURL(cfg.Stream.URL))

	st, err := store.NewStore(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()
	logger.Info("store initialized", "driver", cfg.Store.Driver, "path", cfg.Store.Path)

	if err := schedule.SeedShows(st, cfg.Shows, logger); err != nil {
		return fmt.Errorf("failed to seed show schedule: %w", err)
	}

	classifier := classify.New(classify.Thresholds{
		DeadAirDB:                cfg.Detection.DeadAirDB,
		AutomationMinDB:          cfg.Detection.AutomationMinDB,
		AutomationMaxDB:          cfg.Detection.AutomationMaxDB,
		AutomationRatioThreshold: cfg.Detection.AutomationRatioThreshold,
		ChunkMs:                  cfg.Detection.ChunkMs,
	})
	facility := capture.NewFFmpegFacility("", logger)
	healthReg := health.NewRegistry(st, logger)

	notifier, err := alert.NewNotifier(cfg.Alerts, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}

	var recovery alert.RecoveryFunc
	autodj := automation.NewClient(cfg.AutoDJ, logger)
	if cfg.Alerts.AutoRecover && autodj.Enabled() {
		recovery = func() error {
			recoverCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return autodj.SetAutoDJ(recoverCtx, true)
		}
	} else if cfg.Alerts.AutoRecover {
		logger.Warn("auto-recover enabled but autodj.base_url is not set, recovery disabled")
	}

	engine := alert.NewEngine(alert.Config{
		DeadAirThreshold:    minutes(cfg.Alerts.DeadAirThresholdMinutes),
		StreamDownThreshold: minutes(cfg.Alerts.StreamDownThresholdMinutes),
		RepeatInterval:      minutes(cfg.Alerts.RepeatMinutes),
		AutoRecover:         cfg.Alerts.AutoRecover,
		AutoRecoverAfter:    minutes(cfg.Alerts.AutoRecoverMinutes),
	}, notifier, recovery, logger)

	ctx := setupSignalHandler()
	sched := schedule.NewScheduler(ctx, logger)

	marathons := schedule.NewMarathonController(sched, st, facility, cfg.Recording, cfg.Stream.URL, healthReg, logger)
	if err := rescheduleMarathons(st, marathons); err != nil {
		logger.Error("failed to restore marathon schedule", "error", err)
	}

	recorder := schedule.NewRecorder(sched, st, facility, cfg.Recording, cfg.Stream.URL,
		marathons, healthReg,
		func(paused bool, resumeAt time.Time) error {
			return config.SavePauseState(configPath, paused, resumeAt)
		}, logger)
	recorder.RestorePause()
	if err := recorder.Refresh(); err != nil {
		return fmt.Errorf("failed to schedule show recordings: %w", err)
	}

	probeSvc := probe.NewService(probe.Config{
		StreamURL:  cfg.Stream.URL,
		Duration:   time.Duration(cfg.Probe.DurationSec) * time.Second,
		TestSample: cfg.Probe.TestSample,
		SelfHeal:   cfg.Recording.SelfHeal,
		RetryDelay: time.Duration(cfg.Recording.RetryDelaySec) * time.Second,
	}, classifier, facility, capture.NewReachabilityChecker(),
		schedule.NewStoreShowSource(st), st, healthReg, engine, logger)

	probeInterval := time.Duration(cfg.Probe.IntervalMinutes) * time.Minute
	if err := sched.AddSchedule(probe.JobName, cron.Every(probeInterval), probeSvc.ProbeAndRecord); err != nil {
		return fmt.Errorf("failed to schedule stream probe: %w", err)
	}

	srv := server.New(addr, st, healthReg, engine, recorder, marathons, logger)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched.Start()
		<-gCtx.Done()
		return nil
	})

	g.Go(func() error {
		if err := srv.Start(gCtx); err != nil && err != context.Canceled {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down gracefully...")
		sched.Stop()
		if err := srv.Stop(context.Background()); err != nil {
			logger.Error("error stopping server", "error", err)
		}
		return nil
	})

	logger.Info("airmon started",
		"shows", len(cfg.Shows),
		"probe_interval", probeInterval.String(),
		"api_url", fmt.Sprintf("http://localhost%s", addr))

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("error during execution", "error", err)
		return err
	}

	logger.Info("airmon stopped")
	return nil
}

// rescheduleMarathons restores chunk jobs for marathons that have not
// finished. Chunks whose start time has passed are skipped.
func rescheduleMarathons(st store.Store, marathons *schedule.MarathonController) error {
	events, err := st.ListMarathons()
	if err != nil {
		return err
	}
	now := time.Now()
	for _, ev := range events {
		if ev.Terminal() || !ev.EndTime.After(now) {
			continue
		}
		if err := marathons.Schedule(ev); err != nil {
			logger.Error("failed to reschedule marathon", "marathon_id", ev.ID, "error", err)
		}
	}
	return nil
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
