// Package probe samples the live stream on an interval, classifies what
// is on air, and feeds the result to persistence and alerting.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/campusradio/airmon/internal/alert"
	"github.com/campusradio/airmon/internal/capture"
	"github.com/campusradio/airmon/internal/classify"
	"github.com/campusradio/airmon/internal/health"
	"github.com/campusradio/airmon/internal/store"
)

// JobName is the health-registry key for the probe job.
const JobName = "stream_probe"

// ShowSource resolves whatever scheduled show is airing at a given
// moment. Returns nil when the air is unscheduled.
type ShowSource interface {
	CurrentShow(now time.Time) (*store.ScheduledShow, error)
}

// Reachability is the lightweight stream liveness check.
type Reachability interface {
	IsReachable(url string) bool
}

// Config holds the probe service settings.
type Config struct {
	StreamURL  string
	Duration   time.Duration // length of each captured sample
	TestSample string        // classify this file instead of capturing
	SelfHeal   bool          // retry a failed probe once
	RetryDelay time.Duration
}

// Service captures and classifies stream samples. All collaborators are
// injected; the service owns no goroutines of its own and is driven by
// a recurring scheduler job.
type Service struct {
	cfg        Config
	classifier *classify.Classifier
	facility   capture.Facility
	reach      Reachability
	shows      ShowSource
	store      store.Store
	health     *health.Registry
	alerts     *alert.Engine
	logger     *slog.Logger
	now        func() time.Time
	sleep      func(time.Duration)
}

// NewService wires a probe service.
func NewService(
	cfg Config,
	classifier *classify.Classifier,
	facility capture.Facility,
	reach Reachability,
	shows ShowSource,
	st store.Store,
	healthReg *health.Registry,
	alerts *alert.Engine,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Service{
		cfg:        cfg,
		classifier: classifier,
		facility:   facility,
		reach:      reach,
		shows:      shows,
		store:      st,
		health:     healthReg,
		alerts:     alerts,
		logger:     logger,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// WithClock overrides the time source and sleep function. Test use.
func (s *Service) WithClock(now func() time.Time, sleep func(time.Duration)) *Service {
	s.now = now
	s.sleep = sleep
	return s
}

// ProbeOnce captures one sample and classifies it. A capture failure
// yields nil; a decode failure yields a result classified Unknown. No
// error ever escapes.
func (s *Service) ProbeOnce(ctx context.Context) *classify.Result {
	if s.cfg.TestSample != "" {
		s.logger.Info("using test sample audio for probe", "path", s.cfg.TestSample)
		r := s.classifier.AnalyzeFile(s.cfg.TestSample)
		return &r
	}

	tmp, err := os.CreateTemp("", "airmon-probe-*.wav")
	if err != nil {
		s.logger.Error("failed to create probe temp file", "error", err)
		return nil
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := s.facility.Capture(ctx, s.cfg.StreamURL, s.cfg.Duration, tmpPath); err != nil {
		s.logger.Error("probe capture failed", "error", err)
		return nil
	}

	r := s.classifier.AnalyzeFile(tmpPath)
	return &r
}

// ProbeAndRecord runs a full probe cycle: reachability gate, capture,
// classification, persistence, show-run mirroring, and alert
// evaluation. Designed as a scheduler job body; it traps all failures.
func (s *Service) ProbeAndRecord(ctx context.Context) {
	streamUp := true
	if s.cfg.TestSample == "" {
		streamUp = s.reach.IsReachable(s.cfg.StreamURL)
	}

	attempt := func() *classify.Result {
		if !streamUp {
			// Nothing to capture; synthesize the downtime result.
			return &classify.Result{
				Classification: classify.StreamDown,
				Reason:         "unreachable",
				SilenceRatio:   1.0,
			}
		}
		return s.ProbeOnce(ctx)
	}

	result := attempt()
	if result == nil && s.cfg.SelfHeal {
		s.health.RecordFailure(JobName, "probe_failed", true)
		s.sleep(s.cfg.RetryDelay)
		result = attempt()
	}
	if result == nil {
		s.health.RecordFailure(JobName, "probe_failed_final", false)
		s.alerts.Evaluate(streamUp, nil)
		return
	}

	now := s.now()

	var run *store.ShowRun
	show, err := s.shows.CurrentShow(now)
	if err != nil {
		s.logger.Error("failed to resolve current show", "error", err)
	} else if show != nil {
		run, err = s.store.GetOrCreateOpenRun(show.DisplayName(), show.HostFirst, show.HostLast, now)
		if err != nil {
			s.logger.Error("failed to resolve show run", "show", show.DisplayName(), "error", err)
			run = nil
		}
	}

	record := &store.ProbeResult{
		Classification:  string(result.Classification),
		Reason:          result.Reason,
		AvgDB:           result.AvgDB,
		SilenceRatio:    result.SilenceRatio,
		AutomationRatio: result.AutomationRatio,
		CapturedAt:      now,
	}
	if run != nil {
		record.ShowRunID = run.ID
	}
	if err := s.store.SaveProbe(record); err != nil {
		// Persistence failure aborts this cycle; the next scheduled
		// probe is the recovery mechanism.
		s.logger.Error("failed to persist probe", "error", err)
		return
	}

	if run != nil {
		s.mirrorOntoRun(run, result, now)
	}

	s.alerts.Evaluate(streamUp, result)

	s.logger.Info("stream probe",
		"classification", string(result.Classification),
		"avg_db", result.AvgDB,
		"silence_ratio", result.SilenceRatio,
		"automation_ratio", result.AutomationRatio,
	)
}

// mirrorOntoRun copies the latest classification onto the open show run
// and appends a probe log entry. A run classified as automation or dead
// air while a host was expected is flagged as missed.
func (s *Service) mirrorOntoRun(run *store.ShowRun, result *classify.Result, now time.Time) {
	run.Classification = string(result.Classification)
	run.Reason = result.Reason
	run.AvgDB = result.AvgDB
	run.SilenceRatio = result.SilenceRatio
	run.AutomationRatio = result.AutomationRatio
	if result.Classification == classify.Automation || result.Classification == classify.DeadAir {
		run.FlaggedMissed = true
	}

	if err := s.store.UpdateRun(run); err != nil {
		s.logger.Error("failed to update show run", "run_id", run.ID, "error", err)
		return
	}

	entry := &store.LogEntry{
		ShowRunID: run.ID,
		At:        now,
		EntryType: "probe",
		Message:   fmt.Sprintf("Probe: %s", result.Classification),
		Description: fmt.Sprintf("reason=%s, avg_db=%v, silence=%v, automation=%v",
			result.Reason, result.AvgDB, result.SilenceRatio, result.AutomationRatio),
	}
	if err := s.store.AppendLog(entry); err != nil {
		s.logger.Error("failed to append probe log entry", "run_id", run.ID, "error", err)
	}
}
