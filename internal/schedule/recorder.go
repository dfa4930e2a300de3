package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/campusradio/airmon/internal/capture"
	"github.com/campusradio/airmon/internal/config"
	"github.com/campusradio/airmon/internal/health"
	"github.com/campusradio/airmon/internal/store"
)

const resumeJobID = "recording_resume"

// recordCronParser parses the generated five-field show expressions.
var recordCronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// PersistPauseFunc saves the pause flag so it survives restarts.
type PersistPauseFunc func(paused bool, resumeAt time.Time) error

// Recorder schedules and runs per-show stream captures. Each stored
// show gets one recurring job bounded to its date window plus a cleanup
// one-shot that removes the definition after it expires.
type Recorder struct {
	sched     *Scheduler
	store     store.Store
	facility  capture.Facility
	cfg       config.Recording
	streamURL string
	marathons *MarathonController
	health    *health.Registry
	persist   PersistPauseFunc
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(time.Duration)

	mu       sync.Mutex
	paused   bool
	resumeAt time.Time
}

// NewRecorder wires a recording scheduler. marathons and persist may be
// nil; a nil persist makes pause state process-local.
func NewRecorder(
	sched *Scheduler,
	st store.Store,
	facility capture.Facility,
	cfg config.Recording,
	streamURL string,
	marathons *MarathonController,
	healthReg *health.Registry,
	persist PersistPauseFunc,
	logger *slog.Logger,
) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryDelaySec <= 0 {
		cfg.RetryDelaySec = 1
	}
	return &Recorder{
		sched:     sched,
		store:     st,
		facility:  facility,
		cfg:       cfg,
		streamURL: streamURL,
		marathons: marathons,
		health:    healthReg,
		persist:   persist,
		logger:    logger,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// WithClock overrides the time source and sleep function. Test use.
func (r *Recorder) WithClock(now func() time.Time, sleep func(time.Duration)) *Recorder {
	r.now = now
	r.sleep = sleep
	return r
}

// RestorePause applies a pause flag carried over from the config file.
// An already-elapsed resume time leaves the recorder running.
func (r *Recorder) RestorePause() {
	if !r.cfg.Paused {
		return
	}
	var resumeAt time.Time
	if r.cfg.ResumeAt != "" {
		t, err := time.Parse(time.RFC3339, r.cfg.ResumeAt)
		if err != nil {
			r.logger.Warn("ignoring invalid resume_at in config", slog.String("value", r.cfg.ResumeAt))
		} else {
			resumeAt = t
		}
	}
	if !resumeAt.IsZero() && !r.now().Before(resumeAt) {
		r.logger.Info("stored pause already expired, resuming recordings")
		if err := r.Resume(); err != nil {
			r.logger.Error("failed to clear expired pause", "error", err)
		}
		return
	}
	if err := r.PauseUntil(resumeAt); err != nil {
		r.logger.Error("failed to restore pause state", "error", err)
	}
}

// Refresh rebuilds all show jobs from the store. Safe to call while the
// scheduler is running; existing show jobs are replaced wholesale.
func (r *Recorder) Refresh() error {
	r.sched.RemoveMatching("show:")
	r.sched.RemoveMatching("expire:")

	shows, err := r.store.ListShows()
	if err != nil {
		return fmt.Errorf("failed to list shows: %w", err)
	}

	for _, show := range shows {
		if err := r.scheduleShow(show); err != nil {
			r.logger.Error("failed to schedule show",
				slog.String("show_id", show.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (r *Recorder) scheduleShow(show *store.ScheduledShow) error {
	hour, minute, err := parseClock(show.StartTime)
	if err != nil {
		return err
	}
	if _, err := showDuration(show); err != nil {
		return err
	}
	if len(show.Days) == 0 {
		return fmt.Errorf("show %q has no scheduled days", show.ID)
	}

	inner, err := recordCronParser.Parse(weeklyCronSpec(minute, hour, show.Days))
	if err != nil {
		return err
	}

	loc := r.now().Location()
	windowed := windowSchedule{
		inner:     inner,
		notBefore: time.Date(show.StartDate.Year(), show.StartDate.Month(), show.StartDate.Day(), 0, 0, 0, 0, loc),
		notAfter:  time.Date(show.EndDate.Year(), show.EndDate.Month(), show.EndDate.Day(), 23, 59, 59, 0, loc),
	}

	captured := *show
	if err := r.sched.AddSchedule("show:"+show.ID, windowed, func(ctx context.Context) {
		r.captureShow(ctx, &captured)
	}); err != nil {
		return err
	}

	// Drop the definition once its date window has fully passed.
	expireAt := windowed.notAfter.Add(24 * time.Hour)
	return r.sched.AddOnce("expire:"+show.ID, expireAt, func(context.Context) {
		r.expireShow(captured.ID)
	})
}

// weeklyCronSpec builds a five-field cron expression firing at the
// given time of day on the given weekdays.
func weeklyCronSpec(minute, hour int, days []time.Weekday) string {
	nums := make([]string, 0, len(days))
	for _, d := range days {
		nums = append(nums, fmt.Sprintf("%d", int(d)))
	}
	sort.Strings(nums)
	return fmt.Sprintf("%d %d * * %s", minute, hour, strings.Join(nums, ","))
}

func (r *Recorder) expireShow(id string) {
	if err := r.store.DeleteShow(id); err != nil {
		r.logger.Error("failed to delete expired show",
			slog.String("show_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.Info("expired show removed", slog.String("show_id", id))
	// Rebuild the job set so every derived job reflects the remaining
	// show definitions.
	if err := r.Refresh(); err != nil {
		r.logger.Error("failed to refresh schedule after expiry", "error", err)
	}
}

// captureShow records one airing of a show. Recording is skipped while
// paused or while a marathon window is active; marathons own the
// stream.
func (r *Recorder) captureShow(ctx context.Context, show *store.ScheduledShow) {
	now := r.now()
	name := show.DisplayName()

	if r.pausedNow(now) {
		r.logger.Info("recordings paused, skipping show", slog.String("show", name))
		return
	}
	if r.marathons != nil && r.marathons.ActiveAt(now) {
		r.logger.Info("marathon in progress, skipping show recording", slog.String("show", name))
		return
	}

	dur, err := showDuration(show)
	if err != nil {
		r.logger.Error("cannot determine show duration", slog.String("show", name), slog.String("error", err.Error()))
		return
	}

	dest, err := r.outputPath(show, now)
	if err != nil {
		r.logger.Error("cannot prepare recording destination", slog.String("show", name), slog.String("error", err.Error()))
		return
	}

	jobName := "record:" + show.ID
	r.logger.Info("starting show recording",
		slog.String("show", name),
		slog.String("dest", dest),
		slog.Duration("duration", dur),
	)

	err = r.facility.Capture(ctx, r.streamURL, dur, dest)
	if err != nil {
		r.health.RecordFailure(jobName, err.Error(), false)
		if !r.cfg.SelfHeal {
			return
		}
		r.sleep(time.Duration(r.cfg.RetryDelaySec) * time.Second)
		if err = r.facility.Capture(ctx, r.streamURL, dur, dest); err != nil {
			r.health.RecordFailure(jobName, err.Error(), false)
			return
		}
		r.health.RecordRestart(jobName)
	}

	r.closeRun(show, now, dest)
}

// closeRun ends the airing's open run and attaches a recording log
// entry. The capture blocks for the show's full length, so by the time
// it returns the airing is over.
func (r *Recorder) closeRun(show *store.ScheduledShow, startedAt time.Time, dest string) {
	run, err := r.store.GetOrCreateOpenRun(show.DisplayName(), show.HostFirst, show.HostLast, startedAt)
	if err != nil {
		r.logger.Error("failed to resolve run for recorded show",
			slog.String("show", show.DisplayName()),
			slog.String("error", err.Error()),
		)
		return
	}

	entry := &store.LogEntry{
		ShowRunID:   run.ID,
		At:          r.now(),
		EntryType:   "recording",
		Message:     "Recording completed",
		Description: dest,
	}
	if err := r.store.AppendLog(entry); err != nil {
		r.logger.Error("failed to log recording", slog.String("run_id", run.ID), slog.String("error", err.Error()))
	}

	if err := r.store.EndRun(run.ID, r.now()); err != nil {
		r.logger.Error("failed to end run", slog.String("run_id", run.ID), slog.String("error", err.Error()))
	}
}

func (r *Recorder) outputPath(show *store.ScheduledShow, now time.Time) (string, error) {
	dir := r.cfg.OutputDir
	if r.cfg.PerShowFolders {
		dir = filepath.Join(dir, sanitizeName(show.DisplayName()))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	file := fmt.Sprintf("%s-%s.mp3", sanitizeName(show.DisplayName()), now.Format("2006-01-02"))
	return filepath.Join(dir, file), nil
}

// sanitizeName strips path separators and other characters that are
// unsafe in file names.
func sanitizeName(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	out := strings.TrimSpace(replacer.Replace(name))
	if out == "" {
		out = "show"
	}
	return out
}

// PauseUntil stops show recordings until the given time. A zero time
// pauses indefinitely. The flag is persisted so it survives restarts.
func (r *Recorder) PauseUntil(resumeAt time.Time) error {
	r.mu.Lock()
	r.paused = true
	r.resumeAt = resumeAt
	r.mu.Unlock()

	if r.persist != nil {
		if err := r.persist(true, resumeAt); err != nil {
			return fmt.Errorf("failed to persist pause: %w", err)
		}
	}

	if !resumeAt.IsZero() {
		if err := r.sched.AddOnce(resumeJobID, resumeAt, func(context.Context) {
			if err := r.Resume(); err != nil {
				r.logger.Error("scheduled resume failed", "error", err)
			}
		}); err != nil {
			return err
		}
		r.logger.Info("recordings paused", slog.Time("resume_at", resumeAt))
	} else {
		r.logger.Info("recordings paused indefinitely")
	}
	return nil
}

// Resume re-enables show recordings and clears any scheduled resume.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	r.paused = false
	r.resumeAt = time.Time{}
	r.mu.Unlock()

	r.sched.Remove(resumeJobID)

	if r.persist != nil {
		if err := r.persist(false, time.Time{}); err != nil {
			return fmt.Errorf("failed to persist resume: %w", err)
		}
	}
	r.logger.Info("recordings resumed")
	return nil
}

// Paused returns the pause flag and the scheduled resume time, which is
// zero for an indefinite pause.
func (r *Recorder) Paused() (bool, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused, r.resumeAt
}

// pausedNow checks the pause flag, lazily clearing a pause whose resume
// time has passed. The lazy check covers resume times missed while the
// process was down.
func (r *Recorder) pausedNow(now time.Time) bool {
	r.mu.Lock()
	paused := r.paused
	resumeAt := r.resumeAt
	r.mu.Unlock()

	if !paused {
		return false
	}
	if !resumeAt.IsZero() && !now.Before(resumeAt) {
		if err := r.Resume(); err != nil {
			r.logger.Error("failed to clear elapsed pause", "error", err)
		}
		return false
	}
	return true
}
