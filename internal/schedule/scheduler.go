// Package schedule drives all recurring and one-shot background work:
// the stream probe loop, per-show recording jobs, and marathon chunk
// sequences.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is the body of a scheduled job. The context is cancelled when
// the scheduler shuts down.
type JobFunc func(ctx context.Context)

// Scheduler wraps robfig/cron with a string-keyed job arena so jobs can
// be replaced or removed by ID while the scheduler is running.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	jobs   map[string]*arenaJob
	mu     sync.RWMutex
	wg     sync.WaitGroup
}

type arenaJob struct {
	entryID  cron.EntryID
	lastRun  time.Time
	runCount int64
}

// NewScheduler creates a scheduler bound to ctx. Cancelling ctx signals
// all running jobs to stop.
func NewScheduler(ctx context.Context, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	schedCtx, cancel := context.WithCancel(ctx)
	cronLogger := &cronSlogAdapter{logger: logger}

	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.Recover(cronLogger),
		),
	)

	return &Scheduler{
		cron:   c,
		ctx:    schedCtx,
		cancel: cancel,
		logger: logger,
		jobs:   make(map[string]*arenaJob),
	}
}

// AddSchedule registers fn under the given ID on a recurring schedule.
// An existing job with the same ID is replaced.
func (s *Scheduler) AddSchedule(id string, sched cron.Schedule, fn JobFunc) error {
	if id == "" {
		return fmt.Errorf("job ID cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("job function cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.jobs[id]; exists {
		s.cron.Remove(old.entryID)
		delete(s.jobs, id)
	}

	entryID := s.cron.Schedule(sched, s.wrapJob(id, fn))
	s.jobs[id] = &arenaJob{entryID: entryID}

	s.logger.Info("job scheduled",
		slog.String("job_id", id),
		slog.Time("next_run", sched.Next(time.Now())),
	)
	return nil
}

// AddOnce registers fn to run a single time at the given instant. The
// job removes itself from the arena after it fires. An instant in the
// past schedules nothing.
func (s *Scheduler) AddOnce(id string, at time.Time, fn JobFunc) error {
	if id == "" {
		return fmt.Errorf("job ID cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("job function cannot be nil")
	}
	if !at.After(time.Now()) {
		s.logger.Warn("skipping one-shot job in the past",
			slog.String("job_id", id),
			slog.Time("at", at),
		)
		return nil
	}

	wrapped := func(ctx context.Context) {
		defer s.Remove(id)
		fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.jobs[id]; exists {
		s.cron.Remove(old.entryID)
		delete(s.jobs, id)
	}

	entryID := s.cron.Schedule(onceSchedule{at: at}, s.wrapJob(id, wrapped))
	s.jobs[id] = &arenaJob{entryID: entryID}

	s.logger.Info("one-shot job scheduled",
		slog.String("job_id", id),
		slog.Time("at", at),
	)
	return nil
}

// Remove deletes a job from the arena. Removing an unknown ID is a
// no-op. A job currently executing finishes its run.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, exists := s.jobs[id]; exists {
		s.cron.Remove(job.entryID)
		delete(s.jobs, id)
		s.logger.Info("job removed", slog.String("job_id", id))
	}
}

// RemoveMatching deletes every job whose ID starts with the given
// prefix and returns the removed IDs.
func (s *Scheduler) RemoveMatching(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, job := range s.jobs {
		if strings.HasPrefix(id, prefix) {
			s.cron.Remove(job.entryID)
			delete(s.jobs, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		s.logger.Info("jobs removed",
			slog.String("prefix", prefix),
			slog.Int("count", len(removed)),
		)
	}
	return removed
}

// Has reports whether a job with the given ID is registered.
func (s *Scheduler) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.jobs[id]
	return ok
}

// JobIDs returns the IDs of all registered jobs.
func (s *Scheduler) JobIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// NextRun returns the next scheduled run time for a job ID, or false if
// the job is unknown or has no future run.
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return time.Time{}, false
	}
	entry := s.cron.Entry(job.entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return time.Time{}, false
	}
	return entry.Next, true
}

func (s *Scheduler) wrapJob(id string, fn JobFunc) cron.FuncJob {
	return func() {
		s.mu.Lock()
		job, exists := s.jobs[id]
		if !exists {
			s.mu.Unlock()
			return
		}
		job.lastRun = time.Now()
		job.runCount++
		s.mu.Unlock()

		s.wg.Add(1)
		defer s.wg.Done()

		start := time.Now()
		s.logger.Info("starting job", slog.String("job_id", id))
		fn(s.ctx)
		s.logger.Info("job finished",
			slog.String("job_id", id),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.RLock()
	jobCount := len(s.jobs)
	s.mu.RUnlock()

	s.logger.Info("starting scheduler", slog.Int("job_count", jobCount))
	s.cron.Start()
}

// Stop cancels the job context, stops scheduling, and waits for running
// jobs to finish. The parent context bounds the wait.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	s.cancel()

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all jobs stopped")
	case <-time.After(stopGrace):
		s.logger.Warn("shutdown grace period elapsed, some jobs may still be running")
	}
}

// stopGrace bounds how long Stop waits for in-flight jobs.
const stopGrace = 30 * time.Second

// onceSchedule fires exactly once at a fixed instant.
type onceSchedule struct {
	at time.Time
}

func (o onceSchedule) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

// windowSchedule bounds a recurring schedule to a date window. Before
// the window it skips ahead; after the window it never fires again.
type windowSchedule struct {
	inner     cron.Schedule
	notBefore time.Time
	notAfter  time.Time
}

func (w windowSchedule) Next(t time.Time) time.Time {
	if !w.notBefore.IsZero() && t.Before(w.notBefore) {
		t = w.notBefore
	}
	next := w.inner.Next(t)
	if !w.notAfter.IsZero() && next.After(w.notAfter) {
		return time.Time{}
	}
	return next
}

// cronSlogAdapter adapts slog.Logger to the cron.Logger interface.
type cronSlogAdapter struct {
	logger *slog.Logger
}

func (a *cronSlogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a *cronSlogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	attrs := make([]any, 0, len(keysAndValues)+1)
	attrs = append(attrs, slog.String("error", err.Error()))
	attrs = append(attrs, keysAndValues...)
	a.logger.Error(msg, attrs...)
}
