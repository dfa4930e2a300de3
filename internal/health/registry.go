// Package health tracks failure and restart counters for named
// background jobs. Every scheduled job body reports here instead of
// letting an error escape into the scheduler.
package health

import (
	"log/slog"
	"time"

	"github.com/campusradio/airmon/internal/store"
)

// Registry records per-job health events. Counter updates go through the
// store's atomic mutate operation, so concurrent job workers are safe.
type Registry struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates a Registry backed by the given store.
func NewRegistry(st store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: st, logger: logger, now: time.Now}
}

// WithClock overrides the registry's time source. Test use.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// RecordFailure increments the job's failure counter and stamps the
// failure time and reason. When restarted is true the job was retried
// after the failure, so the restart counters advance too.
// Store errors are logged and swallowed: health reporting must never
// break the job that reports.
func (r *Registry) RecordFailure(jobName, reason string, restarted bool) {
	now := r.now()
	_, err := r.store.MutateJobHealth(jobName, func(rec *store.JobHealthRecord) {
		rec.FailureCount++
		rec.LastFailureAt = now
		if reason != "" {
			rec.SetFailureReason(reason)
		}
		if restarted {
			rec.RestartCount++
			rec.LastRestartAt = now
		}
	})
	if err != nil {
		r.logger.Error("failed to record job failure",
			"job", jobName, "reason", reason, "error", err)
		return
	}

	r.logger.Warn("job failure recorded",
		"job", jobName, "reason", reason, "self_healed", restarted)
}

// RecordRestart increments only the restart counters.
func (r *Registry) RecordRestart(jobName string) {
	now := r.now()
	_, err := r.store.MutateJobHealth(jobName, func(rec *store.JobHealthRecord) {
		rec.RestartCount++
		rec.LastRestartAt = now
	})
	if err != nil {
		r.logger.Error("failed to record job restart", "job", jobName, "error", err)
		return
	}

	r.logger.Info("job restart recorded", "job", jobName)
}

// Snapshot returns every known job's counters for display/monitoring.
func (r *Registry) Snapshot() (map[string]*store.JobHealthRecord, error) {
	return r.store.JobHealthSnapshot()
}

// Reset removes a job's record. Administrative use only; normal
// operation never deletes health records.
func (r *Registry) Reset(jobName string) error {
	return r.store.ResetJobHealth(jobName)
}
