// Package store provides persistence for stream probes, show runs, job
// health counters, marathon events, and the recording schedule.
package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// maxFailureReasonLen bounds the stored failure reason text.
const maxFailureReasonLen = 250

// Store is the persistence interface shared by every component.
// GetOrCreateOpenRun and MutateJobHealth are atomic read-modify-write
// operations; implementations must make them safe to call from
// concurrent job workers.
type Store interface {
	// Probes: append-only classification history.
	SaveProbe(p *ProbeResult) error
	RecentProbes(limit int) ([]*ProbeResult, error)

	// Show runs: one record per airing instance. At most one open run
	// exists per (showName, djFirst, djLast) key; GetOrCreateOpenRun
	// returns the open run if present, otherwise creates one.
	GetOrCreateOpenRun(showName, djFirst, djLast string, now time.Time) (*ShowRun, error)
	UpdateRun(run *ShowRun) error
	EndRun(runID string, now time.Time) error
	RecentRuns(limit int) ([]*ShowRun, error)
	AppendLog(entry *LogEntry) error
	RunLogs(runID string, limit int) ([]*LogEntry, error)

	// Job health: per-job failure/restart counters.
	MutateJobHealth(name string, fn func(*JobHealthRecord)) (*JobHealthRecord, error)
	JobHealthSnapshot() (map[string]*JobHealthRecord, error)
	ResetJobHealth(name string) error

	// Marathon events.
	SaveMarathon(ev *MarathonEvent) error
	GetMarathon(id string) (*MarathonEvent, error)
	ListMarathons() ([]*MarathonEvent, error)

	// Scheduled shows (owned by the CRUD layer; this process reads them
	// and removes expired definitions).
	PutShow(show *ScheduledShow) error
	ListShows() ([]*ScheduledShow, error)
	DeleteShow(id string) error

	// Close releases any resources held by the store.
	Close() error
}

// ProbeResult is the persisted classification of one audio sample.
// Immutable once created.
type ProbeResult struct {
	ID              string    `json:"id"`
	ShowRunID       string    `json:"show_run_id,omitempty"`
	Classification  string    `json:"classification"`
	Reason          string    `json:"reason"`
	AvgDB           float64   `json:"avg_db"`
	SilenceRatio    float64   `json:"silence_ratio"`
	AutomationRatio float64   `json:"automation_ratio"`
	CapturedAt      time.Time `json:"captured_at"`
}

// ShowRun is one airing instance of a scheduled show. The classification
// fields mirror the most recent probe attached to the run.
type ShowRun struct {
	ID              string    `json:"id"`
	ShowName        string    `json:"show_name"`
	DJFirst         string    `json:"dj_first"`
	DJLast          string    `json:"dj_last"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at,omitempty"`
	Classification  string    `json:"classification,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	AvgDB           float64   `json:"avg_db"`
	SilenceRatio    float64   `json:"silence_ratio"`
	AutomationRatio float64   `json:"automation_ratio"`
	FlaggedMissed   bool      `json:"flagged_missed"`
}

// IsOpen reports whether the run has not ended yet.
func (r *ShowRun) IsOpen() bool {
	return r.EndedAt.IsZero()
}

// Key returns the open-run identity key.
func (r *ShowRun) Key() string {
	return RunKey(r.ShowName, r.DJFirst, r.DJLast)
}

// RunKey builds the open-run index key for a show and host pair.
func RunKey(showName, djFirst, djLast string) string {
	return fmt.Sprintf("%s|%s|%s", showName, djFirst, djLast)
}

// LogEntry is an append-only annotation attached to a show run.
type LogEntry struct {
	ID          string    `json:"id"`
	ShowRunID   string    `json:"show_run_id"`
	At          time.Time `json:"at"`
	EntryType   string    `json:"entry_type"`
	Message     string    `json:"message"`
	Description string    `json:"description,omitempty"`
}

// JobHealthRecord tracks failure/restart counters for a named background
// job. Mutated only through MutateJobHealth.
type JobHealthRecord struct {
	Name              string    `json:"name"`
	FailureCount      int       `json:"failure_count"`
	RestartCount      int       `json:"restart_count"`
	LastFailureAt     time.Time `json:"last_failure_at,omitempty"`
	LastRestartAt     time.Time `json:"last_restart_at,omitempty"`
	LastFailureReason string    `json:"last_failure_reason,omitempty"`
}

// SetFailureReason stores a truncated failure reason.
func (j *JobHealthRecord) SetFailureReason(reason string) {
	if len(reason) > maxFailureReasonLen {
		reason = reason[:maxFailureReasonLen]
	}
	j.LastFailureReason = reason
}

// MarathonStatus is the lifecycle state of a marathon event.
// Completed and Cancelled are terminal.
type MarathonStatus string

const (
	MarathonPending   MarathonStatus = "pending"
	MarathonRunning   MarathonStatus = "running"
	MarathonCompleted MarathonStatus = "completed"
	MarathonCancelled MarathonStatus = "cancelled"
)

// MarathonEvent is an ad-hoc extended recording window captured as a
// sequence of fixed-duration chunks.
type MarathonEvent struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     time.Time      `json:"end_time"`
	ChunkHours  int            `json:"chunk_hours"`
	Status      MarathonStatus `json:"status"`
	JobIDs      []string       `json:"job_ids,omitempty"`
	CancelledAt time.Time      `json:"cancelled_at,omitempty"`
}

// Terminal reports whether the event can no longer change state.
func (e *MarathonEvent) Terminal() bool {
	return e.Status == MarathonCompleted || e.Status == MarathonCancelled
}

// Covers reports whether t falls inside the event window.
func (e *MarathonEvent) Covers(t time.Time) bool {
	return !t.Before(e.StartTime) && t.Before(e.EndTime)
}

// ScheduledShow is a recurring show definition. Times of day are "15:04"
// strings; EndTime at or before StartTime means the show crosses
// midnight.
type ScheduledShow struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	HostFirst string         `json:"host_first"`
	HostLast  string         `json:"host_last"`
	Days      []time.Weekday `json:"days"`
	StartDate time.Time      `json:"start_date"`
	EndDate   time.Time      `json:"end_date"`
	StartTime string         `json:"start_time"`
	EndTime   string         `json:"end_time"`
}

// DisplayName returns the show name, falling back to the host's name.
func (s *ScheduledShow) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("%s %s", s.HostFirst, s.HostLast)
}
