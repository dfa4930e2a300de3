package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/campusradio/airmon/internal/capture"
	"github.com/campusradio/airmon/internal/config"
	"github.com/campusradio/airmon/internal/health"
	"github.com/campusradio/airmon/internal/store"
)

// MarathonController schedules ad-hoc extended recording windows. A
// marathon is captured as a sequence of fixed-length chunks so a single
// encoder failure cannot lose the whole event.
type MarathonController struct {
	sched     *Scheduler
	store     store.Store
	facility  capture.Facility
	cfg       config.Recording
	streamURL string
	health    *health.Registry
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(time.Duration)

	mu sync.Mutex
}

// NewMarathonController wires a marathon controller.
func NewMarathonController(
	sched *Scheduler,
	st store.Store,
	facility capture.Facility,
	cfg config.Recording,
	streamURL string,
	healthReg *health.Registry,
	logger *slog.Logger,
) *MarathonController {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryDelaySec <= 0 {
		cfg.RetryDelaySec = 1
	}
	return &MarathonController{
		sched:     sched,
		store:     st,
		facility:  facility,
		cfg:       cfg,
		streamURL: streamURL,
		health:    healthReg,
		logger:    logger,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// WithClock overrides the time source and sleep function. Test use.
func (m *MarathonController) WithClock(now func() time.Time, sleep func(time.Duration)) *MarathonController {
	m.now = now
	m.sleep = sleep
	return m
}

// chunk is one contiguous slice of a marathon window.
type chunk struct {
	index    int
	start    time.Time
	duration time.Duration
}

// partitionChunks splits [start, end) into chunkHours-long pieces. The
// final chunk absorbs the remainder and may be shorter.
func partitionChunks(start, end time.Time, chunkHours int) []chunk {
	if chunkHours <= 0 {
		chunkHours = 1
	}
	size := time.Duration(chunkHours) * time.Hour

	var chunks []chunk
	for i, at := 0, start; at.Before(end); i, at = i+1, at.Add(size) {
		d := size
		if remaining := end.Sub(at); remaining < d {
			d = remaining
		}
		chunks = append(chunks, chunk{index: i, start: at, duration: d})
	}
	return chunks
}

// Schedule registers a marathon event and its chunk jobs. Re-scheduling
// an existing non-terminal event replaces its pending jobs; terminal
// events are rejected.
func (m *MarathonController) Schedule(ev *store.MarathonEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.ID == "" {
		return fmt.Errorf("marathon ID cannot be empty")
	}
	if !ev.EndTime.After(ev.StartTime) {
		return fmt.Errorf("marathon %q: end time must be after start time", ev.ID)
	}
	if ev.ChunkHours < 1 {
		return fmt.Errorf("marathon %q: chunk hours must be at least 1", ev.ID)
	}
	if existing, err := m.store.GetMarathon(ev.ID); err == nil && existing.Terminal() {
		return fmt.Errorf("marathon %q is already %s", ev.ID, existing.Status)
	}

	m.sched.RemoveMatching(m.jobPrefix(ev.ID))

	chunks := partitionChunks(ev.StartTime, ev.EndTime, ev.ChunkHours)
	jobIDs := make([]string, 0, len(chunks))
	for _, c := range chunks {
		id := fmt.Sprintf("%s%d", m.jobPrefix(ev.ID), c.index)
		if err := m.sched.AddOnce(id, c.start, func(ctx context.Context) {
			m.runChunk(ctx, ev.ID, c, len(chunks))
		}); err != nil {
			return err
		}
		jobIDs = append(jobIDs, id)
	}

	ev.Status = store.MarathonPending
	ev.JobIDs = jobIDs
	if err := m.store.SaveMarathon(ev); err != nil {
		m.sched.RemoveMatching(m.jobPrefix(ev.ID))
		return fmt.Errorf("failed to persist marathon %q: %w", ev.ID, err)
	}

	m.logger.Info("marathon scheduled",
		slog.String("marathon_id", ev.ID),
		slog.String("name", ev.Name),
		slog.Int("chunks", len(chunks)),
	)
	return nil
}

// Cancel removes a marathon's future chunk jobs and marks the event
// cancelled. A chunk already being captured runs to completion.
func (m *MarathonController) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, err := m.store.GetMarathon(id)
	if err != nil {
		return err
	}
	if ev.Terminal() {
		return fmt.Errorf("marathon %q is already %s", id, ev.Status)
	}

	m.sched.RemoveMatching(m.jobPrefix(id))

	ev.Status = store.MarathonCancelled
	ev.CancelledAt = m.now()
	if err := m.store.SaveMarathon(ev); err != nil {
		return fmt.Errorf("failed to persist cancellation: %w", err)
	}

	m.logger.Info("marathon cancelled", slog.String("marathon_id", id))
	return nil
}

// ActiveAt reports whether any non-terminal marathon window covers the
// given moment. Show recordings defer to active marathons.
func (m *MarathonController) ActiveAt(t time.Time) bool {
	events, err := m.store.ListMarathons()
	if err != nil {
		m.logger.Error("failed to list marathons", "error", err)
		return false
	}
	for _, ev := range events {
		if !ev.Terminal() && ev.Covers(t) {
			return true
		}
	}
	return false
}

func (m *MarathonController) jobPrefix(id string) string {
	return "marathon:" + id + ":"
}

// runChunk captures one chunk of a marathon. The first chunk moves the
// event to running; the last one moves it to completed unless it was
// cancelled mid-flight.
func (m *MarathonController) runChunk(ctx context.Context, eventID string, c chunk, total int) {
	ev, err := m.store.GetMarathon(eventID)
	if err != nil {
		m.logger.Error("marathon chunk for unknown event",
			slog.String("marathon_id", eventID),
			slog.String("error", err.Error()),
		)
		return
	}
	if ev.Status == store.MarathonCancelled {
		return
	}

	if ev.Status == store.MarathonPending {
		ev.Status = store.MarathonRunning
		if err := m.store.SaveMarathon(ev); err != nil {
			m.logger.Error("failed to mark marathon running", slog.String("marathon_id", eventID), slog.String("error", err.Error()))
		}
	}

	dest, err := m.chunkPath(ev, c)
	if err != nil {
		m.logger.Error("cannot prepare marathon destination",
			slog.String("marathon_id", eventID),
			slog.String("error", err.Error()),
		)
		return
	}

	m.logger.Info("starting marathon chunk",
		slog.String("marathon_id", eventID),
		slog.Int("chunk", c.index+1),
		slog.Int("total", total),
		slog.Duration("duration", c.duration),
	)

	jobName := "marathon:" + eventID
	if err := m.facility.Capture(ctx, m.streamURL, c.duration, dest); err != nil {
		m.health.RecordFailure(jobName, err.Error(), false)
		m.logger.Error("marathon chunk capture failed",
			slog.String("marathon_id", eventID),
			slog.Int("chunk", c.index+1),
			slog.String("error", err.Error()),
		)
		if m.cfg.SelfHeal {
			m.sleep(time.Duration(m.cfg.RetryDelaySec) * time.Second)
			if err := m.facility.Capture(ctx, m.streamURL, c.duration, dest); err != nil {
				m.health.RecordFailure(jobName, err.Error(), false)
			} else {
				m.health.RecordRestart(jobName)
			}
		}
	}

	if c.index == total-1 {
		m.finish(eventID)
	}
}

// finish marks the event completed unless it was cancelled while the
// final chunk was recording.
func (m *MarathonController) finish(eventID string) {
	ev, err := m.store.GetMarathon(eventID)
	if err != nil {
		m.logger.Error("failed to load marathon for completion", slog.String("marathon_id", eventID), slog.String("error", err.Error()))
		return
	}
	if ev.Terminal() {
		return
	}
	ev.Status = store.MarathonCompleted
	if err := m.store.SaveMarathon(ev); err != nil {
		m.logger.Error("failed to mark marathon completed", slog.String("marathon_id", eventID), slog.String("error", err.Error()))
		return
	}
	m.logger.Info("marathon completed", slog.String("marathon_id", eventID))
}

func (m *MarathonController) chunkPath(ev *store.MarathonEvent, c chunk) (string, error) {
	dir := m.cfg.OutputDir
	if m.cfg.PerShowFolders {
		dir = filepath.Join(dir, sanitizeName(ev.Name))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	file := fmt.Sprintf("%s-%s-part%02d.mp3",
		sanitizeName(ev.Name), ev.StartTime.Format("2006-01-02"), c.index+1)
	return filepath.Join(dir, file), nil
}
