package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusradio/airmon/internal/config"
	"github.com/campusradio/airmon/internal/health"
	"github.com/campusradio/airmon/internal/store"
)

// fakeFacility records capture calls and optionally fails the first n.
type fakeFacility struct {
	mu       sync.Mutex
	failures int
	calls    []captureCall
}

type captureCall struct {
	dest     string
	duration time.Duration
}

func (f *fakeFacility) Capture(_ context.Context, _ string, duration time.Duration, destPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, captureCall{dest: destPath, duration: duration})
	if f.failures > 0 {
		f.failures--
		return errors.New("encoder exited")
	}
	return nil
}

func (f *fakeFacility) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// blockingFacility parks each capture until released, for tests that
// need a capture genuinely in flight.
type blockingFacility struct {
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func newBlockingFacility() *blockingFacility {
	return &blockingFacility{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (f *blockingFacility) Capture(context.Context, string, time.Duration, string) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	f.started <- struct{}{}
	<-f.release
	return nil
}

func (f *blockingFacility) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("capture goroutine did not finish")
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewStore("json", filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testShow() *store.ScheduledShow {
	return &store.ScheduledShow{
		ID:        "morning-drive",
		Name:      "Morning Drive",
		HostFirst: "Dana",
		HostLast:  "Reyes",
		Days:      []time.Weekday{time.Monday, time.Wednesday, time.Friday},
		StartDate: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 5, 29, 0, 0, 0, 0, time.UTC),
		StartTime: "08:00",
		EndTime:   "10:00",
	}
}

// activeShow returns the test show with a date window straddling the
// real clock, for tests that schedule against it.
func activeShow() *store.ScheduledShow {
	s := testShow()
	s.StartDate = time.Now().AddDate(0, 0, -7)
	s.EndDate = time.Now().AddDate(0, 0, 60)
	return s
}

func TestShowFromSpec(t *testing.T) {
	show, err := ShowFromSpec(config.ShowSpec{
		ID:        "jazz",
		Name:      "Jazz Hour",
		HostFirst: "Lee",
		HostLast:  "Okafor",
		Days:      []string{"mon", "Wednesday"},
		StartDate: "2026-01-05",
		EndDate:   "2026-05-29",
		StartTime: "22:00",
		EndTime:   "23:00",
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, show.Days)
	assert.Equal(t, 2026, show.StartDate.Year())
}

func TestShowFromSpec_GeneratesID(t *testing.T) {
	show, err := ShowFromSpec(config.ShowSpec{
		Name:      "Untitled",
		Days:      []string{"tue"},
		StartDate: "2026-01-05",
		EndDate:   "2026-05-29",
		StartTime: "12:00",
		EndTime:   "13:00",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, show.ID)
}

func TestShowFromSpec_BadInput(t *testing.T) {
	cases := []config.ShowSpec{
		{ID: "a", Days: []string{"noday"}, StartDate: "2026-01-05", EndDate: "2026-05-29"},
		{ID: "b", Days: []string{"mon"}, StartDate: "not-a-date", EndDate: "2026-05-29"},
		{ID: "c", Days: []string{"mon"}, StartDate: "2026-01-05", EndDate: "nope"},
	}
	for _, spec := range cases {
		_, err := ShowFromSpec(spec)
		assert.Error(t, err, "spec %q", spec.ID)
	}
}

func TestShowDuration(t *testing.T) {
	show := testShow()
	dur, err := showDuration(show)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, dur)
}

func TestShowDuration_CrossMidnight(t *testing.T) {
	show := testShow()
	show.StartTime = "23:00"
	show.EndTime = "01:00"
	dur, err := showDuration(show)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, dur)
}

func TestAiringAt(t *testing.T) {
	show := testShow()

	// 2026-03-02 is a Monday.
	monday9am := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.True(t, airingAt(show, monday9am))

	monday11am := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	assert.False(t, airingAt(show, monday11am))

	tuesday9am := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	assert.False(t, airingAt(show, tuesday9am))

	// Before the start date.
	earlyMonday := time.Date(2025, 12, 29, 9, 0, 0, 0, time.UTC)
	assert.False(t, airingAt(show, earlyMonday))
}

func TestAiringAt_CrossMidnightTail(t *testing.T) {
	show := testShow()
	show.StartTime = "23:00"
	show.EndTime = "01:00"

	// The Monday airing is still on air in the small hours of Tuesday.
	tuesday0030 := time.Date(2026, 3, 3, 0, 30, 0, 0, time.UTC)
	assert.True(t, airingAt(show, tuesday0030))

	tuesday0130 := time.Date(2026, 3, 3, 1, 30, 0, 0, time.UTC)
	assert.False(t, airingAt(show, tuesday0130))
}

func TestStoreShowSource_CurrentShow(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.PutShow(testShow()))

	src := NewStoreShowSource(st)

	show, err := src.CurrentShow(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, show)
	assert.Equal(t, "Morning Drive", show.Name)

	show, err = src.CurrentShow(time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, show)
}

func TestSeedShows(t *testing.T) {
	st := newTestStore(t)
	specs := []config.ShowSpec{
		{ID: "a", Name: "A", Days: []string{"mon"}, StartDate: "2026-01-05", EndDate: "2026-05-29", StartTime: "08:00", EndTime: "09:00"},
		{ID: "b", Name: "B", Days: []string{"tue"}, StartDate: "2026-01-05", EndDate: "2026-05-29", StartTime: "09:00", EndTime: "10:00"},
	}
	require.NoError(t, SeedShows(st, specs, nil))

	shows, err := st.ListShows()
	require.NoError(t, err)
	assert.Len(t, shows, 2)
}

func TestWeeklyCronSpec(t *testing.T) {
	spec := weeklyCronSpec(30, 8, []time.Weekday{time.Friday, time.Monday})
	assert.Equal(t, "30 8 * * 1,5", spec)

	_, err := recordCronParser.Parse(spec)
	require.NoError(t, err)
}

func TestWindowSchedule(t *testing.T) {
	inner, err := recordCronParser.Parse("0 8 * * 1")
	require.NoError(t, err)

	w := windowSchedule{
		inner:     inner,
		notBefore: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		notAfter:  time.Date(2026, 3, 15, 23, 59, 59, 0, time.UTC),
	}

	// Asking before the window jumps to the first Monday inside it.
	next := w.Next(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), next)

	// After the last in-window Monday there is no next run.
	next = w.Next(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	assert.True(t, next.IsZero())
}

func TestOnceSchedule(t *testing.T) {
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	s := onceSchedule{at: at}

	assert.Equal(t, at, s.Next(at.Add(-time.Hour)))
	assert.True(t, s.Next(at).IsZero())
	assert.True(t, s.Next(at.Add(time.Hour)).IsZero())
}

func TestScheduler_AddRemove(t *testing.T) {
	s := NewScheduler(context.Background(), nil)
	sched, err := recordCronParser.Parse("0 8 * * 1")
	require.NoError(t, err)

	require.NoError(t, s.AddSchedule("show:a", sched, func(context.Context) {}))
	require.NoError(t, s.AddSchedule("show:b", sched, func(context.Context) {}))
	require.NoError(t, s.AddSchedule("probe", sched, func(context.Context) {}))
	assert.True(t, s.Has("show:a"))

	// Replacing an existing ID keeps the arena at one entry.
	require.NoError(t, s.AddSchedule("show:a", sched, func(context.Context) {}))
	assert.Len(t, s.JobIDs(), 3)

	removed := s.RemoveMatching("show:")
	assert.Len(t, removed, 2)
	assert.False(t, s.Has("show:a"))
	assert.True(t, s.Has("probe"))

	s.Remove("probe")
	assert.Empty(t, s.JobIDs())
}

func TestScheduler_AddOncePastIsNoop(t *testing.T) {
	s := NewScheduler(context.Background(), nil)
	require.NoError(t, s.AddOnce("late", time.Now().Add(-time.Minute), func(context.Context) {}))
	assert.False(t, s.Has("late"))
}

func TestScheduler_RejectsBadInput(t *testing.T) {
	s := NewScheduler(context.Background(), nil)
	sched, err := recordCronParser.Parse("0 8 * * 1")
	require.NoError(t, err)

	assert.Error(t, s.AddSchedule("", sched, func(context.Context) {}))
	assert.Error(t, s.AddSchedule("x", sched, nil))
	assert.Error(t, s.AddOnce("", time.Now().Add(time.Hour), func(context.Context) {}))
}

func TestPartitionChunks(t *testing.T) {
	start := time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC)

	chunks := partitionChunks(start, start.Add(5*time.Hour), 2)
	require.Len(t, chunks, 3)
	assert.Equal(t, 2*time.Hour, chunks[0].duration)
	assert.Equal(t, 2*time.Hour, chunks[1].duration)
	assert.Equal(t, time.Hour, chunks[2].duration)
	assert.Equal(t, start.Add(4*time.Hour), chunks[2].start)

	chunks = partitionChunks(start, start.Add(4*time.Hour), 2)
	require.Len(t, chunks, 2)
	assert.Equal(t, 2*time.Hour, chunks[1].duration)

	// Degenerate chunk size falls back to one hour.
	chunks = partitionChunks(start, start.Add(2*time.Hour), 0)
	assert.Len(t, chunks, 2)
}

type marathonHarness struct {
	ctrl     *MarathonController
	sched    *Scheduler
	store    store.Store
	facility *fakeFacility
}

func newMarathonHarness(t *testing.T) *marathonHarness {
	t.Helper()
	st := newTestStore(t)
	sched := NewScheduler(context.Background(), nil)
	facility := &fakeFacility{}
	ctrl := NewMarathonController(sched, st, facility, config.Recording{
		OutputDir: t.TempDir(),
	}, "http://stream.example/live", health.NewRegistry(st, nil), nil)
	return &marathonHarness{ctrl: ctrl, sched: sched, store: st, facility: facility}
}

func futureMarathon(id string, chunkHours int, length time.Duration) *store.MarathonEvent {
	start := time.Now().Add(time.Hour)
	return &store.MarathonEvent{
		ID:         id,
		Name:       "Pledge Drive",
		StartTime:  start,
		EndTime:    start.Add(length),
		ChunkHours: chunkHours,
	}
}

func TestMarathon_Schedule(t *testing.T) {
	h := newMarathonHarness(t)
	ev := futureMarathon("pledge", 2, 5*time.Hour)

	require.NoError(t, h.ctrl.Schedule(ev))

	saved, err := h.store.GetMarathon("pledge")
	require.NoError(t, err)
	assert.Equal(t, store.MarathonPending, saved.Status)
	assert.Len(t, saved.JobIDs, 3)
	for _, id := range saved.JobIDs {
		assert.True(t, h.sched.Has(id), "job %s must be registered", id)
	}
}

func TestMarathon_ScheduleRejectsBadWindow(t *testing.T) {
	h := newMarathonHarness(t)
	ev := futureMarathon("pledge", 2, 5*time.Hour)
	ev.EndTime = ev.StartTime

	assert.Error(t, h.ctrl.Schedule(ev))
	assert.Error(t, h.ctrl.Schedule(&store.MarathonEvent{StartTime: time.Now(), EndTime: time.Now().Add(time.Hour)}))
}

func TestMarathon_ScheduleRejectsBadChunkHours(t *testing.T) {
	h := newMarathonHarness(t)
	ev := futureMarathon("pledge", 0, 5*time.Hour)

	assert.Error(t, h.ctrl.Schedule(ev))
	_, err := h.store.GetMarathon("pledge")
	assert.Error(t, err)
}

func TestMarathon_RescheduleReplacesJobs(t *testing.T) {
	h := newMarathonHarness(t)
	require.NoError(t, h.ctrl.Schedule(futureMarathon("pledge", 2, 5*time.Hour)))
	require.NoError(t, h.ctrl.Schedule(futureMarathon("pledge", 2, 4*time.Hour)))

	saved, err := h.store.GetMarathon("pledge")
	require.NoError(t, err)
	assert.Len(t, saved.JobIDs, 2)
	assert.Len(t, h.sched.JobIDs(), 2)
}

func TestMarathon_Cancel(t *testing.T) {
	h := newMarathonHarness(t)
	require.NoError(t, h.ctrl.Schedule(futureMarathon("pledge", 2, 5*time.Hour)))

	require.NoError(t, h.ctrl.Cancel("pledge"))

	saved, err := h.store.GetMarathon("pledge")
	require.NoError(t, err)
	assert.Equal(t, store.MarathonCancelled, saved.Status)
	assert.False(t, saved.CancelledAt.IsZero())
	assert.Empty(t, h.sched.JobIDs())

	// Terminal events cannot be cancelled or rescheduled.
	assert.Error(t, h.ctrl.Cancel("pledge"))
	assert.Error(t, h.ctrl.Schedule(futureMarathon("pledge", 2, 5*time.Hour)))
}

func TestMarathon_CancelUnknown(t *testing.T) {
	h := newMarathonHarness(t)
	assert.ErrorIs(t, h.ctrl.Cancel("ghost"), store.ErrNotFound)
}

func TestMarathon_ActiveAt(t *testing.T) {
	h := newMarathonHarness(t)
	ev := futureMarathon("pledge", 2, 5*time.Hour)
	require.NoError(t, h.ctrl.Schedule(ev))

	assert.True(t, h.ctrl.ActiveAt(ev.StartTime.Add(time.Hour)))
	assert.False(t, h.ctrl.ActiveAt(ev.StartTime.Add(-time.Minute)))
	assert.False(t, h.ctrl.ActiveAt(ev.EndTime))

	require.NoError(t, h.ctrl.Cancel("pledge"))
	assert.False(t, h.ctrl.ActiveAt(ev.StartTime.Add(time.Hour)))
}

func TestMarathon_RunChunkLifecycle(t *testing.T) {
	h := newMarathonHarness(t)
	ev := futureMarathon("pledge", 2, 4*time.Hour)
	require.NoError(t, h.ctrl.Schedule(ev))

	chunks := partitionChunks(ev.StartTime, ev.EndTime, ev.ChunkHours)
	require.Len(t, chunks, 2)

	h.ctrl.runChunk(context.Background(), "pledge", chunks[0], len(chunks))
	saved, err := h.store.GetMarathon("pledge")
	require.NoError(t, err)
	assert.Equal(t, store.MarathonRunning, saved.Status)
	assert.Equal(t, 1, h.facility.callCount())

	h.ctrl.runChunk(context.Background(), "pledge", chunks[1], len(chunks))
	saved, err = h.store.GetMarathon("pledge")
	require.NoError(t, err)
	assert.Equal(t, store.MarathonCompleted, saved.Status)
	assert.Equal(t, 2, h.facility.callCount())
}

func TestMarathon_ChunkSelfHealRetry(t *testing.T) {
	st := newTestStore(t)
	sched := NewScheduler(context.Background(), nil)
	facility := &fakeFacility{failures: 1}
	ctrl := NewMarathonController(sched, st, facility, config.Recording{
		OutputDir:     t.TempDir(),
		SelfHeal:      true,
		RetryDelaySec: 1,
	}, "http://stream.example/live", health.NewRegistry(st, nil), nil)
	ctrl.WithClock(time.Now, func(time.Duration) {})

	ev := futureMarathon("pledge", 2, 4*time.Hour)
	require.NoError(t, ctrl.Schedule(ev))
	chunks := partitionChunks(ev.StartTime, ev.EndTime, ev.ChunkHours)

	ctrl.runChunk(context.Background(), "pledge", chunks[0], len(chunks))

	assert.Equal(t, 2, facility.callCount())

	snapshot, err := st.JobHealthSnapshot()
	require.NoError(t, err)
	record := snapshot["marathon:pledge"]
	require.NotNil(t, record)
	assert.Equal(t, 1, record.FailureCount)
	assert.Equal(t, 1, record.RestartCount)
}

func TestMarathon_ChunkNoSelfHealSingleAttempt(t *testing.T) {
	h := newMarathonHarness(t)
	h.facility.failures = 2
	ev := futureMarathon("pledge", 2, 4*time.Hour)
	require.NoError(t, h.ctrl.Schedule(ev))
	chunks := partitionChunks(ev.StartTime, ev.EndTime, ev.ChunkHours)

	h.ctrl.runChunk(context.Background(), "pledge", chunks[0], len(chunks))

	assert.Equal(t, 1, h.facility.callCount())
}

func TestMarathon_CancelKeepsInFlightChunk(t *testing.T) {
	st := newTestStore(t)
	sched := NewScheduler(context.Background(), nil)
	facility := newBlockingFacility()
	ctrl := NewMarathonController(sched, st, facility, config.Recording{
		OutputDir: t.TempDir(),
	}, "http://stream.example/live", health.NewRegistry(st, nil), nil)

	ev := futureMarathon("pledge", 2, 4*time.Hour)
	require.NoError(t, ctrl.Schedule(ev))
	chunks := partitionChunks(ev.StartTime, ev.EndTime, ev.ChunkHours)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctrl.runChunk(context.Background(), "pledge", chunks[0], len(chunks))
	}()
	<-facility.started

	// Cancelling mid-capture drops the future chunk job without
	// preempting the one underway.
	require.NoError(t, ctrl.Cancel("pledge"))
	assert.False(t, sched.Has("marathon:pledge:1"))
	assert.Equal(t, 1, facility.callCount())

	close(facility.release)
	waitDone(t, done)

	saved, err := st.GetMarathon("pledge")
	require.NoError(t, err)
	assert.Equal(t, store.MarathonCancelled, saved.Status)
	assert.Equal(t, 1, facility.callCount())
}

func TestMarathon_CancelledChunkDoesNotCapture(t *testing.T) {
	h := newMarathonHarness(t)
	ev := futureMarathon("pledge", 2, 4*time.Hour)
	require.NoError(t, h.ctrl.Schedule(ev))
	require.NoError(t, h.ctrl.Cancel("pledge"))

	chunks := partitionChunks(ev.StartTime, ev.EndTime, ev.ChunkHours)
	h.ctrl.runChunk(context.Background(), "pledge", chunks[0], len(chunks))

	assert.Zero(t, h.facility.callCount())
	saved, err := h.store.GetMarathon("pledge")
	require.NoError(t, err)
	assert.Equal(t, store.MarathonCancelled, saved.Status)
}

type recorderHarness struct {
	rec      *Recorder
	sched    *Scheduler
	store    store.Store
	facility *fakeFacility
	now      time.Time
}

func newRecorderHarness(t *testing.T, cfg config.Recording, marathons *MarathonController) *recorderHarness {
	t.Helper()
	st := newTestStore(t)
	sched := NewScheduler(context.Background(), nil)
	facility := &fakeFacility{}
	if cfg.OutputDir == "" {
		cfg.OutputDir = t.TempDir()
	}
	rec := NewRecorder(sched, st, facility, cfg, "http://stream.example/live",
		marathons, health.NewRegistry(st, nil), nil, nil)

	// A Monday morning inside the test show's date window.
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	rec.WithClock(func() time.Time { return now }, func(time.Duration) {})
	return &recorderHarness{rec: rec, sched: sched, store: st, facility: facility, now: now}
}

func TestRecorder_Refresh(t *testing.T) {
	h := newRecorderHarness(t, config.Recording{}, nil)
	require.NoError(t, h.store.PutShow(activeShow()))

	require.NoError(t, h.rec.Refresh())
	assert.True(t, h.sched.Has("show:morning-drive"))
	assert.True(t, h.sched.Has("expire:morning-drive"))

	// A second refresh replaces rather than duplicates.
	require.NoError(t, h.rec.Refresh())
	assert.Len(t, h.sched.JobIDs(), 2)
}

func TestRecorder_CaptureShow(t *testing.T) {
	h := newRecorderHarness(t, config.Recording{}, nil)
	show := testShow()

	h.rec.captureShow(context.Background(), show)

	require.Equal(t, 1, h.facility.callCount())
	assert.Equal(t, 2*time.Hour, h.facility.calls[0].duration)
	assert.Contains(t, h.facility.calls[0].dest, "Morning Drive-2026-03-02.mp3")

	// The airing's run is closed with a recording log entry.
	runs, err := h.store.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].IsOpen())

	logs, err := h.store.RunLogs(runs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "recording", logs[0].EntryType)
}

func TestRecorder_PerShowFolders(t *testing.T) {
	h := newRecorderHarness(t, config.Recording{PerShowFolders: true}, nil)

	h.rec.captureShow(context.Background(), testShow())

	require.Equal(t, 1, h.facility.callCount())
	assert.Equal(t, "Morning Drive", filepath.Base(filepath.Dir(h.facility.calls[0].dest)))
}

func TestRecorder_SelfHealRetry(t *testing.T) {
	h := newRecorderHarness(t, config.Recording{SelfHeal: true, RetryDelaySec: 1}, nil)
	h.facility.failures = 1

	h.rec.captureShow(context.Background(), testShow())

	assert.Equal(t, 2, h.facility.callCount())

	snapshot, err := h.store.JobHealthSnapshot()
	require.NoError(t, err)
	record := snapshot["record:morning-drive"]
	require.NotNil(t, record)
	assert.Equal(t, 1, record.FailureCount)
	assert.Equal(t, 1, record.RestartCount)
}

func TestRecorder_NoSelfHealSingleAttempt(t *testing.T) {
	h := newRecorderHarness(t, config.Recording{}, nil)
	h.facility.failures = 2

	h.rec.captureShow(context.Background(), testShow())

	assert.Equal(t, 1, h.facility.callCount())

	// A failed capture must not close out a run.
	runs, err := h.store.RecentRuns(10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRecorder_PausedSkips(t *testing.T) {
	h := newRecorderHarness(t, config.Recording{}, nil)
	require.NoError(t, h.rec.PauseUntil(time.Time{}))

	h.rec.captureShow(context.Background(), testShow())
	assert.Zero(t, h.facility.callCount())

	paused, resumeAt := h.rec.Paused()
	assert.True(t, paused)
	assert.True(t, resumeAt.IsZero())

	require.NoError(t, h.rec.Resume())
	h.rec.captureShow(context.Background(), testShow())
	assert.Equal(t, 1, h.facility.callCount())
}

func TestRecorder_PauseExpiresLazily(t *testing.T) {
	h := newRecorderHarness(t, config.Recording{}, nil)
	require.NoError(t, h.rec.PauseUntil(h.now.Add(-time.Minute)))

	// The resume moment has already passed, so the capture proceeds and
	// the pause flag clears.
	h.rec.captureShow(context.Background(), testShow())
	assert.Equal(t, 1, h.facility.callCount())

	paused, _ := h.rec.Paused()
	assert.False(t, paused)
}

func TestRecorder_PausePersists(t *testing.T) {
	var persisted []bool
	st := newTestStore(t)
	sched := NewScheduler(context.Background(), nil)
	rec := NewRecorder(sched, st, &fakeFacility{}, config.Recording{OutputDir: t.TempDir()},
		"http://stream.example/live", nil, health.NewRegistry(st, nil),
		func(paused bool, _ time.Time) error {
			persisted = append(persisted, paused)
			return nil
		}, nil)

	require.NoError(t, rec.PauseUntil(time.Time{}))
	require.NoError(t, rec.Resume())
	assert.Equal(t, []bool{true, false}, persisted)
}

func TestRecorder_MarathonSuppressesShow(t *testing.T) {
	mh := newMarathonHarness(t)
	ev := futureMarathon("pledge", 2, 5*time.Hour)
	require.NoError(t, mh.ctrl.Schedule(ev))

	h := newRecorderHarness(t, config.Recording{}, mh.ctrl)
	h.rec.WithClock(func() time.Time { return ev.StartTime.Add(time.Hour) }, func(time.Duration) {})

	h.rec.captureShow(context.Background(), testShow())
	assert.Zero(t, h.facility.callCount())
}

func TestRecorder_ExpireShow(t *testing.T) {
	h := newRecorderHarness(t, config.Recording{}, nil)
	require.NoError(t, h.store.PutShow(activeShow()))
	other := activeShow()
	other.ID = "late-night"
	other.Name = "Late Night"
	require.NoError(t, h.store.PutShow(other))
	require.NoError(t, h.rec.Refresh())

	h.rec.expireShow("morning-drive")

	shows, err := h.store.ListShows()
	require.NoError(t, err)
	require.Len(t, shows, 1)
	assert.False(t, h.sched.Has("show:morning-drive"))

	// Expiry triggers a full refresh, so the surviving show is
	// rescheduled rather than left on stale jobs.
	assert.True(t, h.sched.Has("show:late-night"))
	assert.True(t, h.sched.Has("expire:late-night"))
}

func TestRecorder_RefreshDuringCapture(t *testing.T) {
	st := newTestStore(t)
	sched := NewScheduler(context.Background(), nil)
	facility := newBlockingFacility()
	rec := NewRecorder(sched, st, facility, config.Recording{OutputDir: t.TempDir()},
		"http://stream.example/live", nil, health.NewRegistry(st, nil), nil, nil)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	rec.WithClock(func() time.Time { return now }, func(time.Duration) {})

	require.NoError(t, st.PutShow(activeShow()))
	require.NoError(t, rec.Refresh())

	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.captureShow(context.Background(), testShow())
	}()
	<-facility.started

	// The show is deleted and the schedule rebuilt while its capture is
	// still running.
	require.NoError(t, st.DeleteShow("morning-drive"))
	require.NoError(t, rec.Refresh())
	assert.False(t, sched.Has("show:morning-drive"))

	close(facility.release)
	waitDone(t, done)

	// The in-flight capture finished with the parameters it started
	// with and closed out its run.
	assert.Equal(t, 1, facility.callCount())
	runs, err := st.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].IsOpen())
}
