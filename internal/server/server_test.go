package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusradio/airmon/internal/alert"
	"github.com/campusradio/airmon/internal/config"
	"github.com/campusradio/airmon/internal/health"
	"github.com/campusradio/airmon/internal/schedule"
	"github.com/campusradio/airmon/internal/store"
)

type nullNotifier struct{}

func (nullNotifier) Send(string, string) error { return nil }

type nullFacility struct{}

func (nullFacility) Capture(context.Context, string, time.Duration, string) error { return nil }

type harness struct {
	srv   *Server
	store store.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewStore("json", filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	healthReg := health.NewRegistry(st, nil)
	engine := alert.NewEngine(alert.Config{
		DeadAirThreshold:    5 * time.Minute,
		StreamDownThreshold: time.Minute,
		RepeatInterval:      15 * time.Minute,
	}, nullNotifier{}, nil, nil)

	sched := schedule.NewScheduler(context.Background(), nil)
	marathons := schedule.NewMarathonController(sched, st, nullFacility{},
		config.Recording{OutputDir: t.TempDir()}, "http://stream.example/live", healthReg, nil)
	recorder := schedule.NewRecorder(sched, st, nullFacility{},
		config.Recording{OutputDir: t.TempDir()}, "http://stream.example/live",
		marathons, healthReg, nil, nil)

	srv := New("127.0.0.1:0", st, healthReg, engine, recorder, marathons, nil)
	return &harness{srv: srv, store: st}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.False(t, resp.RecordingPaused)
}

func TestProbesEndpoint(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SaveProbe(&store.ProbeResult{
		Classification: "live_show",
		Reason:         "dynamic_levels",
		CapturedAt:     time.Now(),
	}))

	rec := h.do(t, http.MethodGet, "/api/probes", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	probes := decode[[]*store.ProbeResult](t, rec)
	require.Len(t, probes, 1)
	assert.Equal(t, "live_show", probes[0].Classification)
}

func TestProbesEndpoint_Cached(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SaveProbe(&store.ProbeResult{
		Classification: "live_show", CapturedAt: time.Now(),
	}))

	first := h.do(t, http.MethodGet, "/api/probes", nil)
	require.Equal(t, http.StatusOK, first.Code)

	// A write landing inside the TTL is not visible yet.
	require.NoError(t, h.store.SaveProbe(&store.ProbeResult{
		Classification: "dead_air", CapturedAt: time.Now(),
	}))
	second := h.do(t, http.MethodGet, "/api/probes", nil)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestRunsAndLogsEndpoints(t *testing.T) {
	h := newHarness(t)
	run, err := h.store.GetOrCreateOpenRun("Morning Drive", "Dana", "Reyes", time.Now())
	require.NoError(t, err)
	require.NoError(t, h.store.AppendLog(&store.LogEntry{
		ShowRunID: run.ID, At: time.Now(), EntryType: "probe", Message: "Probe: live_show",
	}))

	rec := h.do(t, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]*store.ShowRun](t, rec)
	require.Len(t, runs, 1)

	rec = h.do(t, http.MethodGet, "/api/runs/"+run.ID+"/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[[]*store.LogEntry](t, rec)
	require.Len(t, logs, 1)
	assert.Equal(t, "probe", logs[0].EntryType)
}

func TestJobHealthEndpoints(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.MutateJobHealth("stream_probe", func(rec *store.JobHealthRecord) {
		rec.FailureCount++
	})
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot := decode[map[string]*store.JobHealthRecord](t, rec)
	require.Contains(t, snapshot, "stream_probe")
	assert.Equal(t, 1, snapshot["stream_probe"].FailureCount)

	rec = h.do(t, http.MethodPost, "/api/jobs/stream_probe/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/jobs", nil)
	snapshot = decode[map[string]*store.JobHealthRecord](t, rec)
	assert.NotContains(t, snapshot, "stream_probe")
}

func TestAlertStateEndpoint(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/api/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMarathonEndpoints(t *testing.T) {
	h := newHarness(t)
	start := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	rec := h.do(t, http.MethodPost, "/api/marathons", MarathonRequest{
		Name:       "Pledge Drive",
		StartTime:  start,
		EndTime:    start.Add(5 * time.Hour),
		ChunkHours: 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[store.MarathonEvent](t, rec)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, store.MarathonPending, created.Status)
	assert.Len(t, created.JobIDs, 3)

	rec = h.do(t, http.MethodGet, "/api/marathons", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]*store.MarathonEvent](t, rec)
	require.Len(t, events, 1)

	rec = h.do(t, http.MethodDelete, "/api/marathons/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/marathons", nil)
	events = decode[[]*store.MarathonEvent](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, store.MarathonCancelled, events[0].Status)
}

func TestMarathonEndpoints_Invalid(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/marathons", MarathonRequest{
		StartTime: time.Now(), EndTime: time.Now().Add(time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	now := time.Now().Add(time.Hour)
	rec = h.do(t, http.MethodPost, "/api/marathons", MarathonRequest{
		Name: "Backwards", StartTime: now, EndTime: now.Add(-time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodDelete, "/api/marathons/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordingPauseEndpoints(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/recording/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/recording", nil)
	status := decode[map[string]any](t, rec)
	assert.Equal(t, true, status["paused"])

	rec = h.do(t, http.MethodPost, "/api/recording/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/recording", nil)
	status = decode[map[string]any](t, rec)
	assert.Equal(t, false, status["paused"])
}

func TestRecordingPauseWithResumeAt(t *testing.T) {
	h := newHarness(t)
	resumeAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	rec := h.do(t, http.MethodPost, "/api/recording/pause", PauseRequest{ResumeAt: &resumeAt})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/health", nil)
	resp := decode[HealthResponse](t, rec)
	assert.True(t, resp.RecordingPaused)
	require.NotNil(t, resp.ResumeAt)
	assert.True(t, resp.ResumeAt.Equal(resumeAt))
}

func TestLimitParam(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, h.store.SaveProbe(&store.ProbeResult{
			Classification: "live_show",
			CapturedAt:     time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	rec := h.do(t, http.MethodGet, "/api/probes?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	probes := decode[[]*store.ProbeResult](t, rec)
	assert.Len(t, probes, 2)

	rec = h.do(t, http.MethodGet, fmt.Sprintf("/api/probes?limit=%d", maxLimit+1), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
