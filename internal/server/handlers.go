package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/campusradio/airmon/internal/store"
)

const (
	version      = "v0.1.0"
	defaultLimit = 100
	maxLimit     = 1000
)

// handleHealth reports process status plus the recording pause flag.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Version: version,
		Uptime:  s.Uptime(),
	}
	if s.recorder != nil {
		paused, resumeAt := s.recorder.Paused()
		response.RecordingPaused = paused
		if !resumeAt.IsZero() {
			response.ResumeAt = &resumeAt
		}
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleListProbes(w http.ResponseWriter, r *http.Request) {
	probes, err := s.store.RecentProbes(s.parseLimitParam(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve probes", err)
		return
	}
	s.writeJSON(w, http.StatusOK, probes)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.RecentRuns(s.parseLimitParam(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve runs", err)
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		s.writeError(w, http.StatusBadRequest, "run ID is required", nil)
		return
	}

	logs, err := s.store.RunLogs(runID, s.parseLimitParam(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve run logs", err)
		return
	}
	s.writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleJobHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.writeError(w, http.StatusServiceUnavailable, "health registry not available", nil)
		return
	}
	snapshot, err := s.health.Snapshot()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve job health", err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleResetJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "job name is required", nil)
		return
	}
	if s.health == nil {
		s.writeError(w, http.StatusServiceUnavailable, "health registry not available", nil)
		return
	}
	if err := s.health.Reset(name); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to reset job health", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "job": name})
}

func (s *Server) handleAlertState(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		s.writeError(w, http.StatusServiceUnavailable, "alert engine not available", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, s.alerts.State())
}

func (s *Server) handleListShows(w http.ResponseWriter, r *http.Request) {
	shows, err := s.store.ListShows()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve schedule", err)
		return
	}
	s.writeJSON(w, http.StatusOK, shows)
}

func (s *Server) handleListMarathons(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListMarathons()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve marathons", err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleScheduleMarathon(w http.ResponseWriter, r *http.Request) {
	if s.marathons == nil {
		s.writeError(w, http.StatusServiceUnavailable, "marathon controller not available", nil)
		return
	}

	var req MarathonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ev := &store.MarathonEvent{
		ID:         req.ID,
		Name:       req.Name,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		ChunkHours: req.ChunkHours,
	}
	if err := s.marathons.Schedule(ev); err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to schedule marathon", err)
		return
	}

	s.cache.Flush()
	s.writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleCancelMarathon(w http.ResponseWriter, r *http.Request) {
	if s.marathons == nil {
		s.writeError(w, http.StatusServiceUnavailable, "marathon controller not available", nil)
		return
	}
	id := r.PathValue("id")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "marathon ID is required", nil)
		return
	}

	if err := s.marathons.Cancel(id); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		s.writeError(w, status, "failed to cancel marathon", err)
		return
	}

	s.cache.Flush()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "id": id})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		s.writeError(w, http.StatusServiceUnavailable, "recorder not available", nil)
		return
	}
	paused, resumeAt := s.recorder.Paused()
	resp := map[string]any{"paused": paused}
	if !resumeAt.IsZero() {
		resp["resume_at"] = resumeAt
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePauseRecording(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		s.writeError(w, http.StatusServiceUnavailable, "recorder not available", nil)
		return
	}

	var req PauseRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	var resumeAt time.Time
	if req.ResumeAt != nil {
		resumeAt = *req.ResumeAt
	}
	if err := s.recorder.PauseUntil(resumeAt); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to pause recordings", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResumeRecording(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		s.writeError(w, http.StatusServiceUnavailable, "recorder not available", nil)
		return
	}
	if err := s.recorder.Resume(); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to resume recordings", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// cached wraps a read handler with short-TTL response caching keyed by
// path and query string. Only 200 responses are cached.
func (s *Server) cached(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path + "?" + r.URL.RawQuery
		if body, found := s.cache.Get(key); found {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(body.([]byte))
			return
		}

		rec := &recordingWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rec, r)

		if rec.statusCode == http.StatusOK {
			s.cache.Set(key, rec.body.Bytes(), gocache.DefaultExpiration)
		}
	}
}

// recordingWriter tees the response body so it can be cached.
type recordingWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(p []byte) (int, error) {
	rw.body.Write(p)
	return rw.ResponseWriter.Write(p)
}

func (s *Server) parseLimitParam(r *http.Request) int {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return defaultLimit
	}

	var limit int
	if _, err := fmt.Sscanf(limitStr, "%d", &limit); err != nil {
		return defaultLimit
	}
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	}
	if err != nil {
		s.logger.Error("API error", "status", status, "message", message, "error", err)
	}
	s.writeJSON(w, status, response)
}
