package server

import "time"

// HealthResponse is the payload for the health endpoint.
type HealthResponse struct {
	Status          string     `json:"status"`
	Version         string     `json:"version"`
	Uptime          string     `json:"uptime"`
	RecordingPaused bool       `json:"recording_paused"`
	ResumeAt        *time.Time `json:"resume_at,omitempty"`
}

// MarathonRequest is the payload for scheduling a marathon.
type MarathonRequest struct {
	ID         string    `json:"id,omitempty"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	ChunkHours int       `json:"chunk_hours"`
}

// PauseRequest is the payload for pausing recordings. A missing
// resume_at pauses indefinitely.
type PauseRequest struct {
	ResumeAt *time.Time `json:"resume_at,omitempty"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
