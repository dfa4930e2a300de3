// Package capture wraps the external audio capture facility (ffmpeg)
// and the stream reachability check. Retry policy lives with the
// callers, not here.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// captureGrace is how long past the requested duration a capture may run
// before its context is cancelled.
const captureGrace = 30 * time.Second

// Facility records audio from a source URL into a destination file.
type Facility interface {
	Capture(ctx context.Context, sourceURL string, duration time.Duration, destPath string) error
}

// FFmpegFacility shells out to ffmpeg. Probe samples (.wav destinations)
// are transcoded to mono 16-bit PCM so the classifier can decode them;
// show recordings keep the stream codec untouched.
type FFmpegFacility struct {
	binPath string
	logger  *slog.Logger
}

// NewFFmpegFacility creates a Facility using the given ffmpeg binary
// (empty means "ffmpeg" on PATH).
func NewFFmpegFacility(binPath string, logger *slog.Logger) *FFmpegFacility {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegFacility{binPath: binPath, logger: logger}
}

// ffmpegArgs builds the argument list for one capture.
func ffmpegArgs(sourceURL string, duration time.Duration, destPath string) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "2",
		"-i", sourceURL,
		"-t", strconv.Itoa(int(duration.Round(time.Second) / time.Second)),
	}
	if strings.HasSuffix(destPath, ".wav") {
		args = append(args, "-ac", "1", "-ar", "44100", "-acodec", "pcm_s16le")
	} else {
		args = append(args, "-acodec", "copy")
	}
	return append(args, destPath)
}

// Capture runs one bounded ffmpeg capture. The subprocess is cancelled
// if it overruns the requested duration by more than a grace period.
func (f *FFmpegFacility) Capture(ctx context.Context, sourceURL string, duration time.Duration, destPath string) error {
	if duration <= 0 {
		return fmt.Errorf("capture duration must be positive, got %s", duration)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, duration+captureGrace)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, f.binPath, ffmpegArgs(sourceURL, duration, destPath)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		detail := tail(stderr.String(), 500)
		f.logger.Error("ffmpeg capture failed",
			"dest", destPath, "elapsed", elapsed, "error", err, "stderr", detail)
		if detail != "" {
			return fmt.Errorf("ffmpeg capture: %w: %s", err, detail)
		}
		return fmt.Errorf("ffmpeg capture: %w", err)
	}

	f.logger.Debug("capture complete", "dest", destPath, "elapsed", elapsed)
	return nil
}

// tail returns the last n characters of s.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// ReachabilityChecker is a short-timeout liveness probe for the stream
// endpoint, distinct from audio capture.
type ReachabilityChecker struct {
	client *http.Client
}

// NewReachabilityChecker creates a checker with a 3 second timeout.
func NewReachabilityChecker() *ReachabilityChecker {
	return &ReachabilityChecker{client: &http.Client{Timeout: 3 * time.Second}}
}

// NewReachabilityCheckerWithClient creates a checker with a caller-owned
// HTTP client. Test use.
func NewReachabilityCheckerWithClient(client *http.Client) *ReachabilityChecker {
	return &ReachabilityChecker{client: client}
}

// IsReachable reports whether the URL answers with a non-5xx status.
// The response body is never read; icecast keeps the connection open
// streaming audio, so only the header exchange matters here.
func (c *ReachabilityChecker) IsReachable(url string) bool {
	resp, err := c.client.Get(url)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
