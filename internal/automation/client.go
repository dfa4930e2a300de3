// Package automation talks to the station's playout system. The only
// operation the monitor needs is flipping AutoDJ back on after
// sustained dead air.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/campusradio/airmon/internal/config"
)

// Client is a minimal REST client for the automation API. A client
// with no base URL is disabled and refuses every call.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient builds an automation client from config.
func NewClient(cfg config.AutoDJ, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return NewClientWithHTTP(cfg, &http.Client{Timeout: timeout}, logger)
}

// NewClientWithHTTP builds a client with a caller-supplied HTTP client.
// Test use.
func NewClientWithHTTP(cfg config.AutoDJ, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
		logger:  logger,
	}
}

// Enabled reports whether the automation API is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// SetAutoDJ enables or disables automated playback.
func (c *Client) SetAutoDJ(ctx context.Context, enabled bool) error {
	if !c.Enabled() {
		return fmt.Errorf("automation API is not configured")
	}

	body, err := json.Marshal(map[string]bool{"enabled": enabled})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/autodj", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("automation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("automation API returned %s", resp.Status)
	}

	c.logger.Info("autodj state changed", "enabled", enabled)
	return nil
}
