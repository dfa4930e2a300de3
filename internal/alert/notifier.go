package alert

import (
	"fmt"
	"io"
	"log"
	"log/slog"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/campusradio/airmon/internal/config"
	"github.com/campusradio/airmon/internal/logging"
)

// Notifier delivers an alert to the configured channels. Implementations
// must not block retrying failed deliveries; the engine treats a send as
// fire-and-forget.
type Notifier interface {
	Send(subject, body string) error
}

// LogNotifier writes the would-be notification to the log and nothing
// else. Used when alerting is disabled or in dry-run mode; callers
// cannot tell a suppressed alert from a delivered one except via this
// log line.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(subject, body string) error {
	n.logger.Warn("alert simulated", "subject", subject, "body", body)
	return nil
}

// ShoutrrrNotifier fans an alert out to one or more shoutrrr service
// URLs (discord webhook, smtp, generic webhook, ...).
type ShoutrrrNotifier struct {
	sender *router.ServiceRouter
	urls   []string
	logger *slog.Logger
}

// NewShoutrrrNotifier builds a notifier for the given service URLs,
// validating them up front.
func NewShoutrrrNotifier(urls []string, logger *slog.Logger) (*ShoutrrrNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one notification URL is required")
	}

	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("invalid notification URL set: %w", err)
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	return &ShoutrrrNotifier{sender: sender, urls: urls, logger: logger}, nil
}

// Send delivers the alert to every configured channel. Per-channel
// failures are logged; the first one is returned so callers can count a
// failed dispatch, but no retry happens here.
func (n *ShoutrrrNotifier) Send(subject, body string) error {
	params := &types.Params{}
	params.SetTitle(subject)

	var firstErr error
	for i, err := range n.sender.Send(body, params) {
		if err == nil {
			continue
		}
		target := "unknown"
		if i < len(n.urls) {
			target = logging.ScrubURL(n.urls[i])
		}
		n.logger.Error("alert delivery failed", "target", target, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewNotifier builds the notifier matching the alert configuration:
// log-only when alerting is disabled or dry-run, shoutrrr otherwise.
func NewNotifier(cfg config.Alerts, logger *slog.Logger) (Notifier, error) {
	if cfg.DryRun || !cfg.Enabled {
		return NewLogNotifier(logger), nil
	}
	return NewShoutrrrNotifier(cfg.URLs, logger)
}
