// Package alert tracks sustained stream faults and dispatches debounced
// notifications with an automatic dead-air recovery action.
package alert

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/campusradio/airmon/internal/classify"
)

// Kind names an alert condition tracked by the engine.
type Kind string

const (
	KindDeadAir    Kind = "dead_air"
	KindStreamDown Kind = "stream_down"
)

// RecoveryFunc re-enables automated playback. Invoked at most once per
// unbroken dead-air onset.
type RecoveryFunc func() error

// Config holds the alerting thresholds.
type Config struct {
	DeadAirThreshold    time.Duration // dead air must persist this long before alerting
	StreamDownThreshold time.Duration
	RepeatInterval      time.Duration // minimum gap between two alerts of one kind
	AutoRecover         bool
	AutoRecoverAfter    time.Duration // dead-air duration before the recovery action fires
}

// Engine is the per-kind fault state machine. State is process-lifetime
// only; a restart forgets onsets, which is acceptable because the next
// probe re-detects a persisting fault within one interval.
type Engine struct {
	cfg      Config
	notifier Notifier
	recovery RecoveryFunc
	logger   *slog.Logger
	now      func() time.Time

	mu              sync.Mutex
	onsets          map[Kind]time.Time
	lastFired       map[Kind]time.Time
	autoRecoveredAt time.Time
}

// NewEngine creates an alert engine. recovery may be nil when no
// automation bridge is configured.
func NewEngine(cfg Config, notifier Notifier, recovery RecoveryFunc, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Engine{
		cfg:       cfg,
		notifier:  notifier,
		recovery:  recovery,
		logger:    logger,
		now:       time.Now,
		onsets:    make(map[Kind]time.Time),
		lastFired: make(map[Kind]time.Time),
	}
}

// WithClock overrides the engine's time source. Test use.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Evaluate feeds one probe outcome into the state machine. result is nil
// when the probe itself failed; a nil result clears the dead-air onset
// (the classifier observed nothing, and stream_down covers the outage
// case independently).
func (e *Engine) Evaluate(streamUp bool, result *classify.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()

	if !streamUp {
		e.evaluateFault(KindStreamDown, now, e.cfg.StreamDownThreshold,
			fmt.Sprintf("Stream appears DOWN since %s UTC (last check %s).",
				e.onsetOrNow(KindStreamDown, now).Format(time.RFC3339), now.Format(time.RFC3339)))
	} else {
		delete(e.onsets, KindStreamDown)
	}

	if result != nil && result.Classification == classify.DeadAir {
		onset := e.onsetOrNow(KindDeadAir, now)
		e.evaluateFault(KindDeadAir, now, e.cfg.DeadAirThreshold,
			fmt.Sprintf("Dead air detected since %s UTC (last probe %s).",
				onset.Format(time.RFC3339), now.Format(time.RFC3339)))
		e.maybeAutoRecover(now, onset)
	} else {
		delete(e.onsets, KindDeadAir)
		e.autoRecoveredAt = time.Time{}
	}
}

// onsetOrNow returns the recorded onset for kind, recording now as the
// onset if none is set. Callers hold e.mu.
func (e *Engine) onsetOrNow(kind Kind, now time.Time) time.Time {
	onset, ok := e.onsets[kind]
	if !ok {
		e.onsets[kind] = now
		return now
	}
	return onset
}

// evaluateFault fires a debounced notification once the fault has
// persisted past its threshold. Callers hold e.mu.
func (e *Engine) evaluateFault(kind Kind, now time.Time, threshold time.Duration, message string) {
	onset := e.onsetOrNow(kind, now)
	if now.Sub(onset) < threshold {
		return
	}

	if last, ok := e.lastFired[kind]; ok && now.Sub(last) < e.cfg.RepeatInterval {
		return
	}
	e.lastFired[kind] = now

	subject := fmt.Sprintf("Airmon Alert: %s", titleForKind(kind))
	if err := e.notifier.Send(subject, message); err != nil {
		e.logger.Error("alert dispatch failed", "kind", string(kind), "error", err)
		return
	}
	e.logger.Warn("alert dispatched", "kind", string(kind), "since", onset)
}

// maybeAutoRecover invokes the recovery action once per unbroken
// dead-air onset. Callers hold e.mu.
func (e *Engine) maybeAutoRecover(now, onset time.Time) {
	if !e.cfg.AutoRecover || e.recovery == nil {
		return
	}
	if !e.autoRecoveredAt.IsZero() {
		return
	}
	if now.Sub(onset) < e.cfg.AutoRecoverAfter {
		return
	}

	if err := e.recovery(); err != nil {
		e.logger.Error("automated playback recovery failed", "error", err)
		return
	}
	e.autoRecoveredAt = now
	e.logger.Info("automated playback re-enabled after sustained dead air")
}

// State reports the current onset and last-fired timestamps for
// monitoring display.
func (e *Engine) State() map[Kind]KindState {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[Kind]KindState, 2)
	for _, kind := range []Kind{KindDeadAir, KindStreamDown} {
		state := KindState{}
		if onset, ok := e.onsets[kind]; ok {
			state.OnsetAt = &onset
		}
		if last, ok := e.lastFired[kind]; ok {
			state.LastFired = &last
		}
		out[kind] = state
	}
	return out
}

// KindState is a snapshot of one alert kind's timers.
type KindState struct {
	OnsetAt   *time.Time `json:"onset_at,omitempty"`
	LastFired *time.Time `json:"last_fired,omitempty"`
}

func titleForKind(kind Kind) string {
	switch kind {
	case KindDeadAir:
		return "Dead Air"
	case KindStreamDown:
		return "Stream Down"
	default:
		return string(kind)
	}
}
