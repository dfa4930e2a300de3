package alert

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/campusradio/airmon/internal/classify"
)

type fakeNotifier struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (f *fakeNotifier) Send(subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subjects)
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig() Config {
	return Config{
		DeadAirThreshold:    5 * time.Minute,
		StreamDownThreshold: 1 * time.Minute,
		RepeatInterval:      15 * time.Minute,
		AutoRecover:         true,
		AutoRecoverAfter:    4 * time.Minute,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func deadAir() *classify.Result {
	return &classify.Result{Classification: classify.DeadAir, Reason: "majority_silence"}
}

func liveShow() *classify.Result {
	return &classify.Result{Classification: classify.LiveShow, Reason: "dynamic_levels"}
}

func TestEngine_DeadAirDebounce(t *testing.T) {
	notifier := &fakeNotifier{}
	clock := &fakeClock{t: time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)}
	e := NewEngine(testConfig(), notifier, nil, quietLogger()).WithClock(clock.now)

	// Dead air for 4 minutes: below the 5 minute threshold, no alert.
	for i := 0; i < 5; i++ {
		e.Evaluate(true, deadAir())
		clock.advance(time.Minute)
	}
	assert.Equal(t, 0, notifier.count())

	// Crosses the threshold: exactly one alert.
	clock.advance(2 * time.Minute)
	e.Evaluate(true, deadAir())
	assert.Equal(t, 1, notifier.count())

	// Condition stays true but the repeat interval has not elapsed.
	for i := 0; i < 10; i++ {
		clock.advance(time.Minute)
		e.Evaluate(true, deadAir())
	}
	assert.Equal(t, 1, notifier.count())

	// Past the repeat interval the same unresolved fault re-fires.
	clock.advance(6 * time.Minute)
	e.Evaluate(true, deadAir())
	assert.Equal(t, 2, notifier.count())
}

func TestEngine_OnsetClearsOnRecovery(t *testing.T) {
	notifier := &fakeNotifier{}
	clock := &fakeClock{t: time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)}
	e := NewEngine(testConfig(), notifier, nil, quietLogger()).WithClock(clock.now)

	// 4 minutes of dead air, then a live probe clears the onset.
	e.Evaluate(true, deadAir())
	clock.advance(4 * time.Minute)
	e.Evaluate(true, liveShow())

	// Dead air resumes; the clock restarts from the new onset, so 4 more
	// minutes is still below threshold.
	e.Evaluate(true, deadAir())
	clock.advance(4 * time.Minute)
	e.Evaluate(true, deadAir())
	assert.Equal(t, 0, notifier.count())
}

func TestEngine_StreamDownIndependent(t *testing.T) {
	notifier := &fakeNotifier{}
	clock := &fakeClock{t: time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)}
	e := NewEngine(testConfig(), notifier, nil, quietLogger()).WithClock(clock.now)

	e.Evaluate(false, nil)
	clock.advance(90 * time.Second)
	e.Evaluate(false, nil)

	assert.Equal(t, 1, notifier.count())
	assert.Contains(t, notifier.subjects[0], "Stream Down")

	// Stream recovery clears the onset; an immediate new outage starts
	// its own clock.
	e.Evaluate(true, liveShow())
	e.Evaluate(false, nil)
	assert.Equal(t, 1, notifier.count())
}

func TestEngine_NilResultClearsDeadAir(t *testing.T) {
	notifier := &fakeNotifier{}
	clock := &fakeClock{t: time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)}
	e := NewEngine(testConfig(), notifier, nil, quietLogger()).WithClock(clock.now)

	e.Evaluate(true, deadAir())
	clock.advance(10 * time.Minute)
	e.Evaluate(true, nil) // probe failed, classifier saw nothing
	e.Evaluate(true, deadAir())
	clock.advance(time.Minute)
	e.Evaluate(true, deadAir())

	assert.Equal(t, 0, notifier.count())
}

func TestEngine_AutoRecoverOncePerOnset(t *testing.T) {
	var recoveries int
	recovery := func() error {
		recoveries++
		return nil
	}
	notifier := &fakeNotifier{}
	clock := &fakeClock{t: time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)}
	e := NewEngine(testConfig(), notifier, recovery, quietLogger()).WithClock(clock.now)

	// Sustained dead air: recovery fires once at the 4 minute mark and
	// never again while the onset is unbroken.
	for i := 0; i < 12; i++ {
		e.Evaluate(true, deadAir())
		clock.advance(time.Minute)
	}
	assert.Equal(t, 1, recoveries)

	// Onset breaks, dead air returns: the guard resets.
	e.Evaluate(true, liveShow())
	for i := 0; i < 6; i++ {
		e.Evaluate(true, deadAir())
		clock.advance(time.Minute)
	}
	assert.Equal(t, 2, recoveries)
}

func TestEngine_AutoRecoverFailureRetriesNextEvaluation(t *testing.T) {
	calls := 0
	recovery := func() error {
		calls++
		if calls == 1 {
			return errors.New("automation bridge offline")
		}
		return nil
	}
	clock := &fakeClock{t: time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)}
	e := NewEngine(testConfig(), &fakeNotifier{}, recovery, quietLogger()).WithClock(clock.now)

	e.Evaluate(true, deadAir())
	clock.advance(5 * time.Minute)
	e.Evaluate(true, deadAir()) // recovery attempt fails
	clock.advance(time.Minute)
	e.Evaluate(true, deadAir()) // succeeds
	clock.advance(time.Minute)
	e.Evaluate(true, deadAir()) // guard now set, no further calls

	assert.Equal(t, 2, calls)
}

func TestEngine_AutoRecoverDisabled(t *testing.T) {
	var recoveries int
	cfg := testConfig()
	cfg.AutoRecover = false
	clock := &fakeClock{t: time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)}
	e := NewEngine(cfg, &fakeNotifier{}, func() error {
		recoveries++
		return nil
	}, quietLogger()).WithClock(clock.now)

	for i := 0; i < 10; i++ {
		e.Evaluate(true, deadAir())
		clock.advance(time.Minute)
	}
	assert.Equal(t, 0, recoveries)
}

func TestEngine_State(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)}
	e := NewEngine(testConfig(), &fakeNotifier{}, nil, quietLogger()).WithClock(clock.now)

	e.Evaluate(true, deadAir())
	state := e.State()

	assert.NotNil(t, state[KindDeadAir].OnsetAt)
	assert.Nil(t, state[KindDeadAir].LastFired)
	assert.Nil(t, state[KindStreamDown].OnsetAt)
}

func TestLogNotifier_NeverFails(t *testing.T) {
	n := NewLogNotifier(quietLogger())
	assert.NoError(t, n.Send("Airmon Alert: Dead Air", "dead air detected"))
}
