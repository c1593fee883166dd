package connstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/breeze/pkg/metrics"
	"github.com/cuemby/breeze/pkg/types"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

// Connection states
const (
	StateIdle       = "idle"
	StateConnecting = "connecting"
	StateWaiting    = "waiting"
	StateConnected  = "connected"
	StateFailed     = "failed"
)

const (
	eventAttempt = "attempt"
	eventSucceed = "succeed"
	eventFail    = "fail"
	eventExhaust = "exhaust"
	eventLose    = "lose"
	eventReset   = "reset"
)

// Config describes one connection's retry policy
type Config struct {
	Base     time.Duration `yaml:"backoff_base"`
	MaxShift int           `yaml:"backoff_max_shift"`
	// MaxRetries bounds consecutive failures before the Failed state; zero
	// retries forever
	MaxRetries int `yaml:"max_retries"`
}

// Validate checks the policy. section prefixes the reported field names.
func (c Config) Validate(section string) error {
	switch {
	case c.Base <= 0:
		return &types.ValidationError{Field: section + ".backoff.backoff_base", Reason: "must be positive"}
	case c.MaxShift < 0 || c.MaxShift > MaxShiftLimit:
		return &types.ValidationError{Field: section + ".backoff.backoff_max_shift", Reason: fmt.Sprintf("must be between 0 and %d", MaxShiftLimit)}
	case c.MaxRetries < 0:
		return &types.ValidationError{Field: section + ".backoff.max_retries", Reason: "must not be negative"}
	}
	return nil
}

// Snapshot is the connection attempt state
type Snapshot struct {
	State        string        `json:"state"`
	Attempts     int           `json:"attempts"`
	LastAttempt  time.Time     `json:"last_attempt"`
	CurrentDelay time.Duration `json:"current_delay"`
	NextAttempt  time.Time     `json:"next_attempt"`
}

// Tracker is the backoff-driven connection state machine shared by the link,
// time sync and message bus managers. It does not wait itself; owners call
// Due from their periodic worker and report each outcome.
type Tracker struct {
	mu      sync.Mutex
	machine *fsm.FSM
	policy  backoff.BackOff
	shift   *Shift
	now     func() time.Time

	attempts    int
	lastAttempt time.Time
	delay       time.Duration
	nextAttempt time.Time

	listeners []func(from, to string)
}

// NewTracker creates a tracker in the idle state. now schedules retries;
// nil uses time.Now.
func NewTracker(cfg Config, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	shift := NewShift(cfg.Base, cfg.MaxShift)
	var policy backoff.BackOff = shift
	if cfg.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(shift, uint64(cfg.MaxRetries))
	}

	t := &Tracker{
		policy: policy,
		shift:  shift,
		now:    now,
	}
	t.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventAttempt, Src: []string{StateIdle, StateWaiting}, Dst: StateConnecting},
			{Name: eventSucceed, Src: []string{StateConnecting}, Dst: StateConnected},
			{Name: eventFail, Src: []string{StateConnecting}, Dst: StateWaiting},
			{Name: eventExhaust, Src: []string{StateConnecting}, Dst: StateFailed},
			{Name: eventLose, Src: []string{StateConnected}, Dst: StateWaiting},
			{Name: eventReset, Src: []string{StateConnecting, StateWaiting, StateConnected, StateFailed}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				for _, fn := range t.listeners {
					fn(e.Src, e.Dst)
				}
			},
		},
	)
	return t
}

// OnChange adds a callback run on every state transition. Callbacks run
// with the tracker locked and must not call back into it.
func (t *Tracker) OnChange(fn func(from, to string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Instrument logs every transition and mirrors the connected flag into the
// breeze_connection_up gauge under the given link name
func (t *Tracker) Instrument(name string, logger zerolog.Logger) {
	gauge := metrics.ConnectionUp.WithLabelValues(name)
	gauge.Set(0)
	t.OnChange(func(from, to string) {
		if to == StateConnected {
			gauge.Set(1)
		} else {
			gauge.Set(0)
		}
		logger.Info().
			Str("from", from).
			Str("to", to).
			Int("attempts", t.attempts).
			Dur("delay", t.delay).
			Msg("Connection state changed")
	})
}

func (t *Tracker) fire(event string) {
	// NoTransitionError and InvalidEventError leave the state unchanged
	_ = t.machine.Event(context.Background(), event)
}

// Due reports whether an attempt should start now. It moves idle and waiting
// trackers whose delay has elapsed into connecting.
func (t *Tracker) Due() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.machine.Current() {
	case StateIdle:
	case StateWaiting:
		if t.now().Before(t.nextAttempt) {
			return false
		}
	default:
		return false
	}

	t.attempts++
	t.lastAttempt = t.now()
	t.fire(eventAttempt)
	return true
}

// Succeeded records a successful attempt and clears the backoff
func (t *Tracker) Succeeded() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.fire(eventSucceed)
	t.policy.Reset()
	t.attempts = 0
	t.delay = 0
	t.nextAttempt = time.Time{}
}

// Failed records a failed attempt and schedules the next one. It returns
// false once the retry budget is spent and the tracker is in StateFailed.
func (t *Tracker) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.policy.NextBackOff()
	if d == backoff.Stop {
		t.delay = 0
		t.nextAttempt = time.Time{}
		t.fire(eventExhaust)
		return false
	}
	t.delay = d
	t.nextAttempt = t.now().Add(d)
	t.fire(eventFail)
	return true
}

// Lost records that an established connection dropped. The first retry is
// scheduled after the base delay.
func (t *Tracker) Lost() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.machine.Current() != StateConnected {
		return
	}
	t.policy.Reset()
	t.delay = t.policy.NextBackOff()
	t.nextAttempt = t.now().Add(t.delay)
	t.fire(eventLose)
}

// Reset returns the tracker to idle with a fresh retry budget
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.policy.Reset()
	t.attempts = 0
	t.delay = 0
	t.nextAttempt = time.Time{}
	t.fire(eventReset)
}

// State returns the current state
func (t *Tracker) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.machine.Current()
}

// Connected reports whether the tracker is in StateConnected
func (t *Tracker) Connected() bool {
	return t.State() == StateConnected
}

// Snapshot returns a copy of the attempt state
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		State:        t.machine.Current(),
		Attempts:     t.attempts,
		LastAttempt:  t.lastAttempt,
		CurrentDelay: t.delay,
		NextAttempt:  t.nextAttempt,
	}
}
