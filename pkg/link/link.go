package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/breeze/pkg/connstate"
	"github.com/cuemby/breeze/pkg/health"
	"github.com/cuemby/breeze/pkg/log"
	"github.com/cuemby/breeze/pkg/registry"
	"github.com/rs/zerolog"
)

// Config holds link manager configuration
type Config struct {
	Probe          health.CheckType `yaml:"probe"`
	Target         string           `yaml:"target"`
	ProbeTimeout   time.Duration    `yaml:"probe_timeout"`
	ProbeInterval  time.Duration    `yaml:"probe_interval"`
	PollInterval   time.Duration    `yaml:"poll_interval"`
	LossThreshold  int              `yaml:"loss_threshold"`
	StartupTimeout time.Duration    `yaml:"startup_timeout"`
	// RetryAfter is how long a failed link rests before a fresh retry
	// budget; zero keeps it failed until Reset
	RetryAfter     time.Duration    `yaml:"retry_after"`
	Backoff        connstate.Config `yaml:"backoff"`
}

// DefaultConfig returns the link defaults. Target must still be set.
func DefaultConfig() Config {
	return Config{
		Probe:          health.CheckTypeTCP,
		ProbeTimeout:   3 * time.Second,
		ProbeInterval:  10 * time.Second,
		PollInterval:   250 * time.Millisecond,
		LossThreshold:  3,
		StartupTimeout: 30 * time.Second,
		RetryAfter:     5 * time.Minute,
		Backoff: connstate.Config{
			Base:       time.Second,
			MaxShift:   4,
			MaxRetries: 10,
		},
	}
}

// Manager keeps track of network reachability
type Manager struct {
	cfg     Config
	checker health.Checker
	tracker *connstate.Tracker
	logger  zerolog.Logger
	now     func() time.Time
	reg     *registry.Registry
	task    string

	mu        sync.Mutex
	status    *health.Status
	lastProbe time.Time
}

// New creates a link manager probing cfg.Target
func New(cfg Config) (*Manager, error) {
	checker, err := health.NewChecker(cfg.Probe, cfg.Target, cfg.ProbeTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create link probe: %w", err)
	}
	return newManager(cfg, checker), nil
}

func newManager(cfg Config, checker health.Checker) *Manager {
	m := &Manager{
		cfg:     cfg,
		checker: checker,
		logger:  log.WithComponent("link"),
		now:     time.Now,
		status:  health.NewStatus(),
	}
	// retries are scheduled on the manager clock
	m.tracker = connstate.NewTracker(cfg.Backoff, func() time.Time { return m.now() })
	m.tracker.Instrument("link", m.logger)
	return m
}

// Begin connects before the worker exists. It returns an error once the
// retry budget is spent or the startup timeout elapses.
func (m *Manager) Begin(ctx context.Context) error {
	if m.cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.StartupTimeout)
		defer cancel()
	}
	if err := m.tracker.Establish(ctx, m.probe); err != nil {
		return fmt.Errorf("link to %s not established: %w", m.cfg.Target, err)
	}
	return nil
}

// Start registers the link worker
func (m *Manager) Start(reg *registry.Registry, task registry.TaskConfig) error {
	m.reg, m.task = reg, task.Name
	return reg.Periodic(task, m.cfg.PollInterval, m.Step)
}

// Step re-probes an established link every probe interval and retries a
// lost one on the backoff schedule. A failed link is reset once RetryAfter
// has passed since the last attempt.
func (m *Manager) Step(ctx context.Context) {
	switch m.tracker.State() {
	case connstate.StateConnected:
		m.mu.Lock()
		due := m.now().Sub(m.lastProbe) >= m.cfg.ProbeInterval
		m.mu.Unlock()
		if !due {
			return
		}
		result := m.check(ctx)

		m.mu.Lock()
		m.status.Update(result, m.cfg.LossThreshold)
		lost := !m.status.Healthy
		if lost {
			m.status = health.NewStatus()
		}
		m.mu.Unlock()

		if lost {
			m.logger.Warn().Str("reason", result.Message).Msg("Link lost")
			m.tracker.Lost()
		}

	case connstate.StateFailed:
		if m.cfg.RetryAfter <= 0 {
			return
		}
		if m.now().Sub(m.tracker.Snapshot().LastAttempt) < m.cfg.RetryAfter {
			return
		}
		m.logger.Info().Dur("after", m.cfg.RetryAfter).Msg("Retrying failed link")
		m.Reset()

	default:
		if !m.tracker.Due() {
			return
		}
		if err := m.probe(ctx); err != nil {
			if !m.tracker.Failed() {
				m.logger.Error().Err(err).Msg("Link retries exhausted")
			}
			return
		}
		m.tracker.Succeeded()
	}
}

func (m *Manager) check(ctx context.Context) health.Result {
	if m.reg != nil {
		m.reg.MarkBlocked(m.task)
	}
	result := m.checker.Check(ctx)
	m.mu.Lock()
	m.lastProbe = m.now()
	m.mu.Unlock()
	return result
}

func (m *Manager) probe(ctx context.Context) error {
	result := m.check(ctx)
	if !result.Healthy {
		return errors.New(result.Message)
	}
	return nil
}

// Connected reports whether the link is up
func (m *Manager) Connected() bool {
	return m.tracker.Connected()
}

// Failed reports whether the retry budget is spent
func (m *Manager) Failed() bool {
	return m.tracker.State() == connstate.StateFailed
}

// Snapshot returns the connection attempt state
func (m *Manager) Snapshot() connstate.Snapshot {
	return m.tracker.Snapshot()
}

// OnStateChange adds a callback run on every connection state transition.
// It must not call back into the manager.
func (m *Manager) OnStateChange(fn func(from, to string)) {
	m.tracker.OnChange(fn)
}

// Reset leaves the failed state and starts a fresh retry budget
func (m *Manager) Reset() {
	m.mu.Lock()
	m.status = health.NewStatus()
	m.mu.Unlock()
	m.tracker.Reset()
}
