package timesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beevik/ntp"
	"github.com/cuemby/breeze/pkg/connstate"
	"github.com/cuemby/breeze/pkg/lock"
	"github.com/cuemby/breeze/pkg/log"
	"github.com/cuemby/breeze/pkg/registry"
	"github.com/rs/zerolog"
)

// Config holds time sync configuration
type Config struct {
	Servers        []string         `yaml:"servers"`
	Timezone       string           `yaml:"timezone"`
	QueryTimeout   time.Duration    `yaml:"query_timeout"`
	ResyncInterval time.Duration    `yaml:"resync_interval"`
	PollInterval   time.Duration    `yaml:"poll_interval"`
	StartupTimeout time.Duration    `yaml:"startup_timeout"`
	Backoff        connstate.Config `yaml:"backoff"`
}

// DefaultConfig returns the time sync defaults
func DefaultConfig() Config {
	return Config{
		Servers:        []string{"pool.ntp.org", "time.google.com", "time.cloudflare.com"},
		QueryTimeout:   5 * time.Second,
		ResyncInterval: time.Hour,
		PollInterval:   time.Second,
		StartupTimeout: 20 * time.Second,
		Backoff: connstate.Config{
			Base:     2 * time.Second,
			MaxShift: 5,
		},
	}
}

// queryFunc returns the offset of the local clock against host
type queryFunc func(ctx context.Context, host string, timeout time.Duration) (time.Duration, error)

// Manager keeps a clock offset against NTP servers, tried round-robin
type Manager struct {
	cfg     Config
	loc     *time.Location
	query   queryFunc
	tracker *connstate.Tracker
	mu      *lock.Timed
	logger  zerolog.Logger
	now     func() time.Time
	linkUp  func() bool
	reg     *registry.Registry
	task    string

	offset   time.Duration
	syncedAt time.Time
	next     int
}

// New creates a time sync manager. An empty timezone uses the local zone.
func New(cfg Config) (*Manager, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("timesync: at least one server required")
	}
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("timesync: failed to load timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	m := &Manager{
		cfg:     cfg,
		loc:     loc,
		query:   queryNTP,
		mu:      lock.New(),
		logger:  log.WithComponent("timesync"),
		now:     time.Now,
	}
	// retries are scheduled on the manager clock
	m.tracker = connstate.NewTracker(cfg.Backoff, func() time.Time { return m.now() })
	m.tracker.Instrument("timesync", m.logger)
	return m, nil
}

func queryNTP(ctx context.Context, host string, timeout time.Duration) (time.Duration, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	resp, err := ntp.QueryWithOptions(host, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

// Begin synchronizes before the worker exists
func (m *Manager) Begin(ctx context.Context) error {
	if m.cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.StartupTimeout)
		defer cancel()
	}
	if err := m.tracker.Establish(ctx, m.sync); err != nil {
		return fmt.Errorf("time not synchronized: %w", err)
	}
	return nil
}

// RequireLink holds back sync attempts while up reports false. It must be
// called before Start.
func (m *Manager) RequireLink(up func() bool) {
	m.linkUp = up
}

// Start registers the time sync worker
func (m *Manager) Start(reg *registry.Registry, task registry.TaskConfig) error {
	m.reg, m.task = reg, task.Name
	return reg.Periodic(task, m.cfg.PollInterval, m.Step)
}

// Step resynchronizes once per resync interval and retries failures on the
// backoff schedule without a retry limit
func (m *Manager) Step(ctx context.Context) {
	if m.linkUp != nil && !m.linkUp() {
		return
	}
	if m.tracker.Connected() {
		if m.now().Sub(m.lastSync()) < m.cfg.ResyncInterval {
			return
		}
		if err := m.sync(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("Resync failed")
			m.tracker.Lost()
		}
		return
	}

	if !m.tracker.Due() {
		return
	}
	if err := m.sync(ctx); err != nil {
		m.logger.Debug().Err(err).Msg("Sync attempt failed")
		m.tracker.Failed()
		return
	}
	m.tracker.Succeeded()
}

// sync queries the next server in rotation
func (m *Manager) sync(ctx context.Context) error {
	m.mu.Lock()
	host := m.cfg.Servers[m.next%len(m.cfg.Servers)]
	m.next++
	m.mu.Unlock()

	if m.reg != nil {
		m.reg.MarkBlocked(m.task)
	}
	offset, err := m.query(ctx, host, m.cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("query %s: %w", host, err)
	}

	m.mu.Lock()
	m.offset = offset
	m.syncedAt = m.now()
	m.mu.Unlock()

	m.logger.Info().Str("server", host).Dur("offset", offset).Msg("Clock synchronized")
	return nil
}

func (m *Manager) lastSync() time.Time {
	release, ok := m.mu.Guard(lock.DefaultTimeout)
	if !ok {
		return time.Time{}
	}
	defer release()
	return m.syncedAt
}

// Synchronized reports whether the last sync attempt succeeded
func (m *Manager) Synchronized() bool {
	return m.tracker.Connected()
}

// Now returns the corrected time in the configured zone. Before the first
// sync, or when the lock is contended, it is the local clock.
func (m *Manager) Now() time.Time {
	offset := time.Duration(0)
	if release, ok := m.mu.Guard(lock.DisplayTimeout); ok {
		offset = m.offset
		release()
	}
	return m.now().Add(offset).In(m.loc)
}

// CurrentHour returns the hour of day in the configured zone
func (m *Manager) CurrentHour() int {
	return m.Now().Hour()
}

// Location returns the configured zone
func (m *Manager) Location() *time.Location {
	return m.loc
}

// OnStateChange adds a callback run on every sync state transition. It
// must not call back into the manager.
func (m *Manager) OnStateChange(fn func(from, to string)) {
	m.tracker.OnChange(fn)
}

// Snapshot returns the connection attempt state
func (m *Manager) Snapshot() connstate.Snapshot {
	return m.tracker.Snapshot()
}
