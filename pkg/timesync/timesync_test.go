package timesync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/breeze/pkg/connstate"
	"github.com/cuemby/breeze/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeNTP struct {
	mu      sync.Mutex
	hosts   []string
	offset  time.Duration
	failing map[string]bool
}

func (f *fakeNTP) query(ctx context.Context, host string, timeout time.Duration) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hosts = append(f.hosts, host)
	if f.failing[host] {
		return 0, errors.New("i/o timeout")
	}
	return f.offset, nil
}

func (f *fakeNTP) setFailing(hosts ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = map[string]bool{}
	for _, h := range hosts {
		f.failing[h] = true
	}
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *testClock, *fakeNTP) {
	t.Helper()
	m, err := New(cfg)
	require.NoError(t, err)
	clock := &testClock{now: time.Date(2026, 10, 15, 21, 30, 0, 0, time.UTC)}
	f := &fakeNTP{failing: map[string]bool{}}
	m.now = clock.Now
	m.query = f.query
	return m, clock, f
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Timezone = "Mars/Olympus"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestUnsynchronizedUsesLocalClock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "UTC"
	m, _, _ := newTestManager(t, cfg)

	assert.False(t, m.Synchronized())
	assert.Equal(t, 21, m.CurrentHour())
}

func TestSyncAppliesOffsetAndZone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "UTC"
	m, _, f := newTestManager(t, cfg)
	f.offset = 45 * time.Minute

	m.Step(context.Background())
	require.True(t, m.Synchronized())
	assert.Equal(t, 22, m.CurrentHour())
	assert.Equal(t, time.UTC, m.Now().Location())
}

func TestServersTriedRoundRobin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servers = []string{"a", "b", "c"}
	m, clock, f := newTestManager(t, cfg)
	f.setFailing("a", "b")
	ctx := context.Background()

	m.Step(ctx)
	assert.Equal(t, 2*time.Second, m.Snapshot().CurrentDelay)

	clock.Advance(2 * time.Second)
	m.Step(ctx)
	assert.Equal(t, 4*time.Second, m.Snapshot().CurrentDelay)

	clock.Advance(4 * time.Second)
	m.Step(ctx)
	assert.True(t, m.Synchronized())
	assert.Equal(t, []string{"a", "b", "c"}, f.hosts)
}

func TestBackoffHasNoRetryLimit(t *testing.T) {
	m, clock, f := newTestManager(t, DefaultConfig())
	f.setFailing(DefaultConfig().Servers...)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		m.Step(ctx)
		clock.Advance(time.Minute)
	}
	snap := m.Snapshot()
	assert.Equal(t, connstate.StateWaiting, snap.State)
	assert.Equal(t, 64*time.Second, snap.CurrentDelay)
}

func TestResyncInterval(t *testing.T) {
	m, clock, f := newTestManager(t, DefaultConfig())
	ctx := context.Background()

	m.Step(ctx)
	require.True(t, m.Synchronized())

	clock.Advance(59 * time.Minute)
	m.Step(ctx)
	assert.Len(t, f.hosts, 1)

	clock.Advance(time.Minute)
	f.setFailing(DefaultConfig().Servers...)
	m.Step(ctx)
	assert.Len(t, f.hosts, 2)
	assert.False(t, m.Synchronized(), "failed resync drops the synchronized flag")
}

func TestSyncWaitsForLink(t *testing.T) {
	m, _, f := newTestManager(t, DefaultConfig())
	var transitions []string
	m.OnStateChange(func(from, to string) { transitions = append(transitions, to) })
	up := false
	m.RequireLink(func() bool { return up })
	ctx := context.Background()

	m.Step(ctx)
	m.Step(ctx)
	assert.Empty(t, f.hosts)
	assert.Equal(t, connstate.StateIdle, m.Snapshot().State)

	up = true
	m.Step(ctx)
	assert.True(t, m.Synchronized())
	assert.Equal(t, []string{connstate.StateConnecting, connstate.StateConnected}, transitions)
}

func TestWorkerBlockedDuringQuery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	m, err := New(cfg)
	require.NoError(t, err)
	release := make(chan struct{})
	m.query = func(ctx context.Context, host string, timeout time.Duration) (time.Duration, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return 0, nil
	}

	reg := registry.New(registry.DefaultConfig())
	defer reg.Shutdown(time.Second)
	require.NoError(t, m.Start(reg, registry.TaskConfig{Name: "timesync", Core: -1}))

	state := func() registry.WorkerState {
		for _, rec := range reg.Tasks() {
			if rec.Config.Name == "timesync" {
				return rec.Health.State
			}
		}
		return ""
	}
	assert.Eventually(t, func() bool { return state() == registry.StateBlocked }, time.Second, 2*time.Millisecond)

	close(release)
	assert.Eventually(t, m.Synchronized, time.Second, 2*time.Millisecond)
	assert.Eventually(t, func() bool { return state() == registry.StateRunning }, time.Second, 2*time.Millisecond)
}

func TestBeginTimesOut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartupTimeout = 30 * time.Millisecond
	m, err := New(cfg)
	require.NoError(t, err)
	m.query = func(ctx context.Context, host string, timeout time.Duration) (time.Duration, error) {
		return 0, errors.New("unreachable")
	}

	err = m.Begin(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, m.Synchronized())
}
