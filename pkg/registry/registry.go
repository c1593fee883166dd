package registry

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/cuemby/breeze/pkg/lock"
	"github.com/cuemby/breeze/pkg/log"
	"github.com/cuemby/breeze/pkg/types"
	"github.com/rs/zerolog"
)

// WorkerState is the scheduler-side state of a worker
type WorkerState string

const (
	StateRunning  WorkerState = "running"
	StateBlocked  WorkerState = "blocked"
	StateExited   WorkerState = "exited"
	StatePanicked WorkerState = "panicked"
)

// TaskConfig holds the scheduling parameters of a worker
type TaskConfig struct {
	Name string `yaml:"name"`
	// Priority is applied as a thread niceness of -Priority on Linux
	Priority int `yaml:"priority"`
	// Core pins the worker's OS thread to one CPU; -1 leaves it unpinned
	Core int `yaml:"core"`
	// StackBudget is the stack size in bytes the worker is expected to fit in
	StackBudget int `yaml:"stack_budget"`
}

// TaskFunc is a worker entry point. It runs for the process lifetime and
// returns only when ctx is cancelled at teardown.
type TaskFunc func(ctx context.Context)

// Health is the health snapshot of one worker
type Health struct {
	LastHeartbeat       time.Time
	MissedDeadlines     int
	ConsecutiveFailures int
	StackHeadroom       int
	State               WorkerState
	Healthy             bool
}

// TaskRecord is a copy of one occupied slot
type TaskRecord struct {
	Config TaskConfig
	Health Health
}

// StackSampler estimates the stack in bytes used by one worker. It is
// sampled once per health scan.
type StackSampler func() int

// Config holds registry configuration
type Config struct {
	Capacity              int           `yaml:"capacity"`
	HeartbeatTimeout      time.Duration `yaml:"heartbeat_timeout"`
	CriticalStackHeadroom int           `yaml:"critical_stack_headroom"`
	ScanInterval          time.Duration `yaml:"scan_interval"`
	DefaultStackBudget    int           `yaml:"default_stack_budget"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Capacity:              8,
		HeartbeatTimeout:      30 * time.Second,
		CriticalStackHeadroom: 512,
		ScanInterval:          5 * time.Second,
		DefaultStackBudget:    64 * 1024,
	}
}

type slot struct {
	active bool
	cfg    TaskConfig
	health Health
}

// Registry is a fixed-capacity table of periodic workers
type Registry struct {
	cfg    Config
	mu     *lock.Timed
	slots  []slot
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger

	now         func() time.Time
	sampleStack StackSampler
	applySched  func(TaskConfig) error
	lockTimeout time.Duration
}

// New creates a registry with cfg.Capacity empty slots
func New(cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.CriticalStackHeadroom <= 0 {
		cfg.CriticalStackHeadroom = def.CriticalStackHeadroom
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}
	if cfg.DefaultStackBudget <= 0 {
		cfg.DefaultStackBudget = def.DefaultStackBudget
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:         cfg,
		mu:          lock.New(),
		slots:       make([]slot, cfg.Capacity),
		ctx:         ctx,
		cancel:      cancel,
		logger:      log.WithComponent("registry"),
		now:         time.Now,
		sampleStack: averageStackInUse,
		applySched:  applySchedParams,
		lockTimeout: lock.ControlTimeout,
	}
}

// Register claims a free slot and spawns entry on its own goroutine.
// It fails with types.ErrResourceExhausted when the table is full or the
// registry was shut down, and with types.ErrTimeout when the table lock
// cannot be acquired in time.
func (r *Registry) Register(cfg TaskConfig, entry TaskFunc) error {
	if cfg.Name == "" {
		return &types.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if entry == nil {
		return &types.ValidationError{Field: "entry", Reason: "must not be nil"}
	}
	if cfg.StackBudget <= 0 {
		cfg.StackBudget = r.cfg.DefaultStackBudget
	}

	release, ok := r.mu.Guard(r.lockTimeout)
	if !ok {
		return fmt.Errorf("failed to register task %s: %w", cfg.Name, types.ErrTimeout)
	}
	defer release()

	if r.ctx.Err() != nil {
		return fmt.Errorf("failed to spawn task %s: registry shut down: %w", cfg.Name, types.ErrResourceExhausted)
	}

	free := -1
	for i := range r.slots {
		if r.slots[i].active && r.slots[i].cfg.Name == cfg.Name {
			return &types.ValidationError{Field: "name", Reason: fmt.Sprintf("task %s already registered", cfg.Name)}
		}
		if !r.slots[i].active && free < 0 {
			free = i
		}
	}
	if free < 0 {
		return fmt.Errorf("failed to register task %s: all %d slots in use: %w", cfg.Name, len(r.slots), types.ErrResourceExhausted)
	}

	r.slots[free] = slot{
		active: true,
		cfg:    cfg,
		health: Health{
			LastHeartbeat: r.now(),
			StackHeadroom: cfg.StackBudget,
			State:         StateRunning,
			Healthy:       true,
		},
	}

	r.wg.Add(1)
	go r.run(free, cfg, entry)

	r.logger.Info().
		Str("task", cfg.Name).
		Int("priority", cfg.Priority).
		Int("core", cfg.Core).
		Int("stack_budget", cfg.StackBudget).
		Msg("Task registered")
	return nil
}

// run executes one worker and records how it ended
func (r *Registry) run(idx int, cfg TaskConfig, entry TaskFunc) {
	defer r.wg.Done()
	logger := log.WithTask(cfg.Name)

	if cfg.Core >= 0 || cfg.Priority != 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := r.applySched(cfg); err != nil {
			logger.Warn().Err(err).Msg("Scheduling parameters not applied")
		}
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Msg("Task panicked")
			r.setState(idx, StatePanicked, true)
			return
		}
		r.setState(idx, StateExited, false)
	}()

	entry(r.ctx)
}

// setState is called from the worker goroutine on exit. It waits without a
// bound so the final state is never lost.
func (r *Registry) setState(idx int, state WorkerState, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[idx].health.State = state
	if failed {
		r.slots[idx].health.ConsecutiveFailures++
	}
}

// Heartbeat refreshes the last-run time of the named worker and clears its
// failure streak. Lock timeouts are ignored; the next heartbeat will land.
func (r *Registry) Heartbeat(name string) {
	release, ok := r.mu.Guard(lock.DefaultTimeout)
	if !ok {
		return
	}
	defer release()

	if s := r.find(name); s != nil {
		s.health.LastHeartbeat = r.now()
		s.health.ConsecutiveFailures = 0
		s.health.State = StateRunning
	}
}

// MarkBlocked records that the named worker is about to wait on an external
// resource. The next Heartbeat returns it to running.
func (r *Registry) MarkBlocked(name string) {
	release, ok := r.mu.Guard(lock.DefaultTimeout)
	if !ok {
		return
	}
	defer release()

	if s := r.find(name); s != nil && s.health.State == StateRunning {
		s.health.State = StateBlocked
	}
}

func (r *Registry) find(name string) *slot {
	for i := range r.slots {
		if r.slots[i].active && r.slots[i].cfg.Name == name {
			return &r.slots[i]
		}
	}
	return nil
}

// ScanHealth evaluates every active slot and reports whether all of them are
// healthy. A worker is unhealthy when its stack headroom is below the
// critical threshold, when no heartbeat arrived within the timeout window,
// or when it is neither running nor blocked. Returns false when the table
// lock cannot be acquired.
func (r *Registry) ScanHealth() bool {
	release, ok := r.mu.Guard(r.lockTimeout)
	if !ok {
		r.logger.Warn().Msg("Health scan skipped: registry lock timeout")
		return false
	}
	defer release()

	now := r.now()
	used := r.sampleStack()
	allHealthy := true
	for i := range r.slots {
		s := &r.slots[i]
		if !s.active {
			continue
		}
		s.health.StackHeadroom = s.cfg.StackBudget - used

		healthy := true
		if s.health.StackHeadroom < r.cfg.CriticalStackHeadroom {
			healthy = false
		}
		if now.Sub(s.health.LastHeartbeat) > r.cfg.HeartbeatTimeout {
			s.health.MissedDeadlines++
			s.health.ConsecutiveFailures++
			healthy = false
		}
		if s.health.State != StateRunning && s.health.State != StateBlocked {
			healthy = false
		}
		s.health.Healthy = healthy
		if !healthy {
			allHealthy = false
		}
	}

	r.dump(allHealthy)
	return allHealthy
}

// dump logs per-task state, priority, stack headroom and failure streak
func (r *Registry) dump(allHealthy bool) {
	level := zerolog.DebugLevel
	if !allHealthy {
		level = zerolog.InfoLevel
	}
	for i := range r.slots {
		s := &r.slots[i]
		if !s.active {
			continue
		}
		r.logger.WithLevel(level).
			Str("task", s.cfg.Name).
			Str("state", string(s.health.State)).
			Int("priority", s.cfg.Priority).
			Int("stack_headroom", s.health.StackHeadroom).
			Int("failure_streak", s.health.ConsecutiveFailures).
			Int("missed_deadlines", s.health.MissedDeadlines).
			Bool("healthy", s.health.Healthy).
			Msg("Task health")
	}
}

// Tasks returns a copy of every occupied slot. Returns nil when the table
// lock cannot be acquired within the display timeout.
func (r *Registry) Tasks() []TaskRecord {
	release, ok := r.mu.Guard(lock.DisplayTimeout)
	if !ok {
		return nil
	}
	defer release()

	var out []TaskRecord
	for i := range r.slots {
		if r.slots[i].active {
			out = append(out, TaskRecord{Config: r.slots[i].cfg, Health: r.slots[i].health})
		}
	}
	return out
}

// Capacity returns the number of slots
func (r *Registry) Capacity() int {
	return len(r.slots)
}

// Periodic registers a worker that heartbeats and calls step once per
// interval until teardown
func (r *Registry) Periodic(cfg TaskConfig, interval time.Duration, step func(ctx context.Context)) error {
	if interval <= 0 {
		return &types.ValidationError{Field: "interval", Reason: "must be positive"}
	}
	if step == nil {
		return &types.ValidationError{Field: "step", Reason: "must not be nil"}
	}
	return r.Register(cfg, func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Heartbeat(cfg.Name)
				step(ctx)
			case <-ctx.Done():
				return
			}
		}
	})
}

// StartMonitor registers the periodic health scan as a worker of its own
func (r *Registry) StartMonitor(onScan func(healthy bool)) error {
	return r.Periodic(TaskConfig{Name: "health", Priority: 1, Core: -1}, r.cfg.ScanInterval, func(ctx context.Context) {
		healthy := r.ScanHealth()
		if onScan != nil {
			onScan(healthy)
		}
	})
}

// Shutdown cancels every worker and waits up to timeout for them to return
func (r *Registry) Shutdown(timeout time.Duration) error {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("workers still running after %s: %w", timeout, types.ErrTimeout)
	}
}

// averageStackInUse approximates per-worker stack use with the average
// stack in use across all goroutines
func averageStackInUse() int {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	n := runtime.NumGoroutine()
	if n <= 0 {
		return 0
	}
	return int(ms.StackInuse) / n
}
