package sensor

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/cuemby/breeze/pkg/hw"
	"github.com/cuemby/breeze/pkg/lock"
	"github.com/cuemby/breeze/pkg/log"
	"github.com/cuemby/breeze/pkg/metrics"
	"github.com/cuemby/breeze/pkg/registry"
	"github.com/cuemby/breeze/pkg/signals"
	"github.com/cuemby/breeze/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds sampler tuning
type Config struct {
	Period            time.Duration `yaml:"period"`
	ConversionLatency time.Duration `yaml:"conversion_latency"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	DisconnectedValue float64       `yaml:"disconnected_value"`
	BogusValue        float64       `yaml:"bogus_value"`
	MinPlausible      float64       `yaml:"min_plausible"`
	MaxPlausible      float64       `yaml:"max_plausible"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	SafeDefault       float64       `yaml:"safe_default"`
	HistorySize       int           `yaml:"history_size"`
}

// DefaultConfig returns the tuning for a DS18B20-class sensor
func DefaultConfig() Config {
	return Config{
		Period:            2 * time.Second,
		ConversionLatency: 750 * time.Millisecond,
		PollInterval:      50 * time.Millisecond,
		DisconnectedValue: -127,
		BogusValue:        85,
		MinPlausible:      -55,
		MaxPlausible:      125,
		FailureThreshold:  3,
		SafeDefault:       25,
		HistorySize:       5,
	}
}

// Validate checks the tuning
func (c Config) Validate() error {
	if c.Period <= 0 || c.ConversionLatency <= 0 || c.PollInterval <= 0 {
		return &types.ValidationError{Field: "sensor", Reason: "period, conversion_latency and poll_interval must be positive"}
	}
	if c.MinPlausible >= c.MaxPlausible {
		return &types.ValidationError{Field: "min_plausible", Reason: "must be below max_plausible"}
	}
	if c.FailureThreshold < 1 {
		return &types.ValidationError{Field: "failure_threshold", Reason: "must be at least 1"}
	}
	if c.HistorySize < 1 {
		return &types.ValidationError{Field: "history_size", Reason: "must be at least 1"}
	}
	return nil
}

// Reading is a copy of the sampler state
type Reading struct {
	Raw       float64   `json:"raw"`
	Smoothed  float64   `json:"smoothed"`
	LastValid float64   `json:"last_valid"`
	HasValid  bool      `json:"has_valid"`
	Failures  int       `json:"failures"`
	UpdatedAt time.Time `json:"updated_at"`
}

type phase int

const (
	phaseIdle phase = iota
	phaseConverting
)

// Sampler runs the two-phase conversion protocol and smooths accepted
// samples over a ring buffer
type Sampler struct {
	cfg     Config
	sensor  hw.TemperatureSensor
	signals *signals.Group
	mu      *lock.Timed
	logger  zerolog.Logger
	now     func() time.Time

	phase       phase
	requestedAt time.Time
	lastRequest time.Time
	history     []float64
	next        int
	reading     Reading

	last atomic.Pointer[Reading]
}

// New creates a sampler whose history is seeded with the safe default.
// sig receives TemperatureUpdated on every accepted sample.
func New(cfg Config, sensor hw.TemperatureSensor, sig *signals.Group) *Sampler {
	s := &Sampler{
		cfg:     cfg,
		sensor:  sensor,
		signals: sig,
		mu:      lock.New(),
		logger:  log.WithComponent("sampler"),
		now:     time.Now,
	}
	s.reset()
	return s
}

func (s *Sampler) reset() {
	size := s.cfg.HistorySize
	if size < 1 {
		size = 1
	}
	s.history = make([]float64, size)
	for i := range s.history {
		s.history[i] = s.cfg.SafeDefault
	}
	s.next = 0
	s.phase = phaseIdle
	s.reading = Reading{
		Raw:      s.cfg.SafeDefault,
		Smoothed: s.cfg.SafeDefault,
	}
	r := s.reading
	s.last.Store(&r)
}

// Start validates the tuning and registers the sampling worker
func (s *Sampler) Start(reg *registry.Registry, task registry.TaskConfig) error {
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("failed to start sampler: %w", err)
	}
	if s.sensor == nil {
		return &types.ValidationError{Field: "sensor", Reason: "no temperature sensor configured"}
	}
	return reg.Periodic(task, s.cfg.PollInterval, s.Step)
}

// Step advances the protocol by at most one phase. Phase one requests a
// conversion once per period; phase two reads back only after the
// conversion latency has elapsed. Step never waits on the sensor.
func (s *Sampler) Step(ctx context.Context) {
	now := s.now()

	switch s.phase {
	case phaseIdle:
		if !s.lastRequest.IsZero() && now.Sub(s.lastRequest) < s.cfg.Period {
			return
		}
		s.lastRequest = now
		if err := s.sensor.RequestConversion(ctx); err != nil {
			s.reject(now, fmt.Sprintf("conversion request failed: %v", err))
			return
		}
		s.requestedAt = now
		s.phase = phaseConverting

	case phaseConverting:
		if now.Sub(s.requestedAt) < s.cfg.ConversionLatency {
			return
		}
		s.phase = phaseIdle

		timer := metrics.NewTimer()
		v, err := s.sensor.ReadCelsius(ctx)
		timer.ObserveDuration(metrics.SensorReadDuration)
		if err != nil {
			s.reject(now, fmt.Sprintf("read failed: %v", err))
			return
		}
		if reason := s.implausible(v); reason != "" {
			s.reject(now, reason)
			return
		}
		s.accept(now, v)
	}
}

// implausible returns why v is rejected, or "" when it is accepted
func (s *Sampler) implausible(v float64) string {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return "not a finite reading"
	case v == s.cfg.DisconnectedValue:
		return "sensor disconnected"
	case v == s.cfg.BogusValue:
		return "power-on default reading"
	case v < s.cfg.MinPlausible || v > s.cfg.MaxPlausible:
		return fmt.Sprintf("%.2f outside plausible range", v)
	}
	return ""
}

func (s *Sampler) accept(now time.Time, v float64) {
	s.mu.Lock()
	s.history[s.next] = v
	s.next = (s.next + 1) % len(s.history)

	sum := 0.0
	for _, h := range s.history {
		sum += h
	}
	s.reading.Raw = v
	s.reading.Smoothed = sum / float64(len(s.history))
	s.reading.LastValid = v
	s.reading.HasValid = true
	s.reading.Failures = 0
	s.reading.UpdatedAt = now
	r := s.reading
	s.mu.Unlock()

	s.last.Store(&r)
	if s.signals != nil {
		s.signals.Set(signals.TemperatureUpdated)
	}
	s.logger.Debug().Float64("raw", r.Raw).Float64("smoothed", r.Smoothed).Msg("Sample accepted")
}

func (s *Sampler) reject(now time.Time, reason string) {
	metrics.SensorFailuresTotal.Inc()

	s.mu.Lock()
	s.reading.Failures++
	reverted := false
	if s.reading.Failures >= s.cfg.FailureThreshold && s.reading.Raw != s.cfg.SafeDefault {
		s.reading.Raw = s.cfg.SafeDefault
		reverted = true
	}
	s.reading.UpdatedAt = now
	r := s.reading
	s.mu.Unlock()

	s.last.Store(&r)
	event := s.logger.Warn().Str("reason", reason).Int("failures", r.Failures)
	if reverted {
		event.Float64("safe_default", s.cfg.SafeDefault).Msg("Sensor failing, raw value reverted")
		return
	}
	event.Msg("Sample rejected")
}

// Snapshot returns the sampler state. It falls back to the previous
// snapshot when the lock is not acquired within the display timeout.
func (s *Sampler) Snapshot() Reading {
	release, ok := s.mu.Guard(lock.DisplayTimeout)
	if !ok {
		return *s.last.Load()
	}
	defer release()
	return s.reading
}

// Raw returns the latest raw value, or the safe default after repeated failures
func (s *Sampler) Raw() float64 {
	return s.Snapshot().Raw
}

// Smoothed returns the mean of the sample history
func (s *Sampler) Smoothed() float64 {
	return s.Snapshot().Smoothed
}

// LastValid returns the most recent accepted sample and whether one exists
func (s *Sampler) LastValid() (float64, bool) {
	r := s.Snapshot()
	return r.LastValid, r.HasValid
}

// Healthy reports whether the failure streak is below the threshold
func (s *Sampler) Healthy() bool {
	return s.Snapshot().Failures < s.cfg.FailureThreshold
}
