package sensor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/cuemby/breeze/pkg/hw/sim"
	"github.com/cuemby/breeze/pkg/registry"
	"github.com/cuemby/breeze/pkg/signals"
	"github.com/cuemby/breeze/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestSampler(t *testing.T, sensor *sim.Sensor) (*Sampler, *testClock, *signals.Group) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)}
	sig := signals.NewGroup()
	s := New(DefaultConfig(), sensor, sig)
	s.now = clock.Now
	return s, clock, sig
}

// sample drives one full request/read cycle
func sample(s *Sampler, clock *testClock) {
	ctx := context.Background()
	s.Step(ctx)
	clock.Advance(s.cfg.ConversionLatency)
	s.Step(ctx)
	clock.Advance(s.cfg.Period - s.cfg.ConversionLatency)
}

func TestSamplerSeededWithSafeDefault(t *testing.T) {
	s, _, _ := newTestSampler(t, sim.NewSensor(30))

	assert.Equal(t, 25.0, s.Raw())
	assert.Equal(t, 25.0, s.Smoothed())
	_, ok := s.LastValid()
	assert.False(t, ok)
}

func TestSamplerWaitsForConversionLatency(t *testing.T) {
	sensor := sim.NewSensor(30)
	s, clock, sig := newTestSampler(t, sensor)
	ctx := context.Background()

	s.Step(ctx)
	assert.Equal(t, 1, sensor.Requests())

	clock.Advance(700 * time.Millisecond)
	s.Step(ctx)
	assert.Equal(t, 25.0, s.Raw(), "read back before latency elapsed")
	assert.Equal(t, signals.Bits(0), sig.Pending())

	clock.Advance(50 * time.Millisecond)
	s.Step(ctx)
	assert.Equal(t, 30.0, s.Raw())
	assert.True(t, sig.Pending().Has(signals.TemperatureUpdated))
}

func TestSamplerRequestsOncePerPeriod(t *testing.T) {
	sensor := sim.NewSensor(30)
	s, clock, _ := newTestSampler(t, sensor)

	sample(s, clock)
	assert.Equal(t, 1, sensor.Requests())

	clock.Advance(-100 * time.Millisecond)
	s.Step(context.Background())
	assert.Equal(t, 1, sensor.Requests())

	clock.Advance(100 * time.Millisecond)
	s.Step(context.Background())
	assert.Equal(t, 2, sensor.Requests())
}

func TestSamplerSmoothing(t *testing.T) {
	sensor := sim.NewSensor(0)
	sensor.Script(30, 35)
	s, clock, _ := newTestSampler(t, sensor)

	sample(s, clock)
	assert.InDelta(t, (30.0+4*25)/5, s.Smoothed(), 0.0001)

	sample(s, clock)
	assert.InDelta(t, (30.0+35+3*25)/5, s.Smoothed(), 0.0001)
	assert.Equal(t, 35.0, s.Raw())
	v, ok := s.LastValid()
	assert.True(t, ok)
	assert.Equal(t, 35.0, v)
}

func TestSamplerRejectsImplausibleReadings(t *testing.T) {
	tests := []struct {
		name  string
		value float64
	}{
		{name: "disconnected sentinel", value: -127},
		{name: "power-on default", value: 85},
		{name: "too cold", value: -60},
		{name: "too hot", value: 130},
		{name: "not a number", value: math.NaN()},
		{name: "positive infinity", value: math.Inf(1)},
		{name: "negative infinity", value: math.Inf(-1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, clock, sig := newTestSampler(t, sim.NewSensor(tt.value))

			sample(s, clock)
			r := s.Snapshot()
			assert.Equal(t, 1, r.Failures)
			assert.Equal(t, 25.0, r.Smoothed)
			assert.False(t, r.HasValid)
			assert.Equal(t, signals.Bits(0), sig.Pending())
		})
	}
}

func TestSamplerRevertsAfterFailureThreshold(t *testing.T) {
	sensor := sim.NewSensor(31)
	s, clock, _ := newTestSampler(t, sensor)

	sample(s, clock)
	require.Equal(t, 31.0, s.Raw())
	smoothed := s.Smoothed()

	sensor.FailReads(errors.New("crc mismatch"))
	sample(s, clock)
	sample(s, clock)
	assert.Equal(t, 31.0, s.Raw(), "below threshold keeps last raw value")
	assert.True(t, s.Healthy())

	sample(s, clock)
	assert.Equal(t, 25.0, s.Raw())
	assert.Equal(t, smoothed, s.Smoothed())
	assert.False(t, s.Healthy())

	v, ok := s.LastValid()
	assert.True(t, ok)
	assert.Equal(t, 31.0, v)

	sensor.FailReads(nil)
	sample(s, clock)
	assert.Equal(t, 31.0, s.Raw())
	assert.True(t, s.Healthy())
}

func TestSamplerRequestFailureCounts(t *testing.T) {
	sensor := sim.NewSensor(30)
	sensor.FailRequests(errors.New("bus busy"))
	s, clock, _ := newTestSampler(t, sensor)

	s.Step(context.Background())
	assert.Equal(t, 1, s.Snapshot().Failures)

	// a failed request does not enter the read-back phase
	clock.Advance(time.Second)
	s.Step(context.Background())
	assert.Equal(t, 1, s.Snapshot().Failures)
}

func TestSamplerSignalsCoalesce(t *testing.T) {
	sensor := sim.NewSensor(0)
	sensor.Script(28, 29, 33)
	s, clock, sig := newTestSampler(t, sensor)

	sample(s, clock)
	sample(s, clock)
	sample(s, clock)

	assert.Equal(t, signals.TemperatureUpdated, sig.Drain())
	assert.Equal(t, signals.Bits(0), sig.Drain())
	assert.Equal(t, 33.0, s.Raw())
}

func TestSamplerStartValidation(t *testing.T) {
	reg := registry.New(registry.Config{Capacity: 2})
	t.Cleanup(func() { _ = reg.Shutdown(time.Second) })

	cfg := DefaultConfig()
	cfg.HistorySize = 0
	s := New(cfg, sim.NewSensor(20), nil)
	err := s.Start(reg, registry.TaskConfig{Name: "sampler", Core: -1})
	assert.True(t, errors.Is(err, types.ErrValidation))

	s = New(DefaultConfig(), nil, nil)
	err = s.Start(reg, registry.TaskConfig{Name: "sampler", Core: -1})
	assert.True(t, errors.Is(err, types.ErrValidation))

	s = New(DefaultConfig(), sim.NewSensor(20), nil)
	require.NoError(t, s.Start(reg, registry.TaskConfig{Name: "sampler", Core: -1}))
	assert.Len(t, reg.Tasks(), 1)
}
