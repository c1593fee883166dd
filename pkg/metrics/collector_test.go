package metrics

import (
	"testing"

	"github.com/cuemby/breeze/pkg/registry"
	"github.com/cuemby/breeze/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type staticFan types.FanSnapshot

func (f staticFan) Snapshot() types.FanSnapshot { return types.FanSnapshot(f) }

type staticTemperature struct{ raw, smoothed float64 }

func (s staticTemperature) Raw() float64      { return s.raw }
func (s staticTemperature) Smoothed() float64 { return s.smoothed }

type staticTasks []registry.TaskRecord

func (s staticTasks) Tasks() []registry.TaskRecord { return s }

func TestCollect(t *testing.T) {
	fan := staticFan{CurrentSpeed: 30, TargetSpeed: 60, RPM: 1200, Status: types.StatusShutoff}
	temp := staticTemperature{raw: 28.5, smoothed: 27.25}
	tasks := staticTasks{
		{Config: registry.TaskConfig{Name: "sampler"}, Health: registry.Health{Healthy: true}},
		{Config: registry.TaskConfig{Name: "bus"}, Health: registry.Health{Healthy: false, MissedDeadlines: 4}},
	}

	NewCollector(fan, temp, tasks).Collect()

	assert.Equal(t, 60.0, testutil.ToFloat64(FanSpeedPercent.WithLabelValues("requested")))
	assert.Equal(t, 30.0, testutil.ToFloat64(FanSpeedPercent.WithLabelValues("effective")))
	assert.Equal(t, 1200.0, testutil.ToFloat64(FanRPM))
	assert.Equal(t, float64(types.StatusShutoff), testutil.ToFloat64(FanStatus))
	assert.Equal(t, 28.5, testutil.ToFloat64(TemperatureCelsius.WithLabelValues("raw")))
	assert.Equal(t, 27.25, testutil.ToFloat64(TemperatureCelsius.WithLabelValues("smoothed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(TaskHealthy.WithLabelValues("sampler")))
	assert.Equal(t, 0.0, testutil.ToFloat64(TaskHealthy.WithLabelValues("bus")))
	assert.Equal(t, 4.0, testutil.ToFloat64(TaskMissedDeadlines.WithLabelValues("bus")))
}

func TestCollectNilSources(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector(nil, nil, nil).Collect()
	})
}
