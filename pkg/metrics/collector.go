package metrics

import (
	"context"
	"time"

	"github.com/cuemby/breeze/pkg/registry"
	"github.com/cuemby/breeze/pkg/types"
)

// FanSource provides the fan state copied into the fan gauges
type FanSource interface {
	Snapshot() types.FanSnapshot
}

// TemperatureSource provides the sampler values copied into the
// temperature gauges
type TemperatureSource interface {
	Raw() float64
	Smoothed() float64
}

// TaskSource provides the worker health records
type TaskSource interface {
	Tasks() []registry.TaskRecord
}

// Collector copies subsystem state into the gauges. Any source may be nil.
type Collector struct {
	fan   FanSource
	temp  TemperatureSource
	tasks TaskSource
}

// NewCollector creates a new metrics collector
func NewCollector(fan FanSource, temp TemperatureSource, tasks TaskSource) *Collector {
	return &Collector{
		fan:   fan,
		temp:  temp,
		tasks: tasks,
	}
}

// Start registers the collector as a periodic task
func (c *Collector) Start(reg *registry.Registry, task registry.TaskConfig, interval time.Duration) error {
	c.Collect()
	return reg.Periodic(task, interval, func(context.Context) {
		c.Collect()
	})
}

// Collect refreshes every gauge once
func (c *Collector) Collect() {
	c.collectFanMetrics()
	c.collectTemperatureMetrics()
	c.collectTaskMetrics()
}

func (c *Collector) collectFanMetrics() {
	if c.fan == nil {
		return
	}
	snap := c.fan.Snapshot()
	FanSpeedPercent.WithLabelValues("requested").Set(float64(snap.TargetSpeed))
	FanSpeedPercent.WithLabelValues("effective").Set(float64(snap.CurrentSpeed))
	FanRPM.Set(float64(snap.RPM))
	FanStatus.Set(float64(snap.Status))
}

func (c *Collector) collectTemperatureMetrics() {
	if c.temp == nil {
		return
	}
	TemperatureCelsius.WithLabelValues("raw").Set(c.temp.Raw())
	TemperatureCelsius.WithLabelValues("smoothed").Set(c.temp.Smoothed())
}

func (c *Collector) collectTaskMetrics() {
	if c.tasks == nil {
		return
	}
	for _, rec := range c.tasks.Tasks() {
		TaskHealthy.WithLabelValues(rec.Config.Name).Set(boolGauge(rec.Health.Healthy))
		TaskMissedDeadlines.WithLabelValues(rec.Config.Name).Set(float64(rec.Health.MissedDeadlines))
	}
}
