/*
Package metrics provides Prometheus metrics and the health endpoints for the
breeze daemon.

Every metric is a package-level variable registered with the default
Prometheus registry in init. Subsystems update counters and histograms
inline; gauges that mirror subsystem state are refreshed by a Collector
running as a periodic registry task.

# Architecture

	┌──────────────────── METRICS ─────────────────────────┐
	│                                                        │
	│  fan.Controller ──┐                                    │
	│  sensor.Sampler ──┼──► Collector (periodic task)       │
	│  registry ────────┘        │                           │
	│                            ▼                           │
	│  connstate.Tracker ──► gauges / counters ◄── bus       │
	│                            │                           │
	│                            ▼                           │
	│                 prometheus.DefaultRegistry             │
	│                            │                           │
	│                            ▼                           │
	│                   GET /metrics (promhttp)              │
	│                                                        │
	│  bootstrap ──► UpdateComponent ──► /health /ready      │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

Fan:

	breeze_fan_speed_percent{kind="requested|effective"}  gauge
	breeze_fan_rpm                                        gauge
	breeze_fan_status                                     gauge (0 ok, 1 shutoff, 2 error)
	breeze_stall_shutoffs_total                           counter

Temperature:

	breeze_temperature_celsius{kind="raw|smoothed"}       gauge
	breeze_sensor_failures_total                          counter
	breeze_sensor_read_duration_seconds                   histogram

Workers and connections:

	breeze_task_healthy{task}                             gauge
	breeze_task_missed_deadlines{task}                    gauge
	breeze_connection_up{link="link|timesync|bus"}        gauge

Message bus:

	breeze_bus_dropped_total                              counter
	breeze_bus_commands_total{intent,result}              counter

result is one of accepted, rejected (validation) or failed (lock timeout or
hardware fault).

# Health

HealthChecker keeps one entry per component reported during startup.
/ready waits for every critical component (registry, display, sampler,
fan by default) to report healthy. /live always answers 200 while the process
serves HTTP.

# Usage

	timer := metrics.NewTimer()
	v, err := sensor.ReadCelsius(ctx)
	timer.ObserveDuration(metrics.SensorReadDuration)

	c := metrics.NewCollector(fanCtrl, sampler, reg)
	c.Start(reg, task, 5*time.Second)

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())

# Alerting

	- alert: BreezeFanStalled
	  expr: breeze_fan_status == 1
	  for: 1m

	- alert: BreezeSensorFailing
	  expr: rate(breeze_sensor_failures_total[5m]) > 0.1

	- alert: BreezeBusDropping
	  expr: increase(breeze_bus_dropped_total[10m]) > 0
*/
package metrics
