package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fan metrics
	FanSpeedPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breeze_fan_speed_percent",
			Help: "Fan speed in percent by kind (requested, effective)",
		},
		[]string{"kind"},
	)

	FanRPM = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breeze_fan_rpm",
			Help: "Measured rotor speed in revolutions per minute",
		},
	)

	FanStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breeze_fan_status",
			Help: "Fan status (0 = ok, 1 = shutoff, 2 = error)",
		},
	)

	StallShutoffsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "breeze_stall_shutoffs_total",
			Help: "Total number of stall shutoffs",
		},
	)

	// Sensor metrics
	TemperatureCelsius = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breeze_temperature_celsius",
			Help: "Temperature in degrees Celsius by kind (raw, smoothed)",
		},
		[]string{"kind"},
	)

	SensorFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "breeze_sensor_failures_total",
			Help: "Total number of rejected or failed sensor reads",
		},
	)

	SensorReadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "breeze_sensor_read_duration_seconds",
			Help:    "Time taken by the read-back phase of a conversion",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Task metrics
	TaskHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breeze_task_healthy",
			Help: "Whether a registered task is healthy (1 = healthy)",
		},
		[]string{"task"},
	)

	TaskMissedDeadlines = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breeze_task_missed_deadlines",
			Help: "Heartbeat deadlines missed by a task",
		},
		[]string{"task"},
	)

	// Network metrics
	ConnectionUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "breeze_connection_up",
			Help: "Whether a connection is established (1 = up) by link",
		},
		[]string{"link"},
	)

	BusDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "breeze_bus_dropped_total",
			Help: "Total number of inbound messages dropped on a full queue",
		},
	)

	BusCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breeze_bus_commands_total",
			Help: "Total number of dispatched commands by intent and result",
		},
		[]string{"intent", "result"},
	)

	// HTTP metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breeze_http_requests_total",
			Help: "Total number of HTTP requests by path and status code",
		},
		[]string{"path", "code"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "breeze_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(FanSpeedPercent)
	prometheus.MustRegister(FanRPM)
	prometheus.MustRegister(FanStatus)
	prometheus.MustRegister(StallShutoffsTotal)
	prometheus.MustRegister(TemperatureCelsius)
	prometheus.MustRegister(SensorFailuresTotal)
	prometheus.MustRegister(SensorReadDuration)
	prometheus.MustRegister(TaskHealthy)
	prometheus.MustRegister(TaskMissedDeadlines)
	prometheus.MustRegister(ConnectionUp)
	prometheus.MustRegister(BusDroppedTotal)
	prometheus.MustRegister(BusCommandsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// boolGauge converts a flag to a gauge value
func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
