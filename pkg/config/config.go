package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/breeze/pkg/bus"
	"github.com/cuemby/breeze/pkg/hw/backend"
	"github.com/cuemby/breeze/pkg/link"
	"github.com/cuemby/breeze/pkg/log"
	"github.com/cuemby/breeze/pkg/registry"
	"github.com/cuemby/breeze/pkg/sensor"
	"github.com/cuemby/breeze/pkg/timesync"
	"github.com/cuemby/breeze/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config is the breezed configuration file
type Config struct {
	Log      log.Config      `yaml:"log"`
	Tasks    TasksConfig     `yaml:"tasks"`
	Fan      types.FanConfig `yaml:"fan"`
	Sensor   sensor.Config   `yaml:"sensor"`
	Hardware backend.Config  `yaml:"hardware"`
	Link     link.Config     `yaml:"link"`
	TimeSync timesync.Config `yaml:"timesync"`
	MQTT     bus.Config      `yaml:"mqtt"`
	Storage  StorageConfig   `yaml:"storage"`
	HTTP     HTTPConfig      `yaml:"http"`
}

// TasksConfig holds the registry and the scheduling parameters of every
// worker
type TasksConfig struct {
	Registry        registry.Config     `yaml:"registry"`
	Sampler         registry.TaskConfig `yaml:"sampler"`
	Fan             registry.TaskConfig `yaml:"fan"`
	Link            registry.TaskConfig `yaml:"link"`
	TimeSync        registry.TaskConfig `yaml:"timesync"`
	Bus             registry.TaskConfig `yaml:"bus"`
	Metrics         registry.TaskConfig `yaml:"metrics"`
	MetricsInterval time.Duration       `yaml:"metrics_interval"`
}

// StorageConfig holds the settings store location
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// HTTPConfig holds the status and metrics endpoint
type HTTPConfig struct {
	// Addr is the listen address; empty disables the server
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the built-in configuration. Link and MQTT stay disabled
// until a target and a broker are configured.
func Default() Config {
	return Config{
		Log: log.Config{Level: log.InfoLevel},
		Tasks: TasksConfig{
			Registry:        registry.DefaultConfig(),
			Sampler:         registry.TaskConfig{Name: "sampler", Priority: 5, Core: 1},
			Fan:             registry.TaskConfig{Name: "fan", Priority: 5, Core: 1},
			Link:            registry.TaskConfig{Name: "link", Priority: 3, Core: 0},
			TimeSync:        registry.TaskConfig{Name: "timesync", Priority: 2, Core: 0},
			Bus:             registry.TaskConfig{Name: "bus", Priority: 3, Core: 0},
			Metrics:         registry.TaskConfig{Name: "metrics", Priority: 1, Core: -1},
			MetricsInterval: 5 * time.Second,
		},
		Fan:      types.DefaultFanConfig(),
		Sensor:   sensor.DefaultConfig(),
		Hardware: backend.DefaultConfig(),
		Link:     link.DefaultConfig(),
		TimeSync: timesync.DefaultConfig(),
		MQTT:     bus.DefaultConfig(),
		Storage:  StorageConfig{DataDir: "/var/lib/breeze"},
		HTTP: HTTPConfig{
			Addr:            ":9180",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
	}
}

// Load reads path over the defaults, then normalizes and validates the
// result. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Normalize fills zero values left by a partial file
func (c *Config) Normalize() {
	def := Default()

	tasks := []struct {
		cfg  *registry.TaskConfig
		name string
	}{
		{&c.Tasks.Sampler, def.Tasks.Sampler.Name},
		{&c.Tasks.Fan, def.Tasks.Fan.Name},
		{&c.Tasks.Link, def.Tasks.Link.Name},
		{&c.Tasks.TimeSync, def.Tasks.TimeSync.Name},
		{&c.Tasks.Bus, def.Tasks.Bus.Name},
		{&c.Tasks.Metrics, def.Tasks.Metrics.Name},
	}
	for _, t := range tasks {
		if t.cfg.Name == "" {
			t.cfg.Name = t.name
		}
		if t.cfg.StackBudget == 0 {
			t.cfg.StackBudget = c.Tasks.Registry.DefaultStackBudget
		}
	}
	if c.Tasks.Registry.Capacity == 0 {
		c.Tasks.Registry.Capacity = def.Tasks.Registry.Capacity
	}
	if c.Tasks.MetricsInterval <= 0 {
		c.Tasks.MetricsInterval = def.Tasks.MetricsInterval
	}

	if c.Fan.EventInterval <= 0 {
		c.Fan.EventInterval = def.Fan.EventInterval
	}
	if c.Fan.StallInterval <= 0 {
		c.Fan.StallInterval = def.Fan.StallInterval
	}
	if c.Fan.PulsesPerRevolution == 0 {
		c.Fan.PulsesPerRevolution = def.Fan.PulsesPerRevolution
	}
	if c.Sensor.HistorySize == 0 {
		c.Sensor.HistorySize = def.Sensor.HistorySize
	}
	if c.MQTT.QueueDepth == 0 {
		c.MQTT.QueueDepth = def.MQTT.QueueDepth
	}
	if c.MQTT.DrainBatch == 0 {
		c.MQTT.DrainBatch = def.MQTT.DrainBatch
	}
	if c.Log.Level == "" {
		c.Log.Level = log.InfoLevel
	}
}

// Validate checks every section. Link and MQTT are only checked when
// enabled.
func (c Config) Validate() error {
	if err := c.Fan.Validate(); err != nil {
		return fmt.Errorf("fan: %w", err)
	}
	if err := c.Sensor.Validate(); err != nil {
		return fmt.Errorf("sensor: %w", err)
	}
	if err := c.Hardware.Validate(); err != nil {
		return fmt.Errorf("hardware: %w", err)
	}
	if c.Tasks.Registry.Capacity < 7 {
		return &types.ValidationError{Field: "tasks.registry.capacity", Reason: "must hold at least 7 workers"}
	}
	if c.Storage.DataDir == "" {
		return &types.ValidationError{Field: "storage.data_dir", Reason: "required"}
	}
	if c.LinkEnabled() {
		if err := c.Link.Backoff.Validate("link"); err != nil {
			return err
		}
		if c.Link.RetryAfter < 0 {
			return &types.ValidationError{Field: "link.retry_after", Reason: "must not be negative"}
		}
	}
	if c.TimeSyncEnabled() {
		if _, err := time.LoadLocation(c.TimeSync.Timezone); err != nil {
			return &types.ValidationError{Field: "timesync.timezone", Reason: err.Error()}
		}
		if err := c.TimeSync.Backoff.Validate("timesync"); err != nil {
			return err
		}
	}
	if c.MQTTEnabled() {
		if err := c.MQTT.Validate(); err != nil {
			return err
		}
	}
	if c.HTTP.Addr != "" && c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("http.shutdown_timeout must be positive")
	}
	return nil
}

// LinkEnabled reports whether a reachability target is configured
func (c Config) LinkEnabled() bool {
	return c.Link.Target != ""
}

// TimeSyncEnabled reports whether any NTP server is configured
func (c Config) TimeSyncEnabled() bool {
	return len(c.TimeSync.Servers) > 0
}

// MQTTEnabled reports whether a broker is configured
func (c Config) MQTTEnabled() bool {
	return c.MQTT.Broker != ""
}

// Marshal renders the configuration as YAML
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
