package types

import (
	"fmt"
	"strings"
	"time"
)

// FanMode selects who decides the requested speed
type FanMode uint8

const (
	// ModeAuto derives speed from the smoothed temperature
	ModeAuto FanMode = iota
	// ModeManual uses the speed set by the operator
	ModeManual
	// ModeError is an error sentinel. It is never a legal operating mode and
	// is rejected by every mutator and by persistence.
	ModeError
)

// Valid reports whether m is an operating mode
func (m FanMode) Valid() bool {
	return m == ModeAuto || m == ModeManual
}

func (m FanMode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeManual:
		return "manual"
	default:
		return "error"
	}
}

// ParseFanMode parses the wire representation used on the message bus
func ParseFanMode(s string) (FanMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return ModeAuto, nil
	case "manual":
		return ModeManual, nil
	default:
		return ModeError, &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", s)}
	}
}

// FanStatus is driven only by stall detection and recovery
type FanStatus uint8

const (
	StatusOK FanStatus = iota
	// StatusShutoff means the rotor stalled and output is forced to zero
	StatusShutoff
	// StatusError means the PWM output could not be written
	StatusError
)

func (s FanStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusShutoff:
		return "shutoff"
	default:
		return "error"
	}
}

// NightSettings is the time-windowed speed cap
type NightSettings struct {
	Enabled   bool `yaml:"enabled" json:"enabled"`
	StartHour int  `yaml:"start_hour" json:"start_hour"`
	EndHour   int  `yaml:"end_hour" json:"end_hour"`
	MaxSpeed  int  `yaml:"max_speed" json:"max_speed"`
}

// Validate checks hour bounds (0-23) and cap bounds (0-100)
func (n NightSettings) Validate() error {
	if n.StartHour < 0 || n.StartHour > 23 {
		return &ValidationError{Field: "start_hour", Reason: "must be between 0 and 23"}
	}
	if n.EndHour < 0 || n.EndHour > 23 {
		return &ValidationError{Field: "end_hour", Reason: "must be between 0 and 23"}
	}
	if n.MaxSpeed < 0 || n.MaxSpeed > 100 {
		return &ValidationError{Field: "max_speed", Reason: "must be between 0 and 100"}
	}
	return nil
}

// InWindow reports whether hour falls inside the night window.
// start < end: hour in [start, end). start >= end wraps midnight:
// hour >= start or hour < end, so start == end covers the whole day.
func (n NightSettings) InWindow(hour int) bool {
	if n.StartHour < n.EndHour {
		return hour >= n.StartHour && hour < n.EndHour
	}
	return hour >= n.StartHour || hour < n.EndHour
}

// FanConfig holds the tuning of one fan. Every min/max pair satisfies min <= max.
type FanConfig struct {
	MinTemp             float64       `yaml:"min_temp"`
	MaxTemp             float64       `yaml:"max_temp"`
	MinSpeed            int           `yaml:"min_speed"`
	MaxSpeed            int           `yaml:"max_speed"`
	MinPWM              uint32        `yaml:"min_pwm"`
	MaxPWM              uint32        `yaml:"max_pwm"`
	PWMFrequency        int           `yaml:"pwm_frequency"`
	PWMResolution       int           `yaml:"pwm_resolution"`
	Night               NightSettings `yaml:"night"`
	MinRPM              int           `yaml:"min_rpm"`
	StallRetries        int           `yaml:"stall_retries"`
	PulsesPerRevolution int           `yaml:"pulses_per_revolution"`
	EventInterval       time.Duration `yaml:"event_interval"`
	StallInterval       time.Duration `yaml:"stall_interval"`
}

// DefaultFanConfig returns the factory tuning
func DefaultFanConfig() FanConfig {
	return FanConfig{
		MinTemp:             25,
		MaxTemp:             40,
		MinSpeed:            20,
		MaxSpeed:            100,
		MinPWM:              0,
		MaxPWM:              255,
		PWMFrequency:        25000,
		PWMResolution:       8,
		Night:               NightSettings{Enabled: false, StartHour: 22, EndHour: 7, MaxSpeed: 30},
		MinRPM:              300,
		StallRetries:        3,
		PulsesPerRevolution: 2,
		EventInterval:       100 * time.Millisecond,
		StallInterval:       time.Second,
	}
}

// Validate checks that every range is consistent
func (c FanConfig) Validate() error {
	if c.MinTemp >= c.MaxTemp {
		return &ValidationError{Field: "min_temp", Reason: "must be below max_temp"}
	}
	if c.MinSpeed < 0 || c.MaxSpeed > 100 || c.MinSpeed > c.MaxSpeed {
		return &ValidationError{Field: "min_speed", Reason: "speed range must satisfy 0 <= min <= max <= 100"}
	}
	if c.MinPWM > c.MaxPWM {
		return &ValidationError{Field: "min_pwm", Reason: "must not exceed max_pwm"}
	}
	if c.MinRPM < 0 {
		return &ValidationError{Field: "min_rpm", Reason: "must not be negative"}
	}
	if c.StallRetries < 1 {
		return &ValidationError{Field: "stall_retries", Reason: "must be at least 1"}
	}
	if c.PulsesPerRevolution < 1 {
		return &ValidationError{Field: "pulses_per_revolution", Reason: "must be at least 1"}
	}
	return c.Night.Validate()
}

// SpeedTarget pairs caller intent with what reaches the PWM output.
// Effective <= Requested always.
type SpeedTarget struct {
	Requested int
	Effective int
}

// Settings is the durable image of the fan configuration and mode
type Settings struct {
	Mode          FanMode `json:"mode"`
	ManualSpeed   int     `json:"manual_speed"`
	NightEnabled  bool    `json:"night_enabled"`
	NightStart    int     `json:"night_start"`
	NightEnd      int     `json:"night_end"`
	NightMaxSpeed int     `json:"night_max_speed"`
}

// DefaultSettings derives the settings used when nothing is stored yet
func DefaultSettings(cfg FanConfig) Settings {
	return Settings{
		Mode:          ModeAuto,
		ManualSpeed:   cfg.MinSpeed,
		NightEnabled:  cfg.Night.Enabled,
		NightStart:    cfg.Night.StartHour,
		NightEnd:      cfg.Night.EndHour,
		NightMaxSpeed: cfg.Night.MaxSpeed,
	}
}

// Night extracts the night window from the settings
func (s Settings) Night() NightSettings {
	return NightSettings{
		Enabled:   s.NightEnabled,
		StartHour: s.NightStart,
		EndHour:   s.NightEnd,
		MaxSpeed:  s.NightMaxSpeed,
	}
}

// FanSnapshot is the read-only view consumed by displays and status publishers
type FanSnapshot struct {
	CurrentSpeed int           `json:"current_speed"`
	TargetSpeed  int           `json:"target_speed"`
	RPM          int           `json:"rpm"`
	Status       FanStatus     `json:"-"`
	Mode         FanMode       `json:"-"`
	NightEnabled bool          `json:"night_enabled"`
	NightActive  bool          `json:"night_active"`
	Night        NightSettings `json:"-"`
}

// SystemStatus is the display-facing query result
type SystemStatus struct {
	Fan           FanSnapshot `json:"fan"`
	Status        string      `json:"status"`
	Mode          string      `json:"mode"`
	Temperature   float64     `json:"temperature"`
	LinkConnected bool        `json:"link_connected"`
	BusConnected  bool        `json:"bus_connected"`
	TimeSynced    bool        `json:"time_synced"`
	// BusQueued and BusDropped describe the inbound command queue
	BusQueued  int    `json:"bus_queued"`
	BusDropped uint64 `json:"bus_dropped"`
}

// ComponentState is reported to the display during startup
type ComponentState string

const (
	ComponentWorking ComponentState = "working"
	ComponentSuccess ComponentState = "success"
	ComponentFailed  ComponentState = "failed"
)
