// Package backend builds the PWM, tachometer and temperature sensor that
// breezed runs with from the hardware section of the configuration.
package backend

import (
	"errors"
	"fmt"

	"github.com/cuemby/breeze/pkg/hw"
	"github.com/cuemby/breeze/pkg/hw/gpio"
	"github.com/cuemby/breeze/pkg/hw/hostsensor"
	"github.com/cuemby/breeze/pkg/hw/modbus"
	"github.com/cuemby/breeze/pkg/hw/sim"
	"github.com/cuemby/breeze/pkg/hw/sysfs"
)

// Backend names
const (
	Sim     = "sim"
	Sysfs   = "sysfs"
	GPIO    = "gpio"
	DS18B20 = "ds18b20"
	Host    = "host"
	Modbus  = "modbus"
)

// SimConfig tunes the simulated hardware
type SimConfig struct {
	Temperature float64 `yaml:"temperature"`
	// PulsesPerRead is returned by every TakePulses call
	PulsesPerRead uint32 `yaml:"pulses_per_read"`
}

// Config selects one backend per device
type Config struct {
	PWM        string `yaml:"pwm"`
	Tachometer string `yaml:"tachometer"`
	Sensor     string `yaml:"sensor"`

	SysfsPWM   sysfs.PWMConfig     `yaml:"sysfs_pwm"`
	DS18B20    sysfs.DS18B20Config `yaml:"ds18b20"`
	GPIO       gpio.Config         `yaml:"gpio"`
	Modbus     modbus.Config       `yaml:"modbus"`
	HostSensor string              `yaml:"host_sensor_match"`
	Sim        SimConfig           `yaml:"sim"`
}

// DefaultConfig runs entirely on simulated hardware
func DefaultConfig() Config {
	return Config{
		PWM:        Sim,
		Tachometer: Sim,
		Sensor:     Sim,
		Sim: SimConfig{
			Temperature:   30,
			PulsesPerRead: 40,
		},
	}
}

// Validate checks that every selected backend exists and is configured
func (c Config) Validate() error {
	switch c.PWM {
	case Sim, Sysfs:
	case Modbus:
		if c.Modbus.Endpoint == "" {
			return errors.New("hardware.modbus.endpoint required for modbus pwm")
		}
	default:
		return fmt.Errorf("unknown pwm backend %q", c.PWM)
	}
	switch c.Tachometer {
	case Sim, Modbus:
	case GPIO:
		if c.GPIO.Chip == "" {
			return errors.New("hardware.gpio.chip required for gpio tachometer")
		}
	default:
		return fmt.Errorf("unknown tachometer backend %q", c.Tachometer)
	}
	switch c.Sensor {
	case Sim, Host, Modbus:
	case DS18B20:
		if c.DS18B20.DeviceID == "" {
			return errors.New("hardware.ds18b20.device_id required for ds18b20 sensor")
		}
	default:
		return fmt.Errorf("unknown sensor backend %q", c.Sensor)
	}
	if (c.Tachometer == Modbus || c.Sensor == Modbus) && c.Modbus.Endpoint == "" {
		return errors.New("hardware.modbus.endpoint required")
	}
	return nil
}

// Set is the opened hardware
type Set struct {
	PWM        hw.PWM
	Tachometer hw.Tachometer
	Sensor     hw.TemperatureSensor

	board *modbus.Board
}

// Open builds the configured devices. A Modbus board is opened once and
// shared by every device that selects it.
func Open(cfg Config) (*Set, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	set := &Set{}
	if cfg.PWM == Modbus || cfg.Tachometer == Modbus || cfg.Sensor == Modbus {
		board, err := modbus.Open(cfg.Modbus)
		if err != nil {
			return nil, err
		}
		set.board = board
	}

	switch cfg.PWM {
	case Sim:
		set.PWM = sim.NewPWM()
	case Sysfs:
		set.PWM = sysfs.NewPWM(cfg.SysfsPWM)
	case Modbus:
		set.PWM = set.board.PWM()
	}

	switch cfg.Tachometer {
	case Sim:
		tach := sim.NewTachometer()
		tach.SetSteady(cfg.Sim.PulsesPerRead)
		set.Tachometer = tach
	case GPIO:
		set.Tachometer = gpio.NewTachometer(cfg.GPIO)
	case Modbus:
		set.Tachometer = set.board.Tachometer()
	}

	switch cfg.Sensor {
	case Sim:
		set.Sensor = sim.NewSensor(cfg.Sim.Temperature)
	case DS18B20:
		set.Sensor = sysfs.NewDS18B20(cfg.DS18B20)
	case Host:
		set.Sensor = hostsensor.New(cfg.HostSensor)
	case Modbus:
		set.Sensor = set.board.Sensor()
	}
	return set, nil
}

// Close releases the tachometer and the Modbus board
func (s *Set) Close() error {
	var errs []error
	if s.Tachometer != nil {
		errs = append(errs, s.Tachometer.Close())
	}
	if s.board != nil {
		errs = append(errs, s.board.Close())
	}
	return errors.Join(errs...)
}
