package backend

import (
	"testing"

	"github.com/cuemby/breeze/pkg/hw/hostsensor"
	"github.com/cuemby/breeze/pkg/hw/sim"
	"github.com/cuemby/breeze/pkg/hw/sysfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "unknown pwm", mutate: func(c *Config) { c.PWM = "dac" }, wantErr: true},
		{name: "unknown tachometer", mutate: func(c *Config) { c.Tachometer = "hall" }, wantErr: true},
		{name: "unknown sensor", mutate: func(c *Config) { c.Sensor = "thermistor" }, wantErr: true},
		{name: "gpio without chip", mutate: func(c *Config) { c.Tachometer = GPIO }, wantErr: true},
		{name: "gpio with chip", mutate: func(c *Config) { c.Tachometer = GPIO; c.GPIO.Chip = "gpiochip0" }},
		{name: "ds18b20 without device", mutate: func(c *Config) { c.Sensor = DS18B20 }, wantErr: true},
		{name: "modbus without endpoint", mutate: func(c *Config) { c.Sensor = Modbus }, wantErr: true},
		{name: "modbus pwm without endpoint", mutate: func(c *Config) { c.PWM = Modbus }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpenSim(t *testing.T) {
	set, err := Open(DefaultConfig())
	require.NoError(t, err)
	defer set.Close()

	assert.IsType(t, &sim.PWM{}, set.PWM)
	assert.IsType(t, &sim.Sensor{}, set.Sensor)
	assert.Equal(t, uint32(40), set.Tachometer.TakePulses())
}

func TestOpenMixed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PWM = Sysfs
	cfg.Sensor = Host
	cfg.SysfsPWM = sysfs.PWMConfig{Root: t.TempDir()}

	set, err := Open(cfg)
	require.NoError(t, err)
	defer set.Close()

	assert.IsType(t, &sysfs.PWM{}, set.PWM)
	assert.IsType(t, &hostsensor.Sensor{}, set.Sensor)
}
