package sysfs

import (
	"context"
	"os"
	"path/filepath"
)

// DS18B20Config locates a sensor on the 1-wire bus
type DS18B20Config struct {
	Root     string `yaml:"root"`
	Master   string `yaml:"master"`
	DeviceID string `yaml:"device_id"`
}

// DS18B20 uses the w1_therm bulk conversion trigger for phase one and the
// device's temperature file for phase two
type DS18B20 struct {
	triggerPath string
	valuePath   string
}

// NewDS18B20 creates a sensor for cfg. Root defaults to /sys/bus/w1/devices.
func NewDS18B20(cfg DS18B20Config) *DS18B20 {
	root := cfg.Root
	if root == "" {
		root = "/sys/bus/w1/devices"
	}
	master := cfg.Master
	if master == "" {
		master = "w1_bus_master1"
	}
	return &DS18B20{
		triggerPath: filepath.Join(root, master, "therm_bulk_read"),
		valuePath:   filepath.Join(root, cfg.DeviceID, "temperature"),
	}
}

func (d *DS18B20) RequestConversion(ctx context.Context) error {
	return writeFile(d.triggerPath, "trigger\n")
}

func (d *DS18B20) ReadCelsius(ctx context.Context) (float64, error) {
	data, err := os.ReadFile(d.valuePath)
	if err != nil {
		return 0, err
	}
	return ParseMilliCelsius(data)
}
