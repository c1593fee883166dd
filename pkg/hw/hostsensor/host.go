// Package hostsensor reads the host's own thermal sensors through gopsutil,
// for fans that cool the machine breezed runs on.
package hostsensor

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/breeze/pkg/types"
	"github.com/shirou/gopsutil/v3/host"
)

// Sensor reports the hottest sensor whose key contains Match
type Sensor struct {
	match string
	read  func(ctx context.Context) ([]host.TemperatureStat, error)
}

// New creates a sensor. An empty match considers every sensor.
func New(match string) *Sensor {
	return &Sensor{match: match, read: host.SensorsTemperaturesWithContext}
}

// RequestConversion is a no-op; the kernel keeps readings current
func (s *Sensor) RequestConversion(ctx context.Context) error {
	return nil
}

func (s *Sensor) ReadCelsius(ctx context.Context) (float64, error) {
	stats, err := s.read(ctx)
	// gopsutil returns partial results alongside warnings
	if len(stats) == 0 {
		if err == nil {
			err = fmt.Errorf("no thermal sensors")
		}
		return 0, fmt.Errorf("read host sensors: %w: %v", types.ErrHardwareFault, err)
	}

	found := false
	hottest := 0.0
	for _, st := range stats {
		if s.match != "" && !strings.Contains(st.SensorKey, s.match) {
			continue
		}
		if !found || st.Temperature > hottest {
			hottest = st.Temperature
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("no sensor matching %q: %w", s.match, types.ErrHardwareFault)
	}
	return hottest, nil
}
