package sysfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestPWMConfigureAndDuty(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "pwmchip0", "pwm1")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	p := NewPWM(PWMConfig{Root: root, Chip: 0, Channel: 1})
	require.NoError(t, p.Configure(25000, 8))

	assert.Equal(t, "40000", readFile(t, filepath.Join(dir, "period")))
	assert.Equal(t, "1", readFile(t, filepath.Join(dir, "enable")))

	require.NoError(t, p.SetDuty(255))
	assert.Equal(t, "40000", readFile(t, filepath.Join(dir, "duty_cycle")))

	require.NoError(t, p.SetDuty(0))
	assert.Equal(t, "0", readFile(t, filepath.Join(dir, "duty_cycle")))

	require.NoError(t, p.SetDuty(1000))
	assert.Equal(t, "40000", readFile(t, filepath.Join(dir, "duty_cycle")))
}

func TestPWMSetDutyBeforeConfigure(t *testing.T) {
	p := NewPWM(PWMConfig{Root: t.TempDir()})
	assert.Error(t, p.SetDuty(10))
}

func TestDS18B20TwoPhase(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "w1_bus_master1"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "28-0000"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "28-0000", "temperature"), []byte("23562\n"), 0o644))

	d := NewDS18B20(DS18B20Config{Root: root, DeviceID: "28-0000"})
	require.NoError(t, d.RequestConversion(context.Background()))
	assert.Equal(t, "trigger\n", readFile(t, filepath.Join(root, "w1_bus_master1", "therm_bulk_read")))

	v, err := d.ReadCelsius(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 23.562, v, 0.0001)
}

func TestParseMilliCelsius(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    float64
		wantErr bool
	}{
		{name: "positive", in: "21500\n", want: 21.5},
		{name: "negative", in: "-1250", want: -1.25},
		{name: "empty", in: "  \n", wantErr: true},
		{name: "garbage", in: "YES", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMilliCelsius([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 0.0001)
		})
	}
}
