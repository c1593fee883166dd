package bootstrap

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/breeze/pkg/config"
	"github.com/cuemby/breeze/pkg/connstate"
	"github.com/cuemby/breeze/pkg/events"
	"github.com/cuemby/breeze/pkg/hw/backend"
	"github.com/cuemby/breeze/pkg/hw/sim"
	"github.com/cuemby/breeze/pkg/metrics"
	"github.com/cuemby/breeze/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type report struct {
	name   string
	state  types.ComponentState
	detail string
}

type recordingDisplay struct {
	mu       sync.Mutex
	beginErr error
	reports  []report
}

func (d *recordingDisplay) Begin() error { return d.beginErr }

func (d *recordingDisplay) ReportComponent(name string, state types.ComponentState, detail string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reports = append(d.reports, report{name: name, state: state, detail: detail})
}

func (d *recordingDisplay) last(name string) (report, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.reports) - 1; i >= 0; i-- {
		if d.reports[i].name == name {
			return d.reports[i], true
		}
	}
	return report{}, false
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.TimeSync.Servers = nil
	cfg.Normalize()
	return cfg
}

func simHardware() (*backend.Set, *sim.PWM) {
	pwm := sim.NewPWM()
	tach := sim.NewTachometer()
	tach.SetSteady(40)
	return &backend.Set{PWM: pwm, Tachometer: tach, Sensor: sim.NewSensor(30)}, pwm
}

func TestRunStartsOperationalSystem(t *testing.T) {
	display := &recordingDisplay{}
	hw, pwm := simHardware()

	sys, err := Run(context.Background(), testConfig(t), Options{Display: display, Hardware: hw})
	require.NoError(t, err)
	defer sys.Shutdown()

	for _, name := range []string{ComponentRegistry, ComponentStore, ComponentSampler, ComponentFan, ComponentMetrics} {
		r, ok := display.last(name)
		require.True(t, ok, name)
		assert.Equal(t, types.ComponentSuccess, r.state, name)
	}
	_, ok := display.last(ComponentLink)
	assert.False(t, ok)

	assert.Equal(t, "ready", metrics.GetReadiness().Status)

	status := sys.Status()
	assert.Equal(t, "auto", status.Mode)
	assert.Equal(t, "ok", status.Status)
	assert.False(t, status.LinkConnected)
	assert.False(t, status.BusConnected)
	assert.False(t, status.TimeSynced)

	_, written := pwm.Last()
	assert.True(t, written)
	assert.Len(t, sys.Registry.Tasks(), 4)
}

func TestRunAbortsWhenDisplayFails(t *testing.T) {
	display := &recordingDisplay{beginErr: errors.New("no panel")}
	hw, _ := simHardware()

	sys, err := Run(context.Background(), testConfig(t), Options{Display: display, Hardware: hw})
	assert.ErrorIs(t, err, ErrCritical)
	assert.Nil(t, sys)
}

func TestRunAbortsWhenFanFails(t *testing.T) {
	display := &recordingDisplay{}
	hw, pwm := simHardware()
	pwm.Fail(errors.New("pwm channel busy"))

	sys, err := Run(context.Background(), testConfig(t), Options{Display: display, Hardware: hw})
	require.Error(t, err)
	assert.Nil(t, sys)

	r, ok := display.last(ComponentFan)
	require.True(t, ok)
	assert.Equal(t, types.ComponentFailed, r.state)
}

func taskNames(sys *System) []string {
	var names []string
	for _, rec := range sys.Registry.Tasks() {
		names = append(names, rec.Config.Name)
	}
	return names
}

func TestRunToleratesNetworkFailure(t *testing.T) {
	display := &recordingDisplay{}
	hw, _ := simHardware()

	cfg := testConfig(t)
	cfg.Link.Target = "127.0.0.1:1"
	cfg.Link.ProbeTimeout = 50 * time.Millisecond
	cfg.Link.StartupTimeout = 100 * time.Millisecond
	cfg.TimeSync.Servers = []string{"127.0.0.1"}
	cfg.MQTT.Broker = "tcp://127.0.0.1:1"

	sys, err := Run(context.Background(), cfg, Options{Display: display, Hardware: hw})
	require.NoError(t, err)
	defer sys.Shutdown()

	r, ok := display.last(ComponentLink)
	require.True(t, ok)
	assert.Equal(t, types.ComponentFailed, r.state)

	for _, name := range []string{ComponentTimeSync, ComponentBus} {
		r, ok := display.last(name)
		require.True(t, ok, name)
		assert.Equal(t, types.ComponentFailed, r.state)
		assert.Contains(t, r.detail, "link down")
	}

	// the networking workers run degraded and keep retrying
	require.NotNil(t, sys.Link)
	require.NotNil(t, sys.Bus)
	assert.Subset(t, taskNames(sys), []string{"link", "timesync", "bus"})
	assert.False(t, sys.Link.Failed())
	assert.False(t, sys.Status().LinkConnected)
	assert.Equal(t, types.StatusOK, sys.Fan.Status())

	sys.Bus.Enqueue("breeze/control/mode", make([]byte, 600))
	assert.Equal(t, uint64(1), sys.Status().BusDropped)
}

func TestLinkRecoversAfterBoot(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testConfig(t)
	cfg.Link.Target = addr
	cfg.Link.ProbeTimeout = 50 * time.Millisecond
	cfg.Link.PollInterval = 10 * time.Millisecond
	cfg.Link.StartupTimeout = 50 * time.Millisecond
	cfg.Link.Backoff = connstate.Config{Base: 10 * time.Millisecond, MaxShift: 2}

	hw, _ := simHardware()
	sys, err := Run(context.Background(), cfg, Options{Display: &recordingDisplay{}, Hardware: hw})
	require.NoError(t, err)
	defer sys.Shutdown()
	require.False(t, sys.LinkConnected())

	ln, err = net.Listen("tcp", addr)
	require.NoError(t, err)
	defer ln.Close()

	assert.Eventually(t, sys.LinkConnected, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		c, ok := metrics.Component(ComponentLink)
		return ok && c.Healthy
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBrokerDisplayPublishes(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	inner := &recordingDisplay{}
	d := NewBrokerDisplay(broker, inner)
	require.NoError(t, d.Begin())
	d.ReportComponent("fan", types.ComponentSuccess, "mode auto")

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventComponentStatus, ev.Type)
		assert.Equal(t, "fan", ev.Metadata["component"])
		assert.Equal(t, "success", ev.Metadata["state"])
		assert.Equal(t, "mode auto", ev.Message)
	case <-time.After(time.Second):
		t.Fatal("no component event")
	}

	r, ok := inner.last("fan")
	require.True(t, ok)
	assert.Equal(t, types.ComponentSuccess, r.state)
}

func TestShutdownIsIdempotent(t *testing.T) {
	hw, _ := simHardware()
	sys, err := Run(context.Background(), testConfig(t), Options{Display: &recordingDisplay{}, Hardware: hw})
	require.NoError(t, err)

	assert.NoError(t, sys.Shutdown())
	assert.NoError(t, sys.Shutdown())
}
