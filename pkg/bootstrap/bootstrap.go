package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/breeze/pkg/bus"
	"github.com/cuemby/breeze/pkg/config"
	"github.com/cuemby/breeze/pkg/connstate"
	"github.com/cuemby/breeze/pkg/events"
	"github.com/cuemby/breeze/pkg/fan"
	"github.com/cuemby/breeze/pkg/hw/backend"
	"github.com/cuemby/breeze/pkg/link"
	"github.com/cuemby/breeze/pkg/log"
	"github.com/cuemby/breeze/pkg/metrics"
	"github.com/cuemby/breeze/pkg/registry"
	"github.com/cuemby/breeze/pkg/sensor"
	"github.com/cuemby/breeze/pkg/signals"
	"github.com/cuemby/breeze/pkg/storage"
	"github.com/cuemby/breeze/pkg/timesync"
	"github.com/cuemby/breeze/pkg/types"
)

// Component names reported to the display and the health checker
const (
	ComponentRegistry = "registry"
	ComponentDisplay  = "display"
	ComponentStore    = "store"
	ComponentSampler  = "sampler"
	ComponentFan      = "fan"
	ComponentMetrics  = "metrics"
	ComponentLink     = "link"
	ComponentTimeSync = "timesync"
	ComponentBus      = "bus"
)

// Options overrides the collaborators Run would otherwise build from the
// configuration
type Options struct {
	// Display defaults to a LogDisplay republished on the events broker
	Display Display
	// Hardware defaults to backend.Open(cfg.Hardware)
	Hardware *backend.Set
	// Store defaults to a bbolt store in cfg.Storage.DataDir
	Store storage.Store
}

// ErrCritical wraps the failure of a component startup cannot continue
// without
var ErrCritical = errors.New("critical component failed")

// Run starts the system in three stages. Critical and operational failures
// abort startup and tear down what was started; networking is best-effort
// and the returned System runs degraded when any of it fails.
func Run(ctx context.Context, cfg config.Config, opts Options) (*System, error) {
	s := &System{
		cfg:    cfg,
		Broker: events.NewBroker(),
		logger: log.WithComponent("bootstrap"),
	}
	s.Broker.Start()

	display := opts.Display
	if display == nil {
		display = NewBrokerDisplay(s.Broker, NewLogDisplay())
	}
	s.display = display

	metrics.SetCriticalComponents(ComponentRegistry, ComponentDisplay, ComponentSampler, ComponentFan)
	if err := s.startCritical(); err != nil {
		s.Shutdown()
		return nil, err
	}
	if err := s.startOperational(opts); err != nil {
		s.Shutdown()
		return nil, err
	}
	s.startNetworking(ctx)

	s.logger.Info().
		Bool("link", s.LinkConnected()).
		Bool("timesync", s.TimeSynced()).
		Bool("bus", s.BusConnected()).
		Msg("Startup complete")
	return s, nil
}

// report sends progress to the display and the health checker
func (s *System) report(name string, state types.ComponentState, detail string) {
	s.display.ReportComponent(name, state, detail)
	if state != types.ComponentWorking {
		metrics.UpdateComponent(name, state == types.ComponentSuccess, detail)
	}
}

// stage runs fn between a working and an outcome report
func (s *System) stage(name, working string, fn func() (string, error)) error {
	s.report(name, types.ComponentWorking, working)
	detail, err := fn()
	if err != nil {
		s.report(name, types.ComponentFailed, err.Error())
		return err
	}
	s.report(name, types.ComponentSuccess, detail)
	return nil
}

func (s *System) startCritical() error {
	if err := s.display.Begin(); err != nil {
		metrics.UpdateComponent(ComponentDisplay, false, err.Error())
		return fmt.Errorf("%w: display: %v", ErrCritical, err)
	}
	metrics.UpdateComponent(ComponentDisplay, true, "")

	return s.stage(ComponentRegistry, "creating task registry", func() (string, error) {
		s.Registry = registry.New(s.cfg.Tasks.Registry)
		err := s.Registry.StartMonitor(func(healthy bool) {
			msg := ""
			if !healthy {
				msg = "one or more tasks unhealthy"
			}
			metrics.UpdateComponent(ComponentRegistry, healthy, msg)
		})
		if err != nil {
			return "", fmt.Errorf("%w: registry: %v", ErrCritical, err)
		}
		return fmt.Sprintf("%d slots", s.Registry.Capacity()), nil
	})
}

func (s *System) startOperational(opts Options) error {
	s.hardware = opts.Hardware
	if s.hardware == nil {
		set, err := backend.Open(s.cfg.Hardware)
		if err != nil {
			s.report(ComponentFan, types.ComponentFailed, err.Error())
			return fmt.Errorf("failed to open hardware: %w", err)
		}
		s.hardware = set
		s.ownsHardware = true
	}

	// The store is optional: without it settings fall back to defaults
	s.store = opts.Store
	if s.store == nil {
		_ = s.stage(ComponentStore, "opening settings store", func() (string, error) {
			st, err := storage.NewBoltStore(s.cfg.Storage.DataDir)
			if err != nil {
				return "", err
			}
			s.store = st
			s.ownsStore = true
			return s.cfg.Storage.DataDir, nil
		})
	}

	if s.cfg.TimeSyncEnabled() {
		ts, err := timesync.New(s.cfg.TimeSync)
		if err != nil {
			s.report(ComponentTimeSync, types.ComponentFailed, err.Error())
		} else {
			s.TimeSync = ts
		}
	}

	sig := signals.NewGroup()

	err := s.stage(ComponentSampler, "starting temperature sampler", func() (string, error) {
		s.Sampler = sensor.New(s.cfg.Sensor, s.hardware.Sensor, sig)
		if err := s.Sampler.Start(s.Registry, s.cfg.Tasks.Sampler); err != nil {
			return "", err
		}
		return fmt.Sprintf("every %s", s.cfg.Sensor.Period), nil
	})
	if err != nil {
		return fmt.Errorf("failed to start sampler: %w", err)
	}

	err = s.stage(ComponentFan, "starting fan control", func() (string, error) {
		deps := fan.Deps{
			PWM:         s.hardware.PWM,
			Tachometer:  s.hardware.Tachometer,
			Store:       s.store,
			Temperature: s.Sampler,
			Signals:     sig,
			Broker:      s.Broker,
		}
		if s.TimeSync != nil {
			deps.Time = s.TimeSync
		}
		s.Fan = fan.New(s.cfg.Fan, deps)
		if err := s.Fan.Begin(); err != nil {
			return "", err
		}
		s.Fan.LoadSettings()
		if err := s.Fan.Start(s.Registry, s.cfg.Tasks.Fan); err != nil {
			return "", err
		}
		return fmt.Sprintf("mode %s", s.Fan.Mode()), nil
	})
	if err != nil {
		return fmt.Errorf("failed to start fan control: %w", err)
	}

	// Metrics are observability only
	_ = s.stage(ComponentMetrics, "starting metrics collector", func() (string, error) {
		c := metrics.NewCollector(s.Fan, s.Sampler, s.Registry)
		if err := c.Start(s.Registry, s.cfg.Tasks.Metrics, s.cfg.Tasks.MetricsInterval); err != nil {
			return "", err
		}
		return "", nil
	})
	return nil
}

// errLinkDown is reported for subsystems deferred until the link comes up
var errLinkDown = errors.New("deferred: link down")

// startNetworking never fails. Every worker that could be constructed is
// started, so a subsystem that missed its first attempt keeps retrying.
// Time sync and the bus only attempt to connect while the link is up, or
// always when no link check is configured.
func (s *System) startNetworking(ctx context.Context) {
	linkUp := true
	if s.cfg.LinkEnabled() {
		err := s.stage(ComponentLink, "connecting to "+s.cfg.Link.Target, func() (string, error) {
			m, err := link.New(s.cfg.Link)
			if err != nil {
				return "", err
			}
			s.track(ComponentLink, m.OnStateChange)
			beginErr := m.Begin(ctx)
			if err := m.Start(s.Registry, s.cfg.Tasks.Link); err != nil {
				return "", err
			}
			s.Link = m
			return "connected", beginErr
		})
		if s.Link == nil {
			s.skip(ComponentTimeSync, s.TimeSync != nil)
			s.skip(ComponentBus, s.cfg.MQTTEnabled())
			return
		}
		linkUp = err == nil
	}

	if s.TimeSync != nil {
		_ = s.stage(ComponentTimeSync, "synchronizing time", func() (string, error) {
			if s.Link != nil {
				s.TimeSync.RequireLink(s.Link.Connected)
			}
			s.track(ComponentTimeSync, s.TimeSync.OnStateChange)
			beginErr := errLinkDown
			if linkUp {
				beginErr = s.TimeSync.Begin(ctx)
			}
			if err := s.TimeSync.Start(s.Registry, s.cfg.Tasks.TimeSync); err != nil {
				return "", err
			}
			if beginErr != nil {
				return "", beginErr
			}
			return s.TimeSync.Now().Format("2006-01-02 15:04 MST"), nil
		})
	}

	if s.cfg.MQTTEnabled() {
		_ = s.stage(ComponentBus, "connecting to "+s.cfg.MQTT.Broker, func() (string, error) {
			m, err := bus.New(s.cfg.MQTT, s.Fan, s.Sampler)
			if err != nil {
				return "", err
			}
			if s.Link != nil {
				m.RequireLink(s.Link.Connected)
			}
			s.track(ComponentBus, m.OnStateChange)
			beginErr := errLinkDown
			if linkUp {
				beginErr = m.Begin(ctx)
			}
			if err := m.Start(s.Registry, s.cfg.Tasks.Bus); err != nil {
				return "", err
			}
			s.Bus = m
			if beginErr != nil {
				return "", beginErr
			}
			return "connected", nil
		})
	}
}

// track mirrors connection state changes after startup into the health
// checker
func (s *System) track(name string, onChange func(func(from, to string))) {
	onChange(func(from, to string) {
		switch to {
		case connstate.StateConnected:
			metrics.UpdateComponent(name, true, "")
		case connstate.StateWaiting, connstate.StateFailed:
			metrics.UpdateComponent(name, false, to)
		}
	})
}

func (s *System) skip(name string, enabled bool) {
	if enabled {
		s.report(name, types.ComponentFailed, "skipped: link down")
	}
}
