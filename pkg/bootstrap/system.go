package bootstrap

import (
	"errors"
	"sync"
	"time"

	"github.com/cuemby/breeze/pkg/bus"
	"github.com/cuemby/breeze/pkg/config"
	"github.com/cuemby/breeze/pkg/events"
	"github.com/cuemby/breeze/pkg/fan"
	"github.com/cuemby/breeze/pkg/hw/backend"
	"github.com/cuemby/breeze/pkg/link"
	"github.com/cuemby/breeze/pkg/registry"
	"github.com/cuemby/breeze/pkg/sensor"
	"github.com/cuemby/breeze/pkg/storage"
	"github.com/cuemby/breeze/pkg/timesync"
	"github.com/cuemby/breeze/pkg/types"
	"github.com/rs/zerolog"
)

// shutdownTimeout bounds the wait for workers at teardown
const shutdownTimeout = 5 * time.Second

// System is a running breeze instance. Optional subsystems that were not
// configured or failed to construct are nil.
type System struct {
	Registry *registry.Registry
	Broker   *events.Broker
	Sampler  *sensor.Sampler
	Fan      *fan.Controller
	Link     *link.Manager
	TimeSync *timesync.Manager
	Bus      *bus.Manager

	cfg          config.Config
	display      Display
	hardware     *backend.Set
	ownsHardware bool
	store        storage.Store
	ownsStore    bool
	logger       zerolog.Logger
	shutdownOnce sync.Once
}

// Status implements the display query interface. Every getter it calls
// falls back to the last known value on lock timeout.
func (s *System) Status() types.SystemStatus {
	var st types.SystemStatus
	if s.Fan != nil {
		st.Fan = s.Fan.Snapshot()
		st.Status = st.Fan.Status.String()
		st.Mode = st.Fan.Mode.String()
	}
	if s.Sampler != nil {
		st.Temperature = s.Sampler.Smoothed()
	}
	st.LinkConnected = s.LinkConnected()
	st.BusConnected = s.BusConnected()
	st.TimeSynced = s.TimeSynced()
	if s.Bus != nil {
		st.BusQueued = s.Bus.Pending()
		st.BusDropped = s.Bus.Dropped()
	}
	return st
}

// LinkConnected reports whether the link is up
func (s *System) LinkConnected() bool {
	return s.Link != nil && s.Link.Connected()
}

// BusConnected reports whether the broker session is up
func (s *System) BusConnected() bool {
	return s.Bus != nil && s.Bus.Connected()
}

// TimeSynced reports whether coordinated time is available
func (s *System) TimeSynced() bool {
	return s.TimeSync != nil && s.TimeSync.Synchronized()
}

// Shutdown marks the device offline, stops every worker and releases the
// store and the hardware it opened. It is safe to call more than once.
func (s *System) Shutdown() error {
	var errs []error
	s.shutdownOnce.Do(func() {
		if s.Bus != nil {
			s.Bus.Close()
		}
		if s.Registry != nil {
			if err := s.Registry.Shutdown(shutdownTimeout); err != nil {
				errs = append(errs, err)
			}
		}
		if s.store != nil && s.ownsStore {
			if err := s.store.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.hardware != nil && s.ownsHardware {
			if err := s.hardware.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.Broker.Stop()
		s.logger.Info().Msg("Shutdown complete")
	})
	return errors.Join(errs...)
}
