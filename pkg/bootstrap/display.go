package bootstrap

import (
	"github.com/cuemby/breeze/pkg/events"
	"github.com/cuemby/breeze/pkg/log"
	"github.com/cuemby/breeze/pkg/types"
	"github.com/rs/zerolog"
)

// Display is the startup progress collaborator. ReportComponent is called
// once with ComponentWorking and once with the outcome for every component.
type Display interface {
	Begin() error
	ReportComponent(name string, state types.ComponentState, detail string)
}

// LogDisplay writes progress to the log
type LogDisplay struct {
	logger zerolog.Logger
}

// NewLogDisplay creates a display backed by the component logger
func NewLogDisplay() *LogDisplay {
	return &LogDisplay{logger: log.WithComponent("display")}
}

func (d *LogDisplay) Begin() error {
	d.logger.Info().Msg("Starting breeze")
	return nil
}

func (d *LogDisplay) ReportComponent(name string, state types.ComponentState, detail string) {
	var ev *zerolog.Event
	switch state {
	case types.ComponentFailed:
		ev = d.logger.Warn()
	case types.ComponentWorking:
		ev = d.logger.Debug()
	default:
		ev = d.logger.Info()
	}
	ev.Str("name", name).Str("state", string(state)).Str("detail", detail).Msg("Component status")
}

// BrokerDisplay republishes progress on the events broker and forwards to
// an optional inner display
type BrokerDisplay struct {
	broker *events.Broker
	inner  Display
}

// NewBrokerDisplay creates a display publishing component.status events
func NewBrokerDisplay(broker *events.Broker, inner Display) *BrokerDisplay {
	return &BrokerDisplay{broker: broker, inner: inner}
}

func (d *BrokerDisplay) Begin() error {
	if d.inner != nil {
		return d.inner.Begin()
	}
	return nil
}

func (d *BrokerDisplay) ReportComponent(name string, state types.ComponentState, detail string) {
	if d.inner != nil {
		d.inner.ReportComponent(name, state, detail)
	}
	d.broker.Publish(&events.Event{
		Type:    events.EventComponentStatus,
		Message: detail,
		Metadata: map[string]string{
			"component": name,
			"state":     string(state),
		},
	})
}
