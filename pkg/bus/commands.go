package bus

import (
	"math"

	"github.com/cuemby/breeze/pkg/types"
	"github.com/goccy/go-json"
)

// Command bodies use pointer fields so a missing field is told apart from
// a zero value.

type modeCommand struct {
	Mode  *string `json:"mode"`
	Speed *int    `json:"speed"`
}

type nightModeCommand struct {
	Enabled *bool `json:"enabled"`
}

type nightSettingsCommand struct {
	StartHour *int `json:"start_hour"`
	EndHour   *int `json:"end_hour"`
	MaxSpeed  *int `json:"max_speed"`
}

type recoverCommand struct {
	Recover *bool `json:"recover"`
}

func decode(payload []byte, v interface{}) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return &types.ValidationError{Field: "payload", Reason: err.Error()}
	}
	return nil
}

func missing(field string) error {
	return &types.ValidationError{Field: field, Reason: "required"}
}

// handleMode accepts {"mode":"auto"} and {"mode":"manual","speed":N}. A
// manual command without speed keeps the stored manual speed. Speed is
// ignored for auto.
func (m *Manager) handleMode(payload []byte) error {
	var cmd modeCommand
	if err := decode(payload, &cmd); err != nil {
		return err
	}
	if cmd.Mode == nil {
		return missing("mode")
	}
	mode, err := types.ParseFanMode(*cmd.Mode)
	if err != nil {
		return err
	}
	if mode == types.ModeAuto {
		cmd.Speed = nil
	}
	return m.fan.ApplyMode(mode, cmd.Speed)
}

func (m *Manager) handleNightMode(payload []byte) error {
	var cmd nightModeCommand
	if err := decode(payload, &cmd); err != nil {
		return err
	}
	if cmd.Enabled == nil {
		return missing("enabled")
	}
	return m.fan.SetNightMode(*cmd.Enabled)
}

func (m *Manager) handleNightSettings(payload []byte) error {
	var cmd nightSettingsCommand
	if err := decode(payload, &cmd); err != nil {
		return err
	}
	switch {
	case cmd.StartHour == nil:
		return missing("start_hour")
	case cmd.EndHour == nil:
		return missing("end_hour")
	case cmd.MaxSpeed == nil:
		return missing("max_speed")
	}
	return m.fan.SetNightSettings(*cmd.StartHour, *cmd.EndHour, *cmd.MaxSpeed)
}

// handleRecover only acts on {"recover":true}; false is accepted and ignored
func (m *Manager) handleRecover(payload []byte) error {
	var cmd recoverCommand
	if err := decode(payload, &cmd); err != nil {
		return err
	}
	if cmd.Recover == nil {
		return missing("recover")
	}
	if !*cmd.Recover {
		return nil
	}
	return m.fan.AttemptRecovery()
}

// SystemDocument is the retained system status
type SystemDocument struct {
	State       string  `json:"state"`
	Speed       int     `json:"speed"`
	Mode        string  `json:"mode"`
	Temperature float64 `json:"temperature"`
	Error       string  `json:"error,omitempty"`
}

// NightDocument is the retained night mode status
type NightDocument struct {
	Enabled   bool `json:"enabled"`
	Active    bool `json:"active"`
	StartHour int  `json:"start_hour"`
	EndHour   int  `json:"end_hour"`
	MaxSpeed  int  `json:"max_speed"`
}

// BuildStatus combines fan and temperature state into the two status
// documents
func BuildStatus(fan types.FanSnapshot, temp Temperature) (SystemDocument, NightDocument) {
	sys := SystemDocument{
		State:       "off",
		Speed:       fan.CurrentSpeed,
		Mode:        fan.Mode.String(),
		Temperature: math.Round(temp.Smoothed()*10) / 10,
	}
	if fan.Status != types.StatusOK {
		sys.Speed = 0
	} else if fan.CurrentSpeed > 0 {
		sys.State = "on"
	}
	switch {
	case fan.Status == types.StatusShutoff:
		sys.Error = "fan stalled"
	case fan.Status == types.StatusError:
		sys.Error = "fan output fault"
	case !temp.Healthy():
		sys.Error = "temperature sensor failure"
	}

	night := NightDocument{
		Enabled:   fan.NightEnabled,
		Active:    fan.NightActive,
		StartHour: fan.Night.StartHour,
		EndHour:   fan.Night.EndHour,
		MaxSpeed:  fan.Night.MaxSpeed,
	}
	return sys, night
}
