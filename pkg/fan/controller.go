package fan

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/cuemby/breeze/pkg/events"
	"github.com/cuemby/breeze/pkg/hw"
	"github.com/cuemby/breeze/pkg/lock"
	"github.com/cuemby/breeze/pkg/log"
	"github.com/cuemby/breeze/pkg/metrics"
	"github.com/cuemby/breeze/pkg/registry"
	"github.com/cuemby/breeze/pkg/signals"
	"github.com/cuemby/breeze/pkg/storage"
	"github.com/cuemby/breeze/pkg/types"
	"github.com/rs/zerolog"
)

// TemperatureSource is the sampler as seen by the controller
type TemperatureSource interface {
	Smoothed() float64
	LastValid() (float64, bool)
}

// TimeSource provides the coordinated hour of day when synchronized and
// the zone the hour is reported in
type TimeSource interface {
	Synchronized() bool
	CurrentHour() int
	Location() *time.Location
}

// Deps are the collaborators of a Controller. Store, Temperature, Time and
// Broker are optional.
type Deps struct {
	PWM         hw.PWM
	Tachometer  hw.Tachometer
	Store       storage.Store
	Temperature TemperatureSource
	Time        TimeSource
	Signals     *signals.Group
	Broker      *events.Broker
}

// Controller combines temperature, time of day and remote commands into one
// target speed and guards the rotor against stalls
type Controller struct {
	cfg    types.FanConfig
	deps   Deps
	mu     *lock.Timed
	logger zerolog.Logger
	now    func() time.Time

	mode        types.FanMode
	status      types.FanStatus
	night       types.NightSettings
	nightActive bool
	manualSpeed int
	target      types.SpeedTarget
	duty        uint32
	dutyWritten bool
	rpm         int
	stallCount  int
	lastCheck   time.Time

	last atomic.Pointer[types.FanSnapshot]
}

// New creates a controller in AUTO mode with the configured night window
func New(cfg types.FanConfig, deps Deps) *Controller {
	if deps.Signals == nil {
		deps.Signals = signals.NewGroup()
	}
	c := &Controller{
		cfg:         cfg,
		deps:        deps,
		mu:          lock.New(),
		logger:      log.WithComponent("fan"),
		now:         time.Now,
		mode:        types.ModeAuto,
		status:      types.StatusOK,
		night:       cfg.Night,
		manualSpeed: cfg.MinSpeed,
	}
	s := c.snapshotLocked()
	c.last.Store(&s)
	return c
}

// Begin configures the PWM output and the pulse counter and drives the fan
// at minimum speed. It runs before the worker exists.
func (c *Controller) Begin() error {
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("failed to begin fan control: %w", err)
	}
	if c.deps.PWM == nil || c.deps.Tachometer == nil {
		return fmt.Errorf("failed to begin fan control: pwm and tachometer required: %w", types.ErrHardwareFault)
	}
	if err := c.deps.PWM.Configure(c.cfg.PWMFrequency, c.cfg.PWMResolution); err != nil {
		return fmt.Errorf("failed to configure pwm: %w", err)
	}
	if err := c.deps.Tachometer.Start(); err != nil {
		return fmt.Errorf("failed to start tachometer: %w", err)
	}

	c.mu.Lock()
	c.lastCheck = c.now()
	c.evaluateNightLocked()
	c.updateTargetSpeedLocked(c.cfg.MinSpeed)
	c.mu.Unlock()
	c.storeSnapshot()

	if c.Status() == types.StatusError {
		return fmt.Errorf("failed to drive fan at minimum speed: %w", types.ErrHardwareFault)
	}
	c.logger.Info().
		Int("min_speed", c.cfg.MinSpeed).
		Int("pwm_frequency", c.cfg.PWMFrequency).
		Int("pwm_resolution", c.cfg.PWMResolution).
		Msg("Fan control started")
	return nil
}

// LoadSettings restores persisted settings. A missing or unavailable store
// leaves the defaults in place.
func (c *Controller) LoadSettings() {
	defaults := types.DefaultSettings(c.cfg)
	if c.deps.Store == nil {
		return
	}
	s, err := c.deps.Store.Load(defaults)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Using default settings")
	}
	c.ApplySettings(s)
}

// ApplySettings installs s without persisting it. Out-of-range fields keep
// their current values.
func (c *Controller) ApplySettings(s types.Settings) {
	c.mu.Lock()
	if s.Mode.Valid() {
		c.mode = s.Mode
	}
	if s.ManualSpeed >= 0 && s.ManualSpeed <= 100 {
		c.manualSpeed = s.ManualSpeed
	}
	if night := s.Night(); night.Validate() == nil {
		c.night = night
	}
	c.evaluateNightLocked()
	if c.mode == types.ModeManual {
		c.updateTargetSpeedLocked(c.manualSpeed)
	} else {
		c.rederiveLocked()
	}
	mode := c.mode
	c.mu.Unlock()
	c.storeSnapshot()

	c.logger.Info().Str("mode", mode.String()).Msg("Settings applied")
}

// Start registers the control worker. A raised signal arms the event
// cadence and the next event tick drains it; RPM is measured on the slower
// stall cadence.
func (c *Controller) Start(reg *registry.Registry, task registry.TaskConfig) error {
	return reg.Register(task, func(ctx context.Context) {
		eventTick := time.NewTicker(c.cfg.EventInterval)
		defer eventTick.Stop()
		stallTick := time.NewTicker(c.cfg.StallInterval)
		defer stallTick.Stop()
		notify := c.deps.Signals.Notify()
		armed := false

		for {
			var drain <-chan time.Time
			if armed {
				drain = eventTick.C
			}
			select {
			case <-notify:
				armed = true
			case <-drain:
				armed = false
				reg.Heartbeat(task.Name)
				c.ProcessSignals()
			case <-stallTick.C:
				reg.Heartbeat(task.Name)
				c.CheckStall()
				c.EvaluateNight()
			case <-ctx.Done():
				return
			}
		}
	})
}

// SetControlMode switches between AUTO and MANUAL
func (c *Controller) SetControlMode(mode types.FanMode) error {
	return c.ApplyMode(mode, nil)
}

// ApplyMode switches mode and, in MANUAL, optionally sets the speed in the
// same critical section. Entering AUTO re-derives speed from the last
// successful temperature reading. Settings are persisted afterwards.
func (c *Controller) ApplyMode(mode types.FanMode, speed *int) error {
	if !mode.Valid() {
		return &types.ValidationError{Field: "mode", Reason: "error sentinel is not an operating mode"}
	}
	if speed != nil {
		if mode != types.ModeManual {
			return &types.ValidationError{Field: "speed", Reason: "only allowed in manual mode"}
		}
		if err := validPercent("speed", *speed); err != nil {
			return err
		}
	}

	release, ok := c.mu.Guard(lock.ControlTimeout)
	if !ok {
		return fmt.Errorf("failed to set mode: %w", types.ErrTimeout)
	}
	prev := c.mode
	c.mode = mode
	switch mode {
	case types.ModeAuto:
		if prev != types.ModeAuto {
			c.rederiveLocked()
		}
	case types.ModeManual:
		if speed != nil {
			c.manualSpeed = *speed
		}
		c.updateTargetSpeedLocked(c.manualSpeed)
	}
	settings := c.settingsLocked()
	release()

	c.storeSnapshot()
	c.persist(settings)
	c.deps.Signals.Set(signals.ModeChanged)
	if prev != mode {
		c.publish(events.EventFanModeChanged, "control mode changed", map[string]string{"mode": mode.String()})
	}
	return nil
}

// SetTemperature maps temp onto the speed range. AUTO mode only.
func (c *Controller) SetTemperature(temp float64) error {
	release, ok := c.mu.Guard(lock.ControlTimeout)
	if !ok {
		return fmt.Errorf("failed to set temperature: %w", types.ErrTimeout)
	}
	defer func() {
		release()
		c.storeSnapshot()
	}()

	if c.mode != types.ModeAuto {
		return fmt.Errorf("set temperature in %s mode: %w", c.mode, types.ErrWrongMode)
	}
	c.updateTargetSpeedLocked(SpeedForTemperature(c.cfg, temp))
	return nil
}

// SetSpeedDutyCycle sets the requested speed directly. MANUAL mode only.
func (c *Controller) SetSpeedDutyCycle(percent int) error {
	if err := validPercent("speed", percent); err != nil {
		return err
	}

	release, ok := c.mu.Guard(lock.ControlTimeout)
	if !ok {
		return fmt.Errorf("failed to set speed: %w", types.ErrTimeout)
	}
	if c.mode != types.ModeManual {
		mode := c.mode
		release()
		return fmt.Errorf("set speed in %s mode: %w", mode, types.ErrWrongMode)
	}
	c.manualSpeed = percent
	c.updateTargetSpeedLocked(percent)
	settings := c.settingsLocked()
	release()

	c.storeSnapshot()
	c.persist(settings)
	return nil
}

// SetNightMode enables or disables the night cap
func (c *Controller) SetNightMode(enabled bool) error {
	release, ok := c.mu.Guard(lock.ControlTimeout)
	if !ok {
		return fmt.Errorf("failed to set night mode: %w", types.ErrTimeout)
	}
	if c.night.Enabled == enabled {
		release()
		return nil
	}
	c.night.Enabled = enabled
	c.evaluateNightLocked()
	settings := c.settingsLocked()
	release()

	c.storeSnapshot()
	c.persist(settings)
	c.deps.Signals.Set(signals.NightModeChanged)
	c.logger.Info().Bool("enabled", enabled).Msg("Night mode changed")
	return nil
}

// SetNightSettings validates and installs a new night window and cap.
// Speed is re-derived from the requested speed only when something changed.
func (c *Controller) SetNightSettings(startHour, endHour, maxSpeed int) error {
	next := types.NightSettings{StartHour: startHour, EndHour: endHour, MaxSpeed: maxSpeed}
	if err := next.Validate(); err != nil {
		return err
	}

	release, ok := c.mu.Guard(lock.ControlTimeout)
	if !ok {
		return fmt.Errorf("failed to set night settings: %w", types.ErrTimeout)
	}
	next.Enabled = c.night.Enabled
	if next == c.night {
		release()
		return nil
	}
	c.night = next
	c.nightActive = c.nightActiveLocked()
	c.updateTargetSpeedLocked(c.target.Requested)
	settings := c.settingsLocked()
	release()

	c.storeSnapshot()
	c.persist(settings)
	c.deps.Signals.Set(signals.NightModeChanged)
	c.logger.Info().
		Int("start_hour", startHour).
		Int("end_hour", endHour).
		Int("max_speed", maxSpeed).
		Msg("Night settings changed")
	return nil
}

// AttemptRecovery is the only way out of SHUTOFF and ERROR: it clears the
// stall streak and re-arms the fan at minimum speed
func (c *Controller) AttemptRecovery() error {
	release, ok := c.mu.Guard(lock.ControlTimeout)
	if !ok {
		return fmt.Errorf("failed to recover: %w", types.ErrTimeout)
	}
	prev := c.status
	c.status = types.StatusOK
	c.stallCount = 0
	c.dutyWritten = false
	c.updateTargetSpeedLocked(c.cfg.MinSpeed)
	status := c.status
	release()
	c.storeSnapshot()

	if status != types.StatusOK {
		return fmt.Errorf("recovery failed: %w", types.ErrHardwareFault)
	}
	c.logger.Info().Str("previous", prev.String()).Msg("Fan re-armed at minimum speed")
	c.publish(events.EventFanRecovered, "fan re-armed at minimum speed", nil)
	return nil
}

// ProcessSignals drains the signal group. A temperature update re-derives
// speed in AUTO mode once a valid reading exists; mode and night changes
// re-evaluate the night window.
func (c *Controller) ProcessSignals() {
	bits := c.deps.Signals.Drain()
	if bits == 0 {
		return
	}
	if bits.Has(signals.NightModeChanged) || bits.Has(signals.ModeChanged) {
		c.EvaluateNight()
	}
	if bits.Has(signals.TemperatureUpdated) && c.deps.Temperature != nil {
		if _, ok := c.deps.Temperature.LastValid(); !ok {
			return
		}
		if c.Mode() != types.ModeAuto {
			return
		}
		// a lost race with a mode change is harmless: the next update retries
		_ = c.SetTemperature(c.deps.Temperature.Smoothed())
	}
}

// EvaluateNight recomputes whether the night window is active and
// re-derives speed on a change
func (c *Controller) EvaluateNight() {
	release, ok := c.mu.Guard(lock.DefaultTimeout)
	if !ok {
		return
	}
	changed := c.evaluateNightLocked()
	active := c.nightActive
	release()

	if changed {
		c.storeSnapshot()
		c.logger.Info().Bool("active", active).Msg("Night window changed")
	}
}

// CheckStall measures RPM since the previous call. While the commanded
// speed is above minimum, consecutive readings below the RPM floor lead to
// SHUTOFF with the output forced to zero.
func (c *Controller) CheckStall() {
	pulses := c.deps.Tachometer.TakePulses()

	release, ok := c.mu.Guard(lock.DefaultTimeout)
	if !ok {
		return
	}
	now := c.now()
	elapsed := now.Sub(c.lastCheck).Seconds()
	c.lastCheck = now
	c.rpm = hw.RPM(pulses, c.cfg.PulsesPerRevolution, elapsed)

	if c.status != types.StatusOK || c.target.Effective <= c.cfg.MinSpeed {
		c.stallCount = 0
		release()
		c.storeSnapshot()
		return
	}

	if c.rpm >= c.cfg.MinRPM {
		c.stallCount = 0
		release()
		c.storeSnapshot()
		return
	}

	c.stallCount++
	streak, rpm := c.stallCount, c.rpm
	shutoff := streak >= c.cfg.StallRetries
	if shutoff {
		c.status = types.StatusShutoff
		c.writeDutyLocked(0)
	}
	release()
	c.storeSnapshot()

	if !shutoff {
		c.logger.Warn().Int("rpm", rpm).Int("streak", streak).Msg("RPM below floor")
		return
	}
	metrics.StallShutoffsTotal.Inc()
	c.logger.Error().Int("rpm", rpm).Int("streak", streak).Msg("Fan stalled, output forced to zero")
	c.publish(events.EventFanStalled, fmt.Sprintf("rpm %d below floor %d", rpm, c.cfg.MinRPM), nil)
}

// Snapshot returns the display query fields. It falls back to the previous
// snapshot when the lock is not acquired within the display timeout.
func (c *Controller) Snapshot() types.FanSnapshot {
	release, ok := c.mu.Guard(lock.DisplayTimeout)
	if !ok {
		return *c.last.Load()
	}
	defer release()
	return c.snapshotLocked()
}

// Mode returns the control mode
func (c *Controller) Mode() types.FanMode {
	return c.Snapshot().Mode
}

// Status returns the fan status
func (c *Controller) Status() types.FanStatus {
	return c.Snapshot().Status
}

// Speed returns the effective speed in percent
func (c *Controller) Speed() int {
	return c.Snapshot().CurrentSpeed
}

// Target returns the requested and effective speed
func (c *Controller) Target() types.SpeedTarget {
	s := c.Snapshot()
	return types.SpeedTarget{Requested: s.TargetSpeed, Effective: s.CurrentSpeed}
}

// Settings returns the durable image of the current state
func (c *Controller) Settings() types.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settingsLocked()
}

// SpeedForTemperature clamps temp to the trigger range and maps it linearly
// onto the speed range
func SpeedForTemperature(cfg types.FanConfig, temp float64) int {
	if math.IsNaN(temp) {
		return cfg.MaxSpeed
	}
	if temp < cfg.MinTemp {
		temp = cfg.MinTemp
	}
	if temp > cfg.MaxTemp {
		temp = cfg.MaxTemp
	}
	span := cfg.MaxTemp - cfg.MinTemp
	if span <= 0 {
		return cfg.MinSpeed
	}
	frac := (temp - cfg.MinTemp) / span
	return cfg.MinSpeed + int(frac*float64(cfg.MaxSpeed-cfg.MinSpeed))
}

// rederiveLocked recomputes the AUTO speed from the last successful reading
func (c *Controller) rederiveLocked() {
	if c.deps.Temperature == nil {
		c.updateTargetSpeedLocked(c.cfg.MinSpeed)
		return
	}
	temp, ok := c.deps.Temperature.LastValid()
	if !ok {
		c.updateTargetSpeedLocked(c.cfg.MinSpeed)
		return
	}
	c.updateTargetSpeedLocked(SpeedForTemperature(c.cfg, temp))
}

// updateTargetSpeedLocked applies the night cap to requested and writes the
// result to the PWM output when the status is OK and the value changed
func (c *Controller) updateTargetSpeedLocked(requested int) {
	effective := requested
	if c.nightActive && effective > c.night.MaxSpeed {
		effective = c.night.MaxSpeed
	}
	c.target.Requested = requested
	c.target.Effective = effective

	if c.status != types.StatusOK {
		return
	}
	c.writeDutyLocked(c.percentToDuty(effective))
}

func (c *Controller) writeDutyLocked(duty uint32) {
	if c.dutyWritten && duty == c.duty {
		return
	}
	if err := c.deps.PWM.SetDuty(duty); err != nil {
		c.status = types.StatusError
		c.dutyWritten = false
		c.logger.Error().Err(err).Uint32("duty", duty).Msg("PWM write failed")
		c.publish(events.EventFanFault, err.Error(), nil)
		return
	}
	c.duty = duty
	c.dutyWritten = true
}

func (c *Controller) percentToDuty(percent int) uint32 {
	if percent <= 0 {
		return 0
	}
	if percent > 100 {
		percent = 100
	}
	span := c.cfg.MaxPWM - c.cfg.MinPWM
	return c.cfg.MinPWM + span*uint32(percent)/100
}

// evaluateNightLocked updates nightActive and reports whether it changed
func (c *Controller) evaluateNightLocked() bool {
	active := c.nightActiveLocked()
	if active == c.nightActive {
		return false
	}
	c.nightActive = active
	c.updateTargetSpeedLocked(c.target.Requested)
	return true
}

func (c *Controller) nightActiveLocked() bool {
	if !c.night.Enabled {
		return false
	}
	return c.night.InWindow(c.currentHour())
}

// currentHour prefers the synchronized clock and falls back to the local one
// currentHour falls back to the local clock in the time source's zone
// while unsynchronized
func (c *Controller) currentHour() int {
	if c.deps.Time == nil {
		return c.now().Hour()
	}
	if c.deps.Time.Synchronized() {
		return c.deps.Time.CurrentHour()
	}
	now := c.now()
	if loc := c.deps.Time.Location(); loc != nil {
		now = now.In(loc)
	}
	return now.Hour()
}

func (c *Controller) settingsLocked() types.Settings {
	return types.Settings{
		Mode:          c.mode,
		ManualSpeed:   c.manualSpeed,
		NightEnabled:  c.night.Enabled,
		NightStart:    c.night.StartHour,
		NightEnd:      c.night.EndHour,
		NightMaxSpeed: c.night.MaxSpeed,
	}
}

// snapshotLocked reports zero output speed while the status is not OK since
// the PWM output is held at zero
func (c *Controller) snapshotLocked() types.FanSnapshot {
	current := c.target.Effective
	if c.status != types.StatusOK {
		current = 0
	}
	return types.FanSnapshot{
		CurrentSpeed: current,
		TargetSpeed:  c.target.Requested,
		RPM:          c.rpm,
		Status:       c.status,
		Mode:         c.mode,
		NightEnabled: c.night.Enabled,
		NightActive:  c.nightActive,
		Night:        c.night,
	}
}

// storeSnapshot refreshes the fallback used by Snapshot on lock timeout
func (c *Controller) storeSnapshot() {
	release, ok := c.mu.Guard(lock.DisplayTimeout)
	if !ok {
		return
	}
	s := c.snapshotLocked()
	release()
	c.last.Store(&s)
}

func (c *Controller) persist(s types.Settings) {
	if c.deps.Store == nil {
		return
	}
	if err := c.deps.Store.Save(s); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist settings")
	}
}

func (c *Controller) publish(t events.EventType, msg string, meta map[string]string) {
	if c.deps.Broker == nil {
		return
	}
	c.deps.Broker.Publish(&events.Event{Type: t, Message: msg, Metadata: meta})
}

func validPercent(field string, v int) error {
	if v < 0 || v > 100 {
		return &types.ValidationError{Field: field, Reason: "must be between 0 and 100"}
	}
	return nil
}
