/*
Package types defines the domain model shared by every Breeze subsystem.

Mode and status are two orthogonal axes. FanMode (auto, manual) is chosen by
the operator; FanStatus (ok, shutoff, error) is driven only by stall
detection and recovery inside the fan controller. ModeError exists solely as
a sentinel that mutators and persistence reject, so an error can never be
stored as an operating mode.

FanConfig carries the tuning of a fan: trigger temperature range, speed
range, raw PWM range, the night window, the RPM floor and the stall retry
threshold. Settings is the subset that survives a power loss.

The error taxonomy used across the module lives in errors.go:

	ErrResourceExhausted  slot, queue or lock creation failed
	ErrTimeout            bounded-wait lock not acquired
	ErrValidation         malformed or out-of-range external command
	ErrHardwareFault      stalled rotor, disconnected sensor, failed output
*/
package types
