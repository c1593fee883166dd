/*
Package fan implements the fan controller.

The controller owns the PWM output and the tachometer. Mode and status are
separate axes:

	mode:   AUTO ◀──────▶ MANUAL            (remote commands only)
	status: OK ──stall──▶ SHUTOFF           (stall detection only)
	        OK ──pwm write fails──▶ ERROR
	        SHUTOFF / ERROR ──AttemptRecovery──▶ OK

In AUTO the requested speed follows the smoothed temperature, clamped to
the trigger range and mapped linearly onto the speed range. In MANUAL it is
set by the operator. The night cap is applied last:

	effective = nightActive ? min(requested, nightCap) : requested

and only the effective speed reaches the PWM output, only while the status
is OK and only when it changed.

# Worker

One worker runs two cadences. The fast one drains the signal group
(TemperatureUpdated, NightModeChanged, ModeChanged); the slow one counts
tachometer pulses, converts them to RPM and runs stall detection. While the
commanded speed is above minimum, StallRetries consecutive readings below
MinRPM force the output to zero and set SHUTOFF. Nothing but
AttemptRecovery re-arms the fan.

# Locking

Mutators wait up to lock.ControlTimeout and report types.ErrTimeout.
Display reads wait up to lock.DisplayTimeout and fall back to the previous
snapshot.
*/
package fan
