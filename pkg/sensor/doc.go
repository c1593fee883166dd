/*
Package sensor implements the temperature sampler.

A conversion is requested in one step and read back in a later step, once
the conversion latency has elapsed, so the worker never sleeps waiting for
the sensor:

	idle ──request──▶ converting ──latency elapsed──▶ read ──▶ idle
	  ▲                                                        │
	  └──────────────────── next period ◀─────────────────────┘

A reading is accepted when it is neither the disconnected sentinel nor the
power-on default and lies within the plausible range. Accepted readings go
into a ring buffer whose mean is the smoothed value, and set the
TemperatureUpdated signal for the fan controller. Rejected readings grow a
failure streak; once it reaches the threshold the raw value reverts to the
safe default while the smoothed value keeps its history.
*/
package sensor
