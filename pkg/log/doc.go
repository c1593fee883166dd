/*
Package log provides structured logging for Breeze using zerolog.

The log package wraps the zerolog library with a process-wide logger,
configurable levels and helpers that attach the component, task or topic a
log line belongs to. Every subsystem (task registry, sampler, fan control,
link, time sync, message bus) logs through a component logger so that a
single JSON stream can be filtered per subsystem.

# Usage

Initializing the Logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component Loggers:

	fanLog := log.WithComponent("fan")
	fanLog.Warn().
		Int("rpm", rpm).
		Int("streak", streak).
		Msg("RPM below floor")

Task Loggers:

	taskLog := log.WithTask("sampler")
	taskLog.Debug().Msg("conversion requested")

# Output

JSON Format:

	{"level":"warn","component":"fan","rpm":120,"streak":2,"time":"2026-10-15T22:00:01Z","message":"RPM below floor"}

Console Format:

	22:00:01 WRN RPM below floor component=fan rpm=120 streak=2

# Levels

Debug is used for per-cycle detail (sensor phases, drained signals, the
task registry dump while everything is healthy). Info covers state
transitions such as mode changes and connection changes. Warn covers
degraded behavior that the system mitigates on its own: dropped commands,
rejected payloads, sensor failures. Error is reserved for hardware faults
and failed persistence.
*/
package log
