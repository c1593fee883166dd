/*
Package registry provides the fixed-capacity task registry that owns every
periodic worker in Breeze.

The registry owns no business logic. It hands out slots, spawns workers on
their own goroutines, optionally locks them to an OS thread pinned to a CPU
core with a niceness derived from the task priority, and keeps a health
record per slot:

	┌──────────── slot ────────────┐
	│ name, priority, core, budget │
	│ last heartbeat               │
	│ missed deadlines             │
	│ failure streak               │
	│ stack headroom               │
	│ state  running|blocked|      │
	│        exited|panicked       │
	│ healthy                      │
	└──────────────────────────────┘

Workers call Heartbeat once per loop iteration. The health monitor, itself a
registered task, calls ScanHealth on a fixed interval; a slot is unhealthy
when no heartbeat arrived within the timeout window, when its stack headroom
is below the critical threshold, or when its worker is no longer running.
Every scan logs a per-task dump.

Slots are never released during normal operation. Shutdown cancels the
context handed to every worker and waits for them to return.

Go does not expose per-goroutine stack size, so headroom is estimated as the
task budget minus the average stack in use per goroutine.
*/
package registry
