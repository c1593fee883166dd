/*
Package bootstrap sequences the startup of breezed and owns the running
System.

# Stages

	┌─ critical ───────────────┐   failure aborts startup
	│ display.Begin            │
	│ registry + health scan   │
	└────────────┬─────────────┘
	             ▼
	┌─ operational ────────────┐   failure aborts startup
	│ hardware backends        │
	│ settings store (optional)│
	│ sampler worker           │
	│ fan control worker       │
	│ metrics collector        │
	└────────────┬─────────────┘
	             ▼
	┌─ networking ─────────────┐   best-effort
	│ link                     │
	│   └─► timesync, bus      │   connect only while the link is up
	└──────────────────────────┘

Each component is reported to the Display twice, first as working and then
as success or failed with a detail string, and to the metrics health
checker once with the outcome. Later connection state changes of the link,
time sync and the bus are mirrored into the health checker.

Every networking worker that could be constructed is started, even after a
failed first attempt, and keeps retrying. When the link is down at boot,
time sync and the bus are reported as deferred and their workers hold back
until the link comes up. Without a configured link target they are never
held back.

An aborted startup tears down everything already started. A completed
startup always returns a running System, degraded or not.
*/
package bootstrap
