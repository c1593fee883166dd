/*
Package api serves the breezed HTTP endpoints.

The server is read-only: every endpoint except /metrics goes through the
ReadOnly and Instrument middleware, so methods other than GET and HEAD get
405 and every request is counted in breeze_http_requests_total. Control
commands arrive over the message bus, never over HTTP.

# Endpoints

	GET /health   component reports plus a fresh task registry scan
	              200 healthy, 503 when any component or task is unhealthy
	GET /ready    200 once every critical component reported healthy
	GET /live     200 while the process serves HTTP
	GET /status   display query interface as JSON
	GET /metrics  Prometheus exposition
	GET /events   server-sent events from the events broker: startup
	              component reports and fan alarms (stall, recovery,
	              output fault, mode change)

Example /status body:

	{
	  "fan": {"current_speed": 30, "target_speed": 55, "rpm": 1240,
	          "night_enabled": true, "night_active": true},
	  "status": "ok",
	  "mode": "auto",
	  "temperature": 33.4,
	  "link_connected": true,
	  "bus_connected": true,
	  "time_synced": true,
	  "bus_queued": 0,
	  "bus_dropped": 2
	}
*/
package api
