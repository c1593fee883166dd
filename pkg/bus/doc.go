/*
Package bus connects the fan to an MQTT broker: remote control commands in,
retained status documents out.

# Inbound path

The MQTT client delivers messages on its own goroutine. Enqueue copies each
message into a bounded channel and returns immediately; a full queue or an
oversized message is dropped, logged and counted, never retried. The bus
worker drains at most DrainBatch messages per cycle.

	paho callback ──► Enqueue ──► [ queue (10) ] ──► Drain (≤5 / 50ms)
	                     │                               │
	                     └─► drop (full / too large)     ▼
	                                                 Dispatch ──► fan.Controller

Each control topic maps to exactly one intent:

	<prefix>/control/mode            {"mode":"auto"} | {"mode":"manual","speed":0-100}
	<prefix>/control/night_mode      {"enabled":bool}
	<prefix>/control/night_settings  {"start_hour":0-23,"end_hour":0-23,"max_speed":0-100}
	<prefix>/control/recover         {"recover":bool}

Payloads are decoded and every required field checked before the controller
is touched. A rejected command changes nothing.

# Outbound path

All outbound messages are retained:

	<prefix>/status/system       {"state","speed","mode","temperature","error"}
	<prefix>/status/night_mode   {"enabled","active","start_hour","end_hour","max_speed"}
	<prefix>/availability        "online" periodically, "offline" as last will

# Connection

The session is driven by a connstate.Tracker with capped exponential backoff
and no retry limit. Paho auto-reconnect is disabled so the worker owns every
reconnect decision.
*/
package bus
