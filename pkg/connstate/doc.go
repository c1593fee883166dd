/*
Package connstate provides the connection state machine used by every
network-facing manager.

	          attempt             succeed
	idle ───────────▶ connecting ─────────▶ connected
	                   │  ▲    │                 │
	              fail │  │    │ exhaust         │ lose
	                   ▼  │    ▼                 │
	               waiting┘  failed              │
	                   ▲                         │
	                   └─────────────────────────┘

The delay before retry attempt k is base × 2^min(k-1, maxShift). A tracker
with MaxRetries moves to failed once the budget is spent and stays there
until Reset. A tracker without one retries forever at the capped delay.

The tracker never sleeps. Owners poll Due from their periodic worker, run
the attempt, and report Succeeded, Failed or Lost.
*/
package connstate
