/*
Package health provides the reachability probes used by the link manager.

Two probes implement the Checker interface:

	┌────────────────────────────────────────────┐
	│              Checker Interface             │
	│  • Check(ctx) Result                       │
	│  • Type() CheckType                        │
	└──────────┬─────────────────────┬───────────┘
	           ▼                     ▼
	     ┌───────────┐         ┌───────────┐
	     │    TCP    │         │   HTTP    │
	     │  Checker  │         │  Checker  │
	     └───────────┘         └───────────┘
	       connect to            GET a
	       gateway:port          connectivity URL

A probe never returns an error. Failures are reported in Result.Message
with Healthy set to false, so callers treat every outcome the same way.

# Status

Status counts consecutive outcomes. While a link is up the manager keeps
probing and only declares it lost after the configured number of
consecutive failures, so a single dropped probe does not restart the
connection state machine:

	s := health.NewStatus()
	s.Update(checker.Check(ctx), 3)
	if !s.Healthy {
		// link lost
	}
*/
package health
