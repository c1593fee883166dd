/*
Package events provides the in-memory broker that fans daemon events out to
interested subscribers.

Publishers are control workers (fan alarms) and the bootstrap sequence
(component progress). Subscribers are displays and log sinks:

	Publisher ──▶ event channel (buffer 100) ──▶ broadcast loop
	                                                 │
	                         ┌───────────────────────┼──────────────┐
	                         ▼                       ▼              ▼
	                  subscriber (50)         subscriber (50)      ...

Publish never blocks. When the event channel is full the event is dropped
and counted; when a subscriber's buffer is full that subscriber misses the
event. A slow display can therefore never stall the fan control loop.

# Event types

	component.status   bootstrap progress, Metadata: component, state
	fan.stalled        stall shutoff, output forced to zero
	fan.recovered      recovery re-armed the fan at minimum speed
	fan.fault          PWM output could not be written
	fan.mode_changed   control mode changed, Metadata: mode

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		fmt.Println(ev.Type, ev.Message)
	}
*/
package events
