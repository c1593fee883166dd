// Package signals implements an edge-triggered, auto-clearing signal set for
// cross-worker notification.
//
// Producers set bits; a single consumer drains and clears them at its own
// cadence. Bits carry no payload and coalesce: setting a bit twice before the
// consumer drains it is observed once, and the consumer reads live state
// rather than a value carried with the signal.
package signals

import "sync/atomic"

// Bits is a set of signals
type Bits uint32

const (
	TemperatureUpdated Bits = 1 << iota
	NightModeChanged
	ModeChanged
)

// Has reports whether every bit in x is set in b
func (b Bits) Has(x Bits) bool {
	return b&x == x
}

// Group holds pending signals for one consumer
type Group struct {
	bits   atomic.Uint32
	notify chan struct{}
}

// NewGroup creates an empty signal group
func NewGroup() *Group {
	return &Group{notify: make(chan struct{}, 1)}
}

// Set raises b. It never blocks.
func (g *Group) Set(b Bits) {
	g.bits.Or(uint32(b))
	select {
	case g.notify <- struct{}{}:
	default:
	}
}

// Drain returns every pending bit and clears them atomically
func (g *Group) Drain() Bits {
	return Bits(g.bits.Swap(0))
}

// Pending returns the pending bits without clearing them
func (g *Group) Pending() Bits {
	return Bits(g.bits.Load())
}

// Notify returns a channel that receives after a Set. A consumer that only
// polls on its own cadence may ignore it.
func (g *Group) Notify() <-chan struct{} {
	return g.notify
}
