// Package hw defines the hardware seams of the fan controller: the PWM
// output, the tachometer pulse counter and the two-phase temperature sensor.
// Backends live in subpackages.
package hw

import (
	"context"
	"sync/atomic"
)

// PWM drives the fan's duty cycle
type PWM interface {
	// Configure sets the carrier frequency and duty resolution
	Configure(frequencyHz int, resolutionBits int) error
	// SetDuty writes a raw duty value in [0, 2^resolution-1]
	SetDuty(raw uint32) error
}

// Tachometer counts rotor pulses
type Tachometer interface {
	Start() error
	// TakePulses returns the pulses counted since the previous call and
	// resets the count
	TakePulses() uint32
	Close() error
}

// TemperatureSensor is read in two phases: a conversion request, then a
// read-back once the conversion latency has elapsed
type TemperatureSensor interface {
	RequestConversion(ctx context.Context) error
	ReadCelsius(ctx context.Context) (float64, error)
}

// PulseCounter is shared between an edge-event producer and the consumer
// computing RPM. The producer increments without waiting; the consumer
// fetches and resets in one atomic step.
type PulseCounter struct {
	n atomic.Uint32
}

// Inc records one pulse
func (c *PulseCounter) Inc() {
	c.n.Add(1)
}

// Take returns the count and resets it to zero
func (c *PulseCounter) Take() uint32 {
	return c.n.Swap(0)
}

// RPM converts a pulse count over an interval into revolutions per minute
func RPM(pulses uint32, pulsesPerRev int, elapsedSeconds float64) int {
	if pulsesPerRev <= 0 || elapsedSeconds <= 0 {
		return 0
	}
	return int(float64(pulses) * 60 / (float64(pulsesPerRev) * elapsedSeconds))
}
