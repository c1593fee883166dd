// Package sim provides in-memory hardware used by tests and by the
// "sim" backend of breezed.
package sim

import (
	"context"
	"errors"
	"sync"

	"github.com/cuemby/breeze/pkg/hw"
)

// PWM records every duty value written
type PWM struct {
	mu         sync.Mutex
	duties     []uint32
	frequency  int
	resolution int
	fail       error
}

// NewPWM creates a recording PWM output
func NewPWM() *PWM {
	return &PWM{}
}

func (p *PWM) Configure(frequencyHz int, resolutionBits int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frequency = frequencyHz
	p.resolution = resolutionBits
	return nil
}

func (p *PWM) SetDuty(raw uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.duties = append(p.duties, raw)
	return nil
}

// Fail makes subsequent writes return err; nil clears it
func (p *PWM) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

// Last returns the last written duty and whether any write happened
func (p *PWM) Last() (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.duties) == 0 {
		return 0, false
	}
	return p.duties[len(p.duties)-1], true
}

// Writes returns a copy of every written duty
func (p *PWM) Writes() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint32(nil), p.duties...)
}

// Tachometer counts pulses injected with Pulse. After SetSteady every
// TakePulses returns the steady count instead.
type Tachometer struct {
	counter hw.PulseCounter
	mu      sync.Mutex
	fixed   *uint32
}

// NewTachometer creates an idle tachometer
func NewTachometer() *Tachometer {
	return &Tachometer{}
}

func (t *Tachometer) Start() error { return nil }
func (t *Tachometer) Close() error { return nil }

// Pulse records n edges
func (t *Tachometer) Pulse(n int) {
	for i := 0; i < n; i++ {
		t.counter.Inc()
	}
}

// SetSteady makes every TakePulses return n, simulating a rotor at constant speed
func (t *Tachometer) SetSteady(n uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fixed = &n
}

func (t *Tachometer) TakePulses() uint32 {
	t.mu.Lock()
	fixed := t.fixed
	t.mu.Unlock()
	taken := t.counter.Take()
	if fixed != nil {
		return *fixed
	}
	return taken
}

// ErrNoReading is returned when the scripted sensor has nothing queued
var ErrNoReading = errors.New("sim: no reading")

// Sensor replays a fixed value or a script of readings
type Sensor struct {
	mu         sync.Mutex
	value      float64
	script     []float64
	requests   int
	requestErr error
	readErr    error
}

// NewSensor creates a sensor that always reads value
func NewSensor(value float64) *Sensor {
	return &Sensor{value: value}
}

// Set changes the steady reading
func (s *Sensor) Set(value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
}

// Script queues readings returned before falling back to the steady value
func (s *Sensor) Script(values ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, values...)
}

// FailReads makes ReadCelsius return err; nil clears it
func (s *Sensor) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// FailRequests makes RequestConversion return err; nil clears it
func (s *Sensor) FailRequests(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestErr = err
}

// Requests returns how many conversions were requested
func (s *Sensor) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *Sensor) RequestConversion(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	return s.requestErr
}

func (s *Sensor) ReadCelsius(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return 0, s.readErr
	}
	if len(s.script) > 0 {
		v := s.script[0]
		s.script = s.script[1:]
		return v, nil
	}
	return s.value, nil
}
