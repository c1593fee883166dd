package hw

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPulseCounterTakeResets(t *testing.T) {
	var c PulseCounter
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Inc()
		}()
	}
	wg.Wait()

	assert.Equal(t, uint32(100), c.Take())
	assert.Equal(t, uint32(0), c.Take())
}

func TestRPM(t *testing.T) {
	tests := []struct {
		name    string
		pulses  uint32
		ppr     int
		elapsed float64
		want    int
	}{
		{name: "two pulses per rev, one second", pulses: 40, ppr: 2, elapsed: 1, want: 1200},
		{name: "half second window", pulses: 10, ppr: 2, elapsed: 0.5, want: 600},
		{name: "no pulses", pulses: 0, ppr: 2, elapsed: 1, want: 0},
		{name: "zero elapsed", pulses: 10, ppr: 2, elapsed: 0, want: 0},
		{name: "zero ppr", pulses: 10, ppr: 0, elapsed: 1, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RPM(tt.pulses, tt.ppr, tt.elapsed))
		})
	}
}
