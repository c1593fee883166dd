package signals

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDrainClearsBits(t *testing.T) {
	g := NewGroup()
	g.Set(TemperatureUpdated)
	g.Set(ModeChanged)

	got := g.Drain()
	assert.True(t, got.Has(TemperatureUpdated))
	assert.True(t, got.Has(ModeChanged))
	assert.False(t, got.Has(NightModeChanged))
	assert.Equal(t, Bits(0), g.Drain())
}

func TestSetsCoalesce(t *testing.T) {
	g := NewGroup()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Set(TemperatureUpdated)
		}()
	}
	wg.Wait()

	assert.Equal(t, TemperatureUpdated, g.Drain())
	assert.Len(t, g.Notify(), 1)
}

func TestPendingDoesNotClear(t *testing.T) {
	g := NewGroup()
	g.Set(NightModeChanged)
	assert.Equal(t, NightModeChanged, g.Pending())
	assert.Equal(t, NightModeChanged, g.Drain())
}
