//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/cuemby/breeze/pkg/hw"
	"github.com/warthog618/gpiod"
)

// Tachometer counts falling edges on one line. The kernel event handler
// increments a shared counter; TakePulses fetches and resets it.
type Tachometer struct {
	cfg     Config
	counter hw.PulseCounter

	mu   sync.Mutex
	chip *gpiod.Chip
	line *gpiod.Line
}

// NewTachometer creates a tachometer for cfg. Call Start to request the line.
func NewTachometer(cfg Config) *Tachometer {
	if cfg.Chip == "" {
		cfg.Chip = "gpiochip0"
	}
	return &Tachometer{cfg: cfg}
}

func (t *Tachometer) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.line != nil {
		return nil
	}

	chip, err := gpiod.NewChip(t.cfg.Chip, gpiod.WithConsumer("breezed"))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", t.cfg.Chip, err)
	}
	line, err := chip.RequestLine(t.cfg.Line,
		gpiod.WithPullUp,
		gpiod.WithFallingEdge,
		gpiod.WithEventHandler(func(gpiod.LineEvent) {
			t.counter.Inc()
		}))
	if err != nil {
		chip.Close()
		return fmt.Errorf("failed to request line %d: %w", t.cfg.Line, err)
	}

	t.chip = chip
	t.line = line
	return nil
}

func (t *Tachometer) TakePulses() uint32 {
	return t.counter.Take()
}

func (t *Tachometer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.line != nil {
		t.line.Close()
		t.line = nil
	}
	if t.chip != nil {
		err := t.chip.Close()
		t.chip = nil
		return err
	}
	return nil
}
