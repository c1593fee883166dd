//go:build !linux

package gpio

import "errors"

// ErrUnsupported is returned by Start on platforms without gpiod
var ErrUnsupported = errors.New("gpio tachometer requires linux")

type Tachometer struct{}

func NewTachometer(cfg Config) *Tachometer { return &Tachometer{} }

func (t *Tachometer) Start() error       { return ErrUnsupported }
func (t *Tachometer) TakePulses() uint32 { return 0 }
func (t *Tachometer) Close() error       { return nil }
