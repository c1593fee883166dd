// Package modbus drives a fan controller board over Modbus TCP or RTU.
//
// The board exposes a holding register for the PWM duty, an input register
// with a free-running 16-bit tachometer pulse counter, a coil that starts a
// temperature conversion and an input register holding the last conversion
// in tenths of a degree Celsius.
package modbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/breeze/pkg/types"
	"github.com/goburrow/modbus"
)

// Config describes the board and its register map
type Config struct {
	// Endpoint is "tcp://host:port" or "rtu:///dev/ttyUSB0"
	Endpoint     string        `yaml:"endpoint"`
	SlaveID      uint8         `yaml:"slave_id"`
	BaudRate     int           `yaml:"baud_rate"`
	Timeout      time.Duration `yaml:"timeout"`
	PWMRegister  uint16        `yaml:"pwm_register"`
	TachRegister uint16        `yaml:"tach_register"`
	TriggerCoil  uint16        `yaml:"trigger_coil"`
	TempRegister uint16        `yaml:"temp_register"`
}

type handler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

// Board is one Modbus connection shared by the PWM, tachometer and sensor
// views. It serializes requests.
type Board struct {
	mu      sync.Mutex
	cfg     Config
	handler handler
	client  modbus.Client

	lastCount uint16
	primed    bool
}

// Open connects to the board
func Open(cfg Config) (*Board, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("modbus board: endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}

	var h handler
	switch {
	case strings.HasPrefix(cfg.Endpoint, "tcp://"):
		th := modbus.NewTCPClientHandler(strings.TrimPrefix(cfg.Endpoint, "tcp://"))
		th.Timeout = cfg.Timeout
		th.SlaveId = cfg.SlaveID
		h = th
	case strings.HasPrefix(cfg.Endpoint, "rtu://"):
		rh := modbus.NewRTUClientHandler(strings.TrimPrefix(cfg.Endpoint, "rtu://"))
		rh.Timeout = cfg.Timeout
		rh.SlaveId = cfg.SlaveID
		if cfg.BaudRate > 0 {
			rh.BaudRate = cfg.BaudRate
		}
		h = rh
	default:
		return nil, fmt.Errorf("modbus board: unsupported endpoint %q", cfg.Endpoint)
	}

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("modbus board: connect %s: %w", cfg.Endpoint, err)
	}

	return &Board{
		cfg:     cfg,
		handler: h,
		client:  modbus.NewClient(h),
	}, nil
}

// Close closes the connection
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handler.Close()
}

// PWM returns the board's duty output
func (b *Board) PWM() *PWM { return &PWM{board: b} }

// Tachometer returns the board's pulse counter
func (b *Board) Tachometer() *Tachometer { return &Tachometer{board: b} }

// Sensor returns the board's temperature input
func (b *Board) Sensor() *Sensor { return &Sensor{board: b} }

// PWM writes the duty holding register
type PWM struct {
	board *Board
}

// Configure is a no-op: the board owns its carrier frequency
func (p *PWM) Configure(frequencyHz int, resolutionBits int) error {
	return nil
}

func (p *PWM) SetDuty(raw uint32) error {
	if raw > 0xFFFF {
		raw = 0xFFFF
	}
	p.board.mu.Lock()
	defer p.board.mu.Unlock()
	if _, err := p.board.client.WriteSingleRegister(p.board.cfg.PWMRegister, uint16(raw)); err != nil {
		return fmt.Errorf("write pwm register: %w: %v", types.ErrHardwareFault, err)
	}
	return nil
}

// Tachometer turns the free-running counter into per-call deltas
type Tachometer struct {
	board *Board
}

func (t *Tachometer) Start() error {
	_, err := t.board.readCounter()
	return err
}

func (t *Tachometer) Close() error { return nil }

// TakePulses returns the counter delta since the previous call. A failed
// read counts as zero pulses.
func (t *Tachometer) TakePulses() uint32 {
	n, err := t.board.readCounter()
	if err != nil {
		return 0
	}
	return uint32(n)
}

func (b *Board) readCounter() (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := b.client.ReadInputRegisters(b.cfg.TachRegister, 1)
	if err != nil {
		return 0, fmt.Errorf("read tach register: %w: %v", types.ErrHardwareFault, err)
	}
	if len(data) < 2 {
		return 0, errors.New("modbus: short tach payload")
	}
	count := uint16(data[0])<<8 | uint16(data[1])
	if !b.primed {
		b.primed = true
		b.lastCount = count
		return 0, nil
	}
	// uint16 subtraction handles counter wrap
	delta := count - b.lastCount
	b.lastCount = count
	return delta, nil
}

// Sensor starts conversions with a coil and reads the result register
type Sensor struct {
	board *Board
}

func (s *Sensor) RequestConversion(ctx context.Context) error {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()
	if _, err := s.board.client.WriteSingleCoil(s.board.cfg.TriggerCoil, 0xFF00); err != nil {
		return fmt.Errorf("write trigger coil: %w: %v", types.ErrHardwareFault, err)
	}
	return nil
}

func (s *Sensor) ReadCelsius(ctx context.Context) (float64, error) {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()
	data, err := s.board.client.ReadInputRegisters(s.board.cfg.TempRegister, 1)
	if err != nil {
		return 0, fmt.Errorf("read temperature register: %w: %v", types.ErrHardwareFault, err)
	}
	if len(data) < 2 {
		return 0, errors.New("modbus: short temperature payload")
	}
	tenths := int16(uint16(data[0])<<8 | uint16(data[1]))
	return float64(tenths) / 10, nil
}
