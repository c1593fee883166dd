package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/cuemby/breeze/pkg/types"
	"github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient implements the calls Board makes; anything else panics
type fakeClient struct {
	modbus.Client

	registers map[uint16]uint16
	writes    map[uint16]uint16
	coils     map[uint16]uint16
	err       error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		registers: map[uint16]uint16{},
		writes:    map[uint16]uint16{},
		coils:     map[uint16]uint16{},
	}
}

func (f *fakeClient) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, f.registers[address])
	return out, nil
}

func (f *fakeClient) WriteSingleRegister(address, value uint16) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.writes[address] = value
	return nil, nil
}

func (f *fakeClient) WriteSingleCoil(address, value uint16) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.coils[address] = value
	return nil, nil
}

func newTestBoard(c *fakeClient) *Board {
	return &Board{
		cfg: Config{
			PWMRegister:  1,
			TachRegister: 2,
			TriggerCoil:  3,
			TempRegister: 4,
		},
		client: c,
	}
}

func TestOpenRejectsEndpoint(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)

	_, err = Open(Config{Endpoint: "udp://localhost:502"})
	assert.Error(t, err)
}

func TestPWMSetDuty(t *testing.T) {
	c := newFakeClient()
	b := newTestBoard(c)

	require.NoError(t, b.PWM().SetDuty(128))
	assert.Equal(t, uint16(128), c.writes[1])

	c.err = errors.New("timeout")
	err := b.PWM().SetDuty(10)
	assert.True(t, errors.Is(err, types.ErrHardwareFault))
}

func TestTachometerDeltas(t *testing.T) {
	c := newFakeClient()
	b := newTestBoard(c)
	tach := b.Tachometer()

	c.registers[2] = 1000
	require.NoError(t, tach.Start())

	c.registers[2] = 1060
	assert.Equal(t, uint32(60), tach.TakePulses())

	// counter wraps
	c.registers[2] = 10
	assert.Equal(t, uint32(0xFFFF-1060+10+1), tach.TakePulses())

	c.err = errors.New("gone")
	assert.Equal(t, uint32(0), tach.TakePulses())
}

func TestSensorTwoPhase(t *testing.T) {
	c := newFakeClient()
	b := newTestBoard(c)
	s := b.Sensor()

	require.NoError(t, s.RequestConversion(context.Background()))
	assert.Equal(t, uint16(0xFF00), c.coils[3])

	c.registers[4] = 235
	v, err := s.ReadCelsius(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 23.5, v, 0.001)

	neg := int16(-105)
	c.registers[4] = uint16(neg)
	v, err = s.ReadCelsius(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, -10.5, v, 0.001)
}
