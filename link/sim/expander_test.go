package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frame feeds one complete write frame to the expander's byte handler,
// the way it would arrive over a chip-select cycle.
func frame(e *Expander, dev, reg, val byte) {
	e.byteIdx = 0
	e.HandleByte(&e.Slave, 0x40|dev<<1)
	e.HandleByte(&e.Slave, reg)
	e.HandleByte(&e.Slave, val)
}

func TestPowerOnDefaults(t *testing.T) {
	e := NewExpander(3, 0, 1, 2, 3, 5)

	assert.False(t, e.Haen())
	assert.False(t, e.Bank())
	assert.Equal(t, byte(0xFF), e.Register(regIODIR), "all pins start as inputs")
	assert.Equal(t, byte(0xFF), e.Register(regIODIR|portB))
	assert.Equal(t, byte(0x00), e.Register(regOLAT))
}

func TestBankZeroAddressesAreInterleaved(t *testing.T) {
	e := NewExpander(0, 0, 1, 2, 3, 5)

	// In the power-on layout even addresses hit port A and odd
	// addresses port B of the same register.
	frame(e, 0, 0x00, 0x11)
	frame(e, 0, 0x01, 0x22)
	assert.Equal(t, byte(0x11), e.Register(regIODIR))
	assert.Equal(t, byte(0x22), e.Register(regIODIR|portB))

	// After the BANK switch the same wire addresses mean port A
	// registers 0 and 1.
	frame(e, 0, 0x0A, ioconBANK)
	frame(e, 0, 0x01, 0x33)
	assert.Equal(t, byte(0x33), e.Register(regIPOL))
	assert.Equal(t, byte(0x22), e.Register(regIODIR|portB))
}

func TestAddressMatchingFollowsHaen(t *testing.T) {
	e := NewExpander(2, 0, 1, 2, 3, 5)

	// With hardware addressing disabled the device answers no matter
	// which address the frame carries.
	frame(e, 5, 0x00, 0x12)
	assert.Equal(t, byte(0x12), e.Register(regIODIR))

	frame(e, 0, 0x0A, ioconHAEN|ioconBANK)
	require.True(t, e.Haen())

	frame(e, 5, regIODIR, 0x34)
	assert.Equal(t, byte(0x12), e.Register(regIODIR), "foreign address must be ignored now")
	frame(e, 2, regIODIR, 0x34)
	assert.Equal(t, byte(0x34), e.Register(regIODIR))
}

func TestWriteLogRecordsUnmatchedFrames(t *testing.T) {
	e := NewExpander(2, 0, 1, 2, 3, 5)
	frame(e, 0, 0x0A, ioconHAEN|ioconBANK)
	frame(e, 5, regOLAT, 0x77)

	last := e.Log[len(e.Log)-1]
	assert.Equal(t, RegWrite{Dev: 5, Reg: regOLAT, Val: 0x77, Matched: false}, last)
}

func TestResetPinRestoresDefaults(t *testing.T) {
	const resetPin = 5
	e := NewExpander(0, 0, 1, 2, 3, resetPin)
	frame(e, 0, 0x0A, ioconHAEN|ioconBANK)
	frame(e, 0, regIODIR, 0x00)
	require.Equal(t, byte(0x00), e.Register(regIODIR))

	e.Update(0xFF &^ (1 << resetPin))
	e.Update(0xFF)

	assert.False(t, e.Haen())
	assert.False(t, e.Bank())
	assert.Equal(t, byte(0xFF), e.Register(regIODIR))
}

func TestGPIOWritesLandInLatch(t *testing.T) {
	e := NewExpander(0, 0, 1, 2, 3, 5)
	frame(e, 0, 0x0A, ioconBANK)
	frame(e, 0, regGPIO|portB, 0x9C)
	assert.Equal(t, byte(0x9C), e.Register(regOLAT|portB))
}
