package spi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kleinert.net/mcprig/link/sim"
	"kleinert.net/mcprig/port"
	"kleinert.net/mcprig/util"
)

const (
	pinClock = 0
	pinMOSI  = 1
	pinMISO  = 2
)

func newTestBus(t *testing.T) (*Conn, *port.Port, *sim.Sim) {
	t.Helper()
	lk := sim.New()
	lk.Attach(&sim.SPISlave{
		Clock: pinClock, MOSI: pinMOSI, MISO: pinMISO, CS: -1,
		Handler: sim.Echo{},
	})
	p, err := port.New(lk, port.Config{
		OpenRetry: util.Retry{Attempts: 1, Sleep: func(time.Duration) {}},
	},
		port.NewPin(pinClock, "SCK", true, 0),
		port.NewPin(pinMOSI, "STXD", true, 0),
		port.NewPin(pinMISO, "SRXD", false, 0),
	)
	require.NoError(t, err)
	c, err := New(p, pinClock, pinMOSI, pinMISO)
	require.NoError(t, err)
	return c, p, lk
}

func TestNewValidatesWiring(t *testing.T) {
	lk := sim.New()
	p, err := port.New(lk, port.Config{
		OpenRetry: util.Retry{Attempts: 1, Sleep: func(time.Duration) {}},
	},
		port.NewPin(0, "SCK", true, 0),
		port.NewPin(1, "STXD", true, 0),
		port.NewPin(2, "SRXD", false, 0),
		port.NewPin(3, "AUX", true, 0),
	)
	require.NoError(t, err)

	cases := []struct {
		name              string
		clock, mosi, miso int
	}{
		{"duplicate pins", 0, 0, 2},
		{"missing pin", 0, 1, 5},
		{"clock not an output", 2, 1, 0},
		{"miso not an input", 0, 1, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(p, tc.clock, tc.mosi, tc.miso)
			require.Error(t, err)
			assert.ErrorIs(t, err, port.ErrConfig)
		})
	}
}

func TestSendByteIsSinglePacket(t *testing.T) {
	c, _, lk := newTestBus(t)
	writes := len(lk.Writes)

	require.NoError(t, c.SendByte(0xA5))
	// 16 pin states for the 8 bits plus the final idle clock, sent as
	// one packet once the buffer threshold is hit plus the closing
	// flush.
	var sent int
	for _, w := range lk.Writes[writes:] {
		sent += len(w)
	}
	assert.Equal(t, 17, sent)
}

func TestSendByteWaveform(t *testing.T) {
	c, _, lk := newTestBus(t)
	writes := len(lk.Writes)

	require.NoError(t, c.SendByte(0x80))

	var states []byte
	for _, w := range lk.Writes[writes:] {
		states = append(states, w...)
	}
	require.Len(t, states, 17)
	// First bit (the MSB, 1): data presented with the clock low, then
	// latched with the clock high.
	assert.Equal(t, byte(1<<pinMOSI), states[0])
	assert.Equal(t, byte(1<<pinMOSI|1<<pinClock), states[1])
	// Remaining bits are 0: alternating bare clock.
	assert.Equal(t, byte(0), states[2])
	assert.Equal(t, byte(1<<pinClock), states[3])
	// Transfer ends at the idle clock level.
	assert.Equal(t, byte(0), states[16])
}

func TestClockForcedIdleBeforeTransfer(t *testing.T) {
	c, p, _ := newTestBus(t)

	// Simulate a stray high clock between transfers.
	p.Pin(pinClock).High()
	require.NoError(t, p.SetPins(true))

	require.NoError(t, c.SendByte(0x00))
	assert.Equal(t, 0, p.Pin(pinClock).Value(), "clock must end idle low")
}

func TestRoundTrip(t *testing.T) {
	c, _, _ := newTestBus(t)

	// The echo slave returns each sent byte on the following receive.
	for _, v := range []byte{0x00, 0x01, 0x55, 0xAA, 0x80, 0xF0, 0x0F, 0xFF, 0xC3} {
		require.NoError(t, c.SendByte(v))
		got, err := c.ReceiveByte()
		require.NoError(t, err)
		assert.Equal(t, v, got, "byte %#02x must survive the loop-back", v)
	}
}

func TestReceiveByteCostsRoundTrips(t *testing.T) {
	c, _, lk := newTestBus(t)
	require.NoError(t, c.SendByte(0x42))

	reads := 0
	for _, op := range lk.Ops {
		if op == "read" {
			reads++
		}
	}
	assert.Zero(t, reads, "sending must not read")

	_, err := c.ReceiveByte()
	require.NoError(t, err)
	reads = 0
	for _, op := range lk.Ops {
		if op == "read" {
			reads++
		}
	}
	assert.Equal(t, 8, reads, "one full round trip per received bit")
}
