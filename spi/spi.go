// Package spi implements SPI mode (0,0) on top of the bit-bang port:
// the clock idles low, data is driven while the clock is low and
// sampled by the receiver while the clock is high.
package spi

import (
	"fmt"
	"log/slog"

	"kleinert.net/mcprig/port"
)

// Conn is a mode (0,0) SPI master over three pins of one port. It
// stores pin numbers, not pins: the port stays the single owner and the
// pins are resolved through it on each access. Chip select is not
// handled here; callers drive it around SendByte/ReceiveByte.
type Conn struct {
	p     *port.Port
	clock int
	mosi  int
	miso  int
}

// New validates the wiring and returns a connection with the clock
// forced to its idle-low level. The three pins must exist in the port,
// be pairwise distinct, and have the right directions (clock and data
// out as outputs, data in as an input).
func New(p *port.Port, clock, mosi, miso int) (*Conn, error) {
	if clock == mosi || clock == miso || mosi == miso {
		return nil, fmt.Errorf("spi: %w: clock/mosi/miso pins %d/%d/%d must be distinct",
			port.ErrConfig, clock, mosi, miso)
	}
	ck, tx, rx := p.Pin(clock), p.Pin(mosi), p.Pin(miso)
	if ck == nil || tx == nil || rx == nil {
		return nil, fmt.Errorf("spi: %w: pin does not exist in the port", port.ErrConfig)
	}
	if !ck.Output || !tx.Output || rx.Output {
		return nil, fmt.Errorf("spi: %w: wrong pin direction", port.ErrConfig)
	}

	c := &Conn{p: p, clock: clock, mosi: mosi, miso: miso}

	// Establish the idle clock level.
	ck.Low()
	if err := p.SetPins(true); err != nil {
		return nil, err
	}
	return c, nil
}

// ensureIdle corrects a clock found high outside a transfer. This is
// never fatal; the wiring was validated at construction.
func (c *Conn) ensureIdle() error {
	ck := c.p.Pin(c.clock)
	if ck.Value() == 0 {
		return nil
	}
	slog.Warn("SPI clock is not idle low, forcing it low")
	ck.Low()
	return c.p.SetPins(true)
}

// SendByte shifts one byte out, MSB first. All 16 pin states of the
// transfer are buffered and leave in a single flush together with the
// final return to the idle clock, so the whole byte travels in one USB
// packet.
func (c *Conn) SendByte(value byte) error {
	if err := c.ensureIdle(); err != nil {
		return err
	}
	ck, tx := c.p.Pin(c.clock), c.p.Pin(c.mosi)

	for i := 7; i >= 0; i-- {
		// Present the data bit while the clock is low...
		ck.Low()
		tx.Set(int(value>>uint(i)) & 1)
		if err := c.p.SetPins(false); err != nil {
			return err
		}
		// ...and latch it with the rising edge.
		ck.High()
		if err := c.p.SetPins(false); err != nil {
			return err
		}
	}

	ck.Low()
	return c.p.SetPins(true)
}

// ReceiveByte shifts one byte in, MSB first. Unlike SendByte this is
// not a single packet: each bit needs a real write+read round trip to
// sample the data-in pin while the clock is low, so an 8-bit receive
// costs at least 8 full link transactions.
func (c *Conn) ReceiveByte() (byte, error) {
	if err := c.ensureIdle(); err != nil {
		return 0, err
	}
	ck, rx := c.p.Pin(c.clock), c.p.Pin(c.miso)

	var value byte
	for i := 7; i >= 0; i-- {
		// The device already presents the bit for the current low
		// clock phase; flush and read it.
		if err := c.p.GetPins(); err != nil {
			return 0, err
		}
		value = value<<1 | byte(rx.Value())

		// Clock pulse to move the device to the next bit.
		ck.High()
		if err := c.p.SetPins(true); err != nil {
			return 0, err
		}
		ck.Low()
		if err := c.p.SetPins(true); err != nil {
			return 0, err
		}
	}
	return value, nil
}
