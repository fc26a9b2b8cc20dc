// Package mcp23s17 drives one or more MCP23S17 8-bit I/O expanders
// sharing a single bit-bang SPI bus, chip select and reset line. The
// devices are told apart by their hardware-strapped address pins.
//
// After the hardware reset every device disables hardware addressing
// and answers at address 0. Construction therefore performs exactly one
// broadcast write of the HAEN bit to the control register at address 0,
// after which each device responds only at its own strapped address.
// That write must precede any access to a non-zero device address.
package mcp23s17

import (
	"fmt"

	"kleinert.net/mcprig/port"
	"kleinert.net/mcprig/spi"
)

// Register addresses in the BANK=1 layout the bus switches the devices
// to. Port B registers are the port A register + 0x10.
const (
	RegIODIRA = 0x00
	RegIPOLA  = 0x01
	RegIOCON  = 0x05
	RegGPPUA  = 0x06
	RegGPIOA  = 0x09
	RegOLATA  = 0x0A

	RegIODIRB = 0x10
	RegIPOLB  = 0x11
	RegGPPUB  = 0x16
	RegGPIOB  = 0x19
	RegOLATB  = 0x1A
)

const (
	// opcodeWrite/opcodeRead carry the fixed 0100 high nibble, the
	// 3-bit device address in bits 1-3 and the R/W bit in bit 0.
	opcodeWrite = 0x40
	opcodeRead  = 0x41

	// ioconInit selects BANK=1, byte mode and HAEN. At power-on the
	// devices are still in the BANK=0 layout where IOCON sits at 0x0A,
	// so the broadcast targets that address.
	ioconInit      = 0x88
	ioconBank0Addr = 0x0A
	registerMask   = 0x1F
)

// Bus is the register-level protocol over a shared chip select and
// reset line. Like the layers below it is single-owner state; it never
// retries, any I/O failure propagates to the caller unmodified.
type Bus struct {
	p   *port.Port
	spi *spi.Conn
	cs  int
	rst int
}

// New validates the wiring, builds the SPI connection, hardware-resets
// all devices on the bus and sends the one hardware-address-enable
// broadcast. The five pins must be pairwise distinct; chip select and
// reset must exist and be outputs.
func New(p *port.Port, clock, mosi, miso, cs, rst int) (*Bus, error) {
	nums := map[int]bool{clock: true, mosi: true, miso: true, cs: true, rst: true}
	if len(nums) != 5 {
		return nil, fmt.Errorf("mcp23s17: %w: pins must have unique numbers", port.ErrConfig)
	}
	csPin, rstPin := p.Pin(cs), p.Pin(rst)
	if csPin == nil || rstPin == nil {
		return nil, fmt.Errorf("mcp23s17: %w: pin does not exist in the port", port.ErrConfig)
	}
	if !csPin.Output || !rstPin.Output {
		return nil, fmt.Errorf("mcp23s17: %w: chip select and reset must be outputs", port.ErrConfig)
	}

	sp, err := spi.New(p, clock, mosi, miso)
	if err != nil {
		return nil, err
	}
	b := &Bus{p: p, spi: sp, cs: cs, rst: rst}

	if err := b.ResetDevices(); err != nil {
		return nil, err
	}
	// Broadcast HAEN while every device still answers at address 0.
	// From here on the devices are individually addressable and in the
	// BANK=1 register layout.
	if err := b.WriteRegister(0, ioconBank0Addr, ioconInit); err != nil {
		return nil, fmt.Errorf("mcp23s17: address-enable broadcast: %w", err)
	}
	return b, nil
}

// ResetDevices pulses the shared active-low reset line, returning every
// device on the bus to its power-on defaults (all pins inputs, hardware
// addressing disabled).
func (b *Bus) ResetDevices() error {
	b.p.Pin(b.cs).High()
	b.p.Pin(b.rst).Low()
	if err := b.p.SetPins(true); err != nil {
		return err
	}
	b.p.Pin(b.rst).High()
	return b.p.SetPins(true)
}

func (b *Bus) selectChips() error {
	b.p.Pin(b.cs).Low()
	return b.p.SetPins(true)
}

func (b *Bus) releaseChips() error {
	b.p.Pin(b.cs).High()
	return b.p.SetPins(true)
}

// WriteRegister writes one data byte to a register of the device with
// the given hardware address (0-7). The register address is masked to
// its 5 valid bits.
func (b *Bus) WriteRegister(dev, reg, data byte) error {
	if err := b.selectChips(); err != nil {
		return err
	}
	if err := b.spi.SendByte(opcodeWrite | (dev&7)<<1); err != nil {
		return err
	}
	if err := b.spi.SendByte(reg & registerMask); err != nil {
		return err
	}
	if err := b.spi.SendByte(data); err != nil {
		return err
	}
	return b.releaseChips()
}

// ReadRegister reads one register of the device with the given hardware
// address (0-7).
func (b *Bus) ReadRegister(dev, reg byte) (byte, error) {
	if err := b.selectChips(); err != nil {
		return 0, err
	}
	if err := b.spi.SendByte(opcodeRead | (dev&7)<<1); err != nil {
		return 0, err
	}
	if err := b.spi.SendByte(reg & registerMask); err != nil {
		return 0, err
	}
	val, err := b.spi.ReceiveByte()
	if err != nil {
		return 0, err
	}
	if err := b.releaseChips(); err != nil {
		return 0, err
	}
	return val, nil
}
