// Package rpi implements the link on Raspberry Pi GPIOs: the eight
// bit-bang lanes are mapped onto header pins, so the same protocol
// stack can drive the expander bus without an FTDI adapter in between.
package rpi

import (
	"fmt"
	"time"

	"github.com/stianeikeland/go-rpio/v4"

	"kleinert.net/mcprig/link"
)

// Device maps bit-bang lanes 0-7 to BCM GPIO numbers and implements
// link.Link on them. Lanes without a mapping are ignored on write and
// read as 0.
type Device struct {
	lanes map[int]int

	pins   map[int]rpio.Pin
	mask   byte
	mode   link.Mode
	period time.Duration
	opened bool
}

// New prepares a driver over the given lane to BCM GPIO mapping.
func New(lanes map[int]int) *Device {
	return &Device{lanes: lanes}
}

// Open implements link.Link. The index is unused, a Pi has exactly one
// GPIO header.
func (d *Device) Open(index int) error {
	if err := rpio.Open(); err != nil {
		return fmt.Errorf("rpi: opening gpio memory: %w", err)
	}
	d.pins = make(map[int]rpio.Pin, len(d.lanes))
	for lane, bcm := range d.lanes {
		if lane < 0 || lane > 7 {
			rpio.Close()
			return fmt.Errorf("rpi: lane %d out of range 0-7", lane)
		}
		d.pins[lane] = rpio.Pin(bcm)
	}
	d.opened = true
	return nil
}

// Reset implements link.Link; all mapped pins go back to inputs.
func (d *Device) Reset() error {
	for _, pin := range d.pins {
		pin.Input()
	}
	d.mask = 0
	d.mode = link.ModeReset
	return nil
}

// SetBaudRate implements link.Link. GPIO writes have no hardware pacing
// so the rate is approximated with a delay per replayed byte, matching
// the 16x pin clock of the real adapter.
func (d *Device) SetBaudRate(baud int) error {
	if baud <= 0 {
		return fmt.Errorf("rpi: invalid baud rate %d", baud)
	}
	d.period = time.Second / time.Duration(baud*16)
	return nil
}

// SetBitMode implements link.Link.
func (d *Device) SetBitMode(outputMask byte, mode link.Mode) error {
	d.mask = outputMask
	d.mode = mode
	if mode == link.ModeReset {
		return d.Reset()
	}
	for lane, pin := range d.pins {
		if outputMask&(1<<uint(lane)) != 0 {
			pin.Output()
		} else {
			pin.Input()
		}
	}
	return nil
}

// Write implements link.Link by replaying each byte onto the output
// pins in order.
func (d *Device) Write(p []byte) (int, error) {
	if !d.opened {
		return 0, fmt.Errorf("rpi: not open")
	}
	for _, b := range p {
		for lane, pin := range d.pins {
			if d.mask&(1<<uint(lane)) == 0 {
				continue
			}
			if b&(1<<uint(lane)) != 0 {
				pin.High()
			} else {
				pin.Low()
			}
		}
		if d.period > 0 {
			time.Sleep(d.period)
		}
	}
	return len(p), nil
}

// ReadPins implements link.Link.
func (d *Device) ReadPins() (byte, error) {
	if !d.opened {
		return 0, fmt.Errorf("rpi: not open")
	}
	var b byte
	for lane, pin := range d.pins {
		if pin.Read() == rpio.High {
			b |= 1 << uint(lane)
		}
	}
	return b, nil
}

// Close implements link.Link.
func (d *Device) Close() error {
	if !d.opened {
		return nil
	}
	d.opened = false
	return rpio.Close()
}
