// Package ftdi implements the link over a real FTDI FT232R attached
// via USB, using raw vendor control requests rather than the
// proprietary D2XX library, so it only needs libusb.
package ftdi

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/gousb"

	"kleinert.net/mcprig/link"
)

// FTDI vendor requests, per the FT232R programming references.
const (
	reqReset       = 0x00
	reqSetBaudRate = 0x03
	reqSetBitMode  = 0x0B
	reqReadPins    = 0x0C

	// wIndex selects the channel; the FT232R has a single channel A.
	channelA = 1

	// Bulk OUT endpoint carrying the bit-bang byte stream.
	outEndpointNum = 2

	// Base clock feeding the baud rate generator.
	baseClock = 3000000
)

// Device is an open FT232R in async bit-bang use. It implements
// link.Link.
type Device struct {
	vendor  gousb.ID
	product gousb.ID

	ctx  *gousb.Context
	dev  *gousb.Device
	intf *gousb.Interface
	done func()
	out  *gousb.OutEndpoint
}

// New prepares a driver for the given USB IDs; nothing is opened yet.
func New(vendor, product uint16) *Device {
	return &Device{vendor: gousb.ID(vendor), product: gousb.ID(product)}
}

// Open claims the index-th matching device on the bus.
func (d *Device) Open(index int) error {
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == d.vendor && desc.Product == d.product
	})
	if err != nil {
		for _, dev := range devs {
			dev.Close()
		}
		ctx.Close()
		return fmt.Errorf("ftdi: enumerating devices: %w", err)
	}
	if index < 0 || index >= len(devs) {
		for _, dev := range devs {
			dev.Close()
		}
		ctx.Close()
		return fmt.Errorf("ftdi: no device %d, found %d devices matching %s:%s",
			index, len(devs), d.vendor, d.product)
	}
	for i, dev := range devs {
		if i != index {
			dev.Close()
		}
	}
	dev := devs[index]

	if err := dev.SetAutoDetach(true); err != nil {
		slog.Warn("Can't auto-detach kernel driver", "error", err)
	}
	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		ctx.Close()
		return fmt.Errorf("ftdi: claiming interface: %w", err)
	}
	out, err := intf.OutEndpoint(outEndpointNum)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return fmt.Errorf("ftdi: out endpoint: %w", err)
	}

	d.ctx, d.dev, d.intf, d.done, d.out = ctx, dev, intf, done, out
	return nil
}

func (d *Device) control(request uint8, value uint16) error {
	if d.dev == nil {
		return errors.New("ftdi: device not open")
	}
	_, err := d.dev.Control(
		gousb.ControlOut|gousb.ControlVendor|gousb.ControlDevice,
		request, value, channelA, nil)
	return err
}

// Reset implements link.Link.
func (d *Device) Reset() error {
	return d.control(reqReset, 0)
}

// SetBaudRate implements link.Link. In bit-bang mode the pins update at
// 16x the baud rate.
func (d *Device) SetBaudRate(baud int) error {
	if baud <= 0 {
		return fmt.Errorf("ftdi: invalid baud rate %d", baud)
	}
	value, index := baudDivisor(baud)
	if d.dev == nil {
		return errors.New("ftdi: device not open")
	}
	_, err := d.dev.Control(
		gousb.ControlOut|gousb.ControlVendor|gousb.ControlDevice,
		reqSetBaudRate, value, index, nil)
	return err
}

// baudDivisor encodes the baud rate as the chip's divisor format: a
// 14-bit integer part plus a 3-bit fraction in eighths, mapped through
// the chip's sub-integer code table, split across wValue and wIndex.
func baudDivisor(baud int) (value, index uint16) {
	fracCode := [8]uint32{0, 3, 2, 4, 1, 5, 6, 7}

	// Divisor in eighths of the base clock, rounded.
	div8 := uint32((baseClock*8 + baud/2) / baud)
	divisor := (div8 >> 3) | fracCode[div8&7]<<14

	// Special encodings per the datasheet: a raw divisor of 1 selects
	// 3MBaud and is sent as 0; 1.5 selects 2MBaud and is sent as 1.
	if divisor == 1 {
		divisor = 0
	} else if divisor == 0x4001 {
		divisor = 1
	}

	// For single-channel chips wIndex carries only the divisor's high
	// bit, not the channel number.
	value = uint16(divisor)
	index = uint16(divisor>>16) & 1
	return value, index
}

// SetBitMode implements link.Link.
func (d *Device) SetBitMode(outputMask byte, mode link.Mode) error {
	return d.control(reqSetBitMode, uint16(mode)<<8|uint16(outputMask))
}

// Write implements link.Link; the bytes appear on the pins one by one
// at the bit-bang clock rate.
func (d *Device) Write(p []byte) (int, error) {
	if d.out == nil {
		return 0, errors.New("ftdi: device not open")
	}
	return d.out.Write(p)
}

// ReadPins implements link.Link; it returns the instantaneous pin
// levels regardless of direction.
func (d *Device) ReadPins() (byte, error) {
	if d.dev == nil {
		return 0, errors.New("ftdi: device not open")
	}
	var buf [1]byte
	n, err := d.dev.Control(
		gousb.ControlIn|gousb.ControlVendor|gousb.ControlDevice,
		reqReadPins, 0, channelA, buf[:])
	if err != nil {
		return 0, err
	}
	if n != 1 {
		return 0, fmt.Errorf("ftdi: pin read returned %d bytes", n)
	}
	return buf[0], nil
}

// Close implements link.Link.
func (d *Device) Close() error {
	var firstErr error
	if d.done != nil {
		d.done()
		d.done = nil
		d.intf = nil
	}
	if d.dev != nil {
		if err := d.dev.Close(); err != nil {
			firstErr = err
		}
		d.dev = nil
	}
	if d.ctx != nil {
		if err := d.ctx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.ctx = nil
	}
	d.out = nil
	return firstErr
}
