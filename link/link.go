// Package link defines the low level byte transport to the USB serial
// adapter that carries the bit-bang pin states. Bit i of every byte
// written to or read from the link corresponds to physical pin i.
package link

// Mode selects the adapter I/O mode.
type Mode byte

const (
	// ModeReset returns the adapter to its default serial mode.
	ModeReset Mode = 0x00
	// ModeAsyncBitbang switches the adapter to asynchronous bit-bang
	// mode; output bytes appear directly on the pins at the configured
	// baud clock.
	ModeAsyncBitbang Mode = 0x01
)

// Link is the opaque device transport. Implementations exist for a real
// FTDI chip over USB (link/ftdi), for Raspberry Pi GPIOs (link/rpi) and
// for an in-process simulation (link/sim).
type Link interface {
	// Open claims the index-th matching device.
	Open(index int) error

	// Reset restores the device to a known state.
	Reset() error

	// SetBaudRate sets the bit-bang update clock. The effective pin
	// update rate is 16x the baud rate.
	SetBaudRate(baud int) error

	// SetBitMode selects the I/O mode and which pins are outputs.
	SetBitMode(outputMask byte, mode Mode) error

	// Write sends pin-state bytes and reports how many were accepted.
	Write(p []byte) (int, error)

	// ReadPins returns a snapshot of the current pin levels.
	ReadPins() (byte, error)

	// Close releases the device.
	Close() error
}
