// Package sim provides an in-process implementation of link.Link plus
// models of the peripherals wired to it: a mode (0,0) SPI slave, the
// MCP23S17 register file and the adder circuit of the demo rig. It lets
// the whole protocol stack run without any hardware attached.
package sim

import (
	"errors"
	"fmt"

	"kleinert.net/mcprig/link"
)

// Peripheral observes every pin-state byte appearing on the simulated
// bus and may drive some of the input pins in response. Update returns
// the driven levels and a mask of which pins are actually driven.
type Peripheral interface {
	Update(pins byte) (drive byte, mask byte)
}

// Sim is a simulated link. All operations succeed without hardware.
// Input pins either carry a value injected with SetInput or are driven
// by attached peripherals, which see every written byte in order.
//
// The zero value is usable; failure scripting fields may be set before
// use to exercise error paths.
type Sim struct {
	// FailOpens makes the first n Open calls fail.
	FailOpens int
	// ShortWriteAt makes the n-th Write (1-based) accept one byte less
	// than requested. Zero disables the fault.
	ShortWriteAt int

	// Writes records every Write call, one slice per call.
	Writes [][]byte
	// Ops records the call order of link operations, for ordering
	// assertions in tests.
	Ops []string

	opened      bool
	opens       int
	writeCalls  int
	outputMask  byte
	mode        link.Mode
	baud        int
	pins        byte // last written pin-state byte
	input       byte // injected input levels
	driven      byte // peripheral-driven levels
	drivenMask  byte
	peripherals []Peripheral
}

// New returns an idle simulated link.
func New() *Sim {
	return &Sim{}
}

// Attach registers a peripheral on the simulated bus.
func (s *Sim) Attach(p Peripheral) {
	s.peripherals = append(s.peripherals, p)
}

// SetInput injects levels for input pins not driven by a peripheral.
func (s *Sim) SetInput(b byte) {
	s.input = b
}

// Pins returns the most recent pin-state byte written to the link.
func (s *Sim) Pins() byte {
	return s.pins
}

// Written returns all written bytes flattened into one slice.
func (s *Sim) Written() []byte {
	var out []byte
	for _, w := range s.Writes {
		out = append(out, w...)
	}
	return out
}

// Open implements link.Link.
func (s *Sim) Open(index int) error {
	s.Ops = append(s.Ops, "open")
	s.opens++
	if s.opens <= s.FailOpens {
		return fmt.Errorf("sim: scripted open failure %d", s.opens)
	}
	s.opened = true
	return nil
}

// Reset implements link.Link.
func (s *Sim) Reset() error {
	s.Ops = append(s.Ops, "reset")
	if !s.opened {
		return errors.New("sim: not open")
	}
	return nil
}

// SetBaudRate implements link.Link.
func (s *Sim) SetBaudRate(baud int) error {
	s.Ops = append(s.Ops, "baud")
	s.baud = baud
	return nil
}

// SetBitMode implements link.Link.
func (s *Sim) SetBitMode(outputMask byte, mode link.Mode) error {
	s.Ops = append(s.Ops, "bitmode")
	s.outputMask = outputMask
	s.mode = mode
	return nil
}

// Write implements link.Link. Every byte is presented to the attached
// peripherals in order, so they observe each intermediate pin state
// exactly as a real circuit would.
func (s *Sim) Write(p []byte) (int, error) {
	s.Ops = append(s.Ops, "write")
	s.writeCalls++
	s.Writes = append(s.Writes, append([]byte(nil), p...))
	for _, b := range p {
		s.pins = b
		for _, per := range s.peripherals {
			d, m := per.Update(b)
			s.driven = (s.driven &^ m) | (d & m)
			s.drivenMask |= m
		}
	}
	if s.ShortWriteAt == s.writeCalls && len(p) > 0 {
		return len(p) - 1, nil
	}
	return len(p), nil
}

// ReadPins implements link.Link. Output pins read back the last written
// levels; input pins read the peripheral-driven or injected levels.
func (s *Sim) ReadPins() (byte, error) {
	s.Ops = append(s.Ops, "read")
	in := (s.input &^ s.drivenMask) | (s.driven & s.drivenMask)
	return (s.pins & s.outputMask) | (in &^ s.outputMask), nil
}

// Close implements link.Link.
func (s *Sim) Close() error {
	s.Ops = append(s.Ops, "close")
	s.opened = false
	return nil
}
