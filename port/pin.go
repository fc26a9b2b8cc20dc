package port

import "fmt"

// Pin is one GPIO lane of the bit-bang port. Output pin values set here
// are pushed to the physical pins by Port.SetPins; input pin values are
// refreshed from the hardware by Port.GetPins.
type Pin struct {
	// Num is the physical pin number, 0-7, unique within a port.
	Num int
	// Name identifies the pin in logs and the waveform monitor. It
	// does not have to be unique.
	Name string
	// Output marks the pin direction.
	Output bool

	value int
}

// NewPin creates a pin definition. init is normalized to 0 or 1; for an
// output pin it appears on the physical pin right after the port is
// constructed.
func NewPin(num int, name string, output bool, init int) *Pin {
	p := &Pin{Num: num, Name: name, Output: output}
	p.Set(init)
	return p
}

// Set assigns the logical pin value; any non-zero value counts as 1.
func (p *Pin) Set(v int) {
	if v == 0 {
		p.value = 0
	} else {
		p.value = 1
	}
}

// High sets the pin value to 1.
func (p *Pin) High() { p.value = 1 }

// Low sets the pin value to 0.
func (p *Pin) Low() { p.value = 0 }

// Value returns the current logical pin value, 0 or 1.
func (p *Pin) Value() int { return p.value }

func (p *Pin) String() string {
	dir := "in"
	if p.Output {
		dir = "out"
	}
	return fmt.Sprintf("%s(%d,%s)=%d", p.Name, p.Num, dir, p.value)
}
