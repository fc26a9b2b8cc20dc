package sim

// Adder wires two expanders into the demo circuit: the driver device
// presents two 8-bit operands on its output latches and the reader
// device senses the 9-bit sum on its GPIO lines. The circuit output is
// active low on the wire, so a reader configured with IPOL=0xFF sees
// the true value, exactly like the real rig.
//
// SettleReads simulates ripple-carry settling: after any operand
// change, that many reads observe transient values before the output
// stabilizes.
type Adder struct {
	driver *Expander
	reader *Expander

	// SettleReads is the number of transient reads after an operand
	// change.
	SettleReads int

	settleLeft int
	current    int
}

// NewAdder builds the circuit on the given SPI pin numbers and attaches
// both expanders to the link. The driver is strapped to address
// driverAddr, the reader to readerAddr.
func NewAdder(lk *Sim, clock, mosi, miso, cs, reset int, driverAddr, readerAddr byte) *Adder {
	a := &Adder{SettleReads: 3}
	a.driver = NewExpander(driverAddr, clock, mosi, miso, cs, reset)
	a.reader = NewExpander(readerAddr, clock, mosi, miso, cs, reset)
	a.driver.OnWrite = func(canonical, val byte) {
		if r := canonical & 0x0F; r == regGPIO || r == regOLAT {
			a.settleLeft = a.SettleReads
		}
	}
	a.reader.ReadLines = a.readLines
	lk.Attach(a.driver)
	lk.Attach(a.reader)
	return a
}

// DriverModel returns the expander model holding the operand latches.
func (a *Adder) DriverModel() *Expander { return a.driver }

// ReaderModel returns the expander model sensing the sum.
func (a *Adder) ReaderModel() *Expander { return a.reader }

// stable is the settled 9-bit circuit output.
func (a *Adder) stable() int {
	opA := int(a.driver.Register(regOLAT))
	opB := int(a.driver.Register(regOLAT | portB))
	return (opA + opB) & 0x1FF
}

// readLines produces the wire levels for the reader's GPIO ports. The
// value latches on the port A read so that the following port B read
// reports a coherent 9-bit value; settling is advanced once per port A
// read.
func (a *Adder) readLines(port int) byte {
	if port == 0 {
		v := a.stable()
		if a.settleLeft > 0 {
			// Transient: carries still rippling through the adder.
			v = (v + a.settleLeft*7) & 0x1FF
			a.settleLeft--
		}
		a.current = v
		return ^byte(a.current & 0xFF)
	}
	return ^byte((a.current >> 8) & 1)
}
