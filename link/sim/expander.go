package sim

// Canonical register addresses, using the BANK=1 layout (port A at
// 0x00..0x0A, port B at 0x10..0x1A). BANK=0 addresses are translated to
// this layout on access.
const (
	regIODIR = 0x00
	regIPOL  = 0x01
	regIOCON = 0x05
	regGPPU  = 0x06
	regGPIO  = 0x09
	regOLAT  = 0x0A

	portB = 0x10
)

const (
	ioconHAEN = 0x08
	ioconBANK = 0x80
)

// RegWrite is one register write frame observed on the bus, before
// address matching. Tests use the log to assert protocol ordering.
type RegWrite struct {
	Dev     byte
	Reg     byte // canonical (BANK=1) address
	Val     byte
	Matched bool
}

// Expander models one MCP23S17 on the simulated bus: opcode framing,
// hardware addressing with the HAEN broadcast semantics, the BANK bit,
// input polarity inversion and a plain register file. Electrical line
// levels for input reads come from the ReadLines hook; without one,
// reads return the output latches.
type Expander struct {
	// Addr is the hardware-strapped device address (0-7).
	Addr byte
	// ResetPin is watched in the pin-state stream; driving it low
	// returns the device to power-on defaults. -1 disables the watch.
	ResetPin int
	// ReadLines returns the wire levels of GPIO port 0 (A) or 1 (B),
	// prior to input polarity inversion.
	ReadLines func(port int) byte
	// OnWrite is called after every matched register write.
	OnWrite func(canonical, val byte)
	// Log records every register write frame seen on the bus.
	Log []RegWrite

	Slave SPISlave

	regs    [32]byte
	bank    bool
	haen    bool
	byteIdx int
	opcode  byte
	regAddr byte
	matched bool
	framed  bool
}

// NewExpander returns a powered-on expander listening on the given pin
// numbers with the given strapped address.
func NewExpander(addr byte, clock, mosi, miso, cs, reset int) *Expander {
	e := &Expander{
		Addr:     addr & 7,
		ResetPin: reset,
	}
	e.Slave = SPISlave{Clock: clock, MOSI: mosi, MISO: miso, CS: cs, Handler: e}
	e.powerOn()
	return e
}

// Haen reports whether the hardware-address-enable bit is set.
func (e *Expander) Haen() bool { return e.haen }

// Bank reports whether the device is in BANK=1 register layout.
func (e *Expander) Bank() bool { return e.bank }

// Register returns the raw register file entry at a canonical address.
func (e *Expander) Register(canonical byte) byte { return e.regs[canonical&0x1F] }

func (e *Expander) powerOn() {
	e.regs = [32]byte{}
	e.regs[regIODIR] = 0xFF
	e.regs[regIODIR|portB] = 0xFF
	e.bank = false
	e.haen = false
	e.byteIdx = 0
}

// Update implements Peripheral.
func (e *Expander) Update(pins byte) (byte, byte) {
	if e.ResetPin >= 0 && (pins>>uint(e.ResetPin))&1 == 0 {
		e.powerOn()
		// Hold the shift logic in reset as well.
		e.Slave.Abort()
		e.Slave.prevClock = (pins >> uint(e.Slave.Clock)) & 1
		return 0, 0
	}
	if !e.Slave.Selected(pins) {
		e.byteIdx = 0
	}
	return e.Slave.Update(pins)
}

// HandleByte implements ByteHandler, running the opcode/register/data
// frame state machine.
func (e *Expander) HandleByte(sl *SPISlave, b byte) {
	switch e.byteIdx {
	case 0:
		e.opcode = b
		e.framed = b&0xF0 == 0x40
		dev := (b >> 1) & 7
		// With HAEN clear the address bits are ignored and every
		// device on the bus responds; this is what makes the enable
		// write at address 0 a broadcast.
		e.matched = e.framed && (!e.haen || dev == e.Addr)
	case 1:
		e.regAddr = b & 0x1F
		if e.framed && e.opcode&1 == 1 {
			canonical := e.canonical(e.regAddr)
			if e.matched {
				sl.Queue(e.readRegister(canonical))
			}
		}
	default:
		if e.framed && e.opcode&1 == 0 {
			canonical := e.canonical(e.regAddr)
			e.Log = append(e.Log, RegWrite{
				Dev:     (e.opcode >> 1) & 7,
				Reg:     canonical,
				Val:     b,
				Matched: e.matched,
			})
			if e.matched {
				e.writeRegister(canonical, b)
			}
		}
	}
	e.byteIdx++
}

// canonical maps a wire register address to the BANK=1 layout.
func (e *Expander) canonical(reg byte) byte {
	if e.bank {
		return reg
	}
	// BANK=0 interleaves the two ports: even addresses are port A,
	// odd addresses port B.
	return (reg >> 1) | (reg&1)<<4
}

func (e *Expander) writeRegister(canonical, val byte) {
	if canonical&0x0F == regIOCON {
		// IOCON is shared between the ports.
		e.regs[regIOCON] = val
		e.regs[regIOCON|portB] = val
		e.bank = val&ioconBANK != 0
		e.haen = val&ioconHAEN != 0
	} else if canonical&0x0F == regGPIO {
		// Writing GPIO writes the output latch.
		e.regs[(canonical&portB)|regOLAT] = val
	} else {
		e.regs[canonical] = val
	}
	if e.OnWrite != nil {
		e.OnWrite(canonical, val)
	}
}

func (e *Expander) readRegister(canonical byte) byte {
	if canonical&0x0F == regGPIO {
		half := canonical & portB
		if e.ReadLines != nil {
			port := 0
			if half != 0 {
				port = 1
			}
			return e.ReadLines(port) ^ e.regs[half|regIPOL]
		}
		return e.regs[half|regOLAT]
	}
	return e.regs[canonical]
}
