package sim

// ByteHandler reacts to bytes clocked into an SPISlave. Implementations
// may queue response bytes on the slave for the master to clock out.
type ByteHandler interface {
	HandleByte(sl *SPISlave, b byte)
}

// SPISlave models the receiving end of the mode (0,0) bit-bang SPI bus.
// It watches the clock pin in the written pin-state stream, samples the
// master's data pin on rising edges and drives its own data pin from a
// transmit queue on falling edges, matching a device that changes its
// output while the clock is low.
type SPISlave struct {
	Clock int
	MOSI  int
	MISO  int
	// CS is the active-low chip-select pin, or -1 when the slave is
	// permanently selected.
	CS      int
	Handler ByteHandler

	prevClock byte
	rx        byte
	rxBits    int
	txQueue   []byte
	txBit     int
	misoLevel byte
	driving   bool
}

// Queue appends a byte for the slave to clock out, MSB first, starting
// with the next falling clock edge.
func (sl *SPISlave) Queue(b byte) {
	sl.txQueue = append(sl.txQueue, b)
	sl.driving = true
}

// Selected reports whether the slave is addressed by the given pin
// state.
func (sl *SPISlave) Selected(pins byte) bool {
	return sl.CS < 0 || (pins>>uint(sl.CS))&1 == 0
}

// Abort drops any partial transfer and releases the data line.
func (sl *SPISlave) Abort() {
	sl.rx = 0
	sl.rxBits = 0
	sl.txQueue = nil
	sl.txBit = 0
	sl.driving = false
}

// Update implements Peripheral.
func (sl *SPISlave) Update(pins byte) (byte, byte) {
	clock := (pins >> uint(sl.Clock)) & 1

	if !sl.Selected(pins) {
		// Deselect aborts any partial transfer.
		sl.Abort()
		sl.prevClock = clock
		return 0, 0
	}

	switch {
	case clock == 1 && sl.prevClock == 0:
		// Rising edge: sample the master's data line.
		bit := (pins >> uint(sl.MOSI)) & 1
		sl.rx = sl.rx<<1 | bit
		sl.rxBits++
		if sl.rxBits == 8 {
			b := sl.rx
			sl.rx = 0
			sl.rxBits = 0
			if sl.Handler != nil {
				sl.Handler.HandleByte(sl, b)
			}
		}
	case clock == 0 && sl.prevClock == 1:
		// Falling edge: present the next transmit bit.
		sl.misoLevel = sl.nextTxBit()
	}
	sl.prevClock = clock

	if !sl.driving {
		return 0, 0
	}
	return sl.misoLevel << uint(sl.MISO), 1 << uint(sl.MISO)
}

func (sl *SPISlave) nextTxBit() byte {
	if len(sl.txQueue) == 0 {
		return 0
	}
	bit := (sl.txQueue[0] >> uint(7-sl.txBit)) & 1
	sl.txBit++
	if sl.txBit == 8 {
		sl.txBit = 0
		sl.txQueue = sl.txQueue[1:]
	}
	return bit
}

// Echo is a ByteHandler that queues every received byte for transmit,
// turning the slave into a loop-back device.
type Echo struct{}

// HandleByte implements ByteHandler.
func (Echo) HandleByte(sl *SPISlave, b byte) {
	sl.Queue(b)
}
