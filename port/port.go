// Package port owns the bit-bang pin plane: the pin definitions, the
// direction masks, the transmit buffer and the bounded signal history.
// It is the only layer that talks to the link; the SPI and register
// layers above reference pins by number and resolve them here.
package port

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gammazero/deque"

	"kleinert.net/mcprig/link"
	"kleinert.net/mcprig/util"
)

// ErrConfig marks invalid pin definitions or wiring, detected at
// construction time.
var ErrConfig = errors.New("invalid pin configuration")

// Config carries the port tuning. The zero value is completed with the
// defaults below.
type Config struct {
	// DeviceIndex selects which attached adapter to open.
	DeviceIndex int
	// Baud is the bit-bang baud rate. The pin update clock is 16x this
	// value; the default of 57600 keeps the bit period well under the
	// circuit settling time while avoiding write FIFO overflow and
	// stale reads.
	Baud int
	// MaxPacket is the transmit buffer size that forces a flush.
	MaxPacket int
	// HistorySize bounds the signal history; oldest entries are
	// evicted first.
	HistorySize int
	// SettleDelay is the wait after switching the adapter into
	// bit-bang mode.
	SettleDelay time.Duration
	// OpenRetry bounds the open attempts against a busy or slowly
	// enumerating device.
	OpenRetry util.Retry

	// sleep is replaced in tests.
	sleep func(time.Duration)
}

const (
	defaultBaud        = 57600
	defaultMaxPacket   = 16
	defaultHistorySize = 100
	defaultSettleDelay = 50 * time.Millisecond
)

func (c *Config) withDefaults() {
	if c.Baud == 0 {
		c.Baud = defaultBaud
	}
	if c.MaxPacket == 0 {
		c.MaxPacket = defaultMaxPacket
	}
	if c.HistorySize == 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.OpenRetry.Attempts == 0 {
		c.OpenRetry.Attempts = 5
		c.OpenRetry.Backoff = time.Second
	}
	if c.sleep == nil {
		c.sleep = time.Sleep
	}
}

// Port is the pin plane over one physical link. It is single-owner,
// unsynchronized state: all access must come from one goroutine.
type Port struct {
	lk         link.Link
	cfg        Config
	pins       []*Pin
	byNum      map[int]*Pin
	outputMask byte
	inputMask  byte
	txBuf      []byte
	history    deque.Deque[byte]
}

// New validates the pin definitions, opens and initializes the link and
// pushes the initial pin state. On any failure after a successful open,
// the link is closed before returning; a returned error always means no
// resources are held.
func New(lk link.Link, cfg Config, pins ...*Pin) (*Port, error) {
	cfg.withDefaults()
	p := &Port{
		lk:    lk,
		cfg:   cfg,
		pins:  pins,
		byNum: make(map[int]*Pin, len(pins)),
	}
	p.history.Grow(cfg.HistorySize)

	if len(pins) == 0 {
		return nil, fmt.Errorf("port: %w: no pins defined", ErrConfig)
	}
	names := make(map[string]bool, len(pins))
	for _, pin := range pins {
		if pin == nil {
			return nil, fmt.Errorf("port: %w: nil pin", ErrConfig)
		}
		if pin.Num < 0 || pin.Num > 7 {
			return nil, fmt.Errorf("port: %w: pin number %d out of range", ErrConfig, pin.Num)
		}
		if _, dup := p.byNum[pin.Num]; dup {
			return nil, fmt.Errorf("port: %w: pin number %d is not unique", ErrConfig, pin.Num)
		}
		if names[pin.Name] {
			slog.Warn("Pin name is not unique", "name", pin.Name)
		}
		names[pin.Name] = true
		p.byNum[pin.Num] = pin
		if pin.Output {
			p.outputMask |= 1 << uint(pin.Num)
		} else {
			p.inputMask |= 1 << uint(pin.Num)
		}
	}

	if err := p.open(); err != nil {
		return nil, err
	}

	// Push the initial values onto the physical pins.
	if err := p.SetPins(true); err != nil {
		p.lk.Close()
		return nil, err
	}
	return p, nil
}

// open runs the adapter initialization sequence.
func (p *Port) open() error {
	err := p.cfg.OpenRetry.Do(func() error {
		if err := p.lk.Open(p.cfg.DeviceIndex); err != nil {
			slog.Warn("Retrying to open the bit-bang device", "index", p.cfg.DeviceIndex, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("port: can't open device %d: %w", p.cfg.DeviceIndex, err)
	}

	fail := func(err error) error {
		p.lk.Close()
		return err
	}
	if err := p.lk.Reset(); err != nil {
		return fail(fmt.Errorf("port: device reset: %w", err))
	}
	if err := p.lk.SetBaudRate(p.cfg.Baud); err != nil {
		return fail(fmt.Errorf("port: set baud rate: %w", err))
	}
	if err := p.lk.SetBitMode(0, link.ModeReset); err != nil {
		return fail(fmt.Errorf("port: reset I/O mode: %w", err))
	}
	if err := p.lk.SetBitMode(p.outputMask, link.ModeAsyncBitbang); err != nil {
		return fail(fmt.Errorf("port: enter bit-bang mode: %w", err))
	}
	// Give the adapter time to take up the new mode.
	p.cfg.sleep(p.cfg.SettleDelay)
	return nil
}

// Close releases the link.
func (p *Port) Close() error {
	return p.lk.Close()
}

// Pin returns the pin with the given number, or nil if the port does
// not define it. Higher layers use it to validate their wiring at
// construction time.
func (p *Port) Pin(num int) *Pin {
	return p.byNum[num]
}

// OutputMask returns the derived output pin mask.
func (p *Port) OutputMask() byte { return p.outputMask }

// InputMask returns the derived input pin mask.
func (p *Port) InputMask() byte { return p.inputMask }

// assemble builds one pin-state byte from the current output values.
func (p *Port) assemble() byte {
	var b byte
	for _, pin := range p.pins {
		if pin.Output && pin.value != 0 {
			b |= 1 << uint(pin.Num)
		}
	}
	return b
}

// SetPins sends the current output pin values towards the device. With
// flush false the state is only buffered, so several pin states can
// travel in a single USB packet and appear on the pins back to back at
// the baud clock rate; the buffer is still sent once it reaches
// MaxPacket bytes.
func (p *Port) SetPins(flush bool) error {
	p.txBuf = append(p.txBuf, p.assemble())
	if flush || len(p.txBuf) >= p.cfg.MaxPacket {
		return p.flush()
	}
	return nil
}

// flush sends the buffered pin states as one link write. The bytes are
// recorded in the signal history first and the buffer is cleared in
// every case; a short write is reported as an error rather than being
// silently dropped.
func (p *Port) flush() error {
	if len(p.txBuf) == 0 {
		return nil
	}
	for _, b := range p.txBuf {
		if p.history.Len() >= p.cfg.HistorySize {
			p.history.PopFront()
		}
		p.history.PushBack(b)
	}

	want := len(p.txBuf)
	n, err := p.lk.Write(p.txBuf)
	p.txBuf = p.txBuf[:0]
	if err != nil {
		return fmt.Errorf("port: link write: %w", err)
	}
	if n != want {
		return fmt.Errorf("port: short write: %d of %d bytes accepted", n, want)
	}
	return nil
}

// GetPins refreshes all input pin values from the physical pins. Any
// buffered output states are flushed first, so reads always observe the
// effect of every preceding write.
func (p *Port) GetPins() error {
	if err := p.flush(); err != nil {
		return err
	}
	raw, err := p.lk.ReadPins()
	if err != nil {
		return fmt.Errorf("port: read pins: %w", err)
	}
	for _, pin := range p.pins {
		if pin.Output {
			continue
		}
		pin.value = int(raw>>uint(pin.Num)) & 1
	}
	return nil
}

// History returns a snapshot of the signal history, oldest first.
func (p *Port) History() []byte {
	out := make([]byte, p.history.Len())
	for i := 0; i < p.history.Len(); i++ {
		out[i] = p.history.At(i)
	}
	return out
}

// Pins returns the pin definitions in declaration order.
func (p *Port) Pins() []*Pin {
	return p.pins
}

func (p *Port) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d pins, Output=%08b, Input=%08b", len(p.pins), p.outputMask, p.inputMask)
	return sb.String()
}

// Local Variables:
// compile-command: "cd .. && go build"
// End:
