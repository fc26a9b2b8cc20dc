// Package calc runs one calculation on the rig: it presents the two
// operands on the driver expander, then polls the reader expander until
// the physically settling 9-bit result converges.
package calc

import (
	"fmt"
	"time"

	"kleinert.net/mcprig/config"
)

// RegisterBus is the register access the sampler needs; it is satisfied
// by mcp23s17.Bus and faked in tests.
type RegisterBus interface {
	WriteRegister(dev, reg, data byte) error
	ReadRegister(dev, reg byte) (byte, error)
}

// Op is the requested arithmetic operation.
type Op int

const (
	OpAdd Op = iota
	OpSub
)

// ParseOp maps the operator argument to an Op.
func ParseOp(s string) (Op, error) {
	switch s {
	case "+":
		return OpAdd, nil
	case "-":
		return OpSub, nil
	}
	return 0, fmt.Errorf("calc: unknown operation %q", s)
}

func (o Op) String() string {
	if o == OpSub {
		return "-"
	}
	return "+"
}

// Wiring names the registers the circuit is attached to: the driver
// device presents operand A and B on two output registers; the reader
// device senses the result's low byte and high bit on two input
// registers.
type Wiring struct {
	Driver byte
	RegA   byte
	RegB   byte

	Reader  byte
	RegLow  byte
	RegHigh byte
}

// Sample is one observation of the settling result. At is the averaged
// start/end time of the two register reads, relative to the start of
// the run.
type Sample struct {
	At    time.Duration
	Value int
}

// Result is the outcome of one run: the full sample trace for
// diagnostic display plus the final decoded value.
type Result struct {
	Samples   []Sample
	Raw       int
	Value     int
	Converged bool
}

// Runner drives calculations over a register bus. Like the rest of the
// stack it is single-owner, fully synchronous state.
type Runner struct {
	bus    RegisterBus
	wiring Wiring
	cfg    config.ConvergeConfig

	// replaced in tests
	now   func() time.Time
	sleep func(time.Duration)
}

// NewRunner creates a runner with the given circuit wiring and
// convergence tuning.
func NewRunner(bus RegisterBus, wiring Wiring, cfg config.ConvergeConfig) *Runner {
	return &Runner{
		bus:    bus,
		wiring: wiring,
		cfg:    cfg,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// Clear zeroes both operand registers.
func (r *Runner) Clear() error {
	if err := r.bus.WriteRegister(r.wiring.Driver, r.wiring.RegA, 0); err != nil {
		return err
	}
	return r.bus.WriteRegister(r.wiring.Driver, r.wiring.RegB, 0)
}

// Run presents the operands and samples the result until it converges
// or the iteration cap is reached.
//
// For subtraction the second operand goes out two's-complement negated,
// so the adder circuit computes a-b directly. The raw result is the
// 9-bit value composed from the low byte and the high bit; for a
// mathematically negative subtraction it is reinterpreted as 9-bit
// two's complement, otherwise the low 8 bits are the value.
//
// Convergence is declared once three evenly spaced observations agree:
// the newest sample equals the samples two and four positions earlier.
// The spacing tolerates transient, non-monotonic glitches while the
// circuit settles. The rule is only consulted after MinElapsed has
// passed and MinSamples have been collected; if the cap is reached
// first, the last sample is used regardless.
func (r *Runner) Run(a, b int, op Op) (*Result, error) {
	bOut := b
	if op == OpSub {
		bOut = -b
	}
	if err := r.bus.WriteRegister(r.wiring.Driver, r.wiring.RegA, byte(a)); err != nil {
		return nil, fmt.Errorf("calc: set operand A: %w", err)
	}
	if err := r.bus.WriteRegister(r.wiring.Driver, r.wiring.RegB, byte(bOut)); err != nil {
		return nil, fmt.Errorf("calc: set operand B: %w", err)
	}

	res := &Result{}
	start := r.now()
	for i := 0; i < r.cfg.MaxIterations; i++ {
		t1 := r.now()
		low, err := r.bus.ReadRegister(r.wiring.Reader, r.wiring.RegLow)
		if err != nil {
			return nil, fmt.Errorf("calc: read result low byte: %w", err)
		}
		high, err := r.bus.ReadRegister(r.wiring.Reader, r.wiring.RegHigh)
		if err != nil {
			return nil, fmt.Errorf("calc: read result high bit: %w", err)
		}
		t2 := r.now()

		v := int(high&1)<<8 | int(low)
		res.Samples = append(res.Samples, Sample{
			At:    (t1.Sub(start) + t2.Sub(start)) / 2,
			Value: v,
		})

		if r.settled(res.Samples, t2.Sub(start)) {
			res.Converged = true
			break
		}
		if i < r.cfg.MaxIterations-1 && r.cfg.Delay > 0 {
			r.sleep(r.cfg.Delay)
		}
	}

	res.Raw = res.Samples[len(res.Samples)-1].Value
	res.Value = decode(res.Raw, a, b, op)
	return res, nil
}

// settled applies the stop rule to the trace collected so far.
func (r *Runner) settled(samples []Sample, elapsed time.Duration) bool {
	if elapsed < r.cfg.MinElapsed {
		return false
	}
	n := len(samples)
	if n < r.cfg.MinSamples || n < 5 {
		return false
	}
	return samples[n-1].Value == samples[n-3].Value &&
		samples[n-1].Value == samples[n-5].Value
}

func decode(raw, a, b int, op Op) int {
	if op == OpSub && a-b < 0 {
		// The circuit produced the 9-bit two's complement of the
		// negative result.
		if raw&0x100 != 0 {
			return raw - 0x200
		}
		return raw
	}
	return raw & 0xFF
}
