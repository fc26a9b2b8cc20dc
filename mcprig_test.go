package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kleinert.net/mcprig/calc"
	"kleinert.net/mcprig/config"
	"kleinert.net/mcprig/link/sim"
	"kleinert.net/mcprig/mcp23s17"
)

// newSimRig builds the full protocol stack on the simulated link with
// the adder circuit attached, mirroring what -sim does.
func newSimRig(t *testing.T) (*rig, *sim.Adder) {
	t.Helper()
	conf := config.Default()
	conf.Link.Backend = "sim"
	conf.Port.SettleDelay = 0
	conf.Converge.MinElapsed = 0
	conf.Converge.Delay = 0

	lk := sim.New()
	adder := sim.NewAdder(lk,
		conf.Pins.Clock, conf.Pins.MOSI, conf.Pins.MISO,
		conf.Pins.CS, conf.Pins.Reset,
		byte(conf.Devices.Driver), byte(conf.Devices.Reader))

	r, err := buildRig(lk, conf)
	require.NoError(t, err)
	t.Cleanup(func() { r.port.Close() })
	return r, adder
}

func TestRigDeviceSetup(t *testing.T) {
	_, adder := newSimRig(t)
	driver := adder.DriverModel()
	reader := adder.ReaderModel()

	assert.True(t, driver.Haen())
	assert.True(t, reader.Haen())

	// Driver ports drive the operands, reader ports sense the inverted
	// result lines.
	assert.Equal(t, byte(0x00), driver.Register(mcp23s17.RegIODIRA))
	assert.Equal(t, byte(0x00), driver.Register(mcp23s17.RegIODIRB))
	assert.Equal(t, byte(0xFF), reader.Register(mcp23s17.RegIODIRA))
	assert.Equal(t, byte(0xFF), reader.Register(mcp23s17.RegIODIRB))
	assert.Equal(t, byte(0xFF), reader.Register(mcp23s17.RegIPOLA))
	assert.Equal(t, byte(0xFF), reader.Register(mcp23s17.RegIPOLB))
}

func TestRigAddition(t *testing.T) {
	r, adder := newSimRig(t)
	runner := calc.NewRunner(r.bus, r.wiring, r.conf.Converge)

	res, err := runner.Run(2, 3, calc.OpAdd)
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.Equal(t, 5, res.Value)
	assert.Equal(t, byte(2), adder.DriverModel().Register(mcp23s17.RegOLATA))
	assert.Equal(t, byte(3), adder.DriverModel().Register(mcp23s17.RegOLATB))
}

func TestRigAdditionCarriesIntoNinthBit(t *testing.T) {
	r, _ := newSimRig(t)
	runner := calc.NewRunner(r.bus, r.wiring, r.conf.Converge)

	res, err := runner.Run(200, 61, calc.OpAdd)
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.Equal(t, 0x105, res.Raw)
	assert.Equal(t, 5, res.Value)
}

func TestRigSubtractionGoesNegative(t *testing.T) {
	r, _ := newSimRig(t)
	runner := calc.NewRunner(r.bus, r.wiring, r.conf.Converge)

	res, err := runner.Run(3, 5, calc.OpSub)
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.Equal(t, 0x1FE, res.Raw)
	assert.Equal(t, -2, res.Value)
}

func TestRigSamplesThroughTransients(t *testing.T) {
	r, _ := newSimRig(t)
	runner := calc.NewRunner(r.bus, r.wiring, r.conf.Converge)

	res, err := runner.Run(10, 20, calc.OpAdd)
	require.NoError(t, err)

	// The circuit model reports rippling carries on the first reads, so
	// the early samples must differ from the settled value.
	require.True(t, res.Converged)
	assert.NotEqual(t, res.Value, res.Samples[0].Value)
	assert.GreaterOrEqual(t, len(res.Samples), 5)
	assert.Equal(t, 30, res.Value)
}

func TestParseOperands(t *testing.T) {
	a, b, op, err := parseOperands([]string{"12", "+", "34"})
	require.NoError(t, err)
	assert.Equal(t, 12, a)
	assert.Equal(t, 34, b)
	assert.Equal(t, calc.OpAdd, op)

	_, _, op, err = parseOperands([]string{"0", "-", "255"})
	require.NoError(t, err)
	assert.Equal(t, calc.OpSub, op)

	for _, args := range [][]string{
		{"1", "+"},
		{"1", "*", "2"},
		{"x", "+", "2"},
		{"1", "+", "y"},
		{"-1", "+", "2"},
		{"1", "+", "256"},
	} {
		_, _, _, err := parseOperands(args)
		assert.Error(t, err, "args %v must be rejected", args)
	}
}
