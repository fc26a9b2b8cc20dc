// mcprig drives the MCP23S17 adder rig over an FTDI chip in async
// bit-bang mode: it presents two operands on one expander, lets the
// discrete adder circuit settle and samples the 9-bit result on a
// second expander.
//
// Usage:
//
//	mcprig [-config config.yml] [-sim] [-monitor] A (+|-) B
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"kleinert.net/mcprig/calc"
	"kleinert.net/mcprig/config"
	"kleinert.net/mcprig/link"
	"kleinert.net/mcprig/link/ftdi"
	"kleinert.net/mcprig/link/rpi"
	"kleinert.net/mcprig/link/sim"
	"kleinert.net/mcprig/logging"
	"kleinert.net/mcprig/mcp23s17"
	"kleinert.net/mcprig/port"
	"kleinert.net/mcprig/tui"
	"kleinert.net/mcprig/util"
)

// rig bundles the constructed protocol stack.
type rig struct {
	conf   *config.Config
	port   *port.Port
	bus    *mcp23s17.Bus
	wiring calc.Wiring
}

func main() {
	cfile := flag.String("config", "config.yml", "configuration file")
	simulate := flag.Bool("sim", false, "use the simulated link instead of real hardware")
	monitor := flag.Bool("monitor", false, "run the signal monitor TUI")
	flag.Parse()

	conf, err := config.Read(*cfile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			conf = config.Default()
			conf.Configfile = *cfile
		} else {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}
	if *simulate {
		conf.Link.Backend = "sim"
	}
	conf.Logging.Buffered = conf.Logging.Buffered || *monitor
	if err := logging.Init(conf.Logging); err != nil {
		fmt.Fprintln(os.Stderr, "can't initialize logging:", err)
		os.Exit(2)
	}
	defer logging.Close()

	a, b, op, err := parseOperands(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "usage: mcprig [-config file] [-sim] [-monitor] A (+|-) B")
		os.Exit(2)
	}

	lk := buildLink(conf)
	r, err := buildRig(lk, conf)
	if err != nil {
		logging.SetOutput(os.Stderr)
		slog.Error("Rig construction failed", "error", err)
		os.Exit(1)
	}
	defer r.port.Close()

	if *monitor {
		runMonitor(r, a, b, op)
		return
	}
	logging.SetOutput(os.Stderr)
	runOnce(r, a, b, op)
}

func parseOperands(args []string) (a, b int, op calc.Op, err error) {
	if len(args) != 3 {
		return 0, 0, 0, fmt.Errorf("expected 3 arguments, got %d", len(args))
	}
	if a, err = strconv.Atoi(args[0]); err != nil {
		return 0, 0, 0, fmt.Errorf("operand A: %w", err)
	}
	if op, err = calc.ParseOp(args[1]); err != nil {
		return 0, 0, 0, err
	}
	if b, err = strconv.Atoi(args[2]); err != nil {
		return 0, 0, 0, fmt.Errorf("operand B: %w", err)
	}
	if a < 0 || a > 255 || b < 0 || b > 255 {
		return 0, 0, 0, fmt.Errorf("operands must be in 0-255")
	}
	return a, b, op, nil
}

// buildLink picks the transport for the configured backend.
func buildLink(conf *config.Config) link.Link {
	switch conf.Link.Backend {
	case "sim":
		slog.Info("Using the simulated link, no hardware will be accessed")
		lk := sim.New()
		sim.NewAdder(lk,
			conf.Pins.Clock, conf.Pins.MOSI, conf.Pins.MISO,
			conf.Pins.CS, conf.Pins.Reset,
			byte(conf.Devices.Driver), byte(conf.Devices.Reader))
		return lk
	case "rpi":
		slog.Info("Using Raspberry Pi GPIOs", "lanes", conf.Link.RPi.Lanes)
		return rpi.New(conf.Link.RPi.Lanes)
	default:
		slog.Info("Using FTDI device",
			"vendor", fmt.Sprintf("%04x", conf.Link.FTDI.Vendor),
			"product", fmt.Sprintf("%04x", conf.Link.FTDI.Product))
		return ftdi.New(conf.Link.FTDI.Vendor, conf.Link.FTDI.Product)
	}
}

// buildRig constructs the pin plane and the expander bus and applies
// the demo circuit's register setup.
func buildRig(lk link.Link, conf *config.Config) (*rig, error) {
	pins := []*port.Pin{
		port.NewPin(conf.Pins.Reset, "/RESET", true, 1),
		port.NewPin(conf.Pins.CS, "/CS", true, 1),
		port.NewPin(conf.Pins.Clock, "SCK", true, 0),
		port.NewPin(conf.Pins.MOSI, "STXD", true, 0),
		port.NewPin(conf.Pins.MISO, "SRXD", false, 0),
	}
	p, err := port.New(lk, port.Config{
		DeviceIndex: conf.Link.FTDI.Index,
		Baud:        conf.Link.Baud,
		MaxPacket:   conf.Port.MaxPacket,
		HistorySize: conf.Port.HistorySize,
		SettleDelay: conf.Port.SettleDelay,
		OpenRetry: util.Retry{
			Attempts: conf.Port.OpenRetry.MaxAttempts,
			Backoff:  conf.Port.OpenRetry.Backoff,
		},
	}, pins...)
	if err != nil {
		return nil, err
	}
	slog.Info("Port initialized", "port", p.String())

	bus, err := mcp23s17.New(p,
		conf.Pins.Clock, conf.Pins.MOSI, conf.Pins.MISO,
		conf.Pins.CS, conf.Pins.Reset)
	if err != nil {
		p.Close()
		return nil, err
	}
	r := &rig{conf: conf, port: p, bus: bus, wiring: calc.Wiring{
		Driver:  byte(conf.Devices.Driver),
		RegA:    mcp23s17.RegGPIOA,
		RegB:    mcp23s17.RegGPIOB,
		Reader:  byte(conf.Devices.Reader),
		RegLow:  mcp23s17.RegGPIOA,
		RegHigh: mcp23s17.RegGPIOB,
	}}
	if err := r.setupDevices(); err != nil {
		p.Close()
		return nil, err
	}
	return r, nil
}

// setupDevices configures the two expanders for the adder circuit: the
// driver presents the operands on all-output ports, the reader senses
// the active-low result lines on all-input, polarity-inverted ports.
func (r *rig) setupDevices() error {
	driver := byte(r.conf.Devices.Driver)
	reader := byte(r.conf.Devices.Reader)
	steps := []struct {
		dev, reg, val byte
	}{
		{driver, mcp23s17.RegIODIRA, 0x00},
		{driver, mcp23s17.RegIODIRB, 0x00},
		{driver, mcp23s17.RegGPPUA, 0xFF},
		{driver, mcp23s17.RegGPPUB, 0xFF},

		{reader, mcp23s17.RegIODIRA, 0xFF},
		{reader, mcp23s17.RegIODIRB, 0xFF},
		{reader, mcp23s17.RegGPPUA, 0xFF},
		{reader, mcp23s17.RegGPPUB, 0xFF},
		{reader, mcp23s17.RegIPOLA, 0xFF},
		{reader, mcp23s17.RegIPOLB, 0xFF},
	}
	for _, s := range steps {
		if err := r.bus.WriteRegister(s.dev, s.reg, s.val); err != nil {
			return fmt.Errorf("device setup: %w", err)
		}
	}
	return nil
}

// runOnce performs a single calculation and prints the sample trace.
func runOnce(r *rig, a, b int, op calc.Op) {
	runner := calc.NewRunner(r.bus, r.wiring, r.conf.Converge)
	res, err := runner.Run(a, b, op)
	if err != nil {
		slog.Error("Calculation failed", "error", err)
		os.Exit(1)
	}
	for i, s := range res.Samples {
		fmt.Printf("%4d  %12s  %#03x (%d)\n", i, s.At, s.Value, s.Value)
	}
	state := "cap reached"
	if res.Converged {
		state = "converged"
	}
	fmt.Printf("%d %s %d = %d   (raw %#03x, %s after %d samples)\n",
		a, op, b, res.Value, res.Raw, state, len(res.Samples))
}

// runMonitor drives calculations from the TUI and renders the signal
// history after each one.
func runMonitor(r *rig, a, b int, op calc.Op) {
	lanes := make([]tui.Lane, 0, len(r.port.Pins()))
	for _, pin := range r.port.Pins() {
		lanes = append(lanes, tui.Lane{Num: pin.Num, Name: pin.Name})
	}
	monitor := tui.New(lanes)

	var wg sync.WaitGroup
	wg.Add(1)
	go monitor.Start(&wg)
	logging.SetOutput(io.Discard)

	// Convergence tuning may be adjusted while the monitor runs.
	converge := util.NewLatest[config.ConvergeConfig]()
	converge.Send(r.conf.Converge)
	stopWatch, err := config.Watch(r.conf.Configfile, func(c *config.Config) {
		converge.Send(c.Converge)
	})
	if err != nil {
		slog.Warn("Config watching unavailable", "error", err)
	} else {
		defer stopWatch()
	}

	ossignal := make(chan os.Signal, 1)
	signal.Notify(ossignal, syscall.SIGINT, syscall.SIGTERM)

	label := fmt.Sprintf("%d %s %d", a, op, b)
	run := func() {
		runner := calc.NewRunner(r.bus, r.wiring, converge.Value())
		res, err := runner.Run(a, b, op)
		if err != nil {
			slog.Error("Calculation failed", "error", err)
			return
		}
		monitor.Update(tui.Snapshot{History: r.port.History(), Result: res, Label: label})
	}
	run()

	for {
		select {
		case <-monitor.Runs():
			run()
		case <-monitor.Clears():
			runner := calc.NewRunner(r.bus, r.wiring, converge.Value())
			if err := runner.Clear(); err != nil {
				slog.Error("Clear failed", "error", err)
			}
			monitor.Update(tui.Snapshot{History: r.port.History()})
		case <-ossignal:
			slog.Info("Got signal, shutting down")
			monitor.Stop()
			wg.Wait()
			return
		case <-monitor.Quit():
			wg.Wait()
			return
		}
	}
}

// Local Variables:
// compile-command: "go build"
// End:
