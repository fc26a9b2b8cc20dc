// Package config reads and validates the rig configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration tree, read from a YAML file.
type Config struct {
	Configfile string `yaml:"-"`

	Link     LinkConfig     `yaml:"Link"`
	Port     PortConfig     `yaml:"Port"`
	Pins     PinsConfig     `yaml:"Pins"`
	Devices  DevicesConfig  `yaml:"Devices"`
	Converge ConvergeConfig `yaml:"Converge"`
	Logging  LoggingConfig  `yaml:"Logging"`
}

// LinkConfig selects and parameterizes the device transport.
type LinkConfig struct {
	// Backend is "ftdi", "rpi" or "sim".
	Backend string `yaml:"Backend"`
	// Baud is the bit-bang baud rate (pin clock is 16x).
	Baud int        `yaml:"Baud"`
	FTDI FTDIConfig `yaml:"FTDI"`
	RPi  RPiConfig  `yaml:"RPi"`
}

// FTDIConfig identifies the USB device for the ftdi backend.
type FTDIConfig struct {
	Vendor  uint16 `yaml:"Vendor"`
	Product uint16 `yaml:"Product"`
	Index   int    `yaml:"Index"`
}

// RPiConfig maps the eight bit-bang lanes onto BCM GPIO numbers for the
// rpi backend. Lanes without an entry are unconnected.
type RPiConfig struct {
	Lanes map[int]int `yaml:"Lanes"`
}

// PortConfig tunes the pin plane.
type PortConfig struct {
	MaxPacket   int           `yaml:"MaxPacket"`
	HistorySize int           `yaml:"HistorySize"`
	SettleDelay time.Duration `yaml:"SettleDelay"`
	OpenRetry   RetryConfig   `yaml:"OpenRetry"`
}

// RetryConfig bounds the device open attempts.
type RetryConfig struct {
	MaxAttempts int           `yaml:"MaxAttempts"`
	Backoff     time.Duration `yaml:"Backoff"`
}

// PinsConfig assigns the SPI and control lines to physical pin numbers.
type PinsConfig struct {
	Clock int `yaml:"Clock"`
	MOSI  int `yaml:"MOSI"`
	MISO  int `yaml:"MISO"`
	CS    int `yaml:"CS"`
	Reset int `yaml:"Reset"`
}

// DevicesConfig holds the hardware addresses of the two expanders: the
// driver presents the operands, the reader senses the result.
type DevicesConfig struct {
	Driver int `yaml:"Driver"`
	Reader int `yaml:"Reader"`
}

// ConvergeConfig tunes the convergence sampler. These are
// circuit-specific constants: together with the iteration cap they are
// the only stopping conditions of a sampling run.
type ConvergeConfig struct {
	MaxIterations int           `yaml:"MaxIterations"`
	MinSamples    int           `yaml:"MinSamples"`
	MinElapsed    time.Duration `yaml:"MinElapsed"`
	Delay         time.Duration `yaml:"Delay"`
}

// LoggingConfig controls the slog setup.
type LoggingConfig struct {
	Level    string `yaml:"Level"`
	Format   string `yaml:"Format"`
	File     string `yaml:"File"`
	Buffered bool   `yaml:"Buffered"`
}

// Default returns the configuration of the reference rig: FT232R at
// 57600 baud, SPI on pins 0-2, /CS on 3, /RESET on 5, driver device 0
// and reader device 1.
func Default() *Config {
	return &Config{
		Link: LinkConfig{
			Backend: "ftdi",
			Baud:    57600,
			FTDI:    FTDIConfig{Vendor: 0x0403, Product: 0x6001},
		},
		Port: PortConfig{
			MaxPacket:   16,
			HistorySize: 100,
			SettleDelay: 50 * time.Millisecond,
			OpenRetry:   RetryConfig{MaxAttempts: 5, Backoff: time.Second},
		},
		Pins:    PinsConfig{Clock: 0, MOSI: 1, MISO: 2, CS: 3, Reset: 5},
		Devices: DevicesConfig{Driver: 0, Reader: 1},
		Converge: ConvergeConfig{
			MaxIterations: 20,
			MinSamples:    5,
			MinElapsed:    2 * time.Millisecond,
			Delay:         500 * time.Microsecond,
		},
		Logging: LoggingConfig{Level: "INFO", Format: "text"},
	}
}

// Read loads the configuration file on top of the defaults.
func Read(cfile string) (*Config, error) {
	conf := Default()
	f, err := os.Open(cfile)
	if err != nil {
		return nil, fmt.Errorf("config: can't open %s: %w", cfile, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(conf); err != nil {
		return nil, fmt.Errorf("config: can't decode %s: %w", cfile, err)
	}
	conf.Configfile = cfile
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate checks the value ranges that the protocol layers rely on.
func (c *Config) Validate() error {
	switch c.Link.Backend {
	case "ftdi", "rpi", "sim":
	default:
		return fmt.Errorf("config: unknown link backend %q", c.Link.Backend)
	}
	for name, num := range map[string]int{
		"Clock": c.Pins.Clock, "MOSI": c.Pins.MOSI, "MISO": c.Pins.MISO,
		"CS": c.Pins.CS, "Reset": c.Pins.Reset,
	} {
		if num < 0 || num > 7 {
			return fmt.Errorf("config: pin %s=%d out of range 0-7", name, num)
		}
	}
	for name, dev := range map[string]int{"Driver": c.Devices.Driver, "Reader": c.Devices.Reader} {
		if dev < 0 || dev > 7 {
			return fmt.Errorf("config: device address %s=%d out of range 0-7", name, dev)
		}
	}
	if c.Devices.Driver == c.Devices.Reader {
		return fmt.Errorf("config: driver and reader must be different devices")
	}
	if c.Converge.MaxIterations < 1 {
		return fmt.Errorf("config: Converge.MaxIterations must be at least 1")
	}
	if c.Converge.MinSamples < 5 {
		return fmt.Errorf("config: Converge.MinSamples must be at least 5")
	}
	return nil
}
