package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const baseConfig = `
Link:
  Backend: "sim"
  Baud: 57600
  FTDI:
    Vendor: 0x0403
    Product: 0x6001
    Index: 1
Port:
  MaxPacket: 32
  HistorySize: 200
  SettleDelay: 20ms
  OpenRetry:
    MaxAttempts: 3
    Backoff: 250ms
Pins:
  Clock: 0
  MOSI: 1
  MISO: 2
  CS: 3
  Reset: 5
Devices:
  Driver: 0
  Reader: 1
Converge:
  MaxIterations: 30
  MinSamples: 6
  MinElapsed: 3ms
  Delay: 1ms
Logging:
  Level: "DEBUG"
  Format: "json"
  File: "/tmp/mcprig.log"
`

func createConfigFile(t *testing.T, configData string) string {
	tempDir, err := os.MkdirTemp("", "mcprig-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	configFile := filepath.Join(tempDir, "config.yml")
	err = os.WriteFile(configFile, []byte(configData), 0o644)
	if err != nil {
		t.Fatalf("Failed to write dummy config file: %v", err)
	}
	return configFile
}

func TestRead(t *testing.T) {
	configFile := createConfigFile(t, baseConfig)

	conf, err := Read(configFile)
	assert.NoError(t, err, "Read should not return an error")

	assert.Equal(t, "sim", conf.Link.Backend)
	assert.Equal(t, 57600, conf.Link.Baud)
	assert.Equal(t, uint16(0x0403), conf.Link.FTDI.Vendor)
	assert.Equal(t, uint16(0x6001), conf.Link.FTDI.Product)
	assert.Equal(t, 1, conf.Link.FTDI.Index)

	assert.Equal(t, 32, conf.Port.MaxPacket)
	assert.Equal(t, 200, conf.Port.HistorySize)
	assert.Equal(t, 20*time.Millisecond, conf.Port.SettleDelay)
	assert.Equal(t, 3, conf.Port.OpenRetry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, conf.Port.OpenRetry.Backoff)

	assert.Equal(t, 30, conf.Converge.MaxIterations)
	assert.Equal(t, 6, conf.Converge.MinSamples)
	assert.Equal(t, 3*time.Millisecond, conf.Converge.MinElapsed)
	assert.Equal(t, time.Millisecond, conf.Converge.Delay)

	assert.Equal(t, "DEBUG", conf.Logging.Level)
	assert.Equal(t, "json", conf.Logging.Format)
	assert.Equal(t, "/tmp/mcprig.log", conf.Logging.File)

	assert.Equal(t, configFile, conf.Configfile)
}

func TestReadAppliesDefaults(t *testing.T) {
	// A minimal file keeps the reference rig values for everything it
	// does not mention.
	configFile := createConfigFile(t, "Link:\n  Backend: \"sim\"\n")

	conf, err := Read(configFile)
	assert.NoError(t, err)
	assert.Equal(t, 57600, conf.Link.Baud)
	assert.Equal(t, 16, conf.Port.MaxPacket)
	assert.Equal(t, PinsConfig{Clock: 0, MOSI: 1, MISO: 2, CS: 3, Reset: 5}, conf.Pins)
	assert.Equal(t, 20, conf.Converge.MaxIterations)
	assert.Equal(t, "INFO", conf.Logging.Level)
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read("/nonexistent/config.yml")
	assert.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRead_UnknownBackend(t *testing.T) {
	configData := strings.Replace(baseConfig, `Backend: "sim"`, `Backend: "serial"`, 1)
	configFile := createConfigFile(t, configData)

	_, err := Read(configFile)
	assert.Error(t, err, "Read should reject an unknown backend")
	assert.Contains(t, err.Error(), "unknown link backend")
}

func TestRead_PinOutOfRange(t *testing.T) {
	configData := strings.Replace(baseConfig, "MISO: 2", "MISO: 9", 1)
	configFile := createConfigFile(t, configData)

	_, err := Read(configFile)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "out of range 0-7")
}

func TestRead_SameDeviceTwice(t *testing.T) {
	configData := strings.Replace(baseConfig, "Reader: 1", "Reader: 0", 1)
	configFile := createConfigFile(t, configData)

	_, err := Read(configFile)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "must be different devices")
}

func TestRead_SamplerBounds(t *testing.T) {
	configData := strings.Replace(baseConfig, "MaxIterations: 30", "MaxIterations: 0", 1)
	_, err := Read(createConfigFile(t, configData))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "MaxIterations")

	configData = strings.Replace(baseConfig, "MinSamples: 6", "MinSamples: 3", 1)
	_, err = Read(createConfigFile(t, configData))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "MinSamples")
}

func TestValidateDefault(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
