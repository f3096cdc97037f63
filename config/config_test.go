package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/michcald/devhandler"
	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/config"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/internal/hwtest"
)

const board = `
log:
  level: debug
spi:
  spi0:
    device: /dev/spidev0.0
    clock_hz: 4000000
i2c:
  i2c1:
    bus: "1"
uart:
  ttys0:
    device: /dev/ttyS0
    baud: 115200
    read_timeout: 20ms
devices:
  - name: radio
    kind: radio
    bus: spi0
    pins:
      enable: {gpio: GPIO25}
      interrupt: {gpio: GPIO24, active: low, pull: up}
    options:
      channel: 76
      rx_address: E1F0F0F0F0
  - name: io
    kind: expander
    bus: i2c1
    address: 0x20
  - name: axis
    kind: stepper
    bus: ttys0
    pins:
      enable: {gpio: GPIO5, active: low, required: true}
    options:
      node_address: 2
      run_current: 20
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "board.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := config.Load(writeFile(t, board))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "default kept")
	assert.Equal(t, ":9464", cfg.Metrics.Listen)
	assert.Equal(t, int64(4000000), cfg.SPI["spi0"].ClockHz)
	assert.Equal(t, 20*time.Millisecond, cfg.UART["ttys0"].ReadTimeout)

	require.Len(t, cfg.Devices, 3)
	radio := cfg.Devices[0]
	assert.Equal(t, config.KindRadio, radio.Kind)
	assert.Equal(t, uint8(76), radio.Options.Channel)
	assert.Equal(t, "low", radio.Pins["interrupt"].Active)
	assert.Equal(t, uint16(0x20), cfg.Devices[1].Address)
	assert.Equal(t, "uart", cfg.BusSection(cfg.Devices[2]))
	assert.Equal(t, uint8(2), cfg.Devices[2].Options.NodeAddress)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DEVHANDLER_LOG_LEVEL", "warn")
	t.Setenv("DEVHANDLER_METRICS_ENABLED", "true")
	cfg, err := config.Load(writeFile(t, board))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, errcode.ConfigurationFailed)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default().Log, cfg.Log)
	assert.Empty(t, cfg.Devices)
}

func TestValidate(t *testing.T) {
	base := func() *config.Config {
		c := config.Default()
		c.SPI = map[string]config.SPIBus{"spi0": {Device: "/dev/spidev0.0"}}
		c.I2C = map[string]config.I2CBus{"i2c1": {Bus: "1"}}
		return c
	}
	tests := []struct {
		name string
		dev  config.Device
		want string
	}{
		{"unknown kind", config.Device{Name: "a", Kind: "lamp", Bus: "spi0"}, `unknown kind "lamp"`},
		{"missing bus", config.Device{Name: "a", Kind: config.KindRadio, Bus: "spi9"}, `bus "spi9" is not defined`},
		{"wrong bus", config.Device{Name: "a", Kind: config.KindIMU, Bus: "spi0"}, "kind imu cannot use spi bus"},
		{"no address", config.Device{Name: "a", Kind: config.KindPWM, Bus: "i2c1"}, "i2c address 0x0 out of range"},
		{"bad slot", config.Device{Name: "a", Kind: config.KindRadio, Bus: "spi0",
			Pins: map[string]config.Pin{"led": {GPIO: "GPIO1"}}}, `unknown pin slot "led"`},
		{"bad active", config.Device{Name: "a", Kind: config.KindRadio, Bus: "spi0",
			Pins: map[string]config.Pin{"enable": {GPIO: "GPIO1", Active: "sideways"}}}, "active must be high or low"},
		{"bad address", config.Device{Name: "a", Kind: config.KindRadio, Bus: "spi0",
			Options: config.Options{RxAddress: "E1F0"}}, "rx_address must be 3 to 5 bytes"},
		{"no name", config.Device{Kind: config.KindRadio, Bus: "spi0"}, "devices[0]: name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			c.Devices = []config.Device{tt.dev}
			err := c.Validate()
			assert.ErrorIs(t, err, errcode.ConfigurationFailed)
			assert.ErrorContains(t, err, tt.want)
		})
	}

	t.Run("all problems reported", func(t *testing.T) {
		c := base()
		c.Log.Format = "xml"
		c.Devices = []config.Device{
			{Name: "a", Kind: config.KindRadio, Bus: "spi0"},
			{Name: "a", Kind: config.KindRadio, Bus: "spi0"},
		}
		err := c.Validate()
		assert.ErrorContains(t, err, "log.format")
		assert.ErrorContains(t, err, "duplicate name")
	})
}

func TestControlPins(t *testing.T) {
	cfg, err := config.Load(writeFile(t, board))
	require.NoError(t, err)

	made := map[string]*hwtest.Pin{}
	resolve := func(name string) (devhandler.Pin, error) {
		p := hwtest.NewPin(name)
		made[name] = p
		return p, nil
	}
	pins, err := cfg.Devices[0].ControlPins(resolve)
	require.NoError(t, err)
	require.Len(t, pins, 2)
	assert.Equal(t, comm.ActiveHigh, pins[comm.PinEnable].Active)
	assert.Equal(t, comm.ActiveLow, pins[comm.PinInterrupt].Active)
	assert.Equal(t, devhandler.PullUp, pins[comm.PinInterrupt].Pull)
	assert.Same(t, made["GPIO24"], pins[comm.PinInterrupt].Pin)

	_, err = cfg.Devices[2].ControlPins(func(string) (devhandler.Pin, error) {
		return nil, errors.New("no such pin")
	})
	assert.ErrorIs(t, err, errcode.ConfigurationFailed)
}

func TestParseHexAddress(t *testing.T) {
	a, err := config.ParseHexAddress("0xE1F0F0F0F0")
	require.NoError(t, err)
	assert.Equal(t, [5]byte{0xE1, 0xF0, 0xF0, 0xF0, 0xF0}, a)

	a, err = config.ParseHexAddress("c2c2c2")
	require.NoError(t, err)
	assert.Equal(t, [5]byte{0xC2, 0xC2, 0xC2}, a)

	_, err = config.ParseHexAddress("zz")
	assert.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg, err := config.Load(writeFile(t, board))
	require.NoError(t, err)
	out, err := cfg.Marshal()
	require.NoError(t, err)

	var back config.Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, cfg.Devices[0].Pins, back.Devices[0].Pins)
	assert.Equal(t, cfg.UART, back.UART)
}
