package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"tinygo.org/x/drivers/lsm6dsox"

	"github.com/michcald/devhandler"
	"github.com/michcald/devhandler/config"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/handlers/imu"
	"github.com/michcald/devhandler/internal/hwtest"
	"github.com/michcald/devhandler/logging"
	"github.com/michcald/devhandler/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	imuAddr      = 0x6A
	expanderAddr = 0x20
)

const boardYAML = `
i2c:
  i2c1:
    bus: "1"
devices:
  - name: imu0
    kind: imu
    bus: i2c1
    address: 0x6A
  - name: pwm0
    kind: pwm
    bus: i2c1
    address: 0x40
  - name: io0
    kind: expander
    bus: i2c1
    address: 0x20
    pins:
      reset: {gpio: GPIO5, active: low}
      interrupt: {gpio: GPIO6, active: low, pull: up}
`

// fakeOpener serves one simulated I²C bus and records what was opened.
type fakeOpener struct {
	mu     sync.Mutex
	bus    *hwtest.I2C
	pins   map[string]*hwtest.Pin
	opened map[string]int
	spiErr error
}

func newFakeOpener() *fakeOpener {
	bus := hwtest.NewI2C(imuAddr, expanderAddr)
	bus.Set(imuAddr, lsm6dsox.WHO_AM_I, imu.WhoAmI)
	bus.Set(expanderAddr, 0x00, 0xFF, 0xFF)
	return &fakeOpener{bus: bus, pins: map[string]*hwtest.Pin{}, opened: map[string]int{}}
}

func (o *fakeOpener) count(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened[kind]++
}

func (o *fakeOpener) SPI(string, config.SPIBus) (devhandler.SPI, error) {
	o.count("spi")
	if o.spiErr != nil {
		return nil, o.spiErr
	}
	return hwtest.NewSPI(nil), nil
}

func (o *fakeOpener) I2C(string, config.I2CBus) (devhandler.I2C, error) {
	o.count("i2c")
	return o.bus, nil
}

func (o *fakeOpener) UART(string, config.UARTPort) (devhandler.UART, error) {
	o.count("uart")
	return hwtest.NewUART(nil), nil
}

func (o *fakeOpener) Pin(gpio string) (devhandler.Pin, error) {
	o.count("pin")
	o.mu.Lock()
	defer o.mu.Unlock()
	p := hwtest.NewPin(gpio)
	if gpio == "GPIO6" {
		p.Drive(devhandler.High)
	}
	o.pins[gpio] = p
	return p, nil
}

func (o *fakeOpener) pin(name string) *hwtest.Pin {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pins[name]
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "board.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, op Opener, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := Command(Env{
		Open:   func(logging.Logger) (Opener, error) { return op, nil },
		Out:    &out,
		ErrOut: &errOut,
	})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestProbe(t *testing.T) {
	path := writeConfig(t, boardYAML)
	out, err := run(t, newFakeOpener(), "--config", path, "probe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 devices failed")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "STATE")
	assert.Regexp(t, `^imu0\s+imu\s+i2c\s+ready\s+-$`, lines[1])
	assert.Regexp(t, `^pwm0\s+pwm\s+i2c\s+failed\s+.*transfer_error`, lines[2])
	assert.Regexp(t, `^io0\s+expander\s+i2c\s+ready`, lines[3])
}

func TestProbeSelectsDevices(t *testing.T) {
	path := writeConfig(t, boardYAML)
	out, err := run(t, newFakeOpener(), "--config", path, "probe", "-v", "imu0")
	require.NoError(t, err)
	assert.NotContains(t, out, "pwm0")
	assert.Contains(t, out, "handler imu0")

	_, err = run(t, newFakeOpener(), "--config", path, "probe", "nope")
	assert.ErrorIs(t, err, errcode.InvalidParameter)
}

func TestDiag(t *testing.T) {
	path := writeConfig(t, boardYAML)
	out, err := run(t, newFakeOpener(), "--config", path, "diag", "imu0")
	require.NoError(t, err)
	assert.Contains(t, out, "handler imu0")
	assert.Contains(t, out, "state:         uninitialized")

	out, err = run(t, newFakeOpener(), "--config", path, "diag", "--init", "imu0", "pwm0")
	require.NoError(t, err)
	assert.Contains(t, out, "state:         ready")
	assert.Contains(t, out, "handler pwm0")
	assert.Contains(t, out, "state:         failed")
}

func TestConfigDump(t *testing.T) {
	path := writeConfig(t, boardYAML)
	out, err := run(t, newFakeOpener(), "--config", path, "--log-level", "debug", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "level: debug")
	assert.Contains(t, out, "kind: expander")
}

func TestBadConfig(t *testing.T) {
	path := writeConfig(t, "devices:\n  - name: x\n    kind: lamp\n    bus: none\n")
	_, err := run(t, newFakeOpener(), "--config", path, "probe")
	assert.ErrorIs(t, err, errcode.ConfigurationFailed)
}

func TestBuildSharesBuses(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, boardYAML))
	require.NoError(t, err)
	op := newFakeOpener()
	b, err := Build(cfg, op, nil, nil)
	require.NoError(t, err)
	require.Len(t, b.Devices, 3)
	assert.Equal(t, 1, op.opened["i2c"])
	assert.Equal(t, 2, op.opened["pin"])

	d, ok := b.Find("io0")
	require.True(t, ok)
	assert.Equal(t, "io0", d.Handler.Name())
	assert.False(t, d.Handler.IsInitialized(), "build does not touch the hardware")
	require.NoError(t, b.Close())
}

func TestBuildOpenFailure(t *testing.T) {
	cfg := config.Default()
	cfg.SPI = map[string]config.SPIBus{"spi0": {Device: "/dev/spidev0.0"}}
	cfg.Devices = []config.Device{{
		Name: "radio", Kind: config.KindRadio, Bus: "spi0",
		Pins: map[string]config.Pin{"enable": {GPIO: "GPIO25"}},
	}}
	op := newFakeOpener()
	op.spiErr = errors.New("no such device")
	_, err := Build(cfg, op, nil, nil)
	assert.ErrorIs(t, err, errcode.HardwareNotReady)
	assert.ErrorContains(t, err, "device radio")
}

func TestSetupEnablesMetrics(t *testing.T) {
	t.Setenv("DEVHANDLER_METRICS_ENABLED", "true")
	a := &app{env: Env{ErrOut: &bytes.Buffer{}}, cfgPath: writeConfig(t, boardYAML)}
	require.NoError(t, a.setup(true))
	require.NotNil(t, a.registry)
	_, ok := a.rec.(*metrics.HandlerMetrics)
	assert.True(t, ok)
}

func TestSetupSkipsMetricsOutsideWatch(t *testing.T) {
	t.Setenv("DEVHANDLER_METRICS_ENABLED", "true")
	a := &app{env: Env{ErrOut: &bytes.Buffer{}}, cfgPath: writeConfig(t, boardYAML)}
	require.NoError(t, a.setup(false))
	assert.Nil(t, a.registry)
	_, ok := a.rec.(*metrics.HandlerMetrics)
	assert.False(t, ok)
}

func TestWatchHelpMentionsMetrics(t *testing.T) {
	out, err := run(t, newFakeOpener(), "watch", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "only command that does")
}

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func TestWatchLogsExpanderInterrupts(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, boardYAML))
	require.NoError(t, err)
	op := newFakeOpener()
	var logs lockedBuffer
	a := &app{cfg: cfg, log: logging.New(&logs, "info", "text"), rec: metrics.Nop()}

	b, err := Build(cfg, op, a.log, a.rec)
	require.NoError(t, err)
	defer func() { assert.NoError(t, b.Close()) }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.watch(ctx, b.Devices) }()

	inta := op.pin("GPIO6")
	require.Eventually(t, func() bool { return inta.Watching() == devhandler.FallingEdge }, time.Second, time.Millisecond)
	op.bus.Set(expanderAddr, 0x0E, 0x02, 0x00) // INTF: GPA1
	op.bus.Set(expanderAddr, 0x10, 0x00, 0x00)
	inta.Drive(devhandler.Low)

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "pin change")
	}, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Contains(t, logs.String(), "device=io0")
}

func TestWatchNeedsInterruptDevice(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, boardYAML))
	require.NoError(t, err)
	a := &app{cfg: cfg, log: logging.Nop(), rec: metrics.Nop()}
	b, err := Build(cfg, newFakeOpener(), nil, nil)
	require.NoError(t, err)
	defer b.Close()

	imu0, _ := b.Find("imu0")
	err = a.watch(context.Background(), []Device{imu0})
	assert.ErrorContains(t, err, "no interrupt-capable device")
}
