package tmc5160_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tmcreg "tinygo.org/x/drivers/tmc5160"

	"github.com/michcald/devhandler"
	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/drivers/tmc5160"
	"github.com/michcald/devhandler/drivers/tmc5160/tmc5160test"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/internal/hwtest"
)

func enablePins(en *hwtest.Pin) comm.ControlPins {
	return comm.ControlPins{comm.PinEnable: {Pin: en, Active: comm.ActiveLow}}
}

func newSPI(t *testing.T, c tmc5160.Config) (*tmc5160.SPIDevice, *tmc5160test.Chip, *hwtest.SPI, *hwtest.Pin) {
	t.Helper()
	chip := tmc5160test.New(0)
	bus := hwtest.NewSPI(chip.RespondSPI)
	en := hwtest.NewPin("enn")
	a := comm.NewSPI(bus, enablePins(en), nil)
	require.NoError(t, a.Init())
	d, err := tmc5160.NewSPI(a, c, nil)
	require.NoError(t, err)
	return d, chip, bus, en
}

func newUART(t *testing.T, c tmc5160.Config) (*tmc5160.UARTDevice, *tmc5160test.Chip, *hwtest.UART) {
	t.Helper()
	chip := tmc5160test.New(c.NodeAddress)
	port := hwtest.NewUART(chip.RespondUART)
	a := comm.NewUART(port, enablePins(hwtest.NewPin("enn")), comm.UARTOptions{Timeout: 20 * time.Millisecond}, nil)
	require.NoError(t, a.Init())
	d, err := tmc5160.NewUART(a, c, nil)
	require.NoError(t, err)
	return d, chip, port
}

func TestCRC8(t *testing.T) {
	assert.Equal(t, byte(0x48), tmc5160.CRC8([]byte{0x05, 0x00, 0x00}))
	assert.Equal(t, byte(0xA8), tmc5160.CRC8([]byte{0x05, 0x00, 0x04}))
	assert.Equal(t, byte(0x08), tmc5160.CRC8([]byte{0x05, 0xFF, 0x04, 0x30, 0, 0, 0}))
	assert.Zero(t, tmc5160.CRC8(nil))
}

func TestConfigValidation(t *testing.T) {
	a := comm.NewSPI(hwtest.NewSPI(nil), enablePins(hwtest.NewPin("enn")), nil)

	tests := []struct {
		name string
		cfg  tmc5160.Config
	}{
		{"run current", tmc5160.Config{RunCurrent: 32}},
		{"hold delay", tmc5160.Config{HoldDelay: 16}},
		{"microsteps", tmc5160.Config{Microsteps: 3}},
		{"max speed", tmc5160.Config{MaxSpeed: 1 << 23}},
		{"acceleration", tmc5160.Config{Acceleration: 1 << 16}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tmc5160.NewSPI(a, tt.cfg, nil)
			assert.ErrorIs(t, err, errcode.InvalidParameter)
		})
	}

	_, err := tmc5160.NewUART(comm.NewUART(hwtest.NewUART(nil), nil, comm.UARTOptions{}, nil), tmc5160.Config{}, nil)
	assert.ErrorIs(t, err, errcode.ConfigurationFailed)
}

func TestSPIReadTakesTwoDatagrams(t *testing.T) {
	d, _, bus, _ := newSPI(t, tmc5160.Config{})

	v, err := d.ChipVersion()
	require.NoError(t, err)
	assert.Equal(t, uint8(tmc5160.ChipVersion), v)

	txs := bus.Txs()
	require.Len(t, txs, 2)
	assert.Equal(t, []byte{tmcreg.IOIN, 0, 0, 0, 0}, txs[0])
	assert.True(t, d.Status().ResetFlag(), "reset flag set until GSTAT is cleared")
}

func TestSPIInitialize(t *testing.T) {
	d, chip, _, en := newSPI(t, tmc5160.Config{Microsteps: 16})
	require.NoError(t, d.Initialize())

	assert.Equal(t, devhandler.High, en.Level(), "motor disabled after init")
	assert.False(t, d.IsEnabled())
	assert.Zero(t, chip.Get(tmcreg.GSTAT))

	v, ok := chip.LastWrite(tmcreg.IHOLD_IRUN)
	require.True(t, ok)
	assert.Equal(t, uint32(0x00061008), v)

	v, ok = chip.LastWrite(tmcreg.CHOPCONF)
	require.True(t, ok)
	assert.Equal(t, uint32(0x040100C0), v, "MRES=4 and the chopper off")

	assert.Equal(t, uint32(100000), chip.Get(tmcreg.VMAX))
	assert.Equal(t, uint32(1000), chip.Get(tmcreg.D_1))

	_, err := d.ChipVersion()
	require.NoError(t, err)
	assert.False(t, d.Status().ResetFlag())
}

func TestInitializeRejectsUnknownChip(t *testing.T) {
	d, chip, _, _ := newSPI(t, tmc5160.Config{})
	chip.Set(tmcreg.IOIN, 0x11<<24)

	err := d.Initialize()
	assert.ErrorIs(t, err, tmc5160.ErrNotConnected)
	assert.ErrorIs(t, err, errcode.HardwareError)
	assert.Empty(t, chip.Writes())
}

func TestEnable(t *testing.T) {
	d, chip, _, en := newSPI(t, tmc5160.Config{})
	require.NoError(t, d.Initialize())

	require.NoError(t, d.Enable(true))
	assert.Equal(t, devhandler.Low, en.Level())
	assert.True(t, d.IsEnabled())
	v, _ := chip.LastWrite(tmcreg.CHOPCONF)
	assert.Equal(t, uint32(0x000100C3), v)

	require.NoError(t, d.Deinitialize())
	assert.Equal(t, devhandler.High, en.Level())
	assert.False(t, d.IsEnabled())
	v, _ = chip.LastWrite(tmcreg.CHOPCONF)
	assert.Equal(t, uint32(0x000100C0), v)
}

func TestPositioning(t *testing.T) {
	d, _, _, _ := newSPI(t, tmc5160.Config{})
	require.NoError(t, d.Initialize())

	require.NoError(t, d.SetTargetPosition(-2000))
	pos, err := d.CurrentPosition()
	require.NoError(t, err)
	assert.Equal(t, int32(-2000), pos)

	reached, err := d.IsTargetReached()
	require.NoError(t, err)
	assert.True(t, reached)

	st, err := d.DriverStatus()
	require.NoError(t, err)
	assert.True(t, st.Stst)
}

func TestVelocityMode(t *testing.T) {
	d, chip, _, _ := newSPI(t, tmc5160.Config{})
	require.NoError(t, d.Initialize())

	require.NoError(t, d.SetVelocity(-5000))
	assert.Equal(t, uint32(tmcreg.VelocityNegativeMode), chip.Get(tmcreg.RAMPMODE))
	v, err := d.CurrentVelocity()
	require.NoError(t, err)
	assert.Equal(t, int32(-5000), v)

	st, err := d.DriverStatus()
	require.NoError(t, err)
	assert.False(t, st.Stst)

	reached, err := d.IsVelocityReached()
	require.NoError(t, err)
	assert.True(t, reached)

	require.NoError(t, d.Stop())
	v, err = d.CurrentVelocity()
	require.NoError(t, err)
	assert.Zero(t, v)

	assert.ErrorIs(t, d.SetVelocity(1<<24), errcode.InvalidParameter)
}

func TestSetters(t *testing.T) {
	d, chip, _, _ := newSPI(t, tmc5160.Config{})

	require.NoError(t, d.SetCurrent(20, 4))
	v, _ := chip.LastWrite(tmcreg.IHOLD_IRUN)
	assert.Equal(t, uint32(0x00061404), v)
	assert.ErrorIs(t, d.SetCurrent(32, 0), errcode.InvalidParameter)

	require.NoError(t, d.SetMaxSpeed(5000))
	assert.Equal(t, uint32(5000), chip.Get(tmcreg.VMAX))
	assert.ErrorIs(t, d.SetMaxSpeed(1<<23), errcode.InvalidParameter)

	require.NoError(t, d.SetSpeed(0))
	assert.Zero(t, chip.Get(tmcreg.VMAX))
	assert.ErrorIs(t, d.SetSpeed(-1), errcode.InvalidParameter)
	require.NoError(t, d.SetMaxSpeed(5000))

	require.NoError(t, d.SetAcceleration(300))
	assert.Equal(t, uint32(300), chip.Get(tmcreg.AMAX))
	assert.Equal(t, uint32(300), chip.Get(tmcreg.DMAX))

	c := d.Config()
	assert.Equal(t, uint8(20), c.RunCurrent)
	assert.Equal(t, uint32(5000), c.MaxSpeed)
	assert.Equal(t, uint32(300), c.Acceleration)
}

func TestDriverStatusBits(t *testing.T) {
	d, chip, _, _ := newSPI(t, tmc5160.Config{})
	chip.Set(tmcreg.DRV_STATUS, 1<<25|1<<24|0x123)

	st, err := d.DriverStatus()
	require.NoError(t, err)
	assert.True(t, st.Ot)
	assert.True(t, st.StallGuard)
	assert.False(t, st.Stst)
	assert.Equal(t, uint16(0x123), st.SgResult)
}

func TestDump(t *testing.T) {
	d, _, _, _ := newSPI(t, tmc5160.Config{})
	regs, err := d.Dump()
	require.NoError(t, err)
	require.Len(t, regs, 10)
	assert.Equal(t, "IOIN", regs[2].Name)
	assert.Equal(t, uint32(tmc5160.ChipVersion<<24), regs[2].Value)
}

func TestSPITransferFailure(t *testing.T) {
	d, _, bus, _ := newSPI(t, tmc5160.Config{})
	bus.Fail(hwtest.ErrInjected)

	_, err := d.CurrentPosition()
	assert.ErrorIs(t, err, errcode.TransferError)
	assert.ErrorIs(t, d.Initialize(), errcode.TransferError)
}

func TestUARTInitializeAndWrites(t *testing.T) {
	d, chip, port := newUART(t, tmc5160.Config{NodeAddress: 3})
	require.NoError(t, d.Initialize())
	assert.Equal(t, uint8(3), d.NodeAddress())

	n, err := d.InterfaceCount()
	require.NoError(t, err)
	assert.Equal(t, uint8(len(chip.Writes())), n)

	// First datagram on the wire is the IOIN read request.
	w := port.Written()
	require.GreaterOrEqual(t, len(w), 4)
	assert.Equal(t, []byte{0x05, 0x03, tmcreg.IOIN, tmc5160.CRC8([]byte{0x05, 0x03, tmcreg.IOIN})}, w[:4])

	require.NoError(t, d.SetTargetPosition(1234))
	pos, err := d.CurrentPosition()
	require.NoError(t, err)
	assert.Equal(t, int32(1234), pos)
}

func TestUARTReplyCRCMismatch(t *testing.T) {
	d, chip, _ := newUART(t, tmc5160.Config{})
	chip.CorruptNextReply()

	_, err := d.ChipVersion()
	assert.ErrorIs(t, err, tmc5160.ErrCRC)
	assert.ErrorIs(t, err, errcode.TransferError)

	v, err := d.ChipVersion()
	require.NoError(t, err)
	assert.Equal(t, uint8(tmc5160.ChipVersion), v)
}

func TestUARTNoReply(t *testing.T) {
	d, chip, _ := newUART(t, tmc5160.Config{})
	chip.SetMute(true)

	_, err := d.ChipVersion()
	assert.ErrorIs(t, err, errcode.TransferError)
}
