package stepper_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tmcreg "tinygo.org/x/drivers/tmc5160"

	"github.com/michcald/devhandler"
	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/drivers/tmc5160/tmc5160test"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/handler"
	"github.com/michcald/devhandler/handlers/stepper"
	"github.com/michcald/devhandler/internal/hwtest"
)

type rig struct {
	h     *stepper.Handler
	chip  *tmc5160test.Chip
	enn   *hwtest.Pin
	diag0 *hwtest.Pin
}

func pins(r *rig, withFault bool) comm.ControlPins {
	p := comm.ControlPins{comm.PinEnable: {Pin: r.enn, Active: comm.ActiveLow, Required: true}}
	if withFault {
		r.diag0 = hwtest.NewPin("diag0")
		r.diag0.Drive(devhandler.High)
		p[comm.PinFault] = comm.PinConfig{Pin: r.diag0, Active: comm.ActiveLow, Pull: devhandler.PullUp}
	}
	return p
}

func newSPIRig(t *testing.T, withFault bool) *rig {
	t.Helper()
	r := &rig{chip: tmc5160test.New(0), enn: hwtest.NewPin("enn")}
	a := comm.NewSPI(hwtest.NewSPI(r.chip.RespondSPI), pins(r, withFault), nil)
	h, err := stepper.NewSPI(a, stepper.Config{}, handler.Options{Name: "x-axis"})
	require.NoError(t, err)
	r.h = h
	return r
}

func newUARTRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{chip: tmc5160test.New(3), enn: hwtest.NewPin("enn")}
	port := hwtest.NewUART(r.chip.RespondUART)
	a := comm.NewUART(port, pins(r, false), comm.UARTOptions{Timeout: 20 * time.Millisecond}, nil)
	h, err := stepper.NewUART(a, stepper.Config{NodeAddress: 3}, handler.Options{})
	require.NoError(t, err)
	r.h = h
	return r
}

func TestNewValidates(t *testing.T) {
	a := comm.NewSPI(hwtest.NewSPI(nil), comm.ControlPins{comm.PinEnable: {Pin: hwtest.NewPin("enn")}}, nil)
	_, err := stepper.NewSPI(a, stepper.Config{RunCurrent: 40}, handler.Options{})
	assert.ErrorIs(t, err, errcode.InvalidParameter)

	_, err = stepper.NewSPI(comm.NewSPI(hwtest.NewSPI(nil), nil, nil), stepper.Config{}, handler.Options{})
	assert.ErrorIs(t, err, errcode.ConfigurationFailed, "DRV_ENN is mandatory")
}

func TestSPIModeDispatch(t *testing.T) {
	r := newSPIRig(t, false)
	assert.Equal(t, comm.ModeSPI, r.h.Mode())
	assert.Equal(t, "x-axis", r.h.Name())
	assert.Nil(t, r.h.DriverViaSPI(), "nil before init")

	require.NoError(t, r.h.SetTargetPosition(1200))
	assert.NotNil(t, r.h.DriverViaSPI())
	assert.Nil(t, r.h.DriverViaUART())

	pos, err := r.h.CurrentPosition()
	require.NoError(t, err)
	assert.Equal(t, int32(1200), pos)
	reached, err := r.h.IsTargetReached()
	require.NoError(t, err)
	assert.True(t, reached)
}

func TestUARTModeDispatch(t *testing.T) {
	r := newUARTRig(t)
	assert.Equal(t, comm.ModeUART, r.h.Mode())
	assert.Equal(t, "tmc5160", r.h.Name())

	require.NoError(t, r.h.SetCurrent(20, 5))
	u := r.h.DriverViaUART()
	require.NotNil(t, u)
	assert.Nil(t, r.h.DriverViaSPI())
	assert.Equal(t, uint8(3), u.NodeAddress())

	v, ok := r.chip.LastWrite(tmcreg.IHOLD_IRUN)
	require.True(t, ok)
	assert.Equal(t, uint32(0x00061405), v)
}

func TestEnableMotor(t *testing.T) {
	r := newSPIRig(t, false)
	assert.False(t, r.h.MotorEnabled())
	assert.True(t, r.h.IsInitialized(), "Visit initializes lazily")
	assert.Equal(t, devhandler.High, r.enn.Level())

	require.NoError(t, r.h.EnableMotor(true))
	assert.True(t, r.h.MotorEnabled())
	assert.Equal(t, devhandler.Low, r.enn.Level())

	require.NoError(t, r.h.Deinitialize())
	assert.Equal(t, devhandler.High, r.enn.Level(), "deinit releases the motor")
	assert.Nil(t, r.h.DriverViaSPI())
}

func TestVelocityAndStandstill(t *testing.T) {
	r := newSPIRig(t, false)
	still, err := r.h.IsStandstill()
	require.NoError(t, err)
	assert.True(t, still)

	require.NoError(t, r.h.SetMaxSpeed(5000))
	require.NoError(t, r.h.SetVelocity(-3000))
	v, err := r.h.CurrentVelocity()
	require.NoError(t, err)
	assert.Equal(t, int32(-3000), v)
	still, err = r.h.IsStandstill()
	require.NoError(t, err)
	assert.False(t, still)

	require.NoError(t, r.h.Stop())
	still, err = r.h.IsStandstill()
	require.NoError(t, err)
	assert.True(t, still)

	require.NoError(t, r.h.SetAcceleration(500))
	assert.Equal(t, uint32(500), r.chip.Get(tmcreg.AMAX))
	assert.ErrorIs(t, r.h.SetSpeed(-1), errcode.InvalidParameter)
	assert.True(t, r.h.IsInitialized(), "parameter errors keep the handler ready")
}

func TestFault(t *testing.T) {
	r := newSPIRig(t, false)
	_, err := r.h.Fault()
	assert.ErrorIs(t, err, errcode.Unsupported)

	r = newSPIRig(t, true)
	fault, err := r.h.Fault()
	require.NoError(t, err)
	assert.False(t, fault)

	r.diag0.Drive(devhandler.Low)
	fault, err = r.h.Fault()
	require.NoError(t, err)
	assert.True(t, fault)
}

func TestInitFailureIsRecorded(t *testing.T) {
	r := newSPIRig(t, false)
	r.chip.Set(tmcreg.IOIN, 0)

	err := r.h.EnableMotor(true)
	assert.ErrorIs(t, err, errcode.HardwareError)
	assert.Equal(t, handler.Failed, r.h.State())
	assert.Equal(t, err, r.h.LastError())
	assert.Nil(t, r.h.DriverViaSPI())
	assert.Equal(t, devhandler.High, r.enn.Level(), "motor never enabled")
	assert.Contains(t, r.h.Diagnostics(), "failed")
}

func TestDumpDiagnostics(t *testing.T) {
	r := newSPIRig(t, true)
	out, err := r.h.DumpDiagnostics()
	require.NoError(t, err)
	assert.Contains(t, out, "handler x-axis")
	assert.Contains(t, out, "state:         uninitialized", "summary is taken before the dump initializes")
	assert.Contains(t, out, "stst=true")
	assert.Contains(t, out, "IOIN")
	assert.Contains(t, out, "0x30000000")
}

func TestConcurrentOperationsConstructOnce(t *testing.T) {
	r := newSPIRig(t, false)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.h.SetTargetPosition(int32(i*100)))
		}()
	}
	wg.Wait()
	st := r.h.Stats()
	assert.Equal(t, 1, st.Constructions)
	assert.Equal(t, 1, st.ReadyTransitions)
}
