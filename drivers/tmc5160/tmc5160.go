// Package tmc5160 drives a TMC5160 stepper controller over SPI or single-wire
// UART. Both links share the register map and motion logic; SPIDevice and
// UARTDevice only differ in how a register is moved.
//
// The motor enable line (DRV_ENN) is the adapter's Enable pin. Devices are not
// safe for concurrent use.
package tmc5160

import (
	"errors"
	"fmt"

	tmcreg "tinygo.org/x/drivers/tmc5160"

	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/logging"
)

var (
	ErrCRC          = errors.New("tmc5160: reply CRC mismatch")
	ErrNotConnected = errors.New("tmc5160: unexpected chip version")
)

type Config struct {
	// RunCurrent is IRUN, 0 to 31. Defaults to 16.
	RunCurrent uint8
	// HoldCurrent is IHOLD, 0 to 31. Defaults to 8.
	HoldCurrent uint8
	// HoldDelay is IHOLDDELAY, 0 to 15. Defaults to 6.
	HoldDelay uint8
	// PowerDownDelay is TPOWERDOWN. Defaults to 10.
	PowerDownDelay uint8
	// StealthChop enables the voltage PWM mode.
	StealthChop bool
	// Microsteps per full step, a power of two from 1 to 256. Defaults to 256.
	Microsteps uint16
	// MaxSpeed is VMAX in internal velocity units. Defaults to 100000.
	MaxSpeed uint32
	// Acceleration is AMAX and DMAX. Defaults to 1000.
	Acceleration uint32
	// NodeAddress is the UART slave address. Ignored over SPI.
	NodeAddress uint8
	// Motor converts physical speeds into register units. Defaults to
	// tmcreg.NewDefaultStepper.
	Motor tmcreg.Stepper
}

func (c Config) withDefaults() (Config, error) {
	if c.RunCurrent == 0 {
		c.RunCurrent = 16
	}
	if c.HoldCurrent == 0 {
		c.HoldCurrent = 8
	}
	if c.HoldDelay == 0 {
		c.HoldDelay = 6
	}
	if c.PowerDownDelay == 0 {
		c.PowerDownDelay = 10
	}
	if c.Microsteps == 0 {
		c.Microsteps = 256
	}
	if c.MaxSpeed == 0 {
		c.MaxSpeed = 100000
	}
	if c.Acceleration == 0 {
		c.Acceleration = 1000
	}
	if c.Motor.Fclk == 0 {
		c.Motor = tmcreg.NewDefaultStepper()
	}
	switch {
	case c.RunCurrent > 31 || c.HoldCurrent > 31:
		return c, errcode.New(errcode.InvalidParameter, "tmc5160 config", "currents must be between 0 and 31")
	case c.HoldDelay > 15:
		return c, errcode.New(errcode.InvalidParameter, "tmc5160 config", "hold delay must be between 0 and 15")
	case c.MaxSpeed > maxVMAX:
		return c, errcode.New(errcode.InvalidParameter, "tmc5160 config", "max speed out of range")
	case c.Acceleration > maxAMAX:
		return c, errcode.New(errcode.InvalidParameter, "tmc5160 config", "acceleration out of range")
	}
	if _, ok := mres(c.Microsteps); !ok {
		return c, errcode.New(errcode.InvalidParameter, "tmc5160 config", "microsteps must be a power of two up to 256")
	}
	return c, nil
}

// mres encodes microsteps as CHOPCONF.MRES: 256 is 0, 1 is 8.
func mres(steps uint16) (uint8, bool) {
	for m := uint8(0); m <= 8; m++ {
		if steps == 256>>m {
			return m, true
		}
	}
	return 0, false
}

// Driver is what both links offer. Generic code dispatches through it.
type Driver interface {
	Initialize() error
	Deinitialize() error
	Enable(on bool) error
	IsEnabled() bool
	SetCurrent(run, hold uint8) error
	SetTargetPosition(pos int32) error
	SetVelocity(v int32) error
	SetMaxSpeed(v uint32) error
	SetSpeed(stepsPerSecond float32) error
	SetAcceleration(a uint32) error
	Stop() error
	CurrentPosition() (int32, error)
	CurrentVelocity() (int32, error)
	IsTargetReached() (bool, error)
	IsVelocityReached() (bool, error)
	DriverStatus() (tmcreg.DRV_STATUS_Register, error)
	ChipVersion() (uint8, error)
	Dump() ([]RegisterValue, error)
	ReadRegister(reg uint8) (uint32, error)
	WriteRegister(reg uint8, v uint32) error
	Config() Config
}

// core holds everything that does not depend on the link. rc is the
// SPIDevice or UARTDevice link, seen through the register interface of the
// tinygo driver.
type core struct {
	a       comm.Adapter
	cfg     Config
	log     logging.Logger
	rc      tmcreg.RegisterComm
	name    string
	mres    uint8
	enabled bool
}

func newCore(a comm.Adapter, c Config, name string, log logging.Logger) (core, error) {
	c, err := c.withDefaults()
	if err != nil {
		return core{}, err
	}
	if !a.HasPin(comm.PinEnable) {
		return core{}, errcode.New(errcode.ConfigurationFailed, name, "enable pin not configured")
	}
	m, _ := mres(c.Microsteps)
	return core{a: a, cfg: c, log: logging.OrNop(log), name: name, mres: m}, nil
}

func (d *core) Config() Config { return d.cfg }

func (d *core) ReadRegister(reg uint8) (uint32, error)  { return tmcreg.ReadRegister(d.rc, 0, reg) }
func (d *core) WriteRegister(reg uint8, v uint32) error { return tmcreg.WriteRegister(d.rc, reg, 0, v) }

func (d *core) setRampMode(m tmcreg.RampMode) error {
	return tmcreg.NewRAMPMODE(d.rc, 0).SetMode(m)
}

// Initialize checks the chip version, programs current, chopper and ramp
// settings and parks the target on the actual position. The motor is left
// disabled.
func (d *core) Initialize() error {
	d.log.Info("Initializing TMC5160...", "link", d.name)
	if err := d.a.GpioSet(comm.PinEnable, comm.Inactive); err != nil {
		return err
	}
	d.enabled = false

	v, err := d.ChipVersion()
	if err != nil {
		return err
	}
	if v != ChipVersion {
		return errcode.Wrap(errcode.HardwareError, d.name+" init", fmt.Errorf("%w: 0x%02X", ErrNotConnected, v))
	}

	gstat := tmcreg.NewGSTAT()
	gstat.Reset, gstat.DrvErr, gstat.UvCp = true, true, true // write 1 to clear
	gconf := tmcreg.NewGCONF()
	gconf.EnPwmMode = d.cfg.StealthChop

	s := seq{d: d}
	s.write(tmcreg.GSTAT, gstat.Pack())
	s.write(tmcreg.GCONF, gconf.Pack())
	s.write(tmcreg.CHOPCONF, chopconf(d.mres, false))
	s.write(tmcreg.IHOLD_IRUN, iholdIrun(d.cfg.RunCurrent, d.cfg.HoldCurrent, d.cfg.HoldDelay))
	s.write(tmcreg.TPOWERDOWN, uint32(d.cfg.PowerDownDelay))

	// Trapezoidal ramp: V1=0 skips the A1/D1 phase, but D1 must stay non-zero.
	s.do(func() error { return d.setRampMode(tmcreg.PositioningMode) })
	s.write(tmcreg.VSTART, 1)
	s.write(tmcreg.A_1, d.cfg.Acceleration)
	s.write(tmcreg.V_1, 0)
	s.write(tmcreg.AMAX, d.cfg.Acceleration)
	s.write(tmcreg.DMAX, d.cfg.Acceleration)
	s.write(tmcreg.D_1, d.cfg.Acceleration)
	s.write(tmcreg.VSTOP, 10)
	s.write(tmcreg.VMAX, d.cfg.MaxSpeed)
	if s.err != nil {
		return s.err
	}

	x, err := d.ReadRegister(tmcreg.XACTUAL)
	if err != nil {
		return err
	}
	if err := d.WriteRegister(tmcreg.XTARGET, x); err != nil {
		return err
	}
	d.log.Info("TMC5160 initialized", "version", v, "position", int32(x))
	return nil
}

// Deinitialize disables the motor.
func (d *core) Deinitialize() error {
	if err := d.Enable(false); err != nil {
		return err
	}
	d.log.Info("TMC5160 deinitialized")
	return nil
}

// Enable drives DRV_ENN and switches the chopper on or off.
func (d *core) Enable(on bool) error {
	if err := d.WriteRegister(tmcreg.CHOPCONF, chopconf(d.mres, on)); err != nil {
		return err
	}
	if err := d.a.GpioSet(comm.PinEnable, comm.Signal(on)); err != nil {
		return err
	}
	d.enabled = on
	return nil
}

func (d *core) IsEnabled() bool { return d.enabled }

// SetCurrent sets IRUN and IHOLD, 0 to 31 each.
func (d *core) SetCurrent(run, hold uint8) error {
	if run > 31 || hold > 31 {
		return errcode.New(errcode.InvalidParameter, "set current", "currents must be between 0 and 31")
	}
	if err := d.WriteRegister(tmcreg.IHOLD_IRUN, iholdIrun(run, hold, d.cfg.HoldDelay)); err != nil {
		return err
	}
	d.cfg.RunCurrent, d.cfg.HoldCurrent = run, hold
	return nil
}

// SetTargetPosition switches to positioning mode and moves to pos microsteps.
func (d *core) SetTargetPosition(pos int32) error {
	s := seq{d: d}
	s.do(func() error { return d.setRampMode(tmcreg.PositioningMode) })
	s.write(tmcreg.VMAX, d.cfg.MaxSpeed)
	s.write(tmcreg.XTARGET, uint32(pos))
	return s.err
}

// SetVelocity switches to velocity mode. The sign selects the direction.
func (d *core) SetVelocity(v int32) error {
	mode, speed := tmcreg.VelocityPositiveMode, int64(v)
	if v < 0 {
		mode, speed = tmcreg.VelocityNegativeMode, -speed
	}
	if speed > maxVMAX {
		return errcode.New(errcode.InvalidParameter, "set velocity", "velocity out of range")
	}
	s := seq{d: d}
	s.write(tmcreg.VMAX, uint32(speed))
	s.do(func() error { return d.setRampMode(mode) })
	return s.err
}

func (d *core) SetMaxSpeed(v uint32) error {
	if v > maxVMAX {
		return errcode.New(errcode.InvalidParameter, "set max speed", "max speed out of range")
	}
	if err := d.WriteRegister(tmcreg.VMAX, v); err != nil {
		return err
	}
	d.cfg.MaxSpeed = v
	return nil
}

// SetSpeed sets VMAX from a speed in full steps per second, through the
// configured motor's clock and gear ratio.
func (d *core) SetSpeed(stepsPerSecond float32) error {
	if stepsPerSecond < 0 {
		return errcode.New(errcode.InvalidParameter, "set speed", "speed must not be negative")
	}
	return d.SetMaxSpeed(d.cfg.Motor.DesiredVelocityToVMAX(stepsPerSecond))
}

func (d *core) SetAcceleration(a uint32) error {
	if a > maxAMAX {
		return errcode.New(errcode.InvalidParameter, "set acceleration", "acceleration out of range")
	}
	s := seq{d: d}
	s.write(tmcreg.AMAX, a)
	s.write(tmcreg.DMAX, a)
	if s.err == nil {
		d.cfg.Acceleration = a
	}
	return s.err
}

// Stop ramps down to standstill using DMAX.
func (d *core) Stop() error {
	return d.WriteRegister(tmcreg.VMAX, 0)
}

func (d *core) CurrentPosition() (int32, error) {
	v, err := d.ReadRegister(tmcreg.XACTUAL)
	return int32(v), err
}

// CurrentVelocity returns VACTUAL, a 24-bit signed value.
func (d *core) CurrentVelocity() (int32, error) {
	v, err := d.ReadRegister(tmcreg.VACTUAL)
	if err != nil {
		return 0, err
	}
	return int32(v<<8) >> 8, nil
}

func (d *core) rampStatus() (*tmcreg.RAMP_STAT_Register, error) {
	v, err := d.ReadRegister(tmcreg.RAMP_STAT)
	if err != nil {
		return nil, err
	}
	r := tmcreg.NewRAMP_STAT()
	r.Unpack(v)
	return r, nil
}

func (d *core) IsTargetReached() (bool, error) {
	r, err := d.rampStatus()
	if err != nil {
		return false, err
	}
	return r.PositionReached, nil
}

func (d *core) IsVelocityReached() (bool, error) {
	r, err := d.rampStatus()
	if err != nil {
		return false, err
	}
	return r.VelocityReached, nil
}

// DriverStatus reads DRV_STATUS: standstill, overtemperature, stall and
// open load flags plus the StallGuard result.
func (d *core) DriverStatus() (tmcreg.DRV_STATUS_Register, error) {
	r := tmcreg.NewDRV_STATUS()
	v, err := d.ReadRegister(tmcreg.DRV_STATUS)
	if err != nil {
		return *r, err
	}
	r.Unpack(v)
	return *r, nil
}

// ChipVersion reads the version field of IOIN. A TMC5160 answers 0x30.
func (d *core) ChipVersion() (uint8, error) {
	v, err := d.ReadRegister(tmcreg.IOIN)
	if err != nil {
		return 0, err
	}
	r := tmcreg.NewIOIN()
	r.Unpack(v)
	return r.Version, nil
}

// Dump reads every readable register. It stops at the first failure.
func (d *core) Dump() ([]RegisterValue, error) {
	out := make([]RegisterValue, 0, len(readable))
	for _, r := range readable {
		v, err := d.ReadRegister(r.addr)
		if err != nil {
			return out, err
		}
		out = append(out, RegisterValue{Name: r.name, Addr: r.addr, Value: v})
	}
	return out, nil
}

// seq runs register writes until the first failure.
type seq struct {
	d   *core
	err error
}

func (s *seq) write(reg uint8, v uint32) {
	if s.err == nil {
		s.err = s.d.WriteRegister(reg, v)
	}
}

func (s *seq) do(fn func() error) {
	if s.err == nil {
		s.err = fn()
	}
}
