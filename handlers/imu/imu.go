// Package imu is the handler for an LSM6DSOX 6-axis IMU on I²C.
package imu

import (
	"errors"
	"fmt"

	"tinygo.org/x/drivers/lsm6dsox"

	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/handler"
)

// WhoAmI is the WHO_AM_I value of an LSM6DSOX.
const WhoAmI = 0x6C

var ErrWrongChip = errors.New("lsm6dsox: unexpected WHO_AM_I")

// STATUS_REG data-ready bits.
const (
	statusXLDA = 1 << 0
	statusGDA  = 1 << 1
	statusTDA  = 1 << 2
)

type Config = lsm6dsox.Configuration

// DefaultConfig is ±4 g and ±500 dps, both at 104 Hz.
func DefaultConfig() Config {
	return Config{
		AccelRange:      lsm6dsox.ACCEL_4G,
		AccelSampleRate: lsm6dsox.ACCEL_SR_104,
		GyroRange:       lsm6dsox.GYRO_500DPS,
		GyroSampleRate:  lsm6dsox.GYRO_SR_104,
	}
}

// Fresh reports which outputs had new data when a sample was taken.
type Fresh struct {
	Accel, Gyro, Temp bool
}

func freshFrom(status byte) Fresh {
	return Fresh{
		Accel: status&statusXLDA != 0,
		Gyro:  status&statusGDA != 0,
		Temp:  status&statusTDA != 0,
	}
}

// Sample is one reading of every output.
type Sample struct {
	// Accel is in µg, Gyro in µdps, Temp in m°C.
	Accel [3]int32
	Gyro  [3]int32
	Temp  int32
	// Fresh is STATUS_REG as read before the outputs.
	Fresh Fresh
}

type device struct {
	*lsm6dsox.Device
	a   *comm.I2CAdapter
	cfg Config
}

func (d *device) Initialize() error {
	id, err := d.whoAmI()
	if err != nil {
		return err
	}
	if id != WhoAmI {
		return errcode.Wrap(errcode.HardwareError, "lsm6dsox init", fmt.Errorf("%w: 0x%02X", ErrWrongChip, id))
	}
	return d.Configure(d.cfg)
}

// Deinitialize powers both sensors down.
func (d *device) Deinitialize() error {
	return d.a.WriteRegister(lsm6dsox.CTRL1_XL, 0, 0)
}

func (d *device) whoAmI() (byte, error) {
	var b [1]byte
	err := d.a.ReadRegister(lsm6dsox.WHO_AM_I, b[:])
	return b[0], err
}

func (d *device) status() (Fresh, error) {
	var b [1]byte
	if err := d.a.ReadRegister(lsm6dsox.STATUS_REG, b[:]); err != nil {
		return Fresh{}, err
	}
	return freshFrom(b[0]), nil
}

type Handler struct {
	*handler.Facade[*device]
}

var _ handler.Instance = (*Handler)(nil)

// New builds the handler. A zero c selects DefaultConfig.
func New(a *comm.I2CAdapter, c Config, opts handler.Options) (*Handler, error) {
	if c == (Config{}) {
		c = DefaultConfig()
	}
	if opts.Name == "" {
		opts.Name = "lsm6dsox"
	}
	f, err := handler.New(handler.Backend[*device]{
		Mode:    comm.ModeI2C,
		Adapter: a,
		New: func() (*device, error) {
			dev := lsm6dsox.New(a)
			dev.Address = a.Addr()
			return &device{Device: dev, a: a, cfg: c}, nil
		},
	}, opts)
	if err != nil {
		return nil, err
	}
	return &Handler{Facade: f}, nil
}

// Driver returns the live vendor driver, without synchronization. See
// handler.Facade.Driver.
func (h *Handler) Driver() (*lsm6dsox.Device, bool) {
	d, ok := h.Facade.Driver()
	if !ok {
		return nil, false
	}
	return d.Device, true
}

// WhoAmI reads the identification register.
func (h *Handler) WhoAmI() (byte, error) {
	return handler.Call(h.Facade, "who am i", (*device).whoAmI)
}

// ReadSample reads STATUS_REG and then every output. Fresh holds the flags
// from before the outputs were read.
func (h *Handler) ReadSample() (Sample, error) {
	return handler.Call(h.Facade, "read sample", func(d *device) (Sample, error) {
		var (
			s   Sample
			err error
		)
		if s.Fresh, err = d.status(); err != nil {
			return Sample{}, err
		}
		if s.Accel[0], s.Accel[1], s.Accel[2], err = d.ReadAcceleration(); err != nil {
			return Sample{}, err
		}
		if s.Gyro[0], s.Gyro[1], s.Gyro[2], err = d.ReadRotation(); err != nil {
			return Sample{}, err
		}
		if s.Temp, err = d.ReadTemperature(); err != nil {
			return Sample{}, err
		}
		return s, nil
	})
}

// HasNewData reports whether the accelerometer or gyroscope has data not yet read.
func (h *Handler) HasNewData() (bool, error) {
	return handler.Call(h.Facade, "has new data", func(d *device) (bool, error) {
		f, err := d.status()
		return f.Accel || f.Gyro, err
	})
}

func (h *Handler) Status() (Fresh, error) {
	return handler.Call(h.Facade, "status", (*device).status)
}
