// Package encoder is the handler for an AS5600 magnetic rotary encoder on I²C.
package encoder

import (
	"errors"
	"math"
	"time"

	"tinygo.org/x/drivers/as560x"

	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/handler"
)

// ErrNoMagnet is returned by init when RequireMagnet is set and no magnet is seen.
var ErrNoMagnet = errors.New("as5600: magnet not detected")

const counts = as560x.NATIVE_ANGLE_RANGE

type Config struct {
	// RequireMagnet fails init unless STATUS reports a magnet.
	RequireMagnet bool
}

// MagnetStatus is the magnet report from the STATUS register.
type MagnetStatus struct {
	Detected bool
	Strength as560x.MagnetStrength
}

func (s MagnetStatus) String() string {
	if !s.Detected {
		return "no magnet"
	}
	switch s.Strength {
	case as560x.MagnetTooWeak:
		return "too weak"
	case as560x.MagnetTooStrong:
		return "too strong"
	default:
		return "ok"
	}
}

type device struct {
	as560x.AS5600Device
	cfg  Config
	addr uint8
	// Velocity baseline. A new driver starts without one.
	lastRaw  uint16
	lastAt   time.Time
	haveLast bool
}

func (d *device) Initialize() error {
	if err := d.Configure(as560x.Config{Address: d.addr}); err != nil {
		return err
	}
	if !d.cfg.RequireMagnet {
		return nil
	}
	found, _, err := d.AS5600Device.MagnetStatus()
	if err != nil {
		return err
	}
	if !found {
		return errcode.Wrap(errcode.HardwareError, "as5600 init", ErrNoMagnet)
	}
	return nil
}

type Handler struct {
	*handler.Facade[*device]
	now func() time.Time
}

var _ handler.Instance = (*Handler)(nil)

func New(a *comm.I2CAdapter, c Config, opts handler.Options) (*Handler, error) {
	if opts.Name == "" {
		opts.Name = "as5600"
	}
	h := &Handler{now: time.Now}
	f, err := handler.New(handler.Backend[*device]{
		Mode:    comm.ModeI2C,
		Adapter: a,
		New: func() (*device, error) {
			return &device{AS5600Device: as560x.NewAS5600(a), cfg: c, addr: uint8(a.Addr())}, nil
		},
	}, opts)
	if err != nil {
		return nil, err
	}
	h.Facade = f
	return h, nil
}

// Driver returns the live vendor driver, without synchronization. See
// handler.Facade.Driver.
func (h *Handler) Driver() (*as560x.AS5600Device, bool) {
	d, ok := h.Facade.Driver()
	if !ok {
		return nil, false
	}
	return &d.AS5600Device, true
}

// ReadAngleDegrees returns ANGLE, which is RAW_ANGLE relative to the zero
// position, in degrees.
func (h *Handler) ReadAngleDegrees() (float64, error) {
	return handler.Call(h.Facade, "read angle", func(d *device) (float64, error) {
		_, deg, err := d.Angle(as560x.ANGLE_DEGREES_FLOAT)
		return float64(deg), err
	})
}

// ReadRawAngle returns RAW_ANGLE in native counts, 0 to 4095.
func (h *Handler) ReadRawAngle() (uint16, error) {
	return handler.Call(h.Facade, "read raw angle", func(d *device) (uint16, error) {
		v, _, err := d.RawAngle(as560x.ANGLE_NATIVE)
		return v, err
	})
}

func (h *Handler) MagnetStatus() (MagnetStatus, error) {
	return handler.Call(h.Facade, "magnet status", func(d *device) (MagnetStatus, error) {
		found, s, err := d.AS5600Device.MagnetStatus()
		return MagnetStatus{Detected: found, Strength: s}, err
	})
}

// ReadAGC returns the automatic gain control value.
func (h *Handler) ReadAGC() (uint8, error) {
	return handler.Call(h.Facade, "read agc", func(d *device) (uint8, error) {
		v, err := d.ReadRegister(as560x.AGC)
		return uint8(v), err
	})
}

// SetZeroPosition makes deg, in raw angle terms, the new zero. It is not
// burned and is lost on power cycle.
func (h *Handler) SetZeroPosition(deg float64) error {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return errcode.New(errcode.InvalidParameter, "set zero position", "angle must be finite")
	}
	return h.Do("set zero position", func(d *device) error {
		return d.AS5600Device.SetZeroPosition(float32(deg), as560x.ANGLE_DEGREES_FLOAT)
	})
}

func (h *Handler) ZeroPosition() (float64, error) {
	return handler.Call(h.Facade, "zero position", func(d *device) (float64, error) {
		_, deg, err := d.GetZeroPosition(as560x.ANGLE_DEGREES_FLOAT)
		return float64(deg), err
	})
}

// Velocity returns degrees per second between this call and the previous
// one, taking the shorter way round the circle. The first call, and any call
// after a re-init, only sets the baseline and returns 0.
func (h *Handler) Velocity() (float64, error) {
	return handler.Call(h.Facade, "velocity", func(d *device) (float64, error) {
		raw, _, err := d.RawAngle(as560x.ANGLE_NATIVE)
		if err != nil {
			return 0, err
		}
		now := h.now()
		prevRaw, prevAt, ok := d.lastRaw, d.lastAt, d.haveLast
		d.lastRaw, d.lastAt, d.haveLast = raw, now, true
		dt := now.Sub(prevAt).Seconds()
		if !ok || dt <= 0 {
			return 0, nil
		}
		return unwrap(prevRaw, raw) * 360 / counts / dt, nil
	})
}

// unwrap returns the signed count difference from a to b, in [-counts/2, counts/2).
func unwrap(a, b uint16) float64 {
	delta := (int(b) - int(a)) % counts
	if delta >= counts/2 {
		delta -= counts
	} else if delta < -counts/2 {
		delta += counts
	}
	return float64(delta)
}
