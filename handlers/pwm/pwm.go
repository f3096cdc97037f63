// Package pwm is the handler for a PCA9685 16-channel 12-bit PWM controller on I²C.
//
// The optional Enable pin is the chip's OE line, normally active low. Duty
// writes bypass the vendor Set helpers, which panic on range errors and drop
// bus errors.
package pwm

import (
	"sync/atomic"

	"tinygo.org/x/drivers/pca9685"

	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/handler"
)

const (
	Channels = 16
	// MaxDuty is the highest raw duty count, fully on.
	MaxDuty = 4095

	MinFrequency     = 40
	MaxFrequency     = 1000
	DefaultFrequency = 50

	// Full on/off flag in the high byte of LEDn_ON and LEDn_OFF.
	fullBit = 0x10
)

type Config struct {
	// Frequency in Hz, MinFrequency to MaxFrequency. Default: DefaultFrequency.
	Frequency uint32
	// OpenDrain selects open-drain outputs instead of totem pole.
	OpenDrain bool
	// Inverted flips every output.
	Inverted bool
}

func (c *Config) validate() error {
	if c.Frequency == 0 {
		c.Frequency = DefaultFrequency
	}
	return checkFrequency("new pwm", c.Frequency)
}

func checkFrequency(op string, hz uint32) error {
	if hz < MinFrequency || hz > MaxFrequency {
		return errcode.New(errcode.InvalidParameter, op, "frequency must be between 40 and 1000 Hz")
	}
	return nil
}

func period(hz uint32) uint64 { return 1e9 / uint64(hz) }

type device struct {
	pca9685.Dev
	a   *comm.I2CAdapter
	cfg Config
}

func (d *device) Initialize() error {
	if err := d.IsConnected(); err != nil {
		return err
	}
	if err := d.Configure(pca9685.PWMConfig{Period: period(d.cfg.Frequency)}); err != nil {
		return err
	}
	if err := d.setAll(0); err != nil {
		return err
	}
	if err := d.SetDrive(!d.cfg.OpenDrain); err != nil {
		return err
	}
	if err := d.SetInverting(0, d.cfg.Inverted); err != nil {
		return err
	}
	if d.a.HasPin(comm.PinEnable) {
		return d.a.GpioSet(comm.PinEnable, comm.Active)
	}
	return nil
}

// Deinitialize leaves every channel off, the oscillator asleep and OE released.
func (d *device) Deinitialize() error {
	if err := d.setAll(0); err != nil {
		return err
	}
	if err := d.Sleep(true); err != nil {
		return err
	}
	if d.a.HasPin(comm.PinEnable) {
		return d.a.GpioSet(comm.PinEnable, comm.Inactive)
	}
	return nil
}

// ledBytes encodes a raw duty as LEDn_ON_L..LEDn_OFF_H. The output rises at
// count 0 and falls at v; 0 and MaxDuty use the full off and full on flags.
func ledBytes(v uint16) [4]byte {
	switch {
	case v == 0:
		return [4]byte{0, 0, 0, fullBit}
	case v >= MaxDuty:
		return [4]byte{0, fullBit, 0, 0}
	default:
		return [4]byte{0, 0, byte(v), byte(v >> 8)}
	}
}

func (d *device) write(ch uint8, v uint16) error {
	reg, _, _, _ := pca9685.LED(ch)
	b := ledBytes(v)
	return d.a.WriteRegister(reg, b[:]...)
}

func (d *device) setAll(v uint16) error { return d.write(pca9685.ALLLED, v) }

func (d *device) read(ch uint8) (uint16, error) {
	reg, _, _, _ := pca9685.LED(ch)
	var b [4]byte
	if err := d.a.ReadRegister(reg, b[:]); err != nil {
		return 0, err
	}
	switch {
	case b[3]&fullBit != 0:
		return 0, nil
	case b[1]&fullBit != 0:
		return MaxDuty, nil
	}
	on := uint16(b[0]) | uint16(b[1]&0x0F)<<8
	off := uint16(b[2]) | uint16(b[3]&0x0F)<<8
	return (off - on) & 0x0FFF, nil
}

type Handler struct {
	*handler.Facade[*device]
	freq atomic.Uint32
}

var _ handler.Instance = (*Handler)(nil)

// New validates c and builds the handler.
func New(a *comm.I2CAdapter, c Config, opts handler.Options) (*Handler, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if opts.Name == "" {
		opts.Name = "pca9685"
	}
	h := &Handler{}
	h.freq.Store(c.Frequency)
	f, err := handler.New(handler.Backend[*device]{
		Mode:    comm.ModeI2C,
		Adapter: a,
		New: func() (*device, error) {
			// A re-init restores the last frequency set.
			cfg := c
			cfg.Frequency = h.freq.Load()
			return &device{Dev: pca9685.New(a, uint8(a.Addr())), a: a, cfg: cfg}, nil
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
func (h *Handler) Driver() (pca9685.Dev, bool) {
	d, ok := h.Facade.Driver()
	if !ok {
		return pca9685.Dev{}, false
	}
	return d.Dev, true
}

func checkChannel(op string, ch int) error {
	if ch < 0 || ch >= Channels {
		return errcode.New(errcode.InvalidParameter, op, "channel must be between 0 and 15")
	}
	return nil
}

// SetFrequency changes the PWM frequency of all channels. The oscillator is
// briefly stopped to write the prescaler.
func (h *Handler) SetFrequency(hz uint32) error {
	if err := checkFrequency("set frequency", hz); err != nil {
		return err
	}
	return h.Do("set frequency", func(d *device) error {
		if err := d.SetPeriod(period(hz)); err != nil {
			return err
		}
		h.freq.Store(hz)
		return nil
	})
}

// Frequency returns the frequency last set, in Hz.
func (h *Handler) Frequency() uint32 {
	return h.freq.Load()
}

// SetDuty sets ch to a duty cycle fraction between 0 and 1.
func (h *Handler) SetDuty(ch int, fraction float64) error {
	if err := checkChannel("set duty", ch); err != nil {
		return err
	}
	if !(fraction >= 0 && fraction <= 1) {
		return errcode.New(errcode.InvalidParameter, "set duty", "duty must be between 0 and 1")
	}
	return h.SetDutyRaw(ch, uint16(fraction*MaxDuty+0.5))
}

// SetDutyRaw sets ch to v counts out of MaxDuty.
func (h *Handler) SetDutyRaw(ch int, v uint16) error {
	if err := checkChannel("set duty", ch); err != nil {
		return err
	}
	if v > MaxDuty {
		return errcode.New(errcode.InvalidParameter, "set duty", "raw duty must be between 0 and 4095")
	}
	return h.Do("set duty", func(d *device) error { return d.write(uint8(ch), v) })
}

// Duty reads back the raw duty of ch.
func (h *Handler) Duty(ch int) (uint16, error) {
	if err := checkChannel("duty", ch); err != nil {
		return 0, err
	}
	return handler.Call(h.Facade, "duty", func(d *device) (uint16, error) { return d.read(uint8(ch)) })
}

// SetAllOff turns every channel fully off in one write.
func (h *Handler) SetAllOff() error {
	return h.Do("set all off", func(d *device) error { return d.setAll(0) })
}

// EnableOutputs drives the OE pin. It fails with Unsupported when OE is not wired.
func (h *Handler) EnableOutputs(on bool) error {
	if !h.Adapter().HasPin(comm.PinEnable) {
		return errcode.New(errcode.Unsupported, "enable outputs", "no output enable pin wired")
	}
	return h.Do("enable outputs", func(d *device) error {
		return d.a.GpioSet(comm.PinEnable, comm.Signal(on))
	})
}

// Sleep stops or restarts the oscillator. Outputs are off while asleep.
func (h *Handler) Sleep(on bool) error {
	return h.Do("sleep", func(d *device) error { return d.Dev.Sleep(on) })
}
