package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/michcald/devhandler"
	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/config"
	"github.com/michcald/devhandler/drivers/nrf24"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/handler"
	"github.com/michcald/devhandler/handlers/encoder"
	"github.com/michcald/devhandler/handlers/expander"
	"github.com/michcald/devhandler/handlers/imu"
	"github.com/michcald/devhandler/handlers/pwm"
	"github.com/michcald/devhandler/handlers/radio"
	"github.com/michcald/devhandler/handlers/stepper"
	"github.com/michcald/devhandler/logging"
	"github.com/michcald/devhandler/metrics"
)

// Opener opens the physical buses and pins named in a config.
type Opener interface {
	SPI(name string, c config.SPIBus) (devhandler.SPI, error)
	I2C(name string, c config.I2CBus) (devhandler.I2C, error)
	UART(name string, c config.UARTPort) (devhandler.UART, error)
	Pin(gpio string) (devhandler.Pin, error)
}

// Device is one configured handler.
type Device struct {
	Config  config.Device
	Handler handler.Instance
}

// Board holds every handler of a config and the buses they share.
type Board struct {
	Devices []Device

	spi  map[string]devhandler.SPI
	i2c  map[string]devhandler.I2C
	uart map[string]devhandler.UART
	pins map[string]devhandler.Pin
	open []any
}

// Build opens what cfg references and builds one handler per device. No
// device is initialized. On error everything opened so far is closed.
func Build(cfg *config.Config, op Opener, log logging.Logger, rec metrics.Recorder) (_ *Board, err error) {
	log = logging.OrNop(log)
	b := &Board{
		spi:  map[string]devhandler.SPI{},
		i2c:  map[string]devhandler.I2C{},
		uart: map[string]devhandler.UART{},
		pins: map[string]devhandler.Pin{},
	}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()
	for _, d := range cfg.Devices {
		h, err := b.build(cfg, op, d, handler.Options{
			Name:    d.Name,
			Logger:  logging.With(log, "device", d.Name),
			Metrics: rec,
		})
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", d.Name, err)
		}
		b.Devices = append(b.Devices, Device{Config: d, Handler: h})
	}
	return b, nil
}

// Find returns the device called name.
func (b *Board) Find(name string) (Device, bool) {
	for _, d := range b.Devices {
		if d.Config.Name == name {
			return d, true
		}
	}
	return Device{}, false
}

// Close deinitializes every handler and then closes the buses and pins.
func (b *Board) Close() error {
	var errs []error
	for _, d := range b.Devices {
		if err := d.Handler.Deinitialize(); err != nil && !errors.Is(err, errcode.NotInitialized) {
			errs = append(errs, fmt.Errorf("deinit %s: %w", d.Config.Name, err))
		}
	}
	for i := len(b.open) - 1; i >= 0; i-- {
		if c, ok := b.open[i].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	b.open = nil
	return errors.Join(errs...)
}

func (b *Board) pin(op Opener, gpio string) (devhandler.Pin, error) {
	if p, ok := b.pins[gpio]; ok {
		return p, nil
	}
	p, err := op.Pin(gpio)
	if err != nil {
		return nil, err
	}
	b.pins[gpio] = p
	b.open = append(b.open, p)
	return p, nil
}

func (b *Board) spiBus(cfg *config.Config, op Opener, name string) (devhandler.SPI, error) {
	if s, ok := b.spi[name]; ok {
		return s, nil
	}
	s, err := op.SPI(name, cfg.SPI[name])
	if err != nil {
		return nil, errcode.Wrap(errcode.HardwareNotReady, "open spi "+name, err)
	}
	b.spi[name] = s
	b.open = append(b.open, s)
	return s, nil
}

func (b *Board) i2cBus(cfg *config.Config, op Opener, name string) (devhandler.I2C, error) {
	if s, ok := b.i2c[name]; ok {
		return s, nil
	}
	s, err := op.I2C(name, cfg.I2C[name])
	if err != nil {
		return nil, errcode.Wrap(errcode.HardwareNotReady, "open i2c "+name, err)
	}
	b.i2c[name] = s
	b.open = append(b.open, s)
	return s, nil
}

func (b *Board) uartPort(cfg *config.Config, op Opener, name string) (devhandler.UART, error) {
	if s, ok := b.uart[name]; ok {
		return s, nil
	}
	s, err := op.UART(name, cfg.UART[name])
	if err != nil {
		return nil, errcode.Wrap(errcode.HardwareNotReady, "open uart "+name, err)
	}
	b.uart[name] = s
	b.open = append(b.open, s)
	return s, nil
}

func (b *Board) build(cfg *config.Config, op Opener, d config.Device, opts handler.Options) (handler.Instance, error) {
	pins, err := d.ControlPins(func(gpio string) (devhandler.Pin, error) { return b.pin(op, gpio) })
	if err != nil {
		return nil, err
	}
	o := d.Options

	switch cfg.BusSection(d) {
	case "spi":
		bus, err := b.spiBus(cfg, op, d.Bus)
		if err != nil {
			return nil, err
		}
		a := comm.NewSPI(bus, pins, opts.Logger)
		switch d.Kind {
		case config.KindRadio:
			rc := radio.Config{Config: nrf24.Config{ChannelNumber: o.Channel, EnableDynamicPayload: true}, Poll: o.Poll}
			if o.RxAddress != "" {
				addr, err := config.ParseHexAddress(o.RxAddress)
				if err != nil {
					return nil, errcode.Wrap(errcode.InvalidParameter, "rx address", err)
				}
				rc.RxAddr = addr
			}
			return radio.New(a, rc, opts)
		case config.KindStepper:
			return stepper.NewSPI(a, stepperConfig(o), opts)
		}
	case "i2c":
		bus, err := b.i2cBus(cfg, op, d.Bus)
		if err != nil {
			return nil, err
		}
		a := comm.NewI2C(bus, d.Address, pins, opts.Logger)
		switch d.Kind {
		case config.KindExpander:
			return expander.New(a, opts)
		case config.KindPWM:
			return pwm.New(a, pwm.Config{Frequency: o.Frequency}, opts)
		case config.KindEncoder:
			return encoder.New(a, encoder.Config{RequireMagnet: o.RequireMagnet}, opts)
		case config.KindIMU:
			return imu.New(a, imu.Config{}, opts)
		}
	case "uart":
		port, err := b.uartPort(cfg, op, d.Bus)
		if err != nil {
			return nil, err
		}
		a := comm.NewUART(port, pins, comm.UARTOptions{}, opts.Logger)
		if d.Kind == config.KindStepper {
			return stepper.NewUART(a, stepperConfig(o), opts)
		}
	}
	return nil, errcode.New(errcode.ConfigurationFailed, "build", fmt.Sprintf("kind %s cannot use bus %q", d.Kind, d.Bus))
}

func stepperConfig(o config.Options) stepper.Config {
	return stepper.Config{
		RunCurrent:  o.RunCurrent,
		HoldCurrent: o.HoldCurrent,
		Microsteps:  o.Microsteps,
		NodeAddress: o.NodeAddress,
	}
}
