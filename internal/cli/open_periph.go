//go:build !tinygo

package cli

import (
	"github.com/michcald/devhandler"
	"github.com/michcald/devhandler/config"
	"github.com/michcald/devhandler/logging"
	"github.com/michcald/devhandler/transport/periphio"
	"github.com/michcald/devhandler/transport/serialport"
)

// periphOpener opens Linux buses through periph.io and serial ports through
// tarm/serial.
type periphOpener struct {
	log logging.Logger
}

// OpenPeriph loads the periph.io host drivers and returns the Linux opener.
func OpenPeriph(log logging.Logger) (Opener, error) {
	if err := periphio.Init(); err != nil {
		return nil, err
	}
	return &periphOpener{log: logging.OrNop(log)}, nil
}

func (o *periphOpener) SPI(name string, c config.SPIBus) (devhandler.SPI, error) {
	s, err := periphio.OpenSPI(c.Device, c.ClockHz)
	if err != nil {
		return nil, err
	}
	o.log.Debug("spi opened", "bus", name, "port", s)
	return s, nil
}

func (o *periphOpener) I2C(name string, c config.I2CBus) (devhandler.I2C, error) {
	b, err := periphio.OpenI2C(c.Bus)
	if err != nil {
		return nil, err
	}
	o.log.Debug("i2c opened", "bus", name, "port", b)
	return b, nil
}

func (o *periphOpener) UART(name string, c config.UARTPort) (devhandler.UART, error) {
	p, err := serialport.Open(serialport.Config{
		Device:      c.Device,
		Baud:        c.Baud,
		ReadTimeout: c.ReadTimeout,
	}, logging.With(o.log, "port", name))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (o *periphOpener) Pin(gpio string) (devhandler.Pin, error) {
	p, err := periphio.PinByName(gpio)
	if err != nil {
		return nil, err
	}
	return p, nil
}
