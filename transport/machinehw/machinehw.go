//go:build tinygo

// Package machinehw provides SPI, I²C, UART and GPIO transports on TinyGo
// microcontrollers.
package machinehw

import (
	"errors"
	"machine"

	"github.com/michcald/devhandler"
)

// Pin wraps a machine.Pin to satisfy devhandler.Pin.
type Pin struct {
	pin machine.Pin
}

var _ devhandler.Pin = (*Pin)(nil)

func NewPin(p machine.Pin) *Pin {
	return &Pin{pin: p}
}

func (p *Pin) Out(l devhandler.Level) error {
	p.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.pin.Set(bool(l))
	return nil
}

func (p *Pin) In(pull devhandler.Pull) error {
	mode := machine.PinInput
	switch pull {
	case devhandler.PullUp:
		mode = machine.PinInputPullup
	case devhandler.PullDown:
		mode = machine.PinInputPulldown
	}
	p.pin.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (p *Pin) Read() (devhandler.Level, error) {
	return devhandler.Level(p.pin.Get()), nil
}

// Watch installs handler as the pin's interrupt. It runs in interrupt context.
func (p *Pin) Watch(edge devhandler.Edge, handler func()) error {
	var change machine.PinChange
	switch edge {
	case devhandler.RisingEdge:
		change = machine.PinRising
	case devhandler.FallingEdge:
		change = machine.PinFalling
	case devhandler.BothEdges:
		change = machine.PinToggle
	default:
		return errNoEdge
	}
	return p.pin.SetInterrupt(change, func(machine.Pin) {
		handler()
	})
}

func (p *Pin) Unwatch() error {
	return p.pin.SetInterrupt(0, nil)
}

func (p *Pin) Ready() bool { return p.pin != machine.NoPin }

var errNoEdge = errors.New("machinehw: no edge")

// SPI drives chip select around every exchange.
type SPI struct {
	spi *machine.SPI
	cs  machine.Pin
}

var _ devhandler.SPI = (*SPI)(nil)

// NewSPI configures cs as an output, idle high.
func NewSPI(spi *machine.SPI, cs machine.Pin) *SPI {
	cs.Configure(machine.PinConfig{Mode: machine.PinOutput})
	cs.High()
	return &SPI{spi: spi, cs: cs}
}

func (s *SPI) Tx(w, r []byte) error {
	s.cs.Low()
	err := s.spi.Tx(w, r)
	s.cs.High()
	return err
}

func (s *SPI) Transfer(b byte) (byte, error) {
	s.cs.Low()
	v, err := s.spi.Transfer(b)
	s.cs.High()
	return v, err
}

// I2C is an I²C bus.
type I2C struct {
	bus *machine.I2C
}

var _ devhandler.I2C = (*I2C)(nil)

func NewI2C(bus *machine.I2C) *I2C {
	return &I2C{bus: bus}
}

func (b *I2C) Tx(addr uint16, w, r []byte) error {
	return b.bus.Tx(addr, w, r)
}

// UART is a hardware UART with its receive ring buffer.
type UART struct {
	*machine.UART
}

var _ devhandler.UART = UART{}

func NewUART(u *machine.UART) UART {
	return UART{UART: u}
}
