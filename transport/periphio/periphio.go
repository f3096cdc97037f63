//go:build !tinygo

// Package periphio provides Linux SPI, I²C and GPIO transports backed by periph.io.
package periphio

import (
	"errors"
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/michcald/devhandler"
)

// ErrClosed is returned by transports used after Close.
var ErrClosed = errors.New("periphio: transport closed")

// DefaultSPIClockHz is used when a zero clock is requested.
const DefaultSPIClockHz = 1000000

// Init loads the periph.io host drivers. Required before opening any bus or pin.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph.io host: %w", err)
	}
	return nil
}

// SPI is a mode 0, 8 bit SPI connection.
type SPI struct {
	port   spi.PortCloser
	conn   spi.Conn
	closed atomic.Bool
}

var _ devhandler.SPI = (*SPI)(nil)

// OpenSPI opens the SPI port at path (e.g. "/dev/spidev0.0").
func OpenSPI(path string, clockHz int64) (*SPI, error) {
	p, err := spireg.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", path, err)
	}
	s, err := ConnectSPI(p, clockHz)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// ConnectSPI connects to an already opened port. The returned SPI owns port.
func ConnectSPI(port spi.PortCloser, clockHz int64) (*SPI, error) {
	if clockHz == 0 {
		clockHz = DefaultSPIClockHz
	}
	conn, err := port.Connect(physic.Frequency(clockHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to create SPI connection: %w", err)
	}
	return &SPI{port: port, conn: conn}, nil
}

func (s *SPI) Tx(w, r []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.conn.Tx(w, r)
}

func (s *SPI) Transfer(b byte) (byte, error) {
	var r [1]byte
	if err := s.Tx([]byte{b}, r[:]); err != nil {
		return 0, err
	}
	return r[0], nil
}

// Ready reports false once the port is closed.
func (s *SPI) Ready() bool { return !s.closed.Load() }

func (s *SPI) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.port.Close()
}

func (s *SPI) String() string { return s.conn.String() }

// I2C is an I²C bus.
type I2C struct {
	bus    i2c.BusCloser
	closed atomic.Bool
}

var _ devhandler.I2C = (*I2C)(nil)

// OpenI2C opens an I²C bus by name or number ("" for the first one).
func OpenI2C(name string) (*I2C, error) {
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %q: %w", name, err)
	}
	return NewI2C(b), nil
}

// NewI2C wraps an opened bus. The returned I2C owns bus.
func NewI2C(bus i2c.BusCloser) *I2C {
	return &I2C{bus: bus}
}

func (b *I2C) Tx(addr uint16, w, r []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.bus.Tx(addr, w, r)
}

func (b *I2C) Ready() bool { return !b.closed.Load() }

func (b *I2C) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.bus.Close()
}

func (b *I2C) String() string { return b.bus.String() }
