package comm

import (
	"github.com/michcald/devhandler"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/logging"
)

// SPIAdapter wraps an SPI connection. Bus exposes it as a devhandler.SPI so
// vendor drivers route their traffic through it.
type SPIAdapter struct {
	base
	bus devhandler.SPI
}

var _ Adapter = (*SPIAdapter)(nil)

func NewSPI(bus devhandler.SPI, pins ControlPins, log logging.Logger) *SPIAdapter {
	return &SPIAdapter{base: newBase(ModeSPI, bus, pins, log), bus: bus}
}

func (a *SPIAdapter) Init() error {
	if a.bus == nil {
		return errcode.New(errcode.HardwareNotReady, "init spi", "no bus")
	}
	return a.init()
}

// Transfer clocks tx out and, if rx is non-nil, the same number of bytes in.
// rx must be nil or as long as tx.
func (a *SPIAdapter) Transfer(tx, rx []byte) error {
	if err := a.checkInit("spi transfer"); err != nil {
		return err
	}
	if rx != nil && len(rx) != len(tx) {
		return errcode.New(errcode.InvalidParameter, "spi transfer", "rx length must match tx")
	}
	if rx == nil {
		return errcode.Wrap(errcode.TransferError, "spi transfer", a.bus.Tx(tx, nil))
	}
	in := a.buf(len(tx))
	if err := a.bus.Tx(tx, in); err != nil {
		return errcode.Wrap(errcode.TransferError, "spi transfer", err)
	}
	copy(rx, in)
	return nil
}

// Bus returns a devhandler.SPI view of the adapter. Every exchange goes through
// Transfer and its error translation.
func (a *SPIAdapter) Bus() devhandler.SPI { return spiBus{a} }

type spiBus struct{ a *SPIAdapter }

// Tx implements devhandler.SPI. w and r may alias.
func (s spiBus) Tx(w, r []byte) error {
	if w == nil && r != nil {
		w = make([]byte, len(r))
	}
	return s.a.Transfer(w, r)
}

func (s spiBus) Transfer(b byte) (byte, error) {
	var in [1]byte
	if err := s.a.Transfer([]byte{b}, in[:]); err != nil {
		return 0, err
	}
	return in[0], nil
}
