package comm

import (
	"github.com/michcald/devhandler"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/logging"
)

// I2CAdapter wraps an I²C bus and one device address. It implements
// devhandler.I2C so vendor drivers route their traffic through it.
type I2CAdapter struct {
	base
	bus  devhandler.I2C
	addr uint16
}

var (
	_ Adapter        = (*I2CAdapter)(nil)
	_ devhandler.I2C = (*I2CAdapter)(nil)
)

func NewI2C(bus devhandler.I2C, addr uint16, pins ControlPins, log logging.Logger) *I2CAdapter {
	return &I2CAdapter{base: newBase(ModeI2C, bus, pins, log), bus: bus, addr: addr}
}

func (a *I2CAdapter) Addr() uint16 { return a.addr }

func (a *I2CAdapter) Init() error {
	if a.bus == nil {
		return errcode.New(errcode.HardwareNotReady, "init i2c", "no bus")
	}
	if a.addr > 0x7f {
		return errcode.New(errcode.ConfigurationFailed, "init i2c", "address out of 7-bit range")
	}
	return a.init()
}

// Transfer writes tx and then reads len(rx) bytes in one transaction with the
// adapter's device address.
func (a *I2CAdapter) Transfer(tx, rx []byte) error {
	return a.Tx(a.addr, tx, rx)
}

// Tx implements devhandler.I2C.
func (a *I2CAdapter) Tx(addr uint16, w, r []byte) error {
	if err := a.checkInit("i2c transfer"); err != nil {
		return err
	}
	if len(r) == 0 {
		return errcode.Wrap(errcode.TransferError, "i2c transfer", a.bus.Tx(addr, w, nil))
	}
	in := a.buf(len(r))
	if err := a.bus.Tx(addr, w, in); err != nil {
		return errcode.Wrap(errcode.TransferError, "i2c transfer", err)
	}
	copy(r, in)
	return nil
}

// ReadRegister reads len(data) bytes starting at reg.
func (a *I2CAdapter) ReadRegister(reg uint8, data []byte) error {
	return a.Transfer([]byte{reg}, data)
}

// WriteRegister writes data starting at reg.
func (a *I2CAdapter) WriteRegister(reg uint8, data ...byte) error {
	buf := make([]byte, len(data)+1)
	buf[0] = reg
	copy(buf[1:], data)
	return a.Transfer(buf, nil)
}
