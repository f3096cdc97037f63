package tmc5160

import (
	"encoding/binary"

	tmcreg "tinygo.org/x/drivers/tmc5160"

	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/logging"
)

// SPIDevice talks to the chip with 40-bit SPI datagrams.
type SPIDevice struct {
	core
	link *spiLink
}

var _ Driver = (*SPIDevice)(nil)

// NewSPI binds a driver to an SPI adapter. No bus traffic happens until Initialize.
func NewSPI(a comm.Adapter, c Config, log logging.Logger) (*SPIDevice, error) {
	cr, err := newCore(a, c, "tmc5160 spi", log)
	if err != nil {
		return nil, err
	}
	l := &spiLink{a: a}
	cr.rc = l
	return &SPIDevice{core: cr, link: l}, nil
}

// Status returns the status byte of the last datagram.
func (d *SPIDevice) Status() SPIStatus { return d.link.status }

// spiLink moves registers of a single chip select. Daisy chains are not
// supported, so the driver index is ignored.
type spiLink struct {
	a      comm.Adapter
	tx, rx [5]byte
	status SPIStatus
}

var _ tmcreg.RegisterComm = (*spiLink)(nil)

func (l *spiLink) datagram(addr uint8, v uint32) (uint32, error) {
	l.tx[0] = addr
	binary.BigEndian.PutUint32(l.tx[1:], v)
	if err := l.a.Transfer(l.tx[:], l.rx[:]); err != nil {
		return 0, err
	}
	l.status = SPIStatus(l.rx[0])
	return binary.BigEndian.Uint32(l.rx[1:]), nil
}

// ReadRegister needs two datagrams: the data of a read request comes back
// with the next one.
func (l *spiLink) ReadRegister(reg, _ uint8) (uint32, error) {
	if _, err := l.datagram(reg&^writeBit, 0); err != nil {
		return 0, err
	}
	return l.datagram(reg&^writeBit, 0)
}

func (l *spiLink) WriteRegister(reg uint8, v uint32, _ uint8) error {
	_, err := l.datagram(reg|writeBit, v)
	return err
}
