package tmc5160

import (
	"encoding/binary"

	tmcreg "tinygo.org/x/drivers/tmc5160"

	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/logging"
)

const (
	uartSync      = 0x05
	uartMasterTag = 0xFF
)

// UARTDevice talks to the chip with CRC-protected UART datagrams.
type UARTDevice struct {
	core
	link *uartLink
}

var _ Driver = (*UARTDevice)(nil)

// NewUART binds a driver to a UART adapter. No bus traffic happens until Initialize.
func NewUART(a comm.Adapter, c Config, log logging.Logger) (*UARTDevice, error) {
	cr, err := newCore(a, c, "tmc5160 uart", log)
	if err != nil {
		return nil, err
	}
	l := &uartLink{a: a, node: cr.cfg.NodeAddress}
	cr.rc = l
	return &UARTDevice{core: cr, link: l}, nil
}

func (d *UARTDevice) NodeAddress() uint8 { return d.link.node }

// InterfaceCount reads IFCNT, which the chip increments on every accepted write.
func (d *UARTDevice) InterfaceCount() (uint8, error) {
	v, err := d.ReadRegister(tmcreg.IFCNT)
	return uint8(v), err
}

// uartLink frames registers for one node address. The driver index of the
// register interface is ignored in favour of node.
type uartLink struct {
	a     comm.Adapter
	node  uint8
	wr    [8]byte
	rdReq [4]byte
	reply [8]byte
}

var _ tmcreg.RegisterComm = (*uartLink)(nil)

func (l *uartLink) ReadRegister(reg, _ uint8) (uint32, error) {
	l.rdReq = [4]byte{uartSync, l.node, reg &^ writeBit}
	l.rdReq[3] = CRC8(l.rdReq[:3])
	if err := l.a.Transfer(l.rdReq[:], l.reply[:]); err != nil {
		return 0, err
	}
	r := l.reply
	if CRC8(r[:7]) != r[7] {
		return 0, errcode.Wrap(errcode.TransferError, "tmc5160 read", ErrCRC)
	}
	if r[0] != uartSync || r[1] != uartMasterTag || r[2] != reg&^writeBit {
		return 0, errcode.New(errcode.TransferError, "tmc5160 read", "unexpected reply header")
	}
	return binary.BigEndian.Uint32(r[3:7]), nil
}

// WriteRegister is fire and forget: the chip does not answer writes.
func (l *uartLink) WriteRegister(reg uint8, v uint32, _ uint8) error {
	l.wr[0], l.wr[1], l.wr[2] = uartSync, l.node, reg|writeBit
	binary.BigEndian.PutUint32(l.wr[3:7], v)
	l.wr[7] = CRC8(l.wr[:7])
	return l.a.Transfer(l.wr[:], nil)
}
