package comm

import (
	"errors"
	"io"
	"time"

	"github.com/michcald/devhandler"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/logging"
)

// UARTOptions tune request/response exchanges over a UART.
type UARTOptions struct {
	// Timeout bounds the wait for a full response. Defaults to 50ms.
	Timeout time.Duration
	// EchoCancel discards the echo of every transmitted byte, as seen on
	// single-wire UART links.
	EchoCancel bool
}

// UARTAdapter wraps a UART port. It implements devhandler.UART so vendor
// drivers route their traffic through it.
type UARTAdapter struct {
	base
	port devhandler.UART
	opts UARTOptions
}

var (
	_ Adapter         = (*UARTAdapter)(nil)
	_ devhandler.UART = (*UARTAdapter)(nil)
)

func NewUART(port devhandler.UART, pins ControlPins, opts UARTOptions, log logging.Logger) *UARTAdapter {
	if opts.Timeout <= 0 {
		opts.Timeout = 50 * time.Millisecond
	}
	return &UARTAdapter{base: newBase(ModeUART, port, pins, log), port: port, opts: opts}
}

func (a *UARTAdapter) Init() error {
	if a.port == nil {
		return errcode.New(errcode.HardwareNotReady, "init uart", "no port")
	}
	return a.init()
}

// Transfer discards stale input, writes tx, then reads exactly len(rx) bytes
// before the timeout.
func (a *UARTAdapter) Transfer(tx, rx []byte) error {
	if err := a.checkInit("uart transfer"); err != nil {
		return err
	}
	if err := a.drain(); err != nil {
		return err
	}
	if _, err := a.port.Write(tx); err != nil {
		return errcode.Wrap(errcode.TransferError, "uart write", err)
	}
	want := len(rx)
	if a.opts.EchoCancel {
		want += len(tx)
	}
	if want == 0 {
		return nil
	}
	in := a.buf(want)
	if err := a.readFull(in); err != nil {
		return err
	}
	copy(rx, in[want-len(rx):])
	return nil
}

func (a *UARTAdapter) drain() error {
	var junk [16]byte
	for a.port.Buffered() > 0 {
		if _, err := a.port.Read(junk[:]); err != nil && !errors.Is(err, io.EOF) {
			return errcode.Wrap(errcode.TransferError, "uart drain", err)
		}
	}
	return nil
}

func (a *UARTAdapter) readFull(buf []byte) error {
	deadline := time.Now().Add(a.opts.Timeout)
	n := 0
	for n < len(buf) {
		k, err := a.port.Read(buf[n:])
		if err != nil && !errors.Is(err, io.EOF) {
			return errcode.Wrap(errcode.TransferError, "uart read", err)
		}
		n += k
		if n == len(buf) {
			break
		}
		if time.Now().After(deadline) {
			return errcode.New(errcode.TransferError, "uart read", "timeout waiting for response")
		}
		if k == 0 {
			Delay(100)
		}
	}
	return nil
}

// Read implements devhandler.UART.
func (a *UARTAdapter) Read(p []byte) (int, error) {
	if err := a.checkInit("uart read"); err != nil {
		return 0, err
	}
	n, err := a.port.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, errcode.Wrap(errcode.TransferError, "uart read", err)
	}
	return n, err
}

// Write implements devhandler.UART.
func (a *UARTAdapter) Write(p []byte) (int, error) {
	if err := a.checkInit("uart write"); err != nil {
		return 0, err
	}
	n, err := a.port.Write(p)
	if err != nil {
		return n, errcode.Wrap(errcode.TransferError, "uart write", err)
	}
	return n, nil
}

// Buffered implements devhandler.UART.
func (a *UARTAdapter) Buffered() int {
	if !a.inited.Load() {
		return 0
	}
	return a.port.Buffered()
}
