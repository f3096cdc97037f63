// Package serialport provides a UART transport over a host serial port.
//
// A background reader moves received bytes into a buffer so Buffered can report
// what is waiting, as a microcontroller UART ring buffer would.
package serialport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/michcald/devhandler"
	"github.com/michcald/devhandler/logging"
)

// ErrClosed is returned by a Port used after Close.
var ErrClosed = errors.New("serialport: port closed")

// Config describes a serial device.
type Config struct {
	Device string
	// Baud defaults to 115200.
	Baud int
	// ReadTimeout is how long one read of the device may block. Defaults to 10ms.
	ReadTimeout time.Duration
}

// Port is a buffered serial port. It implements devhandler.UART.
type Port struct {
	rwc  io.ReadWriteCloser
	name string
	log  logging.Logger

	mu     sync.Mutex
	rx     bytes.Buffer
	err    error
	closed bool
	done   chan struct{}
}

var _ devhandler.UART = (*Port)(nil)

// Open opens cfg.Device with tarm/serial and starts the reader.
func Open(cfg Config, log logging.Logger) (*Port, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("serial device cannot be empty")
	}
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Millisecond
	}
	sp, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	return New(sp, cfg.Device, log), nil
}

// New wraps an open stream and starts the reader. The Port owns rwc.
func New(rwc io.ReadWriteCloser, name string, log logging.Logger) *Port {
	p := &Port{rwc: rwc, name: name, log: logging.OrNop(log), done: make(chan struct{})}
	go p.pump()
	return p
}

func (p *Port) pump() {
	defer close(p.done)
	buf := make([]byte, 256)
	for {
		n, err := p.rwc.Read(buf)
		p.mu.Lock()
		if n > 0 {
			p.rx.Write(buf[:n])
		}
		closed := p.closed
		if err != nil && !errors.Is(err, io.EOF) && !closed {
			p.err = err
		}
		failed := p.err != nil
		p.mu.Unlock()
		if closed {
			return
		}
		if failed {
			p.log.Error("serial read failed", "port", p.name, "err", err)
			return
		}
	}
}

// Read returns buffered bytes without blocking. It returns 0, nil when nothing
// is waiting.
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rx.Len() > 0 {
		return p.rx.Read(b)
	}
	if p.closed {
		return 0, ErrClosed
	}
	if p.err != nil {
		return 0, p.err
	}
	return 0, nil
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	closed, err := p.closed, p.err
	p.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	if err != nil {
		return 0, err
	}
	return p.rwc.Write(b)
}

func (p *Port) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rx.Len()
}

// Ready is false after Close or a read failure.
func (p *Port) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && p.err == nil
}

// Close closes the device and waits for the reader to exit.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	err := p.rwc.Close()
	<-p.done
	return err
}

func (p *Port) String() string { return p.name }
