package hwtest

import (
	"bytes"
	"errors"
	"sync"
)

// SPI is a fake SPI connection. Respond, if set, produces the bytes clocked in
// for every exchange.
type SPI struct {
	mu       sync.Mutex
	respond  func(w []byte) []byte
	txs      [][]byte
	err      error
	notReady bool
}

func NewSPI(respond func(w []byte) []byte) *SPI {
	return &SPI{respond: respond}
}

func (s *SPI) Tx(w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, append([]byte(nil), w...))
	if s.err != nil {
		return s.err
	}
	if r != nil && s.respond != nil {
		copy(r, s.respond(w))
	}
	return nil
}

func (s *SPI) Transfer(b byte) (byte, error) {
	var r [1]byte
	err := s.Tx([]byte{b}, r[:])
	return r[0], err
}

func (s *SPI) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.notReady
}

func (s *SPI) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notReady = !ready
}

// Fail makes every Tx return err (nil clears it).
func (s *SPI) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Txs returns a copy of every buffer written.
func (s *SPI) Txs() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.txs))
	copy(out, s.txs)
	return out
}

func (s *SPI) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs)
}

func (s *SPI) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = nil
}

// I2CTx is one recorded I²C transaction.
type I2CTx struct {
	Addr uint16
	W    []byte
	R    int
}

// I2C is a fake I²C bus of register-file devices with auto-incrementing
// register pointers.
type I2C struct {
	mu       sync.Mutex
	devs     map[uint16]*regFile
	txs      []I2CTx
	err      error
	failAt   map[uint16]map[uint8]error
	notReady bool
	// OnRead runs after a register is read, with the bus lock held. It lets a
	// test model clear-on-read registers.
	OnRead func(addr uint16, reg uint8)
}

type regFile struct {
	regs [256]byte
	ptr  uint8
}

func NewI2C(addrs ...uint16) *I2C {
	b := &I2C{devs: map[uint16]*regFile{}, failAt: map[uint16]map[uint8]error{}}
	for _, a := range addrs {
		b.devs[a] = &regFile{}
	}
	return b
}

var errNack = errors.New("hwtest: i2c nack")

func (b *I2C) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txs = append(b.txs, I2CTx{Addr: addr, W: append([]byte(nil), w...), R: len(r)})
	if b.err != nil {
		return b.err
	}
	d, ok := b.devs[addr]
	if !ok {
		return errNack
	}
	if len(w) > 0 {
		if err := b.failAt[addr][w[0]]; err != nil {
			return err
		}
		d.ptr = w[0]
		for _, v := range w[1:] {
			d.regs[d.ptr] = v
			d.ptr++
		}
	}
	for i := range r {
		r[i] = d.regs[d.ptr]
		if b.OnRead != nil {
			b.OnRead(addr, d.ptr)
		}
		d.ptr++
	}
	return nil
}

func (b *I2C) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.notReady
}

func (b *I2C) SetReady(ready bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notReady = !ready
}

// Fail makes every Tx return err (nil clears it).
func (b *I2C) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// FailRegister makes transactions addressing reg on addr return err (nil clears it).
func (b *I2C) FailRegister(addr uint16, reg uint8, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failAt[addr] == nil {
		b.failAt[addr] = map[uint8]error{}
	}
	if err == nil {
		delete(b.failAt[addr], reg)
		return
	}
	b.failAt[addr][reg] = err
}

// Set writes register values directly, bypassing the bus.
func (b *I2C) Set(addr uint16, reg uint8, vals ...byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLocked(addr, reg, vals...)
}

// SetLocked is Set for use from OnRead, which already holds the bus lock.
func (b *I2C) SetLocked(addr uint16, reg uint8, vals ...byte) {
	b.setLocked(addr, reg, vals...)
}

func (b *I2C) setLocked(addr uint16, reg uint8, vals ...byte) {
	d, ok := b.devs[addr]
	if !ok {
		d = &regFile{}
		b.devs[addr] = d
	}
	for i, v := range vals {
		d.regs[reg+uint8(i)] = v
	}
}

// Get reads a register directly, bypassing the bus.
func (b *I2C) Get(addr uint16, reg uint8) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.devs[addr]
	if !ok {
		return 0
	}
	return d.regs[reg]
}

// Remove detaches a device; later transactions to addr are NACKed.
func (b *I2C) Remove(addr uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.devs, addr)
}

func (b *I2C) Txs() []I2CTx {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]I2CTx(nil), b.txs...)
}

func (b *I2C) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.txs)
}

func (b *I2C) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txs = nil
}

// UART is a fake UART. Respond, if set, queues a reply for every write.
type UART struct {
	mu       sync.Mutex
	rx       bytes.Buffer
	written  bytes.Buffer
	respond  func(w []byte) []byte
	err      error
	notReady bool
}

func NewUART(respond func(w []byte) []byte) *UART {
	return &UART{respond: respond}
}

func (u *UART) Read(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return 0, u.err
	}
	if u.rx.Len() == 0 {
		return 0, nil
	}
	return u.rx.Read(p)
}

func (u *UART) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return 0, u.err
	}
	u.written.Write(p)
	if u.respond != nil {
		u.rx.Write(u.respond(p))
	}
	return len(p), nil
}

func (u *UART) Buffered() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rx.Len()
}

// Feed queues bytes to be read.
func (u *UART) Feed(p []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rx.Write(p)
}

// Written returns everything written so far.
func (u *UART) Written() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]byte(nil), u.written.Bytes()...)
}

func (u *UART) Fail(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.err = err
}

func (u *UART) Ready() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return !u.notReady
}

func (u *UART) SetReady(ready bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.notReady = !ready
}
