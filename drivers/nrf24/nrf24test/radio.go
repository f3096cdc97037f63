// Package nrf24test simulates the SPI side of an nRF24L01+ for tests.
package nrf24test

import (
	"sync"

	"github.com/michcald/devhandler/drivers/nrf24"
)

// Outcome decides what happens on air to the next transmitted payload.
type Outcome int

const (
	// Acked completes the transmission with TX_DS.
	Acked Outcome = iota
	// Lost exhausts the retries and raises MAX_RT.
	Lost
	// Silent never completes, as if the chip hung.
	Silent
)

// Sent is one payload written to the TX FIFO.
type Sent struct {
	Addr    []byte
	Payload []byte
	NoAck   bool
}

// Radio is a register-level nRF24L01+ model. Pass Respond to hwtest.NewSPI.
type Radio struct {
	mu           sync.Mutex
	regs         [0x20][]byte
	rx           []rxPacket
	txFIFO       [][]byte
	sent         []Sent
	ackPayloads  map[int][][]byte
	outcome      Outcome
	disconnected bool
	lost         byte
}

type rxPacket struct {
	pipe int
	data []byte
}

func New() *Radio {
	r := &Radio{ackPayloads: make(map[int][][]byte)}
	for i := range r.regs {
		r.regs[i] = []byte{0}
	}
	r.regs[nrf24.RegConfig][0] = 0x08
	r.regs[nrf24.RegEnAA][0] = 0x3F
	r.regs[nrf24.RegEnRxAddr][0] = 0x03
	r.regs[nrf24.RegSetupAW][0] = 0x03
	r.regs[nrf24.RegSetupRetr][0] = 0x03
	r.regs[nrf24.RegRFCh][0] = 0x02
	r.regs[nrf24.RegRFSetup][0] = 0x0E
	r.regs[nrf24.RegRxAddrP0] = []byte{0xE7, 0xE7, 0xE7, 0xE7, 0xE7}
	r.regs[nrf24.RegRxAddrP1] = []byte{0xC2, 0xC2, 0xC2, 0xC2, 0xC2}
	r.regs[nrf24.RegTxAddr] = []byte{0xE7, 0xE7, 0xE7, 0xE7, 0xE7}
	return r
}

// Respond answers one SPI exchange.
func (r *Radio) Respond(w []byte) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(w))
	if r.disconnected {
		for i := range out {
			out[i] = 0xFF
		}
		return out
	}
	out[0] = r.statusLocked()
	if len(w) == 0 {
		return out
	}

	cmd := w[0]
	switch {
	case cmd == nrf24.RegStatus:
		if len(out) > 1 {
			out[1] = out[0]
		}
	case cmd < nrf24.CmdWRegister:
		copy(out[1:], r.regs[cmd&0x1F])
	case cmd < nrf24.CmdRRxPlWid:
		r.writeLocked(cmd&0x1F, w[1:])
	case cmd == nrf24.CmdRRxPlWid:
		if len(r.rx) > 0 && len(out) > 1 {
			out[1] = byte(len(r.rx[0].data))
		}
	case cmd == nrf24.CmdRRxPayload:
		if len(r.rx) > 0 {
			copy(out[1:], r.rx[0].data)
			r.rx = r.rx[1:]
		}
	case cmd == nrf24.CmdWTxPayload, cmd == nrf24.CmdWTxPayloadNoAck:
		r.transmitLocked(w[1:], cmd == nrf24.CmdWTxPayloadNoAck)
	case cmd&0xF8 == nrf24.CmdWAckPayload:
		pipe := int(cmd & 0x07)
		r.ackPayloads[pipe] = append(r.ackPayloads[pipe], append([]byte(nil), w[1:]...))
	case cmd == nrf24.CmdFlushTX:
		r.txFIFO = nil
	case cmd == nrf24.CmdFlushRX:
		r.rx = nil
	}
	return out
}

func (r *Radio) statusLocked() byte {
	st := r.regs[nrf24.RegStatus][0] & (nrf24.StatusDataReady | nrf24.StatusDataSent | nrf24.StatusMaxRetries)
	if len(r.rx) == 0 {
		st |= nrf24.StatusRXFIFOEmpty
	} else {
		st |= byte(r.rx[0].pipe) << 1
	}
	if len(r.txFIFO) >= 3 {
		st |= nrf24.StatusTXFIFOFull
	}
	return st
}

func (r *Radio) writeLocked(reg byte, data []byte) {
	if reg == nrf24.RegStatus {
		if len(data) > 0 {
			// Interrupt flags are write-one-to-clear.
			r.regs[reg][0] &^= data[0]
		}
		return
	}
	r.regs[reg] = append([]byte(nil), data...)
	if reg == nrf24.RegRFCh {
		r.lost = 0
	}
}

func (r *Radio) transmitLocked(payload []byte, noAck bool) {
	r.txFIFO = append(r.txFIFO, append([]byte(nil), payload...))
	r.sent = append(r.sent, Sent{
		Addr:    append([]byte(nil), r.regs[nrf24.RegTxAddr]...),
		Payload: append([]byte(nil), payload...),
		NoAck:   noAck,
	})
	retries := r.regs[nrf24.RegSetupRetr][0] & 0x0F
	switch r.outcome {
	case Acked:
		r.txFIFO = r.txFIFO[:len(r.txFIFO)-1]
		r.regs[nrf24.RegStatus][0] |= nrf24.StatusDataSent
		r.regs[nrf24.RegObserveTX][0] = r.lost << 4
	case Lost:
		if r.lost < 15 {
			r.lost++
		}
		r.regs[nrf24.RegStatus][0] |= nrf24.StatusMaxRetries
		r.regs[nrf24.RegObserveTX][0] = r.lost<<4 | retries
	}
}

// Deliver queues an incoming packet on pipe and raises RX_DR.
func (r *Radio) Deliver(pipe int, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rx = append(r.rx, rxPacket{pipe: pipe, data: append([]byte(nil), payload...)})
	r.regs[nrf24.RegStatus][0] |= nrf24.StatusDataReady
}

// SetOutcome decides the fate of every following transmission.
func (r *Radio) SetOutcome(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = o
}

// SetCarrier sets the received power detector bit.
func (r *Radio) SetCarrier(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if on {
		r.regs[nrf24.RegRPD][0] = 1
	} else {
		r.regs[nrf24.RegRPD][0] = 0
	}
}

// SetDisconnected makes the chip answer 0xFF to everything, like a floating MISO.
func (r *Radio) SetDisconnected(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = v
}

// Register returns a copy of a register's contents.
func (r *Radio) Register(reg byte) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.regs[reg&0x1F]...)
}

func (r *Radio) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

func (r *Radio) AckPayloads(pipe int) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.ackPayloads[pipe]...)
}

// Pending returns the number of packets waiting in the RX FIFO.
func (r *Radio) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rx)
}

// TXQueued returns the number of payloads waiting in the TX FIFO.
func (r *Radio) TXQueued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txFIFO)
}
