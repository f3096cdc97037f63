// Package tmc5160test simulates a TMC5160 register file behind SPI and UART
// datagrams.
package tmc5160test

import (
	"encoding/binary"
	"sync"

	tmcreg "tinygo.org/x/drivers/tmc5160"

	"github.com/michcald/devhandler/drivers/tmc5160"
)

// Write is one register write the chip accepted.
type Write struct {
	Reg   uint8
	Value uint32
}

// Chip is a TMC5160 model. Moves complete instantly.
type Chip struct {
	mu      sync.Mutex
	regs    map[uint8]uint32
	writes  []Write
	node    uint8
	pending uint32
	status  byte
	corrupt bool
	mute    bool
}

// New returns a chip answering to UART node address node.
func New(node uint8) *Chip {
	return &Chip{
		node: node,
		regs: map[uint8]uint32{
			tmcreg.GSTAT:      0x01, // reset flag after power on
			tmcreg.IOIN:       tmc5160.ChipVersion << 24,
			tmcreg.DRV_STATUS: 1 << 31,
		},
		status: 0x01,
	}
}

// RespondSPI answers a 40-bit datagram. Data read back belongs to the
// previous request.
func (c *Chip) RespondSPI(w []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(w))
	if len(w) != 5 {
		return out
	}
	out[0] = c.status
	binary.BigEndian.PutUint32(out[1:], c.pending)
	addr := w[0]
	if addr&0x80 != 0 {
		c.writeLocked(addr&^0x80, binary.BigEndian.Uint32(w[1:]))
		c.pending = 0
	} else {
		c.pending = c.regs[addr]
	}
	return out
}

// RespondUART answers a read request with an 8-byte reply and swallows writes.
func (c *Chip) RespondUART(w []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mute || len(w) < 4 || w[0] != 0x05 || w[1] != c.node {
		return nil
	}
	switch {
	case len(w) == 8 && w[2]&0x80 != 0:
		if tmc5160.CRC8(w[:7]) != w[7] {
			return nil
		}
		c.writeLocked(w[2]&^0x80, binary.BigEndian.Uint32(w[3:7]))
		c.regs[tmcreg.IFCNT] = (c.regs[tmcreg.IFCNT] + 1) & 0xFF
		return nil
	case len(w) == 4:
		if tmc5160.CRC8(w[:3]) != w[3] {
			return nil
		}
		r := make([]byte, 8)
		r[0], r[1], r[2] = 0x05, 0xFF, w[2]
		binary.BigEndian.PutUint32(r[3:7], c.regs[w[2]])
		r[7] = tmc5160.CRC8(r[:7])
		if c.corrupt {
			r[7] ^= 0xFF
			c.corrupt = false
		}
		return r
	}
	return nil
}

func (c *Chip) writeLocked(reg uint8, v uint32) {
	c.writes = append(c.writes, Write{Reg: reg, Value: v})
	switch reg {
	case tmcreg.GSTAT:
		c.regs[reg] &^= v
		if v&0x01 != 0 {
			c.status &^= 0x01
		}
		return
	case tmcreg.XTARGET:
		c.regs[reg] = v
		if c.regs[tmcreg.RAMPMODE] == uint32(tmcreg.PositioningMode) && c.regs[tmcreg.VMAX] != 0 {
			c.regs[tmcreg.XACTUAL] = v
			c.regs[tmcreg.RAMP_STAT] |= 1 << 9
			c.regs[tmcreg.DRV_STATUS] |= 1 << 31
		}
		return
	case tmcreg.RAMPMODE, tmcreg.VMAX:
		c.regs[reg] = v
		c.applyVelocityLocked()
		return
	}
	c.regs[reg] = v
}

func (c *Chip) applyVelocityLocked() {
	vmax := c.regs[tmcreg.VMAX]
	var v int32
	switch c.regs[tmcreg.RAMPMODE] {
	case uint32(tmcreg.VelocityPositiveMode):
		v = int32(vmax)
	case uint32(tmcreg.VelocityNegativeMode):
		v = -int32(vmax)
	default:
		return
	}
	c.regs[tmcreg.VACTUAL] = uint32(v) & 0xFFFFFF
	c.regs[tmcreg.RAMP_STAT] |= 1 << 8
	if v == 0 {
		c.regs[tmcreg.DRV_STATUS] |= 1 << 31
	} else {
		c.regs[tmcreg.DRV_STATUS] &^= 1 << 31
	}
}

// Set stores a register value directly.
func (c *Chip) Set(reg uint8, v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs[reg] = v
}

func (c *Chip) Get(reg uint8) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[reg]
}

func (c *Chip) Writes() []Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Write(nil), c.writes...)
}

// LastWrite returns the last value written to reg.
func (c *Chip) LastWrite(reg uint8) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.writes) - 1; i >= 0; i-- {
		if c.writes[i].Reg == reg {
			return c.writes[i].Value, true
		}
	}
	return 0, false
}

// CorruptNextReply flips the CRC of the next UART reply.
func (c *Chip) CorruptNextReply() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.corrupt = true
}

// SetMute stops the chip from answering UART requests.
func (c *Chip) SetMute(m bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mute = m
}
