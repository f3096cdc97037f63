package tmc5160

import (
	tmcreg "tinygo.org/x/drivers/tmc5160"
)

// writeBit marks a register access as a write on both SPI and UART.
const writeBit = 0x80

// ChipVersion is the IOIN version field of a TMC5160.
const ChipVersion = 0x30

const (
	maxVMAX = 1<<23 - 512
	maxAMAX = 1<<16 - 1

	// Quick start chopper from the datasheet.
	chopToff       = 3
	chopHstrt      = 4
	chopHend       = 1
	chopBlankTime  = 2
	chopOffTimeOff = 0
)

// SPIStatus is the status byte clocked out with every SPI datagram.
type SPIStatus byte

func (s SPIStatus) ResetFlag() bool       { return s&(1<<0) != 0 }
func (s SPIStatus) DriverError() bool     { return s&(1<<1) != 0 }
func (s SPIStatus) StallGuard() bool      { return s&(1<<2) != 0 }
func (s SPIStatus) Standstill() bool      { return s&(1<<3) != 0 }
func (s SPIStatus) VelocityReached() bool { return s&(1<<4) != 0 }
func (s SPIStatus) PositionReached() bool { return s&(1<<5) != 0 }

// RegisterValue is one entry of a register dump.
type RegisterValue struct {
	Name  string
	Addr  uint8
	Value uint32
}

// readable lists the registers Dump reads back.
var readable = []struct {
	name string
	addr uint8
}{
	{"GCONF", tmcreg.GCONF},
	{"GSTAT", tmcreg.GSTAT},
	{"IOIN", tmcreg.IOIN},
	{"RAMPMODE", tmcreg.RAMPMODE},
	{"XACTUAL", tmcreg.XACTUAL},
	{"VACTUAL", tmcreg.VACTUAL},
	{"XTARGET", tmcreg.XTARGET},
	{"RAMP_STAT", tmcreg.RAMP_STAT},
	{"CHOPCONF", tmcreg.CHOPCONF},
	{"DRV_STATUS", tmcreg.DRV_STATUS},
}

func chopconf(mres uint8, on bool) uint32 {
	r := tmcreg.NewCHOPCONF()
	r.Toff = chopOffTimeOff
	if on {
		r.Toff = chopToff
	}
	r.HstrtTfd = chopHstrt
	r.HendOffset = chopHend
	r.Tbl = chopBlankTime
	r.Mres = mres
	return r.Pack()
}

func iholdIrun(run, hold, delay uint8) uint32 {
	r := tmcreg.NewIHOLD_IRUN()
	r.Irun, r.Ihold, r.IholdDelay = run, hold, delay
	return r.Pack()
}
