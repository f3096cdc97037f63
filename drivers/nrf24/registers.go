package nrf24

import "fmt"

type (
	Address [5]byte
	Packet  [32]byte
)

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4])
}

type (
	DataRate  byte
	PALevel   byte
	CRCLength byte
)

// The zero value of each setting selects its default.
const (
	// DataRate250kbps represents a data rate of 250kbps
	DataRate250kbps DataRate = iota + 1
	// DataRate1mbps represents a data rate of 1mbps
	DataRate1mbps
	// DataRate2mbps represents a data rate of 2mbps
	DataRate2mbps
)

func (d DataRate) String() string {
	switch d {
	case DataRate250kbps:
		return "250kbps"
	case DataRate1mbps:
		return "1mbps"
	case DataRate2mbps:
		return "2mbps"
	default:
		return "unknown"
	}
}

const (
	// PALevelMin represents a power amplifier level of -18dBm
	PALevelMin PALevel = iota + 1
	// PALevelLow represents a power amplifier level of -12dBm
	PALevelLow
	// PALevelHigh represents a power amplifier level of -6dBm
	PALevelHigh
	// PALevelMax represents a power amplifier level of 0dBm
	PALevelMax
)

func (p PALevel) String() string {
	switch p {
	case PALevelMin:
		return "-18dBm"
	case PALevelLow:
		return "-12dBm"
	case PALevelHigh:
		return "-6dBm"
	case PALevelMax:
		return "0dBm"
	default:
		return "unknown"
	}
}

const (
	// CRCLengthDisabled disables CRC
	CRCLengthDisabled CRCLength = iota + 1
	// CRCLength8 enables 8-bit CRC
	CRCLength8
	// CRCLength16 enables 16-bit CRC
	CRCLength16
)

// Status Register Bits
const (
	StatusDataReady   = 1 << 6 // RX_DR
	StatusDataSent    = 1 << 5 // TX_DS
	StatusMaxRetries  = 1 << 4 // MAX_RT
	StatusRXFIFOEmpty = 7 << 1 // RX_P_NO (111)
	StatusTXFIFOFull  = 1 << 0 // TX_FULL
)

// NRF24 Register Addresses
const (
	RegConfig    = 0x00
	RegEnAA      = 0x01
	RegEnRxAddr  = 0x02
	RegSetupAW   = 0x03
	RegSetupRetr = 0x04
	RegRFCh      = 0x05
	RegRFSetup   = 0x06
	RegStatus    = 0x07
	RegObserveTX = 0x08
	RegRPD       = 0x09
	RegRxAddrP0  = 0x0A
	RegRxAddrP1  = 0x0B
	RegTxAddr    = 0x10
	RegRxPwP0    = 0x11 // Receive Payload Width for Data Pipe 0; P1..P5 follow
	RegDynPD     = 0x1C // Dynamic Payload Register
	RegFeature   = 0x1D // Feature Register
)

// Commands
const (
	CmdWRegister       = 0x20
	CmdRRxPlWid        = 0x60
	CmdRRxPayload      = 0x61
	CmdWTxPayload      = 0xA0
	CmdWAckPayload     = 0xA8 // + pipe (0-5)
	CmdWTxPayloadNoAck = 0xB0
	CmdFlushTX         = 0xE1
	CmdFlushRX         = 0xE2
	CmdNOP             = 0xFF
)

// NRF24 Register Bit Definitions
const (
	ConfigPwrUp  = 1 << 1
	ConfigPrimRX = 1 << 0
	ConfigEnCRC  = 1 << 3
	ConfigCRCO   = 1 << 2

	pipe0 = 1 << 0
	pipe1 = 1 << 1

	FeatureEnDPL    = 1 << 2 // Enable Dynamic Payload Length
	FeatureEnAckPay = 1 << 1 // Enable ACK Payload
	FeatureEnDynAck = 1 << 0 // Enable Payload with No ACK
)

const MaxPayloadBytes = 32

const (
	maxChannel = 124
	maxPipe    = 5
)
