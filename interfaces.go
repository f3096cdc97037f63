// Package devhandler holds the transport contracts shared by communication adapters,
// transports and handlers. Concrete transports live under transport/, adapters
// under comm/, and per-device façades under handlers/.
package devhandler

import "tinygo.org/x/drivers"

// Level represents the electrical level of a pin (Low or High).
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "High"
	}
	return "Low"
}

// Pull represents the internal pull-up/down resistor state.
type Pull uint8

const (
	PullNoChange Pull = iota
	PullFloat
	PullDown
	PullUp
)

// Edge represents the signal edge to trigger an interrupt.
type Edge uint8

const (
	NoEdge Edge = iota
	RisingEdge
	FallingEdge
	BothEdges
)

// SPI is a full-duplex SPI connection with chip select handled by the transport.
type SPI = drivers.SPI

// I2C is an I²C bus; every transaction names the target address.
type I2C = drivers.I2C

// UART is a byte stream with a count of bytes already received.
type UART = drivers.UART

// Pin represents a generic GPIO pin.
type Pin interface {
	// Out sets the pin as output with the given level.
	Out(l Level) error
	// In sets the pin as input with the given pull mode.
	In(pull Pull) error
	// Read returns the current level of the pin.
	Read() (Level, error)
	// Watch configures an interrupt/callback on the specified edge.
	// The handler may run in interrupt context and must not block.
	Watch(edge Edge, handler func()) error
	// Unwatch removes the interrupt/callback.
	Unwatch() error
}

// Readier is implemented by transports and pins that can report whether they are
// currently usable. Dependencies that do not implement it are treated as ready.
type Readier interface {
	Ready() bool
}

// IsReady reports v's live readiness.
func IsReady(v any) bool {
	if v == nil {
		return false
	}
	if r, ok := v.(Readier); ok {
		return r.Ready()
	}
	return true
}
