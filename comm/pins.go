package comm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/michcald/devhandler"
	"github.com/michcald/devhandler/errcode"
)

// Mode is the transport a façade was constructed for. It is fixed for the
// façade's lifetime.
type Mode uint8

const (
	ModeSPI Mode = iota + 1
	ModeI2C
	ModeUART
)

func (m Mode) String() string {
	switch m {
	case ModeSPI:
		return "spi"
	case ModeI2C:
		return "i2c"
	case ModeUART:
		return "uart"
	default:
		return "unknown"
	}
}

// Signal is the logical state of a control pin, independent of polarity.
type Signal bool

const (
	Inactive Signal = false
	Active   Signal = true
)

func (s Signal) String() string {
	if s {
		return "active"
	}
	return "inactive"
}

// ActiveLevel is the electrical level that means "asserted" for a pin.
type ActiveLevel uint8

const (
	ActiveHigh ActiveLevel = iota
	ActiveLow
)

func (a ActiveLevel) String() string {
	if a == ActiveLow {
		return "active-low"
	}
	return "active-high"
}

// Level maps a logical signal to the electrical level to drive.
func (a ActiveLevel) Level(s Signal) devhandler.Level {
	return devhandler.Level(bool(s) == (a == ActiveHigh))
}

// Signal maps an electrical level read from the line to a logical signal.
func (a ActiveLevel) Signal(l devhandler.Level) Signal {
	return Signal(bool(l) == (a == ActiveHigh))
}

// AssertEdge is the edge on which the line becomes asserted.
func (a ActiveLevel) AssertEdge() devhandler.Edge {
	if a == ActiveLow {
		return devhandler.FallingEdge
	}
	return devhandler.RisingEdge
}

// PinID names a control pin slot.
type PinID uint8

const (
	PinReset PinID = iota
	PinEnable
	PinFault
	PinWake
	PinInterrupt
	PinAux0
	PinAux1
)

var pinNames = [...]string{"reset", "enable", "fault", "wake", "interrupt", "aux0", "aux1"}

func (p PinID) String() string {
	if int(p) < len(pinNames) {
		return pinNames[p]
	}
	return fmt.Sprintf("pin%d", uint8(p))
}

// ParsePinID accepts the names printed by PinID.String.
func ParsePinID(s string) (PinID, error) {
	for i, n := range pinNames {
		if strings.EqualFold(s, n) {
			return PinID(i), nil
		}
	}
	return 0, errcode.New(errcode.InvalidParameter, "parse pin", s)
}

// Direction of a control pin.
type Direction uint8

const (
	// DirDefault makes fault and interrupt pins inputs and every other pin an output.
	DirDefault Direction = iota
	DirOutput
	DirInput
)

// PinConfig binds one control pin slot to a physical pin.
type PinConfig struct {
	Pin    devhandler.Pin
	Active ActiveLevel
	Dir    Direction
	// Pull is applied to inputs.
	Pull devhandler.Pull
	// Required pins must be wired and ready for the adapter to report ready.
	Required bool
}

func (c PinConfig) direction(id PinID) Direction {
	if c.Dir != DirDefault {
		return c.Dir
	}
	if id == PinFault || id == PinInterrupt {
		return DirInput
	}
	return DirOutput
}

// ControlPins is the bundle of control pins an adapter references. The pins are
// not owned and must outlive the adapter.
type ControlPins map[PinID]PinConfig

// pinSet is the pin half of every adapter.
type pinSet struct {
	cfg ControlPins
}

func (ps *pinSet) ids() []PinID {
	ids := make([]PinID, 0, len(ps.cfg))
	for id := range ps.cfg {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// configure sets every wired pin's direction. Outputs are driven inactive.
// The first failure aborts the remaining pins.
func (ps *pinSet) configure() error {
	for _, id := range ps.ids() {
		c := ps.cfg[id]
		if c.Pin == nil {
			if c.Required {
				return errcode.New(errcode.ConfigurationFailed, "configure "+id.String(), "required pin not wired")
			}
			continue
		}
		var err error
		if c.direction(id) == DirInput {
			err = c.Pin.In(c.Pull)
		} else {
			err = c.Pin.Out(c.Active.Level(Inactive))
		}
		if err != nil {
			return errcode.Wrap(errcode.ConfigurationFailed, "configure "+id.String(), err)
		}
	}
	return nil
}

func (ps *pinSet) ready() bool {
	for _, c := range ps.cfg {
		if c.Required && !devhandler.IsReady(c.Pin) {
			return false
		}
	}
	return true
}

func (ps *pinSet) lookup(op string, id PinID) (PinConfig, error) {
	c, ok := ps.cfg[id]
	if !ok || c.Pin == nil {
		return PinConfig{}, errcode.New(errcode.InvalidParameter, op, id.String()+" not wired")
	}
	return c, nil
}

func (ps *pinSet) has(id PinID) bool {
	c, ok := ps.cfg[id]
	return ok && c.Pin != nil
}

func (ps *pinSet) set(id PinID, s Signal) error {
	c, err := ps.lookup("gpio set", id)
	if err != nil {
		return err
	}
	if err := c.Pin.Out(c.Active.Level(s)); err != nil {
		return errcode.Wrap(errcode.HardwareError, "gpio set "+id.String(), err)
	}
	return nil
}

func (ps *pinSet) read(id PinID) (Signal, error) {
	c, err := ps.lookup("gpio read", id)
	if err != nil {
		return Inactive, err
	}
	l, err := c.Pin.Read()
	if err != nil {
		return Inactive, errcode.Wrap(errcode.HardwareError, "gpio read "+id.String(), err)
	}
	return c.Active.Signal(l), nil
}

func (ps *pinSet) watch(id PinID, fn func()) error {
	c, err := ps.lookup("watch", id)
	if err != nil {
		return errcode.Wrap(errcode.Unsupported, "watch", err)
	}
	if err := c.Pin.Watch(c.Active.AssertEdge(), fn); err != nil {
		return errcode.Wrap(errcode.HardwareError, "watch "+id.String(), err)
	}
	return nil
}

func (ps *pinSet) unwatch(id PinID) error {
	c, err := ps.lookup("unwatch", id)
	if err != nil {
		return err
	}
	if err := c.Pin.Unwatch(); err != nil {
		return errcode.Wrap(errcode.HardwareError, "unwatch "+id.String(), err)
	}
	return nil
}

func (ps *pinSet) describe() string {
	var b strings.Builder
	for i, id := range ps.ids() {
		c := ps.cfg[id]
		if i > 0 {
			b.WriteString(" ")
		}
		dir := "out"
		if c.direction(id) == DirInput {
			dir = "in"
		}
		wired := "unwired"
		if c.Pin != nil {
			wired = "ready"
			if !devhandler.IsReady(c.Pin) {
				wired = "not-ready"
			}
		}
		fmt.Fprintf(&b, "%s(%s,%s,%s)", id, c.Active, dir, wired)
	}
	return b.String()
}
