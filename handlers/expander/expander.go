// Package expander is the handler for an MCP23017 16-bit GPIO expander on I²C.
//
// Pins 0 to 7 are port A and 8 to 15 port B. The optional Reset pin (active
// low) is pulsed on every init. The optional Interrupt pin carries INTA with
// the ports mirrored, so one line reports changes on all 16 pins.
package expander

import (
	"context"

	"tinygo.org/x/drivers/mcp23017"

	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/handler"
	"github.com/michcald/devhandler/irq"
)

const PinCount = mcp23017.PinCount

// Registers the vendor driver does not expose, port A addresses with BANK=0.
const (
	regGPINTEN = 0x04
	regINTCON  = 0x08
	regIOCON   = 0x0A
	regINTF    = 0x0E
	regINTCAP  = 0x10

	ioconMirror = 1 << 6
)

type Direction uint8

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// InterruptFunc receives the pins that raised the interrupt and the port
// levels captured when it fired. Bit n is pin n.
type InterruptFunc func(flagged, captured uint16)

type device struct {
	*mcp23017.Device
	a      *comm.I2CAdapter
	bridge *irq.Bridge
	h      *Handler
}

func (d *device) Initialize() error {
	if d.a.HasPin(comm.PinReset) {
		if err := d.a.GpioSet(comm.PinReset, comm.Active); err != nil {
			return err
		}
		d.a.Delay(10)
		if err := d.a.GpioSet(comm.PinReset, comm.Inactive); err != nil {
			return err
		}
		d.a.Delay(10)
	}
	// Probe first: the vendor constructor flattens the bus error into text.
	var iocon [1]byte
	if err := d.a.ReadRegister(regIOCON, iocon[:]); err != nil {
		return err
	}
	dev, err := mcp23017.NewI2C(d.a, uint8(d.a.Addr()))
	if err != nil {
		return errcode.Wrap(errcode.HardwareError, "mcp23017 init", err)
	}
	d.Device = dev
	if err := d.a.WriteRegister(regIOCON, ioconMirror); err != nil {
		return err
	}
	if err := d.a.WriteRegister(regGPINTEN, 0, 0); err != nil {
		return err
	}
	if _, err := d.bridge.Attach(d.a, comm.PinInterrupt); err != nil {
		return err
	}
	// A callback registered before a deinit or a failed init stays armed.
	if d.h.onInterrupt != nil {
		return d.arm(d.h.interruptMask)
	}
	return nil
}

// arm enables interrupt-on-change against the previous value for mask.
func (d *device) arm(mask uint16) error {
	if err := d.write16(regINTCON, 0); err != nil {
		return err
	}
	return d.write16(regGPINTEN, mask)
}

func (d *device) Deinitialize() error {
	derr := d.bridge.Detach(d.a, comm.PinInterrupt)
	if d.Device == nil {
		return derr
	}
	// Interrupts off, every pin back to a floating input.
	if err := d.a.WriteRegister(regGPINTEN, 0, 0); err != nil {
		return err
	}
	if err := d.SetModes([]mcp23017.PinMode{mcp23017.Input}); err != nil {
		return err
	}
	return derr
}

func (d *device) read16(reg uint8) (uint16, error) {
	var b [2]byte
	if err := d.a.ReadRegister(reg, b[:]); err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

func (d *device) write16(reg uint8, v uint16) error {
	return d.a.WriteRegister(reg, byte(v), byte(v>>8))
}

// updateModes applies fn to the mode of every pin in mask.
func (d *device) updateModes(mask uint16, fn func(mcp23017.PinMode) mcp23017.PinMode) error {
	modes := make([]mcp23017.PinMode, PinCount)
	if err := d.GetModes(modes); err != nil {
		return err
	}
	for i := range modes {
		if mask&(1<<i) != 0 {
			modes[i] = fn(modes[i])
		}
	}
	return d.SetModes(modes)
}

type Handler struct {
	*handler.Facade[*device]
	bridge *irq.Bridge
	// Guarded by the façade lock.
	onInterrupt   InterruptFunc
	interruptMask uint16
}

var (
	_ handler.Instance    = (*Handler)(nil)
	_ handler.Interrupter = (*Handler)(nil)
)

// New builds the handler. The adapter address must be one the chip can
// strap, 0x20 to 0x27.
func New(a *comm.I2CAdapter, opts handler.Options) (*Handler, error) {
	if a.Addr()&^0x07 != 0x20 {
		return nil, errcode.New(errcode.InvalidParameter, "new expander", "address must be between 0x20 and 0x27")
	}
	if opts.Name == "" {
		opts.Name = "mcp23017"
	}
	h := &Handler{bridge: irq.New(opts.Name, opts.Metrics, opts.Logger)}
	f, err := handler.New(handler.Backend[*device]{
		Mode:    comm.ModeI2C,
		Adapter: a,
		New: func() (*device, error) {
			return &device{a: a, bridge: h.bridge, h: h}, nil
		},
	}, opts)
	if err != nil {
		return nil, err
	}
	h.Facade = f
	return h, nil
}

// Driver returns the live vendor driver, without synchronization. See
// handler.Facade.Driver.
func (h *Handler) Driver() (*mcp23017.Device, bool) {
	d, ok := h.Facade.Driver()
	if !ok {
		return nil, false
	}
	return d.Device, true
}

func checkPin(op string, pin int) error {
	if pin < 0 || pin >= PinCount {
		return errcode.New(errcode.InvalidParameter, op, "pin must be between 0 and 15")
	}
	return nil
}

func (h *Handler) SetDirection(pin int, dir Direction) error {
	if err := checkPin("set direction", pin); err != nil {
		return err
	}
	return h.SetDirections(1<<pin, dir)
}

// SetDirections sets the direction of every pin in mask. Pull-ups are kept.
func (h *Handler) SetDirections(mask uint16, dir Direction) error {
	return h.Do("set directions", func(d *device) error {
		return d.updateModes(mask, func(m mcp23017.PinMode) mcp23017.PinMode {
			m &^= mcp23017.Direction
			if dir == Output {
				m |= mcp23017.Output
			}
			return m
		})
	})
}

// SetPull turns the 100 kΩ pull-up of pin on or off.
func (h *Handler) SetPull(pin int, on bool) error {
	if err := checkPin("set pull", pin); err != nil {
		return err
	}
	return h.Do("set pull", func(d *device) error {
		return d.updateModes(1<<pin, func(m mcp23017.PinMode) mcp23017.PinMode {
			if on {
				return m | mcp23017.Pullup
			}
			return m &^ mcp23017.Pullup
		})
	})
}

func (h *Handler) SetOutput(pin int, v bool) error {
	if err := checkPin("set output", pin); err != nil {
		return err
	}
	return h.Do("set output", func(d *device) error { return d.Pin(pin).Set(v) })
}

// SetOutputs drives every pin in mask to its bit in values.
func (h *Handler) SetOutputs(mask, values uint16) error {
	return h.Do("set outputs", func(d *device) error {
		return d.SetPins(mcp23017.Pins(values), mcp23017.Pins(mask))
	})
}

func (h *Handler) Toggle(pin int) error {
	if err := checkPin("toggle", pin); err != nil {
		return err
	}
	return h.Do("toggle", func(d *device) error { return d.Pin(pin).Toggle() })
}

func (h *Handler) ReadInput(pin int) (bool, error) {
	if err := checkPin("read input", pin); err != nil {
		return false, err
	}
	return handler.Call(h.Facade, "read input", func(d *device) (bool, error) { return d.Pin(pin).Get() })
}

// ReadInputs returns the level of all 16 pins.
func (h *Handler) ReadInputs() (uint16, error) {
	return handler.Call(h.Facade, "read inputs", func(d *device) (uint16, error) {
		p, err := d.GetPins()
		return uint16(p), err
	})
}

func (h *Handler) SupportsInterrupts() bool {
	return h.Adapter().HasPin(comm.PinInterrupt)
}

// RegisterInterruptCallback enables interrupt-on-change for the pins in mask
// and sets the callback the drain hands them to. The registration survives
// Deinitialize and is re-armed by the next init. cb runs under the handler
// lock and must not call back into the handler.
func (h *Handler) RegisterInterruptCallback(mask uint16, cb InterruptFunc) error {
	if !h.SupportsInterrupts() {
		return errcode.New(errcode.Unsupported, "register interrupt callback", "no interrupt pin wired")
	}
	return h.Do("register interrupt callback", func(d *device) error {
		if err := d.arm(mask); err != nil {
			return err
		}
		h.onInterrupt = cb
		h.interruptMask = mask
		return nil
	})
}

// HandleInterrupt flags pending interrupt work. It is safe in interrupt context.
func (h *Handler) HandleInterrupt() { h.bridge.Signal() }

// DrainPendingInterrupts reads INTF and INTCAP if an interrupt is pending and
// passes them to the callback. Reading INTCAP re-arms the chip.
func (h *Handler) DrainPendingInterrupts() (bool, error) {
	return h.bridge.Drain(h.drain)
}

func (h *Handler) drain() error {
	return h.Do("drain interrupts", func(d *device) error {
		flagged, err := d.read16(regINTF)
		if err != nil {
			return err
		}
		captured, err := d.read16(regINTCAP)
		if err != nil {
			return err
		}
		if flagged != 0 && h.onInterrupt != nil {
			h.onInterrupt(flagged, captured)
		}
		return nil
	})
}

// RunInterrupts drains on every interrupt until ctx is done.
func (h *Handler) RunInterrupts(ctx context.Context) error {
	if !h.SupportsInterrupts() {
		return errcode.New(errcode.Unsupported, "run interrupts", "no interrupt pin wired")
	}
	return h.bridge.Run(ctx, 0, h.drain)
}
