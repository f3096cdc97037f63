// Package stepper is the handler for a TMC5160 stepper controller reached over
// either SPI or single-wire UART. The link is picked at construction and the
// other driver is never built.
//
// DRV_ENN is the adapter's Enable pin (active low). DIAG0, if wired, is the
// Fault pin (active low).
package stepper

import (
	"fmt"
	"strings"

	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/drivers/tmc5160"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/handler"
)

type Config = tmc5160.Config

type Handler struct {
	*handler.Facade[tmc5160.Driver]
}

var _ handler.Instance = (*Handler)(nil)

// NewSPI builds a handler that reaches the chip over SPI.
func NewSPI(a *comm.SPIAdapter, c Config, opts handler.Options) (*Handler, error) {
	if _, err := tmc5160.NewSPI(a, c, nil); err != nil {
		return nil, err
	}
	return build(a, opts, func(h *Handler) (tmc5160.Driver, error) {
		return tmc5160.NewSPI(a, c, h.Logger())
	})
}

// NewUART builds a handler that reaches the chip over UART at c.NodeAddress.
func NewUART(a *comm.UARTAdapter, c Config, opts handler.Options) (*Handler, error) {
	if _, err := tmc5160.NewUART(a, c, nil); err != nil {
		return nil, err
	}
	return build(a, opts, func(h *Handler) (tmc5160.Driver, error) {
		return tmc5160.NewUART(a, c, h.Logger())
	})
}

func build(a comm.Adapter, opts handler.Options, mk func(*Handler) (tmc5160.Driver, error)) (*Handler, error) {
	if opts.Name == "" {
		opts.Name = "tmc5160"
	}
	h := &Handler{}
	f, err := handler.New(handler.Backend[tmc5160.Driver]{
		Mode:    a.Mode(),
		Adapter: a,
		New:     func() (tmc5160.Driver, error) { return mk(h) },
	}, opts)
	if err != nil {
		return nil, err
	}
	h.Facade = f
	return h, nil
}

// DriverViaSPI returns the SPI driver, or nil if the handler is not ready or
// was built for UART. There is no synchronization; see handler.Facade.Driver.
func (h *Handler) DriverViaSPI() *tmc5160.SPIDevice {
	d, ok := h.Driver()
	if !ok {
		return nil
	}
	spi, _ := d.(*tmc5160.SPIDevice)
	return spi
}

// DriverViaUART is DriverViaSPI for the UART link.
func (h *Handler) DriverViaUART() *tmc5160.UARTDevice {
	d, ok := h.Driver()
	if !ok {
		return nil
	}
	uart, _ := d.(*tmc5160.UARTDevice)
	return uart
}

// EnableMotor energizes or releases the motor.
func (h *Handler) EnableMotor(on bool) error {
	return h.Do("enable motor", func(d tmc5160.Driver) error { return d.Enable(on) })
}

// MotorEnabled reports false when the handler cannot be made ready.
func (h *Handler) MotorEnabled() bool {
	return handler.Visit(h.Facade, tmc5160.Driver.IsEnabled, false)
}

func (h *Handler) SetCurrent(run, hold uint8) error {
	return h.Do("set current", func(d tmc5160.Driver) error { return d.SetCurrent(run, hold) })
}

func (h *Handler) SetTargetPosition(pos int32) error {
	return h.Do("set target position", func(d tmc5160.Driver) error { return d.SetTargetPosition(pos) })
}

func (h *Handler) SetVelocity(v int32) error {
	return h.Do("set velocity", func(d tmc5160.Driver) error { return d.SetVelocity(v) })
}

func (h *Handler) SetMaxSpeed(v uint32) error {
	return h.Do("set max speed", func(d tmc5160.Driver) error { return d.SetMaxSpeed(v) })
}

// SetSpeed sets VMAX from a speed in full steps per second.
func (h *Handler) SetSpeed(stepsPerSecond float32) error {
	return h.Do("set speed", func(d tmc5160.Driver) error { return d.SetSpeed(stepsPerSecond) })
}

func (h *Handler) SetAcceleration(a uint32) error {
	return h.Do("set acceleration", func(d tmc5160.Driver) error { return d.SetAcceleration(a) })
}

func (h *Handler) Stop() error {
	return h.Do("stop", tmc5160.Driver.Stop)
}

func (h *Handler) CurrentPosition() (int32, error) {
	return handler.Call(h.Facade, "current position", tmc5160.Driver.CurrentPosition)
}

func (h *Handler) CurrentVelocity() (int32, error) {
	return handler.Call(h.Facade, "current velocity", tmc5160.Driver.CurrentVelocity)
}

func (h *Handler) IsTargetReached() (bool, error) {
	return handler.Call(h.Facade, "target reached", tmc5160.Driver.IsTargetReached)
}

// IsStandstill reports DRV_STATUS.stst.
func (h *Handler) IsStandstill() (bool, error) {
	return handler.Call(h.Facade, "standstill", func(d tmc5160.Driver) (bool, error) {
		st, err := d.DriverStatus()
		return st.Stst, err
	})
}

// Fault reports whether DIAG0 is asserted. It fails with Unsupported when the
// pin is not wired.
func (h *Handler) Fault() (bool, error) {
	if !h.Adapter().HasPin(comm.PinFault) {
		return false, errcode.New(errcode.Unsupported, "fault", "no fault pin wired")
	}
	return handler.Call(h.Facade, "fault", func(tmc5160.Driver) (bool, error) {
		s, err := h.Adapter().GpioRead(comm.PinFault)
		return s == comm.Active, err
	})
}

// DumpDiagnostics is Diagnostics followed by the driver flags and a register
// dump. It initializes the handler if needed.
func (h *Handler) DumpDiagnostics() (string, error) {
	var b strings.Builder
	b.WriteString(h.Diagnostics())
	err := h.Do("dump diagnostics", func(d tmc5160.Driver) error {
		st, err := d.DriverStatus()
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "  motor enabled: %t\n", d.IsEnabled())
		fmt.Fprintf(&b, "  drv_status:    stst=%t ot=%t otpw=%t ola=%t olb=%t stallguard=%t sg_result=%d\n",
			st.Stst, st.Ot, st.Otpw, st.Ola, st.Olb, st.StallGuard, st.SgResult)
		regs, err := d.Dump()
		if err != nil {
			return err
		}
		b.WriteString("  registers:\n")
		for _, r := range regs {
			fmt.Fprintf(&b, "    %-10s (0x%02X) 0x%08X\n", r.Name, r.Addr, r.Value)
		}
		return nil
	})
	return b.String(), err
}
