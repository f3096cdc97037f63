// Package comm implements the communication adapters that sit between a bus
// transport plus its control pins and a device driver.
//
// Adapters are not safe for concurrent use. The owning handler façade serializes
// every call under its lock.
package comm

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/michcald/devhandler"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/logging"
)

// Adapter is the narrow contract a driver needs from its transport.
type Adapter interface {
	// Init readies the transport and configures every wired control pin.
	Init() error
	// IsReady is true only if Init succeeded and every dependency is ready now.
	IsReady() bool
	// Transfer performs exactly one blocking exchange. On failure rx is untouched.
	Transfer(tx, rx []byte) error
	// GpioSet drives pin to the logical signal s through its active level.
	GpioSet(pin PinID, s Signal) error
	// GpioRead returns the logical signal on pin.
	GpioRead(pin PinID) (Signal, error)
	// HasPin reports whether pin is wired.
	HasPin(pin PinID) bool
	// Watch calls fn when pin becomes asserted. fn may run in interrupt context.
	Watch(pin PinID, fn func()) error
	Unwatch(pin PinID) error
	// Delay blocks for at least us microseconds.
	Delay(us uint32)
	Mode() Mode
	// Describe returns a one-line readiness summary for diagnostics.
	Describe() string
}

// SchedulingQuantum is the shortest delay that yields to the scheduler instead
// of spinning.
const SchedulingQuantum = time.Millisecond

// Delay blocks for at least us microseconds. Delays at or above the scheduling
// quantum sleep; shorter ones spin.
func Delay(us uint32) {
	d := time.Duration(us) * time.Microsecond
	if d >= SchedulingQuantum {
		time.Sleep(d)
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		runtime.Gosched()
	}
}

// base carries what every adapter shares: control pins, init state and the
// transport whose readiness is re-derived on every IsReady call.
type base struct {
	pinSet
	mode      Mode
	transport any
	inited    atomic.Bool
	log       logging.Logger
	scratch   []byte
}

func newBase(mode Mode, transport any, pins ControlPins, log logging.Logger) base {
	if pins == nil {
		pins = ControlPins{}
	}
	return base{
		pinSet:    pinSet{cfg: pins},
		mode:      mode,
		transport: transport,
		log:       logging.OrNop(log),
	}
}

func (b *base) init() error {
	b.inited.Store(false)
	if !devhandler.IsReady(b.transport) {
		return errcode.New(errcode.HardwareNotReady, "init "+b.mode.String(), "transport not ready")
	}
	for id, c := range b.cfg {
		if c.Required && c.Pin != nil && !devhandler.IsReady(c.Pin) {
			return errcode.New(errcode.HardwareNotReady, "init "+b.mode.String(), id.String()+" pin not ready")
		}
	}
	if err := b.configure(); err != nil {
		return err
	}
	b.inited.Store(true)
	b.log.Debug("adapter ready", "mode", b.mode.String(), "pins", len(b.cfg))
	return nil
}

func (b *base) IsReady() bool {
	return b.inited.Load() && devhandler.IsReady(b.transport) && b.ready()
}

func (b *base) checkInit(op string) error {
	if !b.inited.Load() {
		return errcode.New(errcode.NotInitialized, op, "adapter not initialized")
	}
	return nil
}

// buf returns a scratch slice of length n, reused across calls.
func (b *base) buf(n int) []byte {
	if cap(b.scratch) < n {
		b.scratch = make([]byte, n)
	}
	return b.scratch[:n]
}

func (b *base) Mode() Mode { return b.mode }

func (b *base) GpioSet(pin PinID, s Signal) error { return b.set(pin, s) }

func (b *base) GpioRead(pin PinID) (Signal, error) { return b.read(pin) }

func (b *base) HasPin(pin PinID) bool { return b.has(pin) }

func (b *base) Watch(pin PinID, fn func()) error { return b.watch(pin, fn) }

func (b *base) Unwatch(pin PinID) error { return b.unwatch(pin) }

func (b *base) Delay(us uint32) { Delay(us) }

func (b *base) Describe() string {
	s := b.mode.String()
	if b.IsReady() {
		s += " ready"
	} else {
		s += " not-ready"
	}
	if p := b.describe(); p != "" {
		s += " pins: " + p
	}
	return s
}
