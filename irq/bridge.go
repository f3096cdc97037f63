// Package irq moves interrupt work from interrupt context to task context.
//
// The interrupt side only sets an atomic flag and pokes a one-slot channel. The
// task side tests-and-clears the flag and, if it was set, does the real bus work.
// Several interrupts before one drain collapse into a single drain pass.
package irq

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/logging"
	"github.com/michcald/devhandler/metrics"
)

type Bridge struct {
	name    string
	pending atomic.Bool
	signals atomic.Uint32
	notify  chan struct{}
	rec     metrics.Recorder
	log     logging.Logger
}

// New returns a bridge named after the handler it serves. rec and log may be nil.
func New(name string, rec metrics.Recorder, log logging.Logger) *Bridge {
	return &Bridge{
		name:   name,
		notify: make(chan struct{}, 1),
		rec:    metrics.OrNop(rec),
		log:    logging.OrNop(log),
	}
}

// Signal marks an interrupt as pending. It is safe to call from interrupt
// context: it does not block, lock or allocate.
func (b *Bridge) Signal() {
	b.pending.Store(true)
	b.signals.Add(1)
	select {
	case b.notify <- struct{}{}:
	default:
		// A wakeup is already queued.
	}
}

// Pending reports whether an interrupt has been signalled since the last drain.
func (b *Bridge) Pending() bool {
	return b.pending.Load()
}

// C is poked after every Signal. A receive does not clear the pending flag.
func (b *Bridge) C() <-chan struct{} {
	return b.notify
}

// Drain atomically clears the pending flag and, if it was set, runs fn.
// It reports whether fn ran. Must not be called from interrupt context.
func (b *Bridge) Drain(fn func() error) (bool, error) {
	if n := b.signals.Swap(0); n > 0 {
		b.rec.InterruptsSignaled(b.name, n)
	}
	if !b.pending.Swap(false) {
		return false, nil
	}
	err := fn()
	b.rec.InterruptDrained(b.name, err)
	if err != nil {
		b.log.Warn("interrupt drain failed", "handler", b.name, "err", err)
	}
	return true, err
}

// Source is the adapter side of an interrupt line.
type Source interface {
	HasPin(pin comm.PinID) bool
	Watch(pin comm.PinID, fn func()) error
	Unwatch(pin comm.PinID) error
}

// Attach arms pin on src to call Signal when it becomes asserted. It reports
// false, without error, when pin is not wired.
func (b *Bridge) Attach(src Source, pin comm.PinID) (bool, error) {
	if !src.HasPin(pin) {
		return false, nil
	}
	if err := src.Watch(pin, b.Signal); err != nil {
		return false, err
	}
	b.log.Debug("interrupt attached", "handler", b.name, "pin", pin.String())
	return true, nil
}

// Detach disarms pin. Unwired pins are ignored.
func (b *Bridge) Detach(src Source, pin comm.PinID) error {
	if !src.HasPin(pin) {
		return nil
	}
	return src.Unwatch(pin)
}

// Run drains on every notification, and every poll interval if poll > 0, until
// ctx is done. Drain errors are logged and do not stop the loop.
func (b *Bridge) Run(ctx context.Context, poll time.Duration, fn func() error) error {
	var tick <-chan time.Time
	if poll > 0 {
		t := time.NewTicker(poll)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.notify:
		case <-tick:
		}
		_, _ = b.Drain(fn)
	}
}
