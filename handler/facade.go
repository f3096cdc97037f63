// Package handler implements the device-handler façade: lazy initialization,
// one lock per handler, and dispatch to the single driver built for the
// backend chosen at construction.
package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/lock"
	"github.com/michcald/devhandler/logging"
	"github.com/michcald/devhandler/metrics"
)

// Backend is the one transport a façade is built for: its mode tag, the adapter
// and the constructor of the driver bound to that adapter. New is only called
// while the façade is initializing.
type Backend[D Driver] struct {
	Mode    comm.Mode
	Adapter comm.Adapter
	New     func() (D, error)
}

// Options configures a façade. Zero values get defaults.
type Options struct {
	// Name labels logs, metrics and diagnostics. Default: the mode name.
	Name    string
	Logger  logging.Logger
	Metrics metrics.Recorder
}

// Stats counts lifecycle events over the façade's lifetime.
type Stats struct {
	InitAttempts     int
	Constructions    int
	ReadyTransitions int
}

// Facade owns one adapter and at most one driver. Every public method holds the
// façade lock for its whole body. Callbacks passed to Do, Visit and Call run
// under that lock and must not call back into the same façade.
type Facade[D Driver] struct {
	id        string
	name      string
	mode      comm.Mode
	adapter   comm.Adapter
	newDriver func() (D, error)
	log       logging.Logger
	rec       metrics.Recorder

	mu        *lock.Mutex
	state     State
	driver    D
	hasDriver bool
	lastErr   error
	stats     Stats
}

// New builds a façade for backend b. Nothing touches hardware until the first
// Initialize or lazy-init call.
func New[D Driver](b Backend[D], opts Options) (*Facade[D], error) {
	if b.Adapter == nil || b.New == nil {
		return nil, errcode.New(errcode.InvalidParameter, "new handler", "backend needs an adapter and a driver constructor")
	}
	if b.Mode != b.Adapter.Mode() {
		return nil, errcode.New(errcode.InvalidParameter, "new handler",
			fmt.Sprintf("backend mode %s does not match %s adapter", b.Mode, b.Adapter.Mode()))
	}
	if opts.Name == "" {
		opts.Name = b.Mode.String()
	}
	f := &Facade[D]{
		id:        uuid.NewString(),
		name:      opts.Name,
		mode:      b.Mode,
		adapter:   b.Adapter,
		newDriver: b.New,
		rec:       metrics.OrNop(opts.Metrics),
		mu:        lock.New(),
	}
	f.log = logging.With(logging.OrNop(opts.Logger), "handler", f.name, "id", f.id)
	f.rec.State(f.name, int(Uninitialized))
	return f, nil
}

func (f *Facade[D]) ID() string                { return f.id }
func (f *Facade[D]) Name() string              { return f.name }
func (f *Facade[D]) Mode() comm.Mode           { return f.mode }
func (f *Facade[D]) Adapter() comm.Adapter     { return f.adapter }
func (f *Facade[D]) Logger() logging.Logger    { return f.log }
func (f *Facade[D]) Metrics() metrics.Recorder { return f.rec }

// Initialize runs the init sequence. It is a no-op while Ready, retries from
// Failed and reopens from Deinitialized.
func (f *Facade[D]) Initialize() error {
	defer f.mu.Guard()()
	return f.initLocked()
}

// EnsureInitialized is the lazy-init entrypoint: it initializes from
// Uninitialized or Failed and is a no-op while Ready. After Deinitialize it
// returns NotInitialized; only Initialize reopens a closed handler.
func (f *Facade[D]) EnsureInitialized() error {
	defer f.mu.Guard()()
	return f.ensureLocked()
}

// Deinitialize lets the driver reach its safe state, drops it and moves to
// Deinitialized. The driver is dropped even if its Deinitialize fails.
func (f *Facade[D]) Deinitialize() error {
	defer f.mu.Guard()()
	if !f.hasDriver {
		return nil
	}
	err := f.dropDriver()
	f.setState(Deinitialized)
	if err != nil {
		f.log.Warn("driver deinitialize failed", "err", err)
		return fmt.Errorf("deinitialize %s: %w", f.name, err)
	}
	f.log.Info("handler deinitialized")
	return nil
}

func (f *Facade[D]) IsInitialized() bool {
	defer f.mu.Guard()()
	return f.state == Ready
}

func (f *Facade[D]) State() State {
	defer f.mu.Guard()()
	return f.state
}

// LastError returns the error that ended the last failed init, or nil.
func (f *Facade[D]) LastError() error {
	defer f.mu.Guard()()
	return f.lastErr
}

func (f *Facade[D]) Stats() Stats {
	defer f.mu.Guard()()
	return f.stats
}

// Driver returns the live driver without synchronization. The façade keeps
// ownership: the caller must not deinitialize it, must serialize its own use,
// and must stop using it once the façade is deinitialized. ok is false when no
// driver exists.
func (f *Facade[D]) Driver() (d D, ok bool) {
	defer f.mu.Guard()()
	return f.driver, f.hasDriver
}

// Do runs fn with the driver under the lock, initializing first if needed.
func (f *Facade[D]) Do(op string, fn func(D) error) error {
	defer f.mu.Guard()()
	return f.doLocked(op, fn)
}

// DoContext is Do bounded by ctx while waiting for the lock. If ctx ends first
// it returns Timeout without touching the hardware.
func (f *Facade[D]) DoContext(ctx context.Context, op string, fn func(D) error) error {
	release, err := f.mu.GuardContext(ctx)
	if err != nil {
		err = errcode.Wrap(errcode.Timeout, op, err)
		f.rec.Operation(f.name, op, err)
		return err
	}
	defer release()
	return f.doLocked(op, fn)
}

func (f *Facade[D]) doLocked(op string, fn func(D) error) error {
	if err := f.ensureLocked(); err != nil {
		f.rec.Operation(f.name, op, err)
		return err
	}
	err := fn(f.driver)
	f.rec.Operation(f.name, op, err)
	return err
}

func (f *Facade[D]) ensureLocked() error {
	switch f.state {
	case Ready:
		return nil
	case Uninitialized, Failed:
		return f.initLocked()
	default:
		return errcode.New(errcode.NotInitialized, f.name, "handler is "+f.state.String())
	}
}

func (f *Facade[D]) initLocked() error {
	if f.state == Ready {
		return nil
	}
	f.setState(Initializing)
	f.stats.InitAttempts++
	f.rec.InitAttempt(f.name)
	f.log.Debug("initializing", "attempt", f.stats.InitAttempts, "mode", f.mode.String())

	if err := f.adapter.Init(); err != nil {
		return f.fail("adapter init", err)
	}
	d, err := f.newDriver()
	if err != nil {
		return f.fail("construct driver", err)
	}
	f.stats.Constructions++
	f.driver, f.hasDriver = d, true
	if err := d.Initialize(); err != nil {
		if derr := f.dropDriver(); derr != nil {
			f.log.Debug("partial driver deinitialize failed", "err", derr)
		}
		return f.fail("driver init", err)
	}

	f.lastErr = nil
	f.stats.ReadyTransitions++
	f.setState(Ready)
	f.rec.InitResult(f.name, nil)
	f.log.Info("handler ready", "mode", f.mode.String())
	return nil
}

// fail records a failed init. Errors without a code are reported as HardwareError.
func (f *Facade[D]) fail(step string, err error) error {
	if errcode.Of(err) == errcode.Error {
		err = errcode.Wrap(errcode.HardwareError, step, err)
	} else {
		err = fmt.Errorf("%s: %w", step, err)
	}
	f.lastErr = err
	f.setState(Failed)
	f.rec.InitResult(f.name, err)
	f.log.Warn("handler init failed", "err", err)
	return err
}

// dropDriver gives the driver its Deinitialize call and forgets it.
func (f *Facade[D]) dropDriver() error {
	var err error
	if d, ok := any(f.driver).(Deinitializer); ok && f.hasDriver {
		err = d.Deinitialize()
	}
	var zero D
	f.driver, f.hasDriver = zero, false
	return err
}

func (f *Facade[D]) setState(s State) {
	f.state = s
	f.rec.State(f.name, int(s))
}

// Diagnostics returns a human-readable summary of the façade and its adapter.
func (f *Facade[D]) Diagnostics() string {
	defer f.mu.Guard()()
	var b strings.Builder
	fmt.Fprintf(&b, "handler %s (%s)\n", f.name, f.id)
	fmt.Fprintf(&b, "  mode:          %s\n", f.mode)
	fmt.Fprintf(&b, "  state:         %s\n", f.state)
	fmt.Fprintf(&b, "  init attempts: %d (constructions %d, ready %d)\n",
		f.stats.InitAttempts, f.stats.Constructions, f.stats.ReadyTransitions)
	if f.lastErr != nil {
		fmt.Fprintf(&b, "  last error:    %v\n", f.lastErr)
	} else {
		b.WriteString("  last error:    none\n")
	}
	fmt.Fprintf(&b, "  adapter:       %s\n", f.adapter.Describe())
	return b.String()
}

func (f *Facade[D]) String() string {
	return f.Diagnostics()
}
