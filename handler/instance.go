package handler

import (
	"context"

	"github.com/michcald/devhandler/comm"
)

// Instance is the device-independent view of a handler, as used by tools
// that manage a board full of them.
type Instance interface {
	ID() string
	Name() string
	Mode() comm.Mode
	Initialize() error
	Deinitialize() error
	IsInitialized() bool
	State() State
	LastError() error
	Diagnostics() string
}

// Interrupter is implemented by handlers that drain a device interrupt line.
type Interrupter interface {
	SupportsInterrupts() bool
	// HandleInterrupt is the interrupt-context entry. It only flags the work.
	HandleInterrupt()
	// RunInterrupts drains pending interrupts until ctx is done.
	RunInterrupts(ctx context.Context) error
}

var _ Instance = (*Facade[Driver])(nil)
