// Package hwtest provides in-memory transports and pins for tests.
package hwtest

import (
	"errors"
	"sync"

	"github.com/michcald/devhandler"
)

// ErrInjected is returned by fakes when a failure has been armed.
var ErrInjected = errors.New("hwtest: injected failure")

// Pin is a fake GPIO pin. Its line level can be driven from the outside with
// Drive, which fires the watch handler on a matching edge, as an ISR would.
type Pin struct {
	mu       sync.Mutex
	name     string
	level    devhandler.Level
	input    bool
	notReady bool
	failOut  error
	failIn   error
	failRead error
	edge     devhandler.Edge
	handler  func()
	writes   []devhandler.Level
	reads    int
}

func NewPin(name string) *Pin {
	return &Pin{name: name}
}

func (p *Pin) String() string { return p.name }

func (p *Pin) Out(l devhandler.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOut != nil {
		return p.failOut
	}
	p.input = false
	p.level = l
	p.writes = append(p.writes, l)
	return nil
}

func (p *Pin) In(pull devhandler.Pull) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failIn != nil {
		return p.failIn
	}
	p.input = true
	switch pull {
	case devhandler.PullUp:
		p.level = devhandler.High
	case devhandler.PullDown:
		p.level = devhandler.Low
	}
	return nil
}

func (p *Pin) Read() (devhandler.Level, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	if p.failRead != nil {
		return devhandler.Low, p.failRead
	}
	return p.level, nil
}

func (p *Pin) Watch(edge devhandler.Edge, handler func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if edge == devhandler.NoEdge {
		return errors.New("hwtest: no edge")
	}
	p.edge = edge
	p.handler = handler
	return nil
}

func (p *Pin) Unwatch() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edge = devhandler.NoEdge
	p.handler = nil
	return nil
}

func (p *Pin) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.notReady
}

// SetReady changes what Ready reports.
func (p *Pin) SetReady(ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notReady = !ready
}

// FailOut makes every Out call return err (nil clears it).
func (p *Pin) FailOut(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOut = err
}

// FailIn makes every In call return err (nil clears it).
func (p *Pin) FailIn(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failIn = err
}

// FailRead makes every Read call return err (nil clears it).
func (p *Pin) FailRead(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failRead = err
}

// Drive sets the line level from the outside. If a watch is armed for the
// resulting edge, its handler runs synchronously on the caller's goroutine.
func (p *Pin) Drive(l devhandler.Level) {
	p.mu.Lock()
	prev := p.level
	p.level = l
	h := p.handler
	fire := false
	if h != nil && prev != l {
		switch p.edge {
		case devhandler.RisingEdge:
			fire = l == devhandler.High
		case devhandler.FallingEdge:
			fire = l == devhandler.Low
		case devhandler.BothEdges:
			fire = true
		}
	}
	p.mu.Unlock()
	if fire {
		h()
	}
}

// Level returns the current line level.
func (p *Pin) Level() devhandler.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// IsInput reports whether the pin was last configured as an input.
func (p *Pin) IsInput() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input
}

// Watching reports the armed edge, NoEdge if none.
func (p *Pin) Watching() devhandler.Edge {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.edge
}

// Writes returns every level written with Out.
func (p *Pin) Writes() []devhandler.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]devhandler.Level(nil), p.writes...)
}

// Reads returns the number of Read calls.
func (p *Pin) Reads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}
