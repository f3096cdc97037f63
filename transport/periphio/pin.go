//go:build !tinygo

package periphio

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/michcald/devhandler"
)

// watchPoll bounds how long Unwatch waits for the edge goroutine to notice.
const watchPoll = 50 * time.Millisecond

// Pin wraps a gpio.PinIO to satisfy devhandler.Pin.
type Pin struct {
	io gpio.PinIO

	mu   sync.Mutex
	pull gpio.Pull
	stop chan struct{}
	done chan struct{}
}

var _ devhandler.Pin = (*Pin)(nil)

// PinByName looks a pin up in the periph.io registry (e.g. "GPIO25").
func PinByName(name string) (*Pin, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("failed to open pin %s", name)
	}
	return NewPin(p), nil
}

// PinByNumber looks a pin up by its BCM number.
func PinByNumber(n int) (*Pin, error) {
	return PinByName(fmt.Sprintf("GPIO%d", n))
}

func NewPin(p gpio.PinIO) *Pin {
	return &Pin{io: p, pull: gpio.PullNoChange}
}

func (p *Pin) Out(l devhandler.Level) error {
	if l == devhandler.High {
		return p.io.Out(gpio.High)
	}
	return p.io.Out(gpio.Low)
}

func (p *Pin) In(pull devhandler.Pull) error {
	pp := toPull(pull)
	p.mu.Lock()
	p.pull = pp
	p.mu.Unlock()
	return p.io.In(pp, gpio.NoEdge)
}

func (p *Pin) Read() (devhandler.Level, error) {
	if p.io.Read() == gpio.High {
		return devhandler.High, nil
	}
	return devhandler.Low, nil
}

// Watch enables edge detection and calls handler from a goroutine on every
// matching edge. A previous watch is stopped first.
func (p *Pin) Watch(edge devhandler.Edge, handler func()) error {
	if edge == devhandler.NoEdge {
		return fmt.Errorf("watch %s: no edge", p.io.Name())
	}
	if err := p.Unwatch(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.io.In(p.pull, toEdge(edge)); err != nil {
		return err
	}
	stop, done := make(chan struct{}), make(chan struct{})
	p.stop, p.done = stop, done

	go func() {
		defer close(done)
		for {
			edged := p.io.WaitForEdge(watchPoll)
			select {
			case <-stop:
				return
			default:
			}
			if edged {
				handler()
			}
		}
	}()
	return nil
}

// Unwatch stops the edge goroutine, waits for it to exit and disables edge detection.
func (p *Pin) Unwatch() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop == nil {
		return nil
	}
	close(p.stop)
	<-p.done
	p.stop, p.done = nil, nil
	return p.io.In(p.pull, gpio.NoEdge)
}

func (p *Pin) Ready() bool { return p.io != nil }

func (p *Pin) String() string { return p.io.Name() }

func toPull(pull devhandler.Pull) gpio.Pull {
	switch pull {
	case devhandler.PullFloat:
		return gpio.Float
	case devhandler.PullDown:
		return gpio.PullDown
	case devhandler.PullUp:
		return gpio.PullUp
	default:
		return gpio.PullNoChange
	}
}

func toEdge(edge devhandler.Edge) gpio.Edge {
	switch edge {
	case devhandler.RisingEdge:
		return gpio.RisingEdge
	case devhandler.FallingEdge:
		return gpio.FallingEdge
	case devhandler.BothEdges:
		return gpio.BothEdges
	default:
		return gpio.NoEdge
	}
}
