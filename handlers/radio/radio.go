// Package radio is the handler for an nRF24L01+ transceiver on SPI.
//
// CE is the adapter's Enable pin (active high). The optional IRQ line is the
// Interrupt pin, normally active low. Received packets can be polled with
// Receive, awaited with ReceiveContext, or pushed to a callback by the
// interrupt drain loop.
package radio

import (
	"context"
	"time"

	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/drivers/nrf24"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/handler"
	"github.com/michcald/devhandler/irq"
)

// DefaultPoll is how often ReceiveContext and RunInterrupts look at the FIFO
// when no interrupt arrives.
const DefaultPoll = 10 * time.Millisecond

type Config struct {
	nrf24.Config
	// Poll is the fallback polling interval. Default: DefaultPoll.
	Poll time.Duration
}

// device is the driver the façade owns: the radio plus its IRQ wiring, so the
// line is watched exactly while a driver exists.
type device struct {
	*nrf24.Device
	src    irq.Source
	bridge *irq.Bridge
}

func (d *device) Initialize() error {
	if err := d.Device.Initialize(); err != nil {
		return err
	}
	_, err := d.bridge.Attach(d.src, comm.PinInterrupt)
	return err
}

func (d *device) Deinitialize() error {
	derr := d.bridge.Detach(d.src, comm.PinInterrupt)
	if err := d.Device.Deinitialize(); err != nil {
		return err
	}
	return derr
}

type Handler struct {
	*handler.Facade[*device]
	bridge *irq.Bridge
	poll   time.Duration
	// onReceive is only touched under the façade lock.
	onReceive func(payload []byte)
}

var (
	_ handler.Instance    = (*Handler)(nil)
	_ handler.Interrupter = (*Handler)(nil)
)

// New validates c and builds the handler. The radio is not touched until the
// first operation or Initialize.
func New(a *comm.SPIAdapter, c Config, opts handler.Options) (*Handler, error) {
	if _, err := nrf24.New(a, c.Config, nil); err != nil {
		return nil, err
	}
	if c.Poll <= 0 {
		c.Poll = DefaultPoll
	}
	if opts.Name == "" {
		opts.Name = "nrf24"
	}
	h := &Handler{poll: c.Poll}
	h.bridge = irq.New(opts.Name, opts.Metrics, opts.Logger)
	f, err := handler.New(handler.Backend[*device]{
		Mode:    comm.ModeSPI,
		Adapter: a,
		New: func() (*device, error) {
			d, err := nrf24.New(a, c.Config, h.Logger())
			if err != nil {
				return nil, err
			}
			return &device{Device: d, src: a, bridge: h.bridge}, nil
		},
	}, opts)
	if err != nil {
		return nil, err
	}
	h.Facade = f
	return h, nil
}

// Driver returns the live radio driver, without synchronization. See
// handler.Facade.Driver.
func (h *Handler) Driver() (*nrf24.Device, bool) {
	d, ok := h.Facade.Driver()
	if !ok {
		return nil, false
	}
	return d.Device, true
}

func (h *Handler) Transmit(dest nrf24.Address, p []byte) error {
	return h.Do("transmit", func(d *device) error { return d.Transmit(dest, p) })
}

func (h *Handler) TransmitNoAck(dest nrf24.Address, p []byte) error {
	return h.Do("transmit no ack", func(d *device) error { return d.TransmitNoAck(dest, p) })
}

// Receive returns one packet if the RX FIFO holds one. It does not block.
func (h *Handler) Receive() ([]byte, bool, error) {
	var (
		p  []byte
		ok bool
	)
	err := h.Do("receive", func(d *device) error {
		var err error
		p, ok, err = d.Receive()
		return err
	})
	return p, ok, err
}

// ReceiveContext blocks until a packet arrives or ctx is done. It wakes on the
// IRQ line when one is wired and polls otherwise. Do not combine it with
// RunInterrupts on the same handler: both consume the same wakeups.
func (h *Handler) ReceiveContext(ctx context.Context) ([]byte, error) {
	tick := time.NewTicker(h.poll)
	defer tick.Stop()
	for {
		var (
			p  []byte
			ok bool
		)
		err := h.DoContext(ctx, "receive", func(d *device) error {
			var err error
			p, ok, err = d.Receive()
			return err
		})
		if err != nil || ok {
			return p, err
		}
		select {
		case <-ctx.Done():
			return nil, errcode.Wrap(errcode.Timeout, "receive", ctx.Err())
		case <-h.bridge.C():
		case <-tick.C:
		}
	}
}

// Ping reports whether addr acknowledged a one-byte packet.
func (h *Handler) Ping(addr nrf24.Address) (bool, error) {
	return handler.Call(h.Facade, "ping", func(d *device) (bool, error) { return d.Ping(addr) })
}

func (h *Handler) SetChannel(ch byte) error {
	return h.Do("set channel", func(d *device) error { return d.SetChannel(ch) })
}

func (h *Handler) SetDataRate(r nrf24.DataRate) error {
	return h.Do("set data rate", func(d *device) error { return d.SetDataRate(r) })
}

func (h *Handler) SetPALevel(l nrf24.PALevel) error {
	return h.Do("set pa level", func(d *device) error { return d.SetPALevel(l) })
}

func (h *Handler) SetAutoRetransmit(delay uint16, count byte) error {
	return h.Do("set auto retransmit", func(d *device) error { return d.SetAutoRetransmit(delay, count) })
}

func (h *Handler) OpenRxPipe(pipe int, addr []byte) error {
	return h.Do("open rx pipe", func(d *device) error { return d.OpenRxPipe(pipe, addr) })
}

func (h *Handler) CloseRxPipe(pipe int) error {
	return h.Do("close rx pipe", func(d *device) error { return d.CloseRxPipe(pipe) })
}

func (h *Handler) WriteAckPayload(pipe int, p []byte) error {
	return h.Do("write ack payload", func(d *device) error { return d.WriteAckPayload(pipe, p) })
}

// RetransmissionCounters returns the lost packet and current retry counts.
func (h *Handler) RetransmissionCounters() (lost, retries byte, err error) {
	err = h.Do("retransmission counters", func(d *device) error {
		var err error
		lost, retries, err = d.RetransmissionCounters()
		return err
	})
	return lost, retries, err
}

func (h *Handler) CarrierDetected() (bool, error) {
	return handler.Call(h.Facade, "carrier detected", func(d *device) (bool, error) { return d.CarrierDetected() })
}

func (h *Handler) Status() (byte, error) {
	return handler.Call(h.Facade, "status", func(d *device) (byte, error) { return d.Status() })
}

func (h *Handler) PowerDown() error {
	return h.Do("power down", func(d *device) error { return d.PowerDown() })
}

func (h *Handler) PowerUp() error {
	return h.Do("power up", func(d *device) error { return d.PowerUp() })
}

func (h *Handler) FlushTX() error {
	return h.Do("flush tx", func(d *device) error { return d.FlushTX() })
}

func (h *Handler) FlushRX() error {
	return h.Do("flush rx", func(d *device) error { return d.FlushRX() })
}

func (h *Handler) SupportsInterrupts() bool {
	return h.Adapter().HasPin(comm.PinInterrupt)
}

// HandleInterrupt flags pending IRQ work. It is safe in interrupt context.
func (h *Handler) HandleInterrupt() { h.bridge.Signal() }

// RegisterReceiveCallback sets the function the drain loop hands every
// received packet to. cb runs under the handler lock and must not call back
// into the handler.
func (h *Handler) RegisterReceiveCallback(cb func(payload []byte)) error {
	if !h.SupportsInterrupts() {
		return errcode.New(errcode.Unsupported, "register receive callback", "no IRQ pin wired")
	}
	return h.Do("register receive callback", func(*device) error {
		h.onReceive = cb
		return nil
	})
}

// DrainPendingInterrupts empties the RX FIFO into the receive callback if an
// interrupt is pending. It reports whether there was one.
func (h *Handler) DrainPendingInterrupts() (bool, error) {
	return h.bridge.Drain(h.drain)
}

func (h *Handler) drain() error {
	return h.Do("drain interrupts", func(d *device) error {
		for {
			p, ok, err := d.Receive()
			if err != nil || !ok {
				return err
			}
			if h.onReceive != nil {
				h.onReceive(p)
			}
		}
	})
}

// RunInterrupts drains on every IRQ until ctx is done. The first pass runs
// straight away, for packets that arrived before the line was watched.
func (h *Handler) RunInterrupts(ctx context.Context) error {
	if !h.SupportsInterrupts() {
		return errcode.New(errcode.Unsupported, "run interrupts", "no IRQ pin wired")
	}
	h.bridge.Signal()
	return h.bridge.Run(ctx, 0, h.drain)
}
