// Package metrics provides the Prometheus metrics recorded by handler façades and
// interrupt bridges.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/michcald/devhandler/errcode"
)

// Recorder receives lifecycle and operation events. Implementations must be safe
// for concurrent use.
type Recorder interface {
	InitAttempt(handler string)
	InitResult(handler string, err error)
	State(handler string, state int)
	Operation(handler, op string, err error)
	InterruptsSignaled(handler string, n uint32)
	InterruptDrained(handler string, err error)
}

// Nop returns a Recorder that drops everything.
func Nop() Recorder { return nop{} }

type nop struct{}

func (nop) InitAttempt(string)                {}
func (nop) InitResult(string, error)          {}
func (nop) State(string, int)                 {}
func (nop) Operation(string, string, error)   {}
func (nop) InterruptsSignaled(string, uint32) {}
func (nop) InterruptDrained(string, error)    {}

// OrNop returns r, or a Nop recorder if r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop()
	}
	return r
}

// HandlerMetrics contains all Prometheus metrics related to device handlers.
type HandlerMetrics struct {
	InitAttempts      *prometheus.CounterVec
	InitResults       *prometheus.CounterVec
	HandlerState      *prometheus.GaugeVec
	Operations        *prometheus.CounterVec
	InterruptSignals  *prometheus.CounterVec
	InterruptsDrained *prometheus.CounterVec
	registry          *prometheus.Registry
}

// NewHandlerMetrics creates a new instance of HandlerMetrics.
// It requires a Prometheus registry to register the metrics.
// It returns an error if metric registration fails.
func NewHandlerMetrics(registry *prometheus.Registry) (*HandlerMetrics, error) {
	m := &HandlerMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register handler metrics: %w", err)
	}
	return m, nil
}

func (m *HandlerMetrics) initMetrics() {
	m.InitAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devhandler_init_attempts_total",
		Help: "Total number of handler initialization attempts",
	}, []string{"handler"})

	m.InitResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devhandler_init_results_total",
		Help: "Total number of handler initialization results by error code",
	}, []string{"handler", "code"})

	m.HandlerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "devhandler_handler_state",
		Help: "Current lifecycle state of a handler (0 uninitialized, 1 initializing, 2 ready, 3 failed, 4 deinitialized)",
	}, []string{"handler"})

	m.Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devhandler_operations_total",
		Help: "Total number of dispatched driver operations by error code",
	}, []string{"handler", "op", "code"})

	m.InterruptSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devhandler_interrupts_signaled_total",
		Help: "Total number of interrupt signals raised in interrupt context",
	}, []string{"handler"})

	m.InterruptsDrained = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "devhandler_interrupts_drained_total",
		Help: "Total number of interrupt drain passes that found a pending interrupt",
	}, []string{"handler", "code"})
}

func (m *HandlerMetrics) InitAttempt(handler string) {
	m.InitAttempts.WithLabelValues(handler).Inc()
}

func (m *HandlerMetrics) InitResult(handler string, err error) {
	m.InitResults.WithLabelValues(handler, string(errcode.Of(err))).Inc()
}

func (m *HandlerMetrics) State(handler string, state int) {
	m.HandlerState.WithLabelValues(handler).Set(float64(state))
}

func (m *HandlerMetrics) Operation(handler, op string, err error) {
	m.Operations.WithLabelValues(handler, op, string(errcode.Of(err))).Inc()
}

// InterruptsSignaled adds n interrupt-context signals. It is reported from task
// context; the signal path itself never touches the registry.
func (m *HandlerMetrics) InterruptsSignaled(handler string, n uint32) {
	m.InterruptSignals.WithLabelValues(handler).Add(float64(n))
}

func (m *HandlerMetrics) InterruptDrained(handler string, err error) {
	m.InterruptsDrained.WithLabelValues(handler, string(errcode.Of(err))).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *HandlerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.InitAttempts.Collect(ch)
	m.InitResults.Collect(ch)
	m.HandlerState.Collect(ch)
	m.Operations.Collect(ch)
	m.InterruptSignals.Collect(ch)
	m.InterruptsDrained.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *HandlerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.InitAttempts.Describe(ch)
	m.InitResults.Describe(ch)
	m.HandlerState.Describe(ch)
	m.Operations.Describe(ch)
	m.InterruptSignals.Describe(ch)
	m.InterruptsDrained.Describe(ch)
}
