package irq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/michcald/devhandler"
	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/internal/hwtest"
	"github.com/michcald/devhandler/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSignalsCollapseIntoOneDrain(t *testing.T) {
	b := New("io0", nil, nil)
	for i := 0; i < 5; i++ {
		b.Signal()
	}
	require.True(t, b.Pending())

	reads := 0
	ran, err := b.Drain(func() error { reads++; return nil })
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, reads)
	assert.False(t, b.Pending())

	ran, err = b.Drain(func() error { reads++; return nil })
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, reads)
}

func TestDrainWithoutSignalDoesNothing(t *testing.T) {
	b := New("io0", nil, nil)
	ran, err := b.Drain(func() error { t.Fatal("bus read without a pending interrupt"); return nil })
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestSignalDuringDrainIsNotLost(t *testing.T) {
	b := New("io0", nil, nil)
	b.Signal()

	ran, err := b.Drain(func() error {
		b.Signal()
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	assert.True(t, b.Pending())

	ran, _ = b.Drain(func() error { return nil })
	assert.True(t, ran)
}

func TestDrainErrorIsReturnedAndFlagCleared(t *testing.T) {
	b := New("io0", nil, nil)
	b.Signal()
	boom := errors.New("intcap read failed")

	ran, err := b.Drain(func() error { return boom })
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
	assert.False(t, b.Pending())
}

func TestMetricsCountSignalsAndDrains(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewHandlerMetrics(reg)
	require.NoError(t, err)

	b := New("io0", m, nil)
	b.Signal()
	b.Signal()
	b.Signal()
	_, _ = b.Drain(func() error { return nil })

	assert.InDelta(t, 3, testutil.ToFloat64(m.InterruptSignals.WithLabelValues("io0")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.InterruptsDrained.WithLabelValues("io0", "ok")), 0)
}

func TestConcurrentSignalsNeverLost(t *testing.T) {
	b := New("io0", nil, nil)
	var (
		wg      sync.WaitGroup
		signals atomic.Int32
		stop    atomic.Bool
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.Signal()
			signals.Add(1)
		}
		stop.Store(true)
	}()

	drains := 0
	for !stop.Load() || b.Pending() {
		if ran, _ := b.Drain(func() error { return nil }); ran {
			drains++
		}
	}
	wg.Wait()

	assert.GreaterOrEqual(t, drains, 1)
	assert.LessOrEqual(t, drains, int(signals.Load()))
	assert.False(t, b.Pending())
}

func TestRunDrainsOnNotify(t *testing.T) {
	b := New("io0", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	drained := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx, 0, func() error {
			drained <- struct{}{}
			return nil
		})
	}()

	b.Signal()
	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for drain")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRunPollsWithoutNotify(t *testing.T) {
	b := New("io0", nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Set the flag without poking the channel, as a missed wakeup would.
	b.pending.Store(true)

	drained := make(chan struct{}, 1)
	go func() {
		_ = b.Run(ctx, 5*time.Millisecond, func() error {
			select {
			case drained <- struct{}{}:
			default:
			}
			return nil
		})
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		t.Fatal("poll never drained")
	}
	cancel()
	// Give Run a moment to observe cancellation before goleak checks.
	time.Sleep(20 * time.Millisecond)
}

func TestAttachWatchesAssertEdge(t *testing.T) {
	irqPin := hwtest.NewPin("irq")
	irqPin.Drive(devhandler.High)
	a := comm.NewI2C(hwtest.NewI2C(0x20), 0x20, comm.ControlPins{
		comm.PinInterrupt: {Pin: irqPin, Active: comm.ActiveLow},
	}, nil)
	b := New("io0", nil, nil)

	ok, err := b.Attach(a, comm.PinInterrupt)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, devhandler.FallingEdge, irqPin.Watching())

	irqPin.Drive(devhandler.Low)
	assert.True(t, b.Pending())

	require.NoError(t, b.Detach(a, comm.PinInterrupt))
	assert.Equal(t, devhandler.NoEdge, irqPin.Watching())
}

func TestAttachWithoutPin(t *testing.T) {
	a := comm.NewI2C(hwtest.NewI2C(0x20), 0x20, nil, nil)
	b := New("io0", nil, nil)

	ok, err := b.Attach(a, comm.PinInterrupt)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, b.Detach(a, comm.PinInterrupt))
}
