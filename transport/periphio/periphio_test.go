//go:build !tinygo

package periphio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/spi/spitest"

	"github.com/michcald/devhandler"
	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/errcode"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSPIThroughAdapter(t *testing.T) {
	port := &spitest.Playback{Playback: conntest.Playback{Ops: []conntest.IO{
		{W: []byte{0x07, 0xFF}, R: []byte{0x0E, 0x0E}},
		{W: []byte{0xFF}, R: []byte{0x0E}},
	}}}
	s, err := ConnectSPI(port, 0)
	require.NoError(t, err)
	assert.True(t, s.Ready())

	a := comm.NewSPI(s, nil, nil)
	require.NoError(t, a.Init())
	rx := make([]byte, 2)
	require.NoError(t, a.Transfer([]byte{0x07, 0xFF}, rx))
	assert.Equal(t, []byte{0x0E, 0x0E}, rx)

	b, err := s.Transfer(0xFF)
	require.NoError(t, err)
	assert.Equal(t, byte(0x0E), b)

	require.NoError(t, s.Close())
	assert.False(t, s.Ready())
	assert.False(t, a.IsReady())
	assert.ErrorIs(t, s.Tx([]byte{0}, nil), ErrClosed)
	require.NoError(t, s.Close())
}

func TestI2CThroughAdapter(t *testing.T) {
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: 0x36, W: []byte{0x0c}, R: []byte{0x0A, 0xBC}},
	}, DontPanic: true}
	b := NewI2C(bus)

	a := comm.NewI2C(b, 0x36, nil, nil)
	require.NoError(t, a.Init())
	raw := make([]byte, 2)
	require.NoError(t, a.ReadRegister(0x0c, raw))
	assert.Equal(t, []byte{0x0A, 0xBC}, raw)

	// Playback has no more ops: the failure surfaces as a transfer error.
	err := a.ReadRegister(0x0c, raw)
	assert.ErrorIs(t, err, errcode.TransferError)

	require.NoError(t, b.Close())
	assert.False(t, b.Ready())
	assert.ErrorIs(t, b.Tx(0x36, []byte{0}, nil), ErrClosed)
}

func TestPinLevelsAndPull(t *testing.T) {
	gp := &gpiotest.Pin{N: "GPIO25", Num: 25}
	p := NewPin(gp)
	assert.True(t, p.Ready())
	assert.Equal(t, "GPIO25", p.String())

	require.NoError(t, p.Out(devhandler.High))
	assert.Equal(t, gpio.High, gp.Read())
	require.NoError(t, p.Out(devhandler.Low))
	l, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, devhandler.Low, l)

	require.NoError(t, p.In(devhandler.PullUp))
	assert.Equal(t, gpio.PullUp, gp.Pull())
	l, err = p.Read()
	require.NoError(t, err)
	assert.Equal(t, devhandler.High, l)
}

func TestPinWatchAndUnwatch(t *testing.T) {
	gp := &gpiotest.Pin{N: "GPIO24", Num: 24, EdgesChan: make(chan gpio.Level, 1)}
	p := NewPin(gp)
	require.NoError(t, p.In(devhandler.PullUp))

	fired := make(chan struct{}, 4)
	require.NoError(t, p.Watch(devhandler.FallingEdge, func() { fired <- struct{}{} }))

	gp.EdgesChan <- gpio.Low
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("edge handler did not run")
	}
	l, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, devhandler.Low, l)

	require.NoError(t, p.Unwatch())
	require.NoError(t, p.Unwatch())
	assert.Error(t, p.Watch(devhandler.NoEdge, func() {}))
}

func TestPinWatchNeedsEdgeSupport(t *testing.T) {
	// gpiotest refuses edge detection without an edge channel.
	p := NewPin(&gpiotest.Pin{N: "GPIO5", Num: 5})
	assert.Error(t, p.Watch(devhandler.RisingEdge, func() {}))
}
