// Package nrf24 drives an nRF24L01+ transceiver through a communication adapter.
//
// The CE line is the adapter's Enable pin. A Device is not safe for concurrent
// use; the radio handler serializes every call.
package nrf24

import (
	"errors"
	"fmt"
	"time"

	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/errcode"
	"github.com/michcald/devhandler/logging"
)

var (
	ErrMaxRetries   = errors.New("max retransmissions reached")
	ErrTimeout      = errors.New("timeout waiting for device")
	ErrNotConnected = errors.New("failed to verify NRF24L01 connection: check wiring/power")
)

type Config struct {
	// ChannelNumber determines the specific radio frequency within the 2.4 GHz ISM band that your module will use to
	// transmit and listen for data. The range is between 0 to 124.
	// Channel numbers like 70-80 (around 2470-2480 MHz) are often good choices because they sit above the main Wi-Fi
	// spectrum used in many regions.
	ChannelNumber byte
	// RxAddr is the address of this radio module in order to receive messages.
	RxAddr Address
	// EnableDynamicPayload enables or disables dynamic packet size.
	EnableDynamicPayload bool
	// PayloadSize is the payload size in bytes when EnableDynamicPayload is false.
	// Range: 1 to 32.
	// Defaults to 32 if not provided.
	PayloadSize byte
	// DisableAutoAck turns hardware auto-acknowledgements off.
	DisableAutoAck bool
	// DataRate sets the data rate.
	// Defaults to DataRate250kbps if not provided.
	DataRate DataRate
	// PALevel sets the power amplifier level.
	// Defaults to PALevelMax if not provided.
	PALevel PALevel
	// AutoRetransmitDelay sets the auto-retransmit delay.
	// The value is in microseconds and must be a multiple of 250.
	// Range: 250 to 4000.
	// Defaults to 250 if not provided.
	AutoRetransmitDelay uint16
	// AutoRetransmitCount sets the auto-retransmit count.
	// Range: 0 to 15.
	// Defaults to 3 if not provided.
	AutoRetransmitCount byte
	// AddressWidth sets the address width.
	// Range: 3 to 5.
	// Defaults to 5 if not provided.
	AddressWidth byte
	// CRCLength sets the CRC length.
	// Defaults to CRCLength16 if not provided.
	CRCLength CRCLength
}

// withDefaults fills zero fields and validates the result.
func (c Config) withDefaults() (Config, error) {
	if !c.EnableDynamicPayload && (c.PayloadSize == 0 || c.PayloadSize > MaxPayloadBytes) {
		c.PayloadSize = MaxPayloadBytes
	}
	if c.DataRate == 0 {
		c.DataRate = DataRate250kbps
	}
	if c.PALevel == 0 {
		c.PALevel = PALevelMax
	}
	if c.AutoRetransmitDelay == 0 {
		c.AutoRetransmitDelay = 250
	}
	if c.AutoRetransmitCount == 0 {
		c.AutoRetransmitCount = 3
	}
	if c.AddressWidth == 0 {
		c.AddressWidth = 5
	}
	if c.CRCLength == 0 {
		c.CRCLength = CRCLength16
	}
	switch {
	case c.AddressWidth < 3 || c.AddressWidth > 5:
		return c, errcode.New(errcode.InvalidParameter, "nrf24 config", "AddressWidth must be 3, 4, or 5")
	case c.ChannelNumber > maxChannel:
		return c, errcode.New(errcode.InvalidParameter, "nrf24 config", "channel number must be between 0 and 124")
	case c.AutoRetransmitDelay < 250 || c.AutoRetransmitDelay > 4000 || c.AutoRetransmitDelay%250 != 0:
		return c, errcode.New(errcode.InvalidParameter, "nrf24 config", "delay must be between 250 and 4000 us and multiple of 250")
	case c.AutoRetransmitCount > 15:
		return c, errcode.New(errcode.InvalidParameter, "nrf24 config", "count must be between 0 and 15")
	}
	return c, nil
}

type Device struct {
	cfg    Config
	a      comm.Adapter
	log    logging.Logger
	tx     [MaxPayloadBytes + 1]byte
	rx     [MaxPayloadBytes + 1]byte
	status byte
}

// New validates c and binds the driver to a. No bus traffic happens until Initialize.
func New(a comm.Adapter, c Config, log logging.Logger) (*Device, error) {
	c, err := c.withDefaults()
	if err != nil {
		return nil, err
	}
	if !a.HasPin(comm.PinEnable) {
		return nil, errcode.New(errcode.ConfigurationFailed, "nrf24", "CE pin not configured")
	}
	return &Device{cfg: c, a: a, log: logging.OrNop(log)}, nil
}

// Config returns the active configuration, defaults applied.
func (d *Device) Config() Config { return d.cfg }

func (d *Device) String() string {
	return fmt.Sprintf("NRF24L01(Channel=%d, DataRate=%s, PALevel=%s, RxAddr=%s, DynamicPayload=%v, AutoAck=%v)",
		d.cfg.ChannelNumber,
		d.cfg.DataRate,
		d.cfg.PALevel,
		d.cfg.RxAddr,
		d.cfg.EnableDynamicPayload,
		!d.cfg.DisableAutoAck,
	)
}

// Initialize resets the radio, programs every register from the config, checks
// the channel read-back and starts listening. The first failing step aborts the rest.
func (d *Device) Initialize() error {
	d.log.Info("Initializing NRF24L01 SPI communication...")
	s := seq{d: d}

	// Standby-I during configuration.
	s.do(func() error { return d.setCE(false) })
	s.write(RegConfig, 0)
	s.do(d.clearStatus)
	s.do(d.flushTX)
	s.do(d.flushRX)

	configValue := byte(ConfigPwrUp | ConfigPrimRX)
	switch d.cfg.CRCLength {
	case CRCLength8:
		configValue |= ConfigEnCRC
	case CRCLength16:
		configValue |= ConfigEnCRC | ConfigCRCO
	}
	s.write(RegConfig, configValue)
	s.delay(5 * time.Millisecond)

	s.write(RegRFCh, d.cfg.ChannelNumber)
	s.write(RegSetupAW, d.cfg.AddressWidth-2)
	s.write(RegSetupRetr, retrValue(d.cfg.AutoRetransmitDelay, d.cfg.AutoRetransmitCount))
	s.write(RegRFSetup, rfSetupValue(d.cfg.DataRate, d.cfg.PALevel))

	if d.cfg.DisableAutoAck {
		s.write(RegEnAA, 0)
	} else {
		s.write(RegEnAA, pipe0|pipe1)
	}
	s.write(RegEnRxAddr, pipe0|pipe1)
	s.writeN(RegRxAddrP1, d.cfg.RxAddr[:d.cfg.AddressWidth])

	// Dynamic ACK is always on so TransmitNoAck works.
	featureVal := byte(FeatureEnDynAck)
	if d.cfg.EnableDynamicPayload {
		featureVal |= FeatureEnDPL | FeatureEnAckPay
		s.write(RegFeature, featureVal)
		s.write(RegDynPD, pipe0|pipe1)
	} else {
		s.write(RegFeature, featureVal)
		s.write(RegDynPD, 0)
		s.write(RegRxPwP0, d.cfg.PayloadSize)
		s.write(RegRxPwP0+1, d.cfg.PayloadSize)
	}
	if s.err != nil {
		return s.err
	}

	// Read back the channel to ensure SPI write/read is working.
	ch, err := d.readRegister(RegRFCh)
	if err != nil {
		return err
	}
	if ch != d.cfg.ChannelNumber {
		return errcode.Wrap(errcode.HardwareError, "nrf24 init", ErrNotConnected)
	}

	// Listen only after full configuration.
	if err := d.setCE(true); err != nil {
		return err
	}
	d.log.Info("NRF24L01 initialized and powered up. Ready to operate.", "channel", ch)
	return nil
}

// Deinitialize stops listening and powers the radio down.
func (d *Device) Deinitialize() error {
	if err := d.setCE(false); err != nil {
		return err
	}
	if err := d.updateRegister(RegConfig, 0, ConfigPwrUp); err != nil {
		return err
	}
	d.log.Info("NRF24L01 powered down.")
	return nil
}

// --- SPI interaction ---

// xfer exchanges the first n bytes of tx. It returns the n-1 bytes following
// the status byte.
func (d *Device) xfer(n int) ([]byte, error) {
	if err := d.a.Transfer(d.tx[:n], d.rx[:n]); err != nil {
		return nil, err
	}
	d.status = d.rx[0]
	return d.rx[1:n], nil
}

func (d *Device) writeRegister(reg, val byte) error {
	d.tx[0] = CmdWRegister | reg
	d.tx[1] = val
	_, err := d.xfer(2)
	return err
}

func (d *Device) readRegister(reg byte) (byte, error) {
	d.tx[0] = reg
	d.tx[1] = CmdNOP
	data, err := d.xfer(2)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

func (d *Device) writeRegisterN(reg byte, data []byte) error {
	d.tx[0] = CmdWRegister | reg
	copy(d.tx[1:], data)
	_, err := d.xfer(1 + len(data))
	return err
}

// updateRegister sets and clears bits with a read-modify-write.
func (d *Device) updateRegister(reg, set, clear byte) error {
	v, err := d.readRegister(reg)
	if err != nil {
		return err
	}
	return d.writeRegister(reg, v&^clear|set)
}

func (d *Device) command(cmd byte) error {
	d.tx[0] = cmd
	_, err := d.xfer(1)
	return err
}

func (d *Device) flushTX() error { return d.command(CmdFlushTX) }
func (d *Device) flushRX() error { return d.command(CmdFlushRX) }

func (d *Device) clearStatus() error {
	return d.writeRegister(RegStatus, StatusDataReady|StatusDataSent|StatusMaxRetries)
}

func (d *Device) setCE(on bool) error {
	return d.a.GpioSet(comm.PinEnable, comm.Signal(on))
}

// seq runs register writes until the first failure.
type seq struct {
	d   *Device
	err error
}

func (s *seq) write(reg, val byte) {
	if s.err == nil {
		s.err = s.d.writeRegister(reg, val)
	}
}

func (s *seq) writeN(reg byte, data []byte) {
	if s.err == nil {
		s.err = s.d.writeRegisterN(reg, data)
	}
}

func (s *seq) do(fn func() error) {
	if s.err == nil {
		s.err = fn()
	}
}

func (s *seq) delay(t time.Duration) {
	if s.err == nil {
		s.d.a.Delay(uint32(t / time.Microsecond))
	}
}

func retrValue(delay uint16, count byte) byte {
	ard := (delay/250 - 1) & 0x0F
	return byte(ard)<<4 | count&0x0F
}

func rfSetupValue(rate DataRate, level PALevel) byte {
	var rfSetup byte
	switch rate {
	case DataRate1mbps:
		// RF_DR_HIGH = 0, RF_DR_LOW = 0
	case DataRate2mbps:
		rfSetup |= 1 << 3 // RF_DR_HIGH
	case DataRate250kbps:
		rfSetup |= 1 << 5 // RF_DR_LOW
	}
	switch level {
	case PALevelMin:
	case PALevelLow:
		rfSetup |= 1 << 1
	case PALevelHigh:
		rfSetup |= 2 << 1
	case PALevelMax:
		rfSetup |= 3 << 1
	}
	return rfSetup
}

func checkPipe(op string, pipeID int) error {
	if pipeID < 0 || pipeID > maxPipe {
		return errcode.New(errcode.InvalidParameter, op, "pipeID must be between 0 and 5")
	}
	return nil
}
