package nrf24

import (
	"errors"
	"time"

	"github.com/michcald/devhandler/errcode"
)

// --- Configuration ---

// OpenRxPipe enables a data pipe (0-5) with the specified address.
// For Pipe 0 and 1, a full address (3-5 bytes depending on configuration) must be provided.
// For Pipes 2-5, only the LSB (1 byte) is required, as they share the high bytes with Pipe 1.
// If a full address is provided for Pipes 2-5, only the LSB is used.
// Note: Pipe 0 is also used for receiving Auto-Ack packets. changing it might affect TX.
func (d *Device) OpenRxPipe(pipeID int, address []byte) error {
	if err := checkPipe("open rx pipe", pipeID); err != nil {
		return err
	}
	bit := byte(1) << pipeID
	reg := byte(RegRxAddrP0 + pipeID)

	if pipeID <= 1 {
		if len(address) < int(d.cfg.AddressWidth) {
			return errcode.New(errcode.InvalidParameter, "open rx pipe", "pipes 0 and 1 need a full width address")
		}
		if err := d.writeRegisterN(reg, address[:d.cfg.AddressWidth]); err != nil {
			return err
		}
	} else {
		if len(address) == 0 {
			return errcode.New(errcode.InvalidParameter, "open rx pipe", "pipes 2-5 need at least 1 byte address")
		}
		if err := d.writeRegister(reg, address[0]); err != nil {
			return err
		}
	}

	s := seq{d: d}
	if d.cfg.EnableDynamicPayload {
		s.do(func() error { return d.updateRegister(RegDynPD, bit, 0) })
		s.do(func() error { return d.updateRegister(RegFeature, FeatureEnDPL, 0) })
	} else {
		s.do(func() error { return d.updateRegister(RegDynPD, 0, bit) })
		s.write(byte(RegRxPwP0+pipeID), d.cfg.PayloadSize)
	}
	s.do(func() error { return d.updateRegister(RegEnRxAddr, bit, 0) })
	if d.cfg.DisableAutoAck {
		s.do(func() error { return d.updateRegister(RegEnAA, 0, bit) })
	} else {
		s.do(func() error { return d.updateRegister(RegEnAA, bit, 0) })
	}
	return s.err
}

// CloseRxPipe disables a specific data pipe (0-5).
func (d *Device) CloseRxPipe(pipeID int) error {
	if err := checkPipe("close rx pipe", pipeID); err != nil {
		return err
	}
	bit := byte(1) << pipeID
	if err := d.updateRegister(RegEnRxAddr, 0, bit); err != nil {
		return err
	}
	return d.updateRegister(RegEnAA, 0, bit)
}

// RetransmissionCounters returns the number of lost packets (reset when the
// channel changes) and the retransmissions of the last packet.
func (d *Device) RetransmissionCounters() (lostPackets, currentRetries byte, err error) {
	val, err := d.readRegister(RegObserveTX)
	if err != nil {
		return 0, 0, err
	}
	return (val >> 4) & 0x0F, val & 0x0F, nil
}

// CarrierDetected reports a signal above -64dBm on the current channel.
func (d *Device) CarrierDetected() (bool, error) {
	v, err := d.readRegister(RegRPD)
	if err != nil {
		return false, err
	}
	return v&0x01 != 0, nil
}

func (d *Device) FlushTX() error { return d.flushTX() }
func (d *Device) FlushRX() error { return d.flushRX() }

// Status reads the STATUS register.
func (d *Device) Status() (byte, error) {
	return d.readRegister(RegStatus)
}

// ClearInterrupts clears the given STATUS flags (write 1 to clear).
func (d *Device) ClearInterrupts(flags byte) error {
	return d.writeRegister(RegStatus, flags&(StatusDataReady|StatusDataSent|StatusMaxRetries))
}

// SetChannel changes the radio channel (frequency).
func (d *Device) SetChannel(channel byte) error {
	if channel > maxChannel {
		return errcode.New(errcode.InvalidParameter, "set channel", "channel number must be between 0 and 124")
	}
	if err := d.writeRegister(RegRFCh, channel); err != nil {
		return err
	}
	d.cfg.ChannelNumber = channel
	return nil
}

func (d *Device) SetDataRate(rate DataRate) error {
	if rate < DataRate250kbps || rate > DataRate2mbps {
		return errcode.New(errcode.InvalidParameter, "set data rate", rate.String())
	}
	if err := d.writeRegister(RegRFSetup, rfSetupValue(rate, d.cfg.PALevel)); err != nil {
		return err
	}
	d.cfg.DataRate = rate
	return nil
}

func (d *Device) SetPALevel(level PALevel) error {
	if level < PALevelMin || level > PALevelMax {
		return errcode.New(errcode.InvalidParameter, "set pa level", level.String())
	}
	if err := d.writeRegister(RegRFSetup, rfSetupValue(d.cfg.DataRate, level)); err != nil {
		return err
	}
	d.cfg.PALevel = level
	return nil
}

// SetAutoRetransmit configures the automatic retransmission parameters.
// delay: 250 to 4000 microseconds (must be multiple of 250).
// count: 0 to 15 retransmits.
func (d *Device) SetAutoRetransmit(delay uint16, count byte) error {
	if delay < 250 || delay > 4000 || delay%250 != 0 {
		return errcode.New(errcode.InvalidParameter, "set auto retransmit", "delay must be between 250 and 4000 us and multiple of 250")
	}
	if count > 15 {
		return errcode.New(errcode.InvalidParameter, "set auto retransmit", "count must be between 0 and 15")
	}
	if err := d.writeRegister(RegSetupRetr, retrValue(delay, count)); err != nil {
		return err
	}
	d.cfg.AutoRetransmitDelay = delay
	d.cfg.AutoRetransmitCount = count
	return nil
}

// SetAddressWidth sets the address width (3, 4, or 5 bytes).
func (d *Device) SetAddressWidth(width byte) error {
	if width < 3 || width > 5 {
		return errcode.New(errcode.InvalidParameter, "set address width", "AddressWidth must be 3, 4, or 5")
	}
	if err := d.writeRegister(RegSetupAW, width-2); err != nil {
		return err
	}
	d.cfg.AddressWidth = width
	return nil
}

// --- Power Management ---

// PowerDown puts the radio into Power Down mode (approx. 900nA).
func (d *Device) PowerDown() error {
	return d.updateRegister(RegConfig, 0, ConfigPwrUp)
}

// PowerUp wakes the radio and waits for the crystal oscillator to stabilize.
func (d *Device) PowerUp() error {
	if err := d.updateRegister(RegConfig, ConfigPwrUp, 0); err != nil {
		return err
	}
	d.a.Delay(2000)
	return nil
}

func (d *Device) startListening() error {
	s := seq{d: d}
	s.do(func() error { return d.setCE(false) })
	s.do(func() error { return d.updateRegister(RegConfig, ConfigPrimRX, 0) })
	s.do(func() error { return d.setCE(true) })
	s.do(func() error { d.a.Delay(130); return nil })
	s.do(d.clearStatus)
	s.do(d.flushRX)
	return s.err
}

func (d *Device) stopListening() error {
	if err := d.setCE(false); err != nil {
		return err
	}
	return d.updateRegister(RegConfig, 0, ConfigPrimRX)
}

// setTargetAddress points TX_ADDR and RX_ADDR_P0 at addr. With auto-ack the
// ACK comes back on pipe 0, so both must match.
func (d *Device) setTargetAddress(addr Address) error {
	s := seq{d: d}
	s.do(func() error { return d.setCE(false) })
	s.writeN(RegTxAddr, addr[:d.cfg.AddressWidth])
	s.writeN(RegRxAddrP0, addr[:d.cfg.AddressWidth])
	s.delay(time.Millisecond)
	return s.err
}

// --- Read/Write ---

// Available reports whether the RX FIFO holds a packet.
func (d *Device) Available() (bool, error) {
	st, err := d.readRegister(RegStatus)
	if err != nil {
		return false, err
	}
	return (st>>1)&0x07 != 7, nil
}

func (d *Device) dynamicPayloadSize() (byte, error) {
	d.tx[0] = CmdRRxPlWid
	d.tx[1] = CmdNOP
	data, err := d.xfer(2)
	if err != nil {
		return 0, err
	}
	if data[0] > MaxPayloadBytes {
		// Corrupt width: the FIFO must be flushed.
		return 0, nil
	}
	return data[0], nil
}

// Receive reads one packet if available. It does not block.
func (d *Device) Receive() ([]byte, bool, error) {
	ok, err := d.Available()
	if err != nil || !ok {
		return nil, false, err
	}

	size := d.cfg.PayloadSize
	if d.cfg.EnableDynamicPayload {
		size, err = d.dynamicPayloadSize()
		if err != nil {
			return nil, false, err
		}
		if size == 0 {
			// An empty or glitched packet cannot be read out, so drop the FIFO
			// instead of reporting it available forever.
			if err := d.flushRX(); err != nil {
				return nil, false, err
			}
			return nil, false, d.clearStatus()
		}
	}

	d.tx[0] = CmdRRxPayload
	for i := 1; i <= int(size); i++ {
		d.tx[i] = CmdNOP
	}
	data, err := d.xfer(int(size) + 1)
	if err != nil {
		return nil, false, err
	}
	// Copy out before clearStatus reuses the buffers.
	result := make([]byte, len(data))
	copy(result, data)

	if err := d.clearStatus(); err != nil {
		return nil, false, err
	}
	return result, true, nil
}

func (d *Device) payloadLimit() int {
	if d.cfg.EnableDynamicPayload {
		return MaxPayloadBytes
	}
	return int(d.cfg.PayloadSize)
}

// txTimeout is the longest the hardware can spend retrying plus 50ms for bus
// and scheduling overhead.
func (d *Device) txTimeout() time.Duration {
	return time.Duration(d.cfg.AutoRetransmitDelay)*time.Duration(d.cfg.AutoRetransmitCount)*time.Microsecond +
		50*time.Millisecond
}

func (d *Device) write(data []byte, noAck bool) error {
	if err := d.stopListening(); err != nil {
		return err
	}

	d.tx[0] = CmdWTxPayload
	if noAck {
		d.tx[0] = CmdWTxPayloadNoAck
	}
	n := len(data)
	if !d.cfg.EnableDynamicPayload {
		// Fixed payloads are zero padded.
		n = int(d.cfg.PayloadSize)
		clear(d.tx[1 : n+1])
	}
	copy(d.tx[1:], data)
	if _, err := d.xfer(1 + n); err != nil {
		return err
	}

	// Pulse CE for at least 10us to start the transmission.
	if err := d.setCE(true); err != nil {
		return err
	}
	d.a.Delay(15)
	if err := d.setCE(false); err != nil {
		return err
	}

	deadline := time.Now().Add(d.txTimeout())
	for {
		status, err := d.readRegister(RegStatus)
		if err != nil {
			return err
		}
		if status&(StatusDataSent|StatusMaxRetries) != 0 {
			if err := d.clearStatus(); err != nil {
				return err
			}
			if status&StatusMaxRetries != 0 {
				if err := d.flushTX(); err != nil {
					return err
				}
				return errcode.Wrap(errcode.TransferError, "nrf24 transmit", ErrMaxRetries)
			}
			return nil
		}
		if time.Now().After(deadline) {
			if err := d.clearStatus(); err != nil {
				return err
			}
			if err := d.flushTX(); err != nil {
				return err
			}
			return errcode.Wrap(errcode.Timeout, "nrf24 transmit", ErrTimeout)
		}
		d.a.Delay(1000)
	}
}

func (d *Device) transmit(destAddr Address, p []byte, noAck bool) error {
	if limit := d.payloadLimit(); len(p) > limit {
		return errcode.New(errcode.InvalidParameter, "nrf24 transmit", "payload too large")
	}
	if err := d.stopListening(); err != nil {
		return err
	}
	if err := d.setTargetAddress(destAddr); err != nil {
		return err
	}
	werr := d.write(p, noAck)
	// Back to RX mode whatever happened on air.
	if err := d.startListening(); err != nil && werr == nil {
		return err
	}
	return werr
}

// Transmit sends p to destAddr and waits for the ACK (or the send, without auto-ack).
func (d *Device) Transmit(destAddr Address, p []byte) error {
	return d.transmit(destAddr, p, false)
}

// TransmitNoAck sends p with the "No Acknowledgement" flag in the packet header,
// so receivers do not spend airtime on an ACK. Use it for broadcasts.
func (d *Device) TransmitNoAck(destAddr Address, p []byte) error {
	return d.transmit(destAddr, p, true)
}

// WriteAckPayload queues data to be sent with the next ACK on pipeID.
// Requires auto-ack and dynamic payloads.
func (d *Device) WriteAckPayload(pipeID int, data []byte) error {
	switch {
	case d.cfg.DisableAutoAck:
		return errcode.New(errcode.Unsupported, "write ack payload", "AckPayloads require auto-ack")
	case !d.cfg.EnableDynamicPayload:
		return errcode.New(errcode.Unsupported, "write ack payload", "AckPayloads require EnableDynamicPayload to be true")
	case len(data) > MaxPayloadBytes:
		return errcode.New(errcode.InvalidParameter, "write ack payload", "payload too large")
	}
	if err := checkPipe("write ack payload", pipeID); err != nil {
		return err
	}
	d.tx[0] = CmdWAckPayload | byte(pipeID)
	copy(d.tx[1:], data)
	_, err := d.xfer(1 + len(data))
	return err
}

// Ping sends a single null byte to addr. It reports false, without error, when
// the packet was not acknowledged.
func (d *Device) Ping(addr Address) (bool, error) {
	err := d.transmit(addr, []byte{0x00}, false)
	switch {
	case err == nil:
		d.log.Info("Ping Success", "addr", addr.String())
		return true, nil
	case errcode.Of(err) == errcode.Timeout, errors.Is(err, ErrMaxRetries):
		d.log.Info("Ping Failed", "addr", addr.String())
		return false, nil
	default:
		return false, err
	}
}
