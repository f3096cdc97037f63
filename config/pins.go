package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/michcald/devhandler"
	"github.com/michcald/devhandler/comm"
	"github.com/michcald/devhandler/errcode"
)

// PinResolver turns a GPIO name from the config into a pin.
type PinResolver func(gpio string) (devhandler.Pin, error)

func (p Pin) validate(slot string) error {
	if _, err := comm.ParsePinID(slot); err != nil {
		return fmt.Errorf("unknown pin slot %q", slot)
	}
	if p.GPIO == "" {
		return fmt.Errorf("pin %s: gpio is required", slot)
	}
	if _, err := parseActive(p.Active); err != nil {
		return fmt.Errorf("pin %s: %w", slot, err)
	}
	if _, err := parsePull(p.Pull); err != nil {
		return fmt.Errorf("pin %s: %w", slot, err)
	}
	return nil
}

func parseActive(s string) (comm.ActiveLevel, error) {
	switch strings.ToLower(s) {
	case "", "high":
		return comm.ActiveHigh, nil
	case "low":
		return comm.ActiveLow, nil
	}
	return 0, fmt.Errorf("active must be high or low, got %q", s)
}

func parsePull(s string) (devhandler.Pull, error) {
	switch strings.ToLower(s) {
	case "":
		return devhandler.PullNoChange, nil
	case "float", "none":
		return devhandler.PullFloat, nil
	case "down":
		return devhandler.PullDown, nil
	case "up":
		return devhandler.PullUp, nil
	}
	return 0, fmt.Errorf("pull must be up, down or float, got %q", s)
}

// ControlPins resolves every pin of d.
func (d Device) ControlPins(resolve PinResolver) (comm.ControlPins, error) {
	pins := make(comm.ControlPins, len(d.Pins))
	for slot, p := range d.Pins {
		id, err := comm.ParsePinID(slot)
		if err != nil {
			return nil, err
		}
		active, err := parseActive(p.Active)
		if err != nil {
			return nil, errcode.Wrap(errcode.ConfigurationFailed, "pin "+slot, err)
		}
		pull, err := parsePull(p.Pull)
		if err != nil {
			return nil, errcode.Wrap(errcode.ConfigurationFailed, "pin "+slot, err)
		}
		pin, err := resolve(p.GPIO)
		if err != nil {
			return nil, errcode.Wrap(errcode.ConfigurationFailed, "pin "+slot, err)
		}
		pins[id] = comm.PinConfig{Pin: pin, Active: active, Pull: pull, Required: p.Required}
	}
	return pins, nil
}

// ParseHexAddress parses a radio address such as "E1F0F0F0F0". Addresses
// shorter than five bytes fill the low bytes.
func ParseHexAddress(s string) ([5]byte, error) {
	var a [5]byte
	b, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(s), "0x"))
	if err != nil {
		return a, fmt.Errorf("rx_address: %w", err)
	}
	if len(b) < 3 || len(b) > 5 {
		return a, fmt.Errorf("rx_address must be 3 to 5 bytes, got %d", len(b))
	}
	copy(a[:], b)
	return a, nil
}
