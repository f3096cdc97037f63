// Package config loads the board description: buses, devices and their
// control pins, plus logging and metrics settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/michcald/devhandler/errcode"
)

// EnvPrefix prefixes environment overrides, e.g. DEVHANDLER_LOG_LEVEL.
const EnvPrefix = "DEVHANDLER"

// Kind names a supported device.
type Kind string

const (
	KindRadio    Kind = "radio"
	KindExpander Kind = "expander"
	KindPWM      Kind = "pwm"
	KindEncoder  Kind = "encoder"
	KindIMU      Kind = "imu"
	KindStepper  Kind = "stepper"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindRadio, KindExpander, KindPWM, KindEncoder, KindIMU, KindStepper}

type Config struct {
	Log     Log                 `mapstructure:"log" yaml:"log"`
	Metrics Metrics             `mapstructure:"metrics" yaml:"metrics"`
	SPI     map[string]SPIBus   `mapstructure:"spi" yaml:"spi,omitempty"`
	I2C     map[string]I2CBus   `mapstructure:"i2c" yaml:"i2c,omitempty"`
	UART    map[string]UARTPort `mapstructure:"uart" yaml:"uart,omitempty"`
	Devices []Device            `mapstructure:"devices" yaml:"devices,omitempty"`
}

type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

type Metrics struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

type SPIBus struct {
	Device  string `mapstructure:"device" yaml:"device"` // e.g. /dev/spidev0.0
	ClockHz int64  `mapstructure:"clock_hz" yaml:"clock_hz,omitempty"`
}

type I2CBus struct {
	Bus string `mapstructure:"bus" yaml:"bus"` // periph.io bus name, e.g. "1"
}

type UARTPort struct {
	Device      string        `mapstructure:"device" yaml:"device"`
	Baud        int           `mapstructure:"baud" yaml:"baud,omitempty"`
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout,omitempty"`
}

// Device is one handler to build. Bus names an entry of the spi, i2c or uart
// section; the section decides the mode of dual-mode devices.
type Device struct {
	Name    string         `mapstructure:"name" yaml:"name"`
	Kind    Kind           `mapstructure:"kind" yaml:"kind"`
	Bus     string         `mapstructure:"bus" yaml:"bus"`
	Address uint16         `mapstructure:"address" yaml:"address,omitempty"`
	Pins    map[string]Pin `mapstructure:"pins" yaml:"pins,omitempty"`
	Options Options        `mapstructure:"options" yaml:"options,omitempty"`
}

// Pin binds a control pin slot (reset, enable, fault, wake, interrupt, aux0,
// aux1) to a GPIO.
type Pin struct {
	GPIO     string `mapstructure:"gpio" yaml:"gpio"`
	Active   string `mapstructure:"active" yaml:"active,omitempty"` // high (default) or low
	Pull     string `mapstructure:"pull" yaml:"pull,omitempty"`     // up, down or float
	Required bool   `mapstructure:"required" yaml:"required,omitempty"`
}

// Options holds the device settings. Each kind reads the fields it knows.
type Options struct {
	// radio
	Channel   uint8  `mapstructure:"channel" yaml:"channel,omitempty"`
	RxAddress string `mapstructure:"rx_address" yaml:"rx_address,omitempty"` // hex, 3 to 5 bytes
	// pwm
	Frequency uint32 `mapstructure:"frequency" yaml:"frequency,omitempty"`
	// encoder
	RequireMagnet bool `mapstructure:"require_magnet" yaml:"require_magnet,omitempty"`
	// stepper
	NodeAddress uint8  `mapstructure:"node_address" yaml:"node_address,omitempty"`
	Microsteps  uint16 `mapstructure:"microsteps" yaml:"microsteps,omitempty"`
	RunCurrent  uint8  `mapstructure:"run_current" yaml:"run_current,omitempty"`
	HoldCurrent uint8  `mapstructure:"hold_current" yaml:"hold_current,omitempty"`
	// interrupt-capable devices
	Poll time.Duration `mapstructure:"poll" yaml:"poll,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:     Log{Level: "info", Format: "text"},
		Metrics: Metrics{Listen: ":9464"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
}

// Load reads path, or devhandler.yaml from the working directory and
// ~/.config/devhandler when path is empty, applies environment overrides and
// validates the result. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("devhandler")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "devhandler"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errcode.Wrap(errcode.ConfigurationFailed, "load config", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errcode.Wrap(errcode.ConfigurationFailed, "load config", fmt.Errorf("error unmarshaling config: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every device against the bus sections. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics.listen is required when metrics are enabled"))
	}
	seen := map[string]bool{}
	for i, d := range c.Devices {
		where := fmt.Sprintf("devices[%d]", i)
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", where))
		} else {
			where = fmt.Sprintf("device %q", d.Name)
			if seen[d.Name] {
				errs = append(errs, fmt.Errorf("%s: duplicate name", where))
			}
			seen[d.Name] = true
		}
		if err := c.checkBus(d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
		}
		for slot, p := range d.Pins {
			if err := p.validate(slot); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", where, err))
			}
		}
		if d.Options.RxAddress != "" {
			if _, err := ParseHexAddress(d.Options.RxAddress); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", where, err))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return errcode.Wrap(errcode.ConfigurationFailed, "validate config", err)
	}
	return nil
}

// BusSection reports which section holds d.Bus: "spi", "i2c", "uart" or "".
func (c *Config) BusSection(d Device) string {
	if _, ok := c.SPI[d.Bus]; ok {
		return "spi"
	}
	if _, ok := c.I2C[d.Bus]; ok {
		return "i2c"
	}
	if _, ok := c.UART[d.Bus]; ok {
		return "uart"
	}
	return ""
}

func (c *Config) checkBus(d Device) error {
	var want []string
	switch d.Kind {
	case KindRadio:
		want = []string{"spi"}
	case KindExpander, KindPWM, KindEncoder, KindIMU:
		want = []string{"i2c"}
	case KindStepper:
		want = []string{"spi", "uart"}
	default:
		return fmt.Errorf("unknown kind %q", d.Kind)
	}
	got := c.BusSection(d)
	if got == "" {
		return fmt.Errorf("bus %q is not defined", d.Bus)
	}
	for _, w := range want {
		if got == w {
			if got == "i2c" && (d.Address == 0 || d.Address > 0x7F) {
				return fmt.Errorf("i2c address 0x%X out of range", d.Address)
			}
			return nil
		}
	}
	return fmt.Errorf("kind %s cannot use %s bus %q", d.Kind, got, d.Bus)
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
