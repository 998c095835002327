// Package config loads roboarm settings from the environment and an
// optional YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v6"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-roboarm/pkg/calibration"
	"github.com/teslashibe/go-roboarm/pkg/output"
)

// Sink kinds.
const (
	SinkMemory  = "memory"
	SinkPCA9685 = "pca9685"
	SinkFeetech = "feetech"
	SinkMulti   = "multi"
)

// Config is the daemon configuration. Every field can be set from the
// environment; cmd/roboarm flags override it.
type Config struct {
	Listen string `env:"ROBOARM_LISTEN" envDefault:":8080"`
	Sink   string `env:"ROBOARM_SINK" envDefault:"memory"`

	I2CBus      int    `env:"ROBOARM_I2C_BUS" envDefault:"1"`
	PCA9685Addr string `env:"ROBOARM_PCA9685_ADDR" envDefault:"0x40"`

	FeetechPort string `env:"ROBOARM_FEETECH_PORT" envDefault:"/dev/ttyACM0"`
	FeetechBaud int    `env:"ROBOARM_FEETECH_BAUD" envDefault:"1000000"`

	SerialPort string `env:"ROBOARM_SERIAL_PORT"`
	SerialBaud int    `env:"ROBOARM_SERIAL_BAUD" envDefault:"115200"`

	Tick           time.Duration `env:"ROBOARM_TICK" envDefault:"5ms"`
	UpdateInterval time.Duration `env:"ROBOARM_UPDATE_INTERVAL" envDefault:"15ms"`
	StatusInterval time.Duration `env:"ROBOARM_STATUS_INTERVAL" envDefault:"1s"`
	PWMHz          float64       `env:"ROBOARM_PWM_HZ" envDefault:"50"`

	CalibrationFile string `env:"ROBOARM_CALIBRATION"`

	WebRTC     bool     `env:"ROBOARM_WEBRTC" envDefault:"true"`
	ICEServers []string `env:"ROBOARM_ICE_SERVERS" envSeparator:","`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var err error
	switch c.Sink {
	case SinkMemory, SinkPCA9685, SinkFeetech, SinkMulti:
	default:
		err = multierr.Append(err, fmt.Errorf("unknown sink %q", c.Sink))
	}
	if _, perr := c.Address(); perr != nil {
		err = multierr.Append(err, perr)
	}
	if c.Tick <= 0 {
		err = multierr.Append(err, fmt.Errorf("tick must be positive, got %v", c.Tick))
	}
	if c.UpdateInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("update interval must be positive, got %v", c.UpdateInterval))
	}
	if c.StatusInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("status interval must be positive, got %v", c.StatusInterval))
	}
	if !calibration.ValidFrequency(c.PWMHz) {
		err = multierr.Append(err, fmt.Errorf("pwm frequency %v outside %v-%v Hz",
			c.PWMHz, calibration.MinPWMHz, calibration.MaxPWMHz))
	}
	return err
}

// Address returns the PCA9685 I2C address. Hex (0x40) and decimal forms
// are accepted.
func (c *Config) Address() (uint16, error) {
	v, err := strconv.ParseUint(c.PCA9685Addr, 0, 16)
	if err != nil || v > 0x7f {
		return 0, fmt.Errorf("invalid pca9685 address %q", c.PCA9685Addr)
	}
	return uint16(v), nil
}

// ChannelOverride is a partial calibration entry in the YAML file.
type ChannelOverride struct {
	MinUS    *int  `yaml:"min_us"`
	MaxUS    *int  `yaml:"max_us"`
	OffsetUS *int  `yaml:"offset_us"`
	Invert   *bool `yaml:"invert"`
}

// File is the optional YAML configuration file.
//
//	calibration:
//	  - {min_us: 600, max_us: 2400}
//	  - {invert: true}
//	channels:
//	  servos: [0, 1, 2, 3, 4]
//	  floodlight: 5
//	  rgb: [6, 7, 8]
//	feetech_ids: [1, 2, 3, 4, 5]
type File struct {
	Calibration []ChannelOverride  `yaml:"calibration"`
	Channels    *output.ChannelMap `yaml:"channels"`
	FeetechIDs  []int              `yaml:"feetech_ids"`
}

// LoadFile reads and parses path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses YAML file contents.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if len(f.Calibration) > calibration.NumChannels {
		return nil, fmt.Errorf("calibration has %d entries, max %d", len(f.Calibration), calibration.NumChannels)
	}
	if f.FeetechIDs != nil && len(f.FeetechIDs) != calibration.NumChannels {
		return nil, fmt.Errorf("feetech_ids needs %d entries, got %d", calibration.NumChannels, len(f.FeetechIDs))
	}
	if f.Channels != nil {
		if err := f.Channels.Validate(); err != nil {
			return nil, fmt.Errorf("invalid channel map: %w", err)
		}
	}
	return &f, nil
}

// Table returns the default calibration with the file's overrides applied.
func (f *File) Table() calibration.Table {
	t := calibration.NewTable()
	if f == nil {
		return t
	}
	for i, o := range f.Calibration {
		// Index is always in range after ParseFile.
		_ = t.Update(i, calibration.Patch{
			MinUS:    o.MinUS,
			MaxUS:    o.MaxUS,
			OffsetUS: o.OffsetUS,
			Invert:   o.Invert,
		})
	}
	return t
}

// ChannelMap returns the file's PCA9685 channel map or the default.
func (f *File) ChannelMap() output.ChannelMap {
	if f == nil || f.Channels == nil {
		return output.DefaultChannelMap()
	}
	return *f.Channels
}

// IDs returns the Feetech servo IDs, 1-5 unless the file says otherwise.
func (f *File) IDs() [calibration.NumChannels]int {
	ids := [calibration.NumChannels]int{1, 2, 3, 4, 5}
	if f != nil && f.FeetechIDs != nil {
		copy(ids[:], f.FeetechIDs)
	}
	return ids
}
