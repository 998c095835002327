package output

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/multierr"
	"tinygo.org/x/drivers"

	"github.com/teslashibe/go-roboarm/pkg/calibration"
)

// PCA9685 register map.
const (
	regMode1    = 0x00
	regMode2    = 0x01
	regLED0OnL  = 0x06
	regPrescale = 0xFE

	mode1Restart = 0x80
	mode1AI      = 0x20
	mode1Sleep   = 0x10
	mode2OutDrv  = 0x04

	fullBit = 0x10 // bit 4 of ON_H / OFF_H

	pcaOscillatorHz = 25_000_000
	pcaChannels     = 16

	// DefaultPCA9685Addr is the chip's address with all address pins low.
	DefaultPCA9685Addr = 0x40
)

// Unwired marks an output that has no PCA9685 channel.
const Unwired = -1

// ChannelMap assigns PCA9685 channels to outputs.
type ChannelMap struct {
	Servos     [calibration.NumChannels]int `yaml:"servos"`
	Floodlight int                          `yaml:"floodlight"`
	RGB        [3]int                       `yaml:"rgb"`
}

// DefaultChannelMap wires servos to 0-4, the floodlight to 5 and RGB to 6-8.
func DefaultChannelMap() ChannelMap {
	return ChannelMap{
		Servos:     [calibration.NumChannels]int{0, 1, 2, 3, 4},
		Floodlight: 5,
		RGB:        [3]int{6, 7, 8},
	}
}

// Validate checks that every wired channel exists on the chip and is used once.
func (m ChannelMap) Validate() error {
	seen := make(map[int]bool)
	check := func(name string, ch int) error {
		if ch == Unwired {
			return nil
		}
		if ch < 0 || ch >= pcaChannels {
			return fmt.Errorf("output: %s channel %d out of range", name, ch)
		}
		if seen[ch] {
			return fmt.Errorf("output: %s channel %d assigned twice", name, ch)
		}
		seen[ch] = true
		return nil
	}

	var err error
	for i, ch := range m.Servos {
		err = multierr.Append(err, check(fmt.Sprintf("servo %d", i), ch))
	}
	err = multierr.Append(err, check("floodlight", m.Floodlight))
	for i, ch := range m.RGB {
		err = multierr.Append(err, check(fmt.Sprintf("rgb %d", i), ch))
	}
	return err
}

// PCA9685 drives servos and LEDs through a PCA9685 16-channel PWM chip.
type PCA9685 struct {
	mu       sync.Mutex
	bus      drivers.I2C
	addr     uint16
	channels ChannelMap
	hz       float64
	mode1    byte

	// last written (on, off) per chip channel; -1 means unknown
	last [pcaChannels]int

	sleep func(time.Duration)
}

// NewPCA9685 creates a driver on bus. Call Configure before Apply.
func NewPCA9685(bus drivers.I2C, addr uint16, channels ChannelMap) *PCA9685 {
	p := &PCA9685{
		bus:      bus,
		addr:     addr,
		channels: channels,
		hz:       calibration.DefaultPWMHz,
		mode1:    mode1AI,
		sleep:    time.Sleep,
	}
	p.forget()
	return p
}

// Configure wakes the chip with register auto-increment and totem-pole
// outputs, and sets the PWM frequency.
func (p *PCA9685) Configure(hz float64) error {
	if err := p.channels.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.write(regMode2, mode2OutDrv); err != nil {
		return fmt.Errorf("pca9685 mode2: %w", err)
	}
	if err := p.write(regMode1, p.mode1); err != nil {
		return fmt.Errorf("pca9685 mode1: %w", err)
	}
	return p.setFrequency(hz)
}

// Prescale returns the prescaler value the chip needs for hz.
func Prescale(hz float64) byte {
	v := math.Round(pcaOscillatorHz/(float64(calibration.Resolution)*hz)) - 1
	if v < 3 {
		v = 3
	}
	if v > 255 {
		v = 255
	}
	return byte(v)
}

// SetFrequency changes the PWM period. The chip must enter sleep while the
// prescaler is written.
func (p *PCA9685) SetFrequency(hz float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setFrequency(hz)
}

func (p *PCA9685) setFrequency(hz float64) error {
	if hz <= 0 {
		return fmt.Errorf("pca9685: invalid frequency %v", hz)
	}
	mode := p.mode1 &^ mode1Restart

	if err := p.write(regMode1, mode|mode1Sleep); err != nil {
		return fmt.Errorf("pca9685 sleep: %w", err)
	}
	if err := p.write(regPrescale, Prescale(hz)); err != nil {
		return fmt.Errorf("pca9685 prescale: %w", err)
	}
	if err := p.write(regMode1, mode); err != nil {
		return fmt.Errorf("pca9685 wake: %w", err)
	}
	p.sleep(500 * time.Microsecond)
	if err := p.write(regMode1, mode|mode1Restart); err != nil {
		return fmt.Errorf("pca9685 restart: %w", err)
	}

	p.hz = hz
	p.forget()
	return nil
}

// Apply writes every output in f. Channels whose value has not changed since
// the last write are skipped.
func (p *PCA9685) Apply(f Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	for i, ch := range p.channels.Servos {
		if ch == Unwired {
			continue
		}
		err = multierr.Append(err, p.setTicks(ch, calibration.PulseToTick(f.Pulses[i], p.hz)))
	}
	if ch := p.channels.Floodlight; ch != Unwired {
		err = multierr.Append(err, p.setDuty(ch, f.Brightness))
	}
	for i, v := range [3]uint8{f.Color.R, f.Color.G, f.Color.B} {
		if ch := p.channels.RGB[i]; ch != Unwired {
			err = multierr.Append(err, p.setDuty(ch, v))
		}
	}
	return err
}

// Frequency returns the current PWM frequency.
func (p *PCA9685) Frequency() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hz
}

// Close turns every output off and puts the chip to sleep.
func (p *PCA9685) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	for ch := 0; ch < pcaChannels; ch++ {
		err = multierr.Append(err, p.writeChannel(ch, 0, fullBit<<8))
	}
	return multierr.Append(err, p.write(regMode1, p.mode1|mode1Sleep))
}

// setDuty maps an 8-bit level to the chip's 12-bit duty cycle, using the
// full-on and full-off bits at the extremes.
func (p *PCA9685) setDuty(ch int, v uint8) error {
	switch v {
	case 0:
		return p.cached(ch, 0, fullBit<<8)
	case 255:
		return p.cached(ch, fullBit<<8, 0)
	default:
		return p.cached(ch, 0, int(v)*(calibration.Resolution-1)/255)
	}
}

func (p *PCA9685) setTicks(ch, off int) error {
	return p.cached(ch, 0, off)
}

func (p *PCA9685) cached(ch, on, off int) error {
	key := on<<16 | off
	if p.last[ch] == key {
		return nil
	}
	if err := p.writeChannel(ch, on, off); err != nil {
		p.last[ch] = -1
		return fmt.Errorf("pca9685 channel %d: %w", ch, err)
	}
	p.last[ch] = key
	return nil
}

func (p *PCA9685) writeChannel(ch, on, off int) error {
	reg := byte(regLED0OnL + 4*ch)
	return p.bus.Tx(p.addr, []byte{reg, byte(on), byte(on >> 8), byte(off), byte(off >> 8)}, nil)
}

func (p *PCA9685) write(reg, val byte) error {
	return p.bus.Tx(p.addr, []byte{reg, val}, nil)
}

func (p *PCA9685) forget() {
	for i := range p.last {
		p.last[i] = -1
	}
}
