// Package calibration maps logical joint angles to servo pulse widths.
//
// Every channel carries its own pulse range, trim and direction. Whatever the
// calibration says, the resulting pulse never leaves the hardware safety band.
package calibration

import (
	"fmt"
	"math"
)

// NumChannels is the number of servo joints on the arm.
const NumChannels = 5

// Angle domain in degrees.
const (
	MinAngle = -90.0
	MaxAngle = 90.0
)

// Hardware safety band in microseconds. Applied after calibration so a bad
// config cannot drive a servo past its mechanical stops.
const (
	SafetyMinUS = 800
	SafetyMaxUS = 2200
)

// PWM peripheral parameters.
const (
	Resolution   = 4096 // steps per PWM period
	DefaultPWMHz = 50.0
	MinPWMHz     = 40.0
	MaxPWMHz     = 60.0
)

// Default per-channel pulse range.
const (
	DefaultMinUS = 1000
	DefaultMaxUS = 2000
)

// Channel is the calibration of a single servo.
type Channel struct {
	MinUS    int  `json:"min_us" yaml:"min_us"`
	MaxUS    int  `json:"max_us" yaml:"max_us"`
	OffsetUS int  `json:"offset_us" yaml:"offset_us"`
	Invert   bool `json:"invert" yaml:"invert"`
}

// DefaultChannel returns the factory calibration: 1000-2000us, no trim.
func DefaultChannel() Channel {
	return Channel{MinUS: DefaultMinUS, MaxUS: DefaultMaxUS}
}

// ClampAngle restricts deg to [MinAngle, MaxAngle].
func ClampAngle(deg float64) float64 {
	if math.IsNaN(deg) {
		return 0
	}
	return clamp(deg, MinAngle, MaxAngle)
}

// AngleToPulse converts an angle in degrees to a pulse width in microseconds.
// Out-of-range angles are clamped silently.
func (c Channel) AngleToPulse(deg float64) int {
	t := (ClampAngle(deg) - MinAngle) / (MaxAngle - MinAngle)
	if c.Invert {
		t = 1 - t
	}
	us := int(math.Round(float64(c.MinUS)+t*float64(c.MaxUS-c.MinUS))) + c.OffsetUS
	return clampInt(us, SafetyMinUS, SafetyMaxUS)
}

// PulseToTick quantizes a pulse width to the PWM peripheral's resolution at
// the given output frequency, rounding to nearest.
func PulseToTick(us int, hz float64) int {
	if hz <= 0 {
		hz = DefaultPWMHz
	}
	periodUS := 1e6 / hz
	tick := int(math.Round(float64(us) * Resolution / periodUS))
	return clampInt(tick, 0, Resolution-1)
}

// ValidFrequency reports whether hz is an accepted PWM output frequency.
func ValidFrequency(hz float64) bool {
	return hz >= MinPWMHz && hz <= MaxPWMHz
}

// Patch is a partial channel update. Nil fields are left unchanged.
type Patch struct {
	MinUS    *int
	MaxUS    *int
	OffsetUS *int
	Invert   *bool
}

// Apply returns c with the supplied fields replaced.
func (p Patch) Apply(c Channel) Channel {
	if p.MinUS != nil {
		c.MinUS = *p.MinUS
	}
	if p.MaxUS != nil {
		c.MaxUS = *p.MaxUS
	}
	if p.OffsetUS != nil {
		c.OffsetUS = *p.OffsetUS
	}
	if p.Invert != nil {
		c.Invert = *p.Invert
	}
	return c
}

// Table holds the calibration of every channel.
type Table [NumChannels]Channel

// NewTable returns a table with every channel at DefaultChannel.
func NewTable() Table {
	var t Table
	for i := range t {
		t[i] = DefaultChannel()
	}
	return t
}

// Channel returns the calibration for ch.
func (t *Table) Channel(ch int) (Channel, error) {
	if err := checkChannel(ch); err != nil {
		return Channel{}, err
	}
	return t[ch], nil
}

// Update applies a partial update to channel ch.
func (t *Table) Update(ch int, p Patch) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	t[ch] = p.Apply(t[ch])
	return nil
}

// Pulses maps a full joint pose to pulse widths.
func (t *Table) Pulses(deg [NumChannels]float64) [NumChannels]int {
	var out [NumChannels]int
	for i, c := range t {
		out[i] = c.AngleToPulse(deg[i])
	}
	return out
}

func checkChannel(ch int) error {
	if ch < 0 || ch >= NumChannels {
		return fmt.Errorf("%w: %d", ErrBadChannel, ch)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
