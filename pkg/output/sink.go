// Package output drives the arm's physical outputs: servo pulses, the
// floodlight and the color LED.
package output

import (
	"github.com/teslashibe/go-roboarm/pkg/calibration"
)

// RGB is an 8-bit color.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Frame is one complete output sample.
type Frame struct {
	Pulses     [calibration.NumChannels]int // microseconds
	Brightness uint8
	Color      RGB
}

// Sink applies output frames to hardware.
// Implementations are called from a single goroutine and must not block for
// longer than a bus transaction.
type Sink interface {
	// Apply writes every servo pulse and both aux outputs.
	Apply(f Frame) error

	// SetFrequency changes the PWM output frequency in Hz.
	SetFrequency(hz float64) error

	// Close releases the underlying device.
	Close() error
}
