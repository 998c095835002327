package calibration

import "errors"

// ErrBadChannel is returned when a channel index is outside [0, NumChannels).
var ErrBadChannel = errors.New("calibration: channel out of range")
