package protocol

import (
	"encoding/json"

	"github.com/teslashibe/go-roboarm/pkg/calibration"
	"github.com/teslashibe/go-roboarm/pkg/output"
)

// Reply is the generic command reply. Optional fields are omitted when zero.
type Reply struct {
	OK     bool `json:"ok"`
	Err    Code `json:"err,omitempty"`
	Points int  `json:"points,omitempty"`
	Freq   int  `json:"freq,omitempty"`
}

// Pong is the reply to ping.
type Pong struct {
	Pong bool `json:"pong"`
}

// Welcome is sent once when a message-channel client connects.
type Welcome struct {
	Ready  bool     `json:"ready"`
	Servos int      `json:"servos"`
	Modes  []string `json:"modes,omitempty"`
}

// Status is the read-only controller snapshot returned by status and
// broadcast periodically to observers.
type Status struct {
	OK               bool                             `json:"ok"`
	Moving           bool                             `json:"moving"`
	Mode             string                           `json:"mode"`
	Deg              [calibration.NumChannels]float64 `json:"deg"`
	LED              uint8                            `json:"led"`
	RGB              output.RGB                       `json:"rgb"`
	TrajectoryMode   bool                             `json:"trajectory_mode"`
	TrajectoryIndex  int                              `json:"trajectory_index"`
	TrajectoryPoints int                              `json:"trajectory_points"`
	StreamMode       bool                             `json:"stream_mode"`
	StreamFreq       int                              `json:"stream_freq"`
	PWMHz            float64                          `json:"pwm_hz"`
}

// Encode marshals a reply. Reply types are plain data, so failure is a
// programming error and yields an internal error reply instead.
func Encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(Reply{OK: false, Err: CodeInternal})
	}
	return data
}

// OK returns the encoded {"ok":true} reply.
func OK() []byte {
	return Encode(Reply{OK: true})
}

// ErrorReply returns the encoded failure reply for err.
func ErrorReply(err error) []byte {
	return Encode(Reply{OK: false, Err: CodeOf(err)})
}

// CodeReply returns the encoded failure reply for code.
func CodeReply(code Code) []byte {
	return Encode(Reply{OK: false, Err: code})
}

// PongReply returns the encoded reply to ping.
func PongReply() []byte {
	return Encode(Pong{Pong: true})
}

// NewWelcome returns the connect greeting. Serial links get the bare
// firmware banner without modes.
func NewWelcome(withModes bool) Welcome {
	w := Welcome{Ready: true, Servos: calibration.NumChannels}
	if withModes {
		w.Modes = Modes
	}
	return w
}
