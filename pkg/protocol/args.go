package protocol

import (
	"encoding/json"
	"math"

	"github.com/teslashibe/go-roboarm/pkg/calibration"
	"github.com/teslashibe/go-roboarm/pkg/output"
)

// Protocol limits and defaults.
const (
	MaxTrajectoryPoints = 20
	MinStreamFreq       = 1
	MaxStreamFreq       = 100

	// MaxConfigUS bounds min_us, max_us and the magnitude of offset_us: one
	// full PWM period at the lowest servo frequency.
	MaxConfigUS = 25000

	DefaultHomeMS  = 800
	DefaultFrameMS = 100
)

// Target is a partially specified joint pose. Joints not Given hold their
// current angle.
type Target struct {
	Angles [calibration.NumChannels]float64
	Given  [calibration.NumChannels]bool
}

// Resolve fills unspecified joints from current.
func (t Target) Resolve(current [calibration.NumChannels]float64) [calibration.NumChannels]float64 {
	out := current
	for i, ok := range t.Given {
		if ok {
			out[i] = t.Angles[i]
		}
	}
	return out
}

// MoveArgs are the arguments shared by home, frame, rt_frame and trajectory
// points. Nil Brightness or Color means keep the current value.
type MoveArgs struct {
	Target     Target
	MS         int
	Brightness *uint8
	Color      *output.RGB
}

// ConfigArgs is a partial calibration update for one channel.
type ConfigArgs struct {
	Channel int
	Patch   calibration.Patch
}

// Home decodes a home command: all joints to zero.
func (c *Command) Home() (*MoveArgs, error) {
	args := &MoveArgs{}
	for i := range args.Target.Given {
		args.Target.Given[i] = true
	}
	if err := decodeMoveOptions(c.fields, DefaultHomeMS, args); err != nil {
		return nil, err
	}
	return args, nil
}

// Frame decodes a frame or rt_frame command.
func (c *Command) Frame() (*MoveArgs, error) {
	return decodeMove(c.fields)
}

// Trajectory decodes every point of a trajectory. Validation is
// all-or-nothing; the first bad point fails the whole command.
func (c *Command) Trajectory() ([]MoveArgs, error) {
	raw, ok := c.fields["points"]
	if !ok || isNull(raw) {
		return nil, Err(CodeMissingPoints)
	}

	var points []json.RawMessage
	if err := json.Unmarshal(raw, &points); err != nil {
		return nil, Err(CodeMissingPoints)
	}
	if len(points) < 1 || len(points) > MaxTrajectoryPoints {
		return nil, Err(CodePointsRange)
	}

	out := make([]MoveArgs, len(points))
	for i, p := range points {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(p, &fields); err != nil || fields == nil {
			return nil, Err(CodeMissingDeg)
		}
		args, err := decodeMove(fields)
		if err != nil {
			return nil, err
		}
		out[i] = *args
	}
	return out, nil
}

// StreamFrame decodes a bare position array.
func (c *Command) StreamFrame() (Target, error) {
	return decodeAngles(c.array)
}

// StreamFreq decodes the freq of a stream_start command.
func (c *Command) StreamFreq() (int, error) {
	v, ok, err := number(c.fields, "freq")
	if !ok || err != nil || v != math.Trunc(v) || v < MinStreamFreq || v > MaxStreamFreq {
		return 0, Err(CodeFreqRange)
	}
	return int(v), nil
}

// LED decodes the val of a led command.
func (c *Command) LED() (uint8, error) {
	v, ok, err := byteField(c.fields, "val")
	if !ok || err != nil {
		return 0, Err(CodeLEDRange)
	}
	return v, nil
}

// RGB decodes the top-level r, g and b of an rgb command.
func (c *Command) RGB() (output.RGB, error) {
	return decodeRGB(c.fields)
}

// PWMFreq decodes the hz of a freq command. A missing hz selects the
// default servo frequency.
func (c *Command) PWMFreq() (float64, error) {
	v, ok, err := number(c.fields, "hz")
	if err != nil {
		return 0, Err(CodePWMFreqRange)
	}
	if !ok {
		v = calibration.DefaultPWMHz
	}
	if !calibration.ValidFrequency(v) {
		return 0, Err(CodePWMFreqRange)
	}
	return v, nil
}

// Config decodes a config command.
func (c *Command) Config() (*ConfigArgs, error) {
	ch, ok, err := number(c.fields, "ch")
	if !ok || err != nil || ch != math.Trunc(ch) || ch < 0 || ch >= calibration.NumChannels {
		return nil, Err(CodeBadChannel)
	}

	args := &ConfigArgs{Channel: int(ch)}
	for name, dst := range map[string]**int{
		"min_us":    &args.Patch.MinUS,
		"max_us":    &args.Patch.MaxUS,
		"offset_us": &args.Patch.OffsetUS,
	} {
		v, ok, err := number(c.fields, name)
		if err != nil || math.Abs(v) > MaxConfigUS {
			return nil, Err(CodeBadConfig)
		}
		if ok {
			n := int(math.Round(v))
			*dst = &n
		}
	}

	if raw, ok := c.fields["invert"]; ok && !isNull(raw) {
		var inv bool
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, Err(CodeBadConfig)
		}
		args.Patch.Invert = &inv
	}
	return args, nil
}

func decodeMove(fields map[string]json.RawMessage) (*MoveArgs, error) {
	raw, ok := fields["deg"]
	if !ok || isNull(raw) {
		return nil, Err(CodeMissingDeg)
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, Err(CodeBadDeg)
	}
	if len(arr) == 0 {
		return nil, Err(CodeMissingDeg)
	}

	target, err := decodeAngles(arr)
	if err != nil {
		return nil, err
	}
	args := &MoveArgs{Target: target}
	if err := decodeMoveOptions(fields, DefaultFrameMS, args); err != nil {
		return nil, err
	}
	return args, nil
}

// decodeAngles reads up to NumChannels numbers. Null entries hold the
// current angle, entries past NumChannels are ignored.
func decodeAngles(arr []json.RawMessage) (Target, error) {
	var t Target
	if len(arr) == 0 {
		return t, Err(CodeMissingDeg)
	}
	for i, raw := range arr {
		if i >= calibration.NumChannels {
			break
		}
		if isNull(raw) {
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return t, Err(CodeBadDeg)
		}
		t.Angles[i] = v
		t.Given[i] = true
	}
	return t, nil
}

func decodeMoveOptions(fields map[string]json.RawMessage, defaultMS int, args *MoveArgs) error {
	args.MS = defaultMS
	if v, ok, err := number(fields, "ms"); err == nil && ok {
		args.MS = clampMS(v)
	}

	if v, ok, err := byteField(fields, "led"); ok || err != nil {
		if err != nil {
			return Err(CodeLEDRange)
		}
		args.Brightness = &v
	}

	if raw, ok := fields["rgb"]; ok && !isNull(raw) {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(raw, &nested); err != nil || nested == nil {
			return Err(CodeRGBRange)
		}
		rgb, err := decodeRGB(nested)
		if err != nil {
			return err
		}
		args.Color = &rgb
	}
	return nil
}

func decodeRGB(fields map[string]json.RawMessage) (output.RGB, error) {
	var c [3]uint8
	for i, name := range [3]string{"r", "g", "b"} {
		v, ok, err := byteField(fields, name)
		if !ok || err != nil {
			return output.RGB{}, Err(CodeRGBRange)
		}
		c[i] = v
	}
	return output.RGB{R: c[0], G: c[1], B: c[2]}, nil
}

// clampMS converts a duration to whole milliseconds. Values below one are
// coerced later by the interpolator; huge values saturate.
func clampMS(v float64) int {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < 0 {
		return 0
	}
	return int(v)
}

// number reads a numeric field. ok is false when the field is absent or null.
func number(fields map[string]json.RawMessage, name string) (v float64, ok bool, err error) {
	raw, present := fields[name]
	if !present || isNull(raw) {
		return 0, false, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// byteField reads an integer field that must lie in [0, 255].
func byteField(fields map[string]json.RawMessage, name string) (uint8, bool, error) {
	v, ok, err := number(fields, name)
	if err != nil || !ok {
		return 0, ok, err
	}
	if v != math.Trunc(v) || v < 0 || v > 255 {
		return 0, true, Err(CodeRGBRange)
	}
	return uint8(v), true, nil
}
