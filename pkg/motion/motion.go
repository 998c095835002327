// Package motion interpolates the arm between poses.
//
// An Interpolator owns the current pose of every joint and aux output. It runs
// at most one Move at a time; arming a new Move starts from wherever the arm
// is at that instant, so preemption never jumps.
package motion

import (
	"time"

	"github.com/teslashibe/go-roboarm/pkg/calibration"
	"github.com/teslashibe/go-roboarm/pkg/output"
)

// DefaultUpdateInterval is the minimum time between two sink writes.
const DefaultUpdateInterval = 15 * time.Millisecond

// Pose is the position of every joint plus the aux outputs.
type Pose struct {
	Joints     [calibration.NumChannels]float64
	Brightness uint8
	Color      output.RGB
}

// State of the interpolator.
type State int

const (
	StateNone State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "none"
}

// Move describes the active transition.
type Move struct {
	Start    time.Time
	Duration time.Duration
	From     Pose
	To       Pose
}

// End returns the time the move completes.
func (m Move) End() time.Time {
	return m.Start.Add(m.Duration)
}

// Interpolator advances one Move and pushes samples to a Sink.
// It is not safe for concurrent use; a single control loop owns it.
type Interpolator struct {
	sink     output.Sink
	cal      *calibration.Table
	interval time.Duration

	state    State
	move     Move
	current  Pose
	lastPush time.Time
	pushed   bool
}

// New creates an interpolator at the neutral pose. cal is read on every push,
// so calibration changes take effect on the next sample.
func New(sink output.Sink, cal *calibration.Table, interval time.Duration) *Interpolator {
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	return &Interpolator{
		sink:     sink,
		cal:      cal,
		interval: interval,
	}
}

// Duration converts a command duration in milliseconds, coercing anything
// below one to a single millisecond.
func Duration(ms int) time.Duration {
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

// Arm starts a move to target over ms milliseconds beginning at now. The
// start pose is the interpolated pose at now.
func (ip *Interpolator) Arm(target Pose, ms int, now time.Time) {
	ip.sample(now)
	ip.ArmAt(now, target, ms)
}

// ArmAt starts a move from the current pose with an explicit start time.
// Chained moves pass the previous move's end time so accumulated tick
// latency does not stretch a sequence.
func (ip *Interpolator) ArmAt(start time.Time, target Pose, ms int) {
	for i := range target.Joints {
		target.Joints[i] = calibration.ClampAngle(target.Joints[i])
	}
	ip.move = Move{
		Start:    start,
		Duration: Duration(ms),
		From:     ip.current,
		To:       target,
	}
	ip.state = StateRunning
}

// Tick advances the active move to now. It reports whether the move
// completed on this call. The completing sample is always written; other
// samples are written at most once per update interval.
func (ip *Interpolator) Tick(now time.Time) (bool, error) {
	if ip.state != StateRunning {
		return false, nil
	}

	done := ip.sample(now)
	if done {
		ip.state = StateNone
		return true, ip.Push(now)
	}

	if ip.pushed && now.Sub(ip.lastPush) < ip.interval {
		return false, nil
	}
	return false, ip.Push(now)
}

// Sample evaluates the active move at now without writing to the sink and
// returns the resulting pose.
func (ip *Interpolator) Sample(now time.Time) Pose {
	ip.sample(now)
	return ip.current
}

// sample sets the current pose to the active move evaluated at now and
// reports whether the move has reached its target.
func (ip *Interpolator) sample(now time.Time) bool {
	if ip.state != StateRunning {
		return false
	}

	t := float64(now.Sub(ip.move.Start)) / float64(ip.move.Duration)
	if t >= 1 {
		ip.current = ip.move.To
		return true
	}
	if t < 0 {
		t = 0
	}
	ip.current = Lerp(ip.move.From, ip.move.To, t)
	return false
}

// Lerp interpolates joints linearly and aux channels by truncation.
func Lerp(from, to Pose, t float64) Pose {
	var p Pose
	for i := range p.Joints {
		p.Joints[i] = from.Joints[i] + (to.Joints[i]-from.Joints[i])*t
	}
	p.Brightness = lerpByte(from.Brightness, to.Brightness, t)
	p.Color = output.RGB{
		R: lerpByte(from.Color.R, to.Color.R, t),
		G: lerpByte(from.Color.G, to.Color.G, t),
		B: lerpByte(from.Color.B, to.Color.B, t),
	}
	return p
}

func lerpByte(from, to uint8, t float64) uint8 {
	return uint8(int(from) + int(float64(int(to)-int(from))*t))
}

// Push writes the current pose to the sink immediately.
func (ip *Interpolator) Push(now time.Time) error {
	ip.lastPush = now
	ip.pushed = true
	return ip.sink.Apply(ip.Frame())
}

// Frame returns the output frame for the current pose.
func (ip *Interpolator) Frame() output.Frame {
	return output.Frame{
		Pulses:     ip.cal.Pulses(ip.current.Joints),
		Brightness: ip.current.Brightness,
		Color:      ip.current.Color,
	}
}

// SetBrightness sets the floodlight now. During a move the channel is pinned
// to v for the rest of the move.
func (ip *Interpolator) SetBrightness(v uint8) {
	ip.current.Brightness = v
	if ip.state == StateRunning {
		ip.move.From.Brightness = v
		ip.move.To.Brightness = v
	}
}

// SetColor sets the color LED now, pinning it during a move.
func (ip *Interpolator) SetColor(c output.RGB) {
	ip.current.Color = c
	if ip.state == StateRunning {
		ip.move.From.Color = c
		ip.move.To.Color = c
	}
}

// Stop abandons the active move, holding the last sampled pose.
func (ip *Interpolator) Stop() {
	ip.state = StateNone
}

// State returns the interpolator state.
func (ip *Interpolator) State() State { return ip.state }

// Running reports whether a move is active.
func (ip *Interpolator) Running() bool { return ip.state == StateRunning }

// Current returns the last sampled pose.
func (ip *Interpolator) Current() Pose { return ip.current }

// Move returns the active or most recent move.
func (ip *Interpolator) Move() Move { return ip.move }
