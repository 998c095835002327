package controller

import (
	"time"

	"github.com/teslashibe/go-roboarm/pkg/motion"
	"github.com/teslashibe/go-roboarm/pkg/protocol"
)

// Mode is the top-level behavior driving the interpolator. Exactly one is
// active at a time.
type Mode int

const (
	ModeIdle Mode = iota
	ModeSingleMove
	ModeTrajectory
	ModeStream
)

func (m Mode) String() string {
	switch m {
	case ModeSingleMove:
		return "single_move"
	case ModeTrajectory:
		return "trajectory"
	case ModeStream:
		return "stream"
	default:
		return "idle"
	}
}

// waypoint is one resolved trajectory step. Aux values the point did not
// give are taken from the live pose when the point is armed, so led and rgb
// commands sent mid-trajectory hold.
type waypoint struct {
	pose motion.Pose
	ms   int

	hasBrightness bool
	hasColor      bool
}

// target returns the pose to arm, filling unspecified aux from cur.
func (w waypoint) target(cur motion.Pose) motion.Pose {
	pose := w.pose
	if !w.hasBrightness {
		pose.Brightness = cur.Brightness
	}
	if !w.hasColor {
		pose.Color = cur.Color
	}
	return pose
}

// trajectory is a fixed-capacity buffer of waypoints and a cursor.
type trajectory struct {
	points [protocol.MaxTrajectoryPoints]waypoint
	n      int
	cursor int
}

func (t *trajectory) reset() {
	t.n = 0
	t.cursor = 0
}

// load replaces the buffer. The caller guarantees len(points) fits.
func (t *trajectory) load(points []waypoint) {
	t.n = copy(t.points[:], points)
	t.cursor = 0
}

func (t *trajectory) current() waypoint {
	return t.points[t.cursor]
}

// advance moves the cursor and reports whether another point remains.
func (t *trajectory) advance() bool {
	if t.cursor+1 >= t.n {
		return false
	}
	t.cursor++
	return true
}

// stream is an active STREAM session.
type stream struct {
	freq        int
	minInterval time.Duration
	moveMS      int
	lastAccept  time.Time
	accepted    bool
}

func newStream(freq int) stream {
	return stream{
		freq:        freq,
		minInterval: time.Second / time.Duration(freq),
		moveMS:      1000 / freq,
	}
}

// accept applies the throttle: a frame is taken only if at least
// minInterval has passed since the last accepted one.
func (s *stream) accept(now time.Time) bool {
	if s.accepted && now.Sub(s.lastAccept) < s.minInterval {
		return false
	}
	s.accepted = true
	s.lastAccept = now
	return true
}
