package controller

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/teslashibe/go-roboarm/pkg/motion"
	"github.com/teslashibe/go-roboarm/pkg/protocol"
)

// Dispatch parses and executes one payload at now, delivering at most one
// reply. Failures leave state untouched. A panicking handler is recovered
// and answered with an internal error.
func (c *Controller) Dispatch(payload []byte, reply ReplyFunc, now time.Time) {
	if reply == nil {
		reply = func([]byte) {}
	}

	cmd, err := protocol.Parse(payload)
	if err != nil {
		c.stats.rejected.Add(1)
		reply(protocol.ErrorReply(err))
		return
	}

	silent := cmd.Type == protocol.CmdRTFrame
	defer func() {
		if r := recover(); r != nil {
			c.stats.panics.Add(1)
			c.logger.Error("command handler panicked",
				"cmd", string(cmd.Type), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			if !silent {
				reply(protocol.CodeReply(protocol.CodeInternal))
			}
		}
		c.publish()
	}()

	out, err := c.handle(cmd, now)
	if err != nil {
		c.stats.rejected.Add(1)
		c.logger.Debug("command rejected", "cmd", string(cmd.Type), "err", protocol.CodeOf(err))
		if !silent {
			reply(protocol.ErrorReply(err))
		}
		return
	}

	c.stats.handled.Add(1)
	if out != nil && !silent {
		reply(out)
	}
}

// handle executes cmd. A nil reply with a nil error means no reply is sent.
func (c *Controller) handle(cmd *protocol.Command, now time.Time) ([]byte, error) {
	switch cmd.Type {
	case protocol.CmdPing:
		return protocol.PongReply(), nil

	case protocol.CmdStatus:
		c.ip.Sample(now)
		return protocol.Encode(c.Status()), nil

	case protocol.CmdHome:
		args, err := cmd.Home()
		if err != nil {
			return nil, err
		}
		c.singleMove(args, now)
		return protocol.OK(), nil

	case protocol.CmdFrame, protocol.CmdRTFrame:
		args, err := cmd.Frame()
		if err != nil {
			return nil, err
		}
		c.singleMove(args, now)
		return protocol.OK(), nil

	case protocol.CmdTrajectory:
		return c.startTrajectory(cmd, now)

	case protocol.CmdStreamStart:
		freq, err := cmd.StreamFreq()
		if err != nil {
			return nil, err
		}
		c.halt(now)
		c.traj.reset()
		c.stream = newStream(freq)
		c.mode = ModeStream
		c.logger.Info("stream started", "freq", freq)
		return protocol.Encode(protocol.Reply{OK: true, Freq: freq}), nil

	case protocol.CmdStreamStop:
		if c.mode == ModeStream {
			c.halt(now)
			c.mode = ModeIdle
			c.logger.Info("stream stopped")
		}
		return protocol.OK(), nil

	case protocol.CmdStreamFrame:
		return c.streamFrame(cmd, now)

	case protocol.CmdLED:
		v, err := cmd.LED()
		if err != nil {
			return nil, err
		}
		c.ip.Sample(now)
		c.ip.SetBrightness(v)
		c.push(now)
		return protocol.OK(), nil

	case protocol.CmdRGB:
		rgb, err := cmd.RGB()
		if err != nil {
			return nil, err
		}
		c.ip.Sample(now)
		c.ip.SetColor(rgb)
		c.push(now)
		return protocol.OK(), nil

	case protocol.CmdConfig:
		args, err := cmd.Config()
		if err != nil {
			return nil, err
		}
		if err := c.cal.Update(args.Channel, args.Patch); err != nil {
			return nil, protocol.Err(protocol.CodeBadChannel)
		}
		c.logger.Info("calibration updated", "ch", args.Channel, "calibration", c.cal[args.Channel])
		return protocol.OK(), nil

	case protocol.CmdFreq:
		hz, err := cmd.PWMFreq()
		if err != nil {
			return nil, err
		}
		if err := c.sink.SetFrequency(hz); err != nil {
			c.sinkError(now, err)
			return nil, fmt.Errorf("set pwm frequency: %w", err)
		}
		c.pwmHz = hz
		c.push(now)
		return protocol.OK(), nil

	default:
		return nil, protocol.Err(protocol.CodeUnknownCmd)
	}
}

// singleMove tears down any trajectory or stream and arms one move.
func (c *Controller) singleMove(args *protocol.MoveArgs, now time.Time) {
	cur := c.ip.Sample(now)
	target := resolve(cur, args)

	c.traj.reset()
	c.mode = ModeSingleMove
	c.ip.Arm(target, args.MS, now)
}

func (c *Controller) startTrajectory(cmd *protocol.Command, now time.Time) ([]byte, error) {
	points, err := cmd.Trajectory()
	if err != nil {
		return nil, err
	}

	// Unspecified joints carry over from the previous point. Unspecified aux
	// values are resolved when each point is armed.
	cur := c.ip.Sample(now)
	prev := cur
	waypoints := make([]waypoint, len(points))
	for i := range points {
		pose := resolve(prev, &points[i])
		waypoints[i] = waypoint{
			pose:          pose,
			ms:            points[i].MS,
			hasBrightness: points[i].Brightness != nil,
			hasColor:      points[i].Color != nil,
		}
		prev = pose
	}

	c.traj.load(waypoints)
	c.mode = ModeTrajectory
	wp := c.traj.current()
	c.ip.Arm(wp.target(cur), wp.ms, now)

	c.logger.Debug("trajectory loaded", "points", c.traj.n)
	return protocol.Encode(protocol.Reply{OK: true, Points: c.traj.n}), nil
}

// streamFrame handles a bare position array. Accepted frames get no reply;
// frames inside the throttle window are dropped silently.
func (c *Controller) streamFrame(cmd *protocol.Command, now time.Time) ([]byte, error) {
	if c.mode != ModeStream {
		return nil, protocol.Err(protocol.CodeNotStreaming)
	}
	target, err := cmd.StreamFrame()
	if err != nil {
		return nil, err
	}
	if !c.stream.accept(now) {
		c.stats.dropped.Add(1)
		return nil, nil
	}

	cur := c.ip.Sample(now)
	pose := cur
	pose.Joints = target.Resolve(cur.Joints)
	c.ip.Arm(pose, c.stream.moveMS, now)
	return nil, nil
}

// halt stops the active move at its current interpolated pose.
func (c *Controller) halt(now time.Time) {
	c.ip.Sample(now)
	c.ip.Stop()
}

func (c *Controller) push(now time.Time) {
	if err := c.ip.Push(now); err != nil {
		c.sinkError(now, err)
	}
}

func resolve(cur motion.Pose, args *protocol.MoveArgs) motion.Pose {
	pose := motion.Pose{
		Joints:     args.Target.Resolve(cur.Joints),
		Brightness: cur.Brightness,
		Color:      cur.Color,
	}
	if args.Brightness != nil {
		pose.Brightness = *args.Brightness
	}
	if args.Color != nil {
		pose.Color = *args.Color
	}
	return pose
}
