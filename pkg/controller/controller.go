// Package controller implements the arm's mode state machine and its single
// scheduling loop.
//
// Only the goroutine running Run touches motion state. Transports hand over
// raw payloads with Submit and receive replies through a callback that must
// not block.
package controller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-roboarm/internal/log"
	"github.com/teslashibe/go-roboarm/pkg/calibration"
	"github.com/teslashibe/go-roboarm/pkg/motion"
	"github.com/teslashibe/go-roboarm/pkg/output"
	"github.com/teslashibe/go-roboarm/pkg/protocol"
)

// Defaults for Config.
const (
	DefaultTick           = 5 * time.Millisecond
	DefaultStatusInterval = time.Second
	DefaultQueueSize      = 64
)

// ReplyFunc delivers one encoded reply. It is called on the control loop and
// must not block.
type ReplyFunc func(data []byte)

// Observer receives periodic status broadcasts. Broadcast must not block.
type Observer interface {
	Broadcast(data []byte)
}

// Config configures a Controller. Zero fields take defaults.
type Config struct {
	Tick           time.Duration
	UpdateInterval time.Duration
	StatusInterval time.Duration
	QueueSize      int
	PWMHz          float64
	Calibration    *calibration.Table

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = motion.DefaultUpdateInterval
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = DefaultStatusInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.PWMHz <= 0 {
		c.PWMHz = calibration.DefaultPWMHz
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Component("controller")
	}
}

type request struct {
	payload []byte
	reply   ReplyFunc
}

// Controller owns the arm state: pose, calibration, mode, trajectory buffer
// and stream session.
type Controller struct {
	cfg    Config
	logger *slog.Logger
	sink   output.Sink

	// loop-owned state
	cal    calibration.Table
	ip     *motion.Interpolator
	mode   Mode
	traj   trajectory
	stream stream
	pwmHz  float64

	lastBroadcast time.Time
	sinkLimiter   *log.Limiter

	inbox   chan request
	stopped chan struct{}

	obsMu     sync.RWMutex
	observers []Observer

	snapshot atomic.Pointer[protocol.Status]
	stats    counters
}

// New creates a controller writing to sink.
func New(sink output.Sink, cfg Config) *Controller {
	cfg.defaults()

	c := &Controller{
		cfg:         cfg,
		logger:      cfg.Logger,
		sink:        sink,
		cal:         calibration.NewTable(),
		pwmHz:       cfg.PWMHz,
		sinkLimiter: log.NewLimiter(5 * time.Second),
		inbox:       make(chan request, cfg.QueueSize),
		stopped:     make(chan struct{}),
	}
	if cfg.Calibration != nil {
		c.cal = *cfg.Calibration
	}
	c.ip = motion.New(sink, &c.cal, cfg.UpdateInterval)
	c.lastBroadcast = cfg.Now()
	c.publish()
	return c
}

// AddObserver registers o for status broadcasts.
func (c *Controller) AddObserver(o Observer) {
	c.obsMu.Lock()
	c.observers = append(c.observers[:len(c.observers):len(c.observers)], o)
	c.obsMu.Unlock()
}

// RemoveObserver unregisters o.
func (c *Controller) RemoveObserver(o Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	kept := make([]Observer, 0, len(c.observers))
	for _, existing := range c.observers {
		if existing != o {
			kept = append(kept, existing)
		}
	}
	c.observers = kept
}

// Submit queues a payload for the control loop. It never blocks; a full
// queue returns ErrBusy. The payload is copied.
func (c *Controller) Submit(payload []byte, reply ReplyFunc) error {
	select {
	case <-c.stopped:
		return ErrStopped
	default:
	}

	r := request{payload: append([]byte(nil), payload...), reply: reply}
	select {
	case c.inbox <- r:
		c.stats.submitted.Add(1)
		// Run may have stopped between the check above and the send.
		select {
		case <-c.stopped:
			c.drain()
		default:
		}
		return nil
	default:
		c.stats.busy.Add(1)
		return ErrBusy
	}
}

// Run drives the control loop until ctx is cancelled. The loop handles
// requests as they arrive and, on every tick, advances motion and emits
// the periodic status broadcast.
func (c *Controller) Run(ctx context.Context) error {
	defer func() {
		close(c.stopped)
		c.drain()
	}()

	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()

	now := c.cfg.Now()
	c.lastBroadcast = now
	if err := c.ip.Push(now); err != nil {
		c.sinkError(now, err)
	}
	c.logger.Info("control loop started", "tick", c.cfg.Tick, "update_interval", c.cfg.UpdateInterval)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("control loop stopped")
			return ctx.Err()

		case r := <-c.inbox:
			c.Dispatch(r.payload, r.reply, c.cfg.Now())

		case <-ticker.C:
			c.Step(c.cfg.Now())
		}
	}
}

// drain answers requests still queued once the loop has stopped. Commands
// that never reply stay silent.
func (c *Controller) drain() {
	for {
		select {
		case r := <-c.inbox:
			if r.reply == nil {
				continue
			}
			if cmd, err := protocol.Parse(r.payload); err == nil &&
				(cmd.Type == protocol.CmdRTFrame || cmd.Type == protocol.CmdStreamFrame) {
				continue
			}
			c.stats.rejected.Add(1)
			r.reply(protocol.CodeReply(protocol.CodeInternal))
		default:
			return
		}
	}
}

// Step drains queued requests, advances motion and broadcasts status when
// due.
func (c *Controller) Step(now time.Time) {
	for n := len(c.inbox); n > 0; n-- {
		r := <-c.inbox
		c.Dispatch(r.payload, r.reply, now)
	}
	c.Advance(now)
	c.maybeBroadcast(now)
}

// Advance ticks the interpolator and applies mode transitions on move
// completion. Trajectory points are chained at the previous point's end
// time, so a late tick may complete several points at once.
func (c *Controller) Advance(now time.Time) {
	c.stats.ticks.Add(1)

	for {
		done, err := c.ip.Tick(now)
		if err != nil {
			c.sinkError(now, err)
		}
		if !done {
			break
		}

		switch c.mode {
		case ModeSingleMove:
			c.mode = ModeIdle
		case ModeTrajectory:
			if c.traj.advance() {
				c.armWaypoint(c.ip.Move().End())
				continue
			}
			c.traj.reset()
			c.mode = ModeIdle
			c.logger.Debug("trajectory complete")
		}
		break
	}
	c.publish()
}

func (c *Controller) armWaypoint(start time.Time) {
	wp := c.traj.current()
	c.ip.ArmAt(start, wp.target(c.ip.Current()), wp.ms)
}

func (c *Controller) maybeBroadcast(now time.Time) {
	if now.Sub(c.lastBroadcast) < c.cfg.StatusInterval {
		return
	}
	c.lastBroadcast = now

	c.obsMu.RLock()
	observers := c.observers
	c.obsMu.RUnlock()
	if len(observers) == 0 {
		return
	}

	data := protocol.Encode(c.Status())
	for _, o := range observers {
		o.Broadcast(data)
	}
	c.stats.broadcasts.Add(1)
}

func (c *Controller) sinkError(now time.Time, err error) {
	c.stats.sinkErrors.Add(1)
	if ok, suppressed := c.sinkLimiter.Allow(now); ok {
		c.logger.Warn("output write failed", "error", err, "suppressed", suppressed)
	}
}

// Status builds a snapshot of the current state. Call only from the loop;
// other goroutines use Snapshot.
func (c *Controller) Status() protocol.Status {
	pose := c.ip.Current()
	s := protocol.Status{
		OK:         true,
		Moving:     c.ip.Running(),
		Mode:       c.mode.String(),
		Deg:        pose.Joints,
		LED:        pose.Brightness,
		RGB:        pose.Color,
		PWMHz:      c.pwmHz,
		StreamMode: c.mode == ModeStream,
	}
	if c.mode == ModeTrajectory {
		s.TrajectoryMode = true
		s.TrajectoryIndex = c.traj.cursor
		s.TrajectoryPoints = c.traj.n
	}
	if c.mode == ModeStream {
		s.StreamFreq = c.stream.freq
	}
	return s
}

// Snapshot returns the status most recently published by the loop. Safe for
// concurrent use.
func (c *Controller) Snapshot() protocol.Status {
	return *c.snapshot.Load()
}

// Mode returns the active mode. Call only from the loop or tests.
func (c *Controller) Mode() Mode { return c.mode }

// Calibration returns a copy of the calibration table.
func (c *Controller) Calibration() calibration.Table { return c.cal }

func (c *Controller) publish() {
	s := c.Status()
	c.snapshot.Store(&s)
}

// counters are controller statistics, readable from any goroutine.
type counters struct {
	submitted  atomic.Uint64
	handled    atomic.Uint64
	rejected   atomic.Uint64
	busy       atomic.Uint64
	dropped    atomic.Uint64
	panics     atomic.Uint64
	sinkErrors atomic.Uint64
	ticks      atomic.Uint64
	broadcasts atomic.Uint64
}

// Stats is a point-in-time copy of the controller counters.
type Stats struct {
	Submitted     uint64 `json:"submitted"`
	Handled       uint64 `json:"handled"`
	Rejected      uint64 `json:"rejected"`
	Busy          uint64 `json:"busy"`
	DroppedFrames uint64 `json:"dropped_frames"`
	Panics        uint64 `json:"panics"`
	SinkErrors    uint64 `json:"sink_errors"`
	Ticks         uint64 `json:"ticks"`
	Broadcasts    uint64 `json:"broadcasts"`
}

// Stats returns the controller counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Submitted:     c.stats.submitted.Load(),
		Handled:       c.stats.handled.Load(),
		Rejected:      c.stats.rejected.Load(),
		Busy:          c.stats.busy.Load(),
		DroppedFrames: c.stats.dropped.Load(),
		Panics:        c.stats.panics.Load(),
		SinkErrors:    c.stats.sinkErrors.Load(),
		Ticks:         c.stats.ticks.Load(),
		Broadcasts:    c.stats.broadcasts.Load(),
	}
}
