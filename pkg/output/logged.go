package output

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-roboarm/internal/log"
)

// errorLogInterval bounds how often a failing sink is logged.
const errorLogInterval = 5 * time.Second

// Stats counts sink activity.
type Stats struct {
	Frames uint64 `json:"frames"`
	Errors uint64 `json:"errors"`
}

// Logged wraps a Sink, counting writes and logging failures at most once per
// errorLogInterval. Errors are still returned to the caller.
type Logged struct {
	Sink
	logger  *slog.Logger
	limiter *log.Limiter
	now     func() time.Time

	frames atomic.Uint64
	errors atomic.Uint64
}

// WithLogging wraps s.
func WithLogging(s Sink, logger *slog.Logger) *Logged {
	if logger == nil {
		logger = log.Component("output")
	}
	return &Logged{
		Sink:    s,
		logger:  logger,
		limiter: log.NewLimiter(errorLogInterval),
		now:     time.Now,
	}
}

// Apply forwards f and records the outcome.
func (l *Logged) Apply(f Frame) error {
	l.frames.Add(1)
	err := l.Sink.Apply(f)
	if err != nil {
		l.fail("apply", err)
	}
	return err
}

// SetFrequency forwards hz and records the outcome.
func (l *Logged) SetFrequency(hz float64) error {
	err := l.Sink.SetFrequency(hz)
	if err != nil {
		l.fail("set frequency", err)
	} else {
		l.logger.Info("PWM frequency set", "hz", hz)
	}
	return err
}

// Stats returns counters since creation.
func (l *Logged) Stats() Stats {
	return Stats{Frames: l.frames.Load(), Errors: l.errors.Load()}
}

func (l *Logged) fail(op string, err error) {
	l.errors.Add(1)
	if ok, suppressed := l.limiter.Allow(l.now()); ok {
		l.logger.Warn("sink write failed", "op", op, "error", err, "suppressed", suppressed)
	}
}
