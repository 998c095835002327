// Package log provides structured logging for go-roboarm.
// It wraps slog with defaults suited to a long-running controller daemon.
package log

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	logger *slog.Logger
	once   sync.Once
)

// Init initializes the global logger with the specified level.
// Valid levels: "debug", "info", "warn", "error".
// JSON output is selected by GO_ENV=production or LOG_FORMAT=json.
func Init(level string) {
	once.Do(func() {
		opts := &slog.HandlerOptions{
			Level: parseLevel(level),
		}

		if os.Getenv("GO_ENV") == "production" || strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
			logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
		} else {
			logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
		}

		slog.SetDefault(logger)
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the global logger instance.
func L() *slog.Logger {
	if logger == nil {
		Init("info")
	}
	return logger
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	L().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}

// Component returns a logger tagged with a component name.
func Component(name string) *slog.Logger {
	return L().With("component", name)
}

// Limiter gates repeated log lines (e.g. a failing bus) to one per interval.
// The zero value allows the first call. Not safe for concurrent use.
type Limiter struct {
	Interval   time.Duration
	last       time.Time
	suppressed uint64
}

// NewLimiter returns a Limiter that allows one event per interval.
func NewLimiter(interval time.Duration) *Limiter {
	return &Limiter{Interval: interval}
}

// Allow reports whether an event at now may be logged. The second return value
// is the number of events suppressed since the last allowed one.
func (l *Limiter) Allow(now time.Time) (bool, uint64) {
	if !l.last.IsZero() && now.Sub(l.last) < l.Interval {
		l.suppressed++
		return false, 0
	}
	l.last = now
	n := l.suppressed
	l.suppressed = 0
	return true, n
}
