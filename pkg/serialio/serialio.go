// Package serialio serves the command protocol over a serial line using
// newline-delimited JSON, the framing the arm's USB link has always used.
package serialio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tarm/serial"

	"github.com/teslashibe/go-roboarm/internal/log"
	"github.com/teslashibe/go-roboarm/pkg/controller"
	"github.com/teslashibe/go-roboarm/pkg/protocol"
)

const (
	// MaxLine is the receive buffer size. A line that does not fit is
	// discarded and reception restarts.
	MaxLine = 512

	// DefaultBaud is the link speed.
	DefaultBaud = 115200

	sendBuffer = 64
)

// Config describes the serial device.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

// DefaultConfig returns a config for device at DefaultBaud.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// Open opens a tarm/serial port.
func Open(cfg *Config) (io.ReadWriteCloser, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	return port, nil
}

// Submitter is the controller entry point.
type Submitter interface {
	Submit(payload []byte, reply controller.ReplyFunc) error
}

// LineReader splits a byte stream into lines. Carriage returns are ignored,
// empty lines are skipped, and an overlong line is dropped.
type LineReader struct {
	buf []byte
}

// Feed adds one byte and returns a complete line when b terminates one.
// The returned slice is valid until the next call.
func (l *LineReader) Feed(b byte) ([]byte, bool) {
	switch b {
	case '\r':
		return nil, false
	case '\n':
		line := l.buf
		l.buf = l.buf[:0]
		if len(line) == 0 {
			return nil, false
		}
		return line, true
	}

	if len(l.buf)+1 < MaxLine {
		l.buf = append(l.buf, b)
	} else {
		l.buf = l.buf[:0]
	}
	return nil, false
}

// Link serves one serial port.
type Link struct {
	port   io.ReadWriteCloser
	ctrl   Submitter
	logger *slog.Logger
	send   chan []byte

	// tolerateEOF treats io.EOF as "no data yet"; tarm/serial reports a
	// read timeout that way.
	tolerateEOF bool
}

// NewLink wraps port.
func NewLink(port io.ReadWriteCloser, ctrl Submitter) *Link {
	return &Link{
		port:   port,
		ctrl:   ctrl,
		logger: log.Component("serial"),
		send:   make(chan []byte, sendBuffer),
	}
}

// TolerateEOF makes Serve keep reading after io.EOF. Use it for ports
// opened with a ReadTimeout.
func (l *Link) TolerateEOF() *Link {
	l.tolerateEOF = true
	return l
}

// Reply queues one line for the writer. It never blocks.
func (l *Link) Reply(data []byte) {
	select {
	case l.send <- data:
	default:
		l.logger.Warn("serial send queue full, dropping reply")
	}
}

// Serve writes the ready banner, then reads commands until ctx is cancelled
// or the port fails. The port is closed on return.
func (l *Link) Serve(ctx context.Context) error {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		l.writeLoop(ctx)
	}()

	// Unblock the reader on cancellation.
	stop := context.AfterFunc(ctx, func() { l.port.Close() })
	defer func() {
		stop()
		l.port.Close()
		<-writerDone
	}()

	l.Reply(protocol.Encode(protocol.NewWelcome(false)))
	l.logger.Info("serial link ready")

	var lines LineReader
	r := bufio.NewReaderSize(l.port, MaxLine)
	for {
		b, err := r.ReadByte()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				if l.tolerateEOF {
					continue
				}
				return nil
			}
			if isTimeout(err) {
				continue
			}
			return fmt.Errorf("serial read: %w", err)
		}

		line, ok := lines.Feed(b)
		if !ok {
			continue
		}
		if err := l.ctrl.Submit(line, l.Reply); err != nil {
			code := protocol.CodeInternal
			if errors.Is(err, controller.ErrBusy) {
				code = protocol.CodeBusy
			}
			l.Reply(protocol.CodeReply(code))
		}
	}
}

func (l *Link) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-l.send:
			line := make([]byte, 0, len(data)+1)
			line = append(append(line, data...), '\n')
			if _, err := l.port.Write(line); err != nil {
				l.logger.Warn("serial write failed", "error", err)
				return
			}
		}
	}
}

// isTimeout reports read timeouts, which tarm/serial surfaces when
// ReadTimeout elapses with no data.
func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
