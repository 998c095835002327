package output

import "errors"

var (
	// ErrUnsupported is returned when a sink is not available on this platform.
	ErrUnsupported = errors.New("output: not supported on this platform")

	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("output: sink closed")

	// ErrUnknownSink is returned by Open for an unrecognized sink name.
	ErrUnknownSink = errors.New("output: unknown sink")
)
