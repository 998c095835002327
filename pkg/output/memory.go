package output

import (
	"sync"

	"github.com/teslashibe/go-roboarm/pkg/calibration"
)

// Memory is a Sink that records every frame. Used for dry runs and tests.
type Memory struct {
	mu     sync.Mutex
	frames []Frame
	hz     float64
	closed bool

	// FailWith, if set, is returned from Apply and SetFrequency.
	FailWith error

	// Limit caps the number of retained frames. Zero keeps everything.
	Limit int
}

// NewMemory creates an in-memory sink at the default PWM frequency.
func NewMemory() *Memory {
	return &Memory{hz: calibration.DefaultPWMHz}
}

// Apply records f.
func (m *Memory) Apply(f Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.FailWith != nil {
		return m.FailWith
	}
	m.frames = append(m.frames, f)
	if m.Limit > 0 && len(m.frames) > m.Limit {
		m.frames = m.frames[len(m.frames)-m.Limit:]
	}
	return nil
}

// SetFrequency records hz.
func (m *Memory) SetFrequency(hz float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}
	m.hz = hz
	return nil
}

// Close marks the sink closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Frames returns a copy of the recorded frames.
func (m *Memory) Frames() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Frame(nil), m.frames...)
}

// Last returns the most recent frame.
func (m *Memory) Last() (Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) == 0 {
		return Frame{}, false
	}
	return m.frames[len(m.frames)-1], true
}

// Count returns the number of recorded frames.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

// Frequency returns the last frequency set.
func (m *Memory) Frequency() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hz
}

// Reset discards recorded frames.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.frames = nil
	m.mu.Unlock()
}
