package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
)

const (
	sessionWriteWait  = 5 * time.Second
	sessionSendBuffer = 64
	sessionReadLimit  = 64 * 1024
)

// Session is one command-channel websocket connection.
type Session struct {
	ID        string
	Connected time.Time

	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool

	dropped atomic.Uint64
}

func newSession(id string, conn *websocket.Conn) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		Connected: now,
		conn:      conn,
		send:      make(chan []byte, sessionSendBuffer),
		done:      make(chan struct{}),
		lastSeen:  now,
	}
}

// Reply queues data for the session's writer. It never blocks: when the
// client cannot keep up the message is dropped.
func (s *Session) Reply(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.send <- data:
	default:
		s.dropped.Add(1)
	}
}

// LastSeen returns the time of the last inbound message.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// writePump is the only writer on the connection. It exits once the send
// channel is closed and drained, sending a close frame and closing the
// connection so the read loop ends too.
func (s *Session) writePump(sent *atomic.Uint64) {
	defer close(s.done)

	for data := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(sessionWriteWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.conn.Close()
			// Drain so Reply never sees a full buffer from a dead writer.
			for range s.send {
			}
			return
		}
		sent.Add(1)
	}
	s.conn.SetWriteDeadline(time.Now().Add(sessionWriteWait))
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.conn.Close()
}
