// Package server exposes the controller over HTTP and websockets.
//
// Routes:
//
//	GET  /ws              command channel (JSON commands, replies)
//	GET  /ws/status       status observers (periodic broadcasts)
//	GET  /api/status      latest status snapshot
//	GET  /api/stats       controller, sink and transport counters
//	GET  /api/sessions    connected command sessions
//	POST /api/command     one command, one reply
//	POST /api/rtc/offer   WebRTC data-channel negotiation
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-roboarm/internal/log"
	"github.com/teslashibe/go-roboarm/pkg/controller"
	"github.com/teslashibe/go-roboarm/pkg/hub"
	"github.com/teslashibe/go-roboarm/pkg/output"
	"github.com/teslashibe/go-roboarm/pkg/protocol"
)

// Controller is the part of *controller.Controller the server needs.
type Controller interface {
	Submit(payload []byte, reply controller.ReplyFunc) error
	Snapshot() protocol.Status
	Stats() controller.Stats
}

// Answerer negotiates WebRTC sessions.
type Answerer interface {
	Answer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, string, error)
	PeerCount() int
}

// Options configures a Server. Only Controller is required.
type Options struct {
	Controller Controller
	Status     *hub.Hub
	RTC        Answerer

	// SinkStats reports output counters for /api/stats.
	SinkStats func() output.Stats

	// CommandTimeout bounds POST /api/command.
	CommandTimeout time.Duration
}

// Server is the HTTP and websocket front end.
type Server struct {
	app    *fiber.App
	opts   Options
	logger *slog.Logger

	welcome []byte

	mu       sync.RWMutex
	sessions map[string]*Session

	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	busyRejected     atomic.Uint64
}

// New builds the server and registers its routes.
func New(opts Options) *Server {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 2 * time.Second
	}

	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
			AppName:               "roboarm",
		}),
		opts:     opts,
		logger:   log.Component("server"),
		welcome:  protocol.Encode(protocol.NewWelcome(true)),
		sessions: make(map[string]*Session),
	}

	s.app.Use(cors.New())
	s.registerRoutes()
	s.registerAPIRoutes(s.app.Group("/api"))
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown closes every command session, then stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	open := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.RUnlock()

	for _, sess := range open {
		sess.close()
	}
	s.logger.Info("shutting down", "sessions", len(open))
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/ws", websocket.New(s.handleSession))
	if s.opts.Status != nil {
		s.app.Get("/ws/status", s.opts.Status.Handler())
	}
}

// handleSession runs one command-channel connection.
func (s *Server) handleSession(c *websocket.Conn) {
	sess := newSession(uuid.NewString(), c)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	count := len(s.sessions)
	s.mu.Unlock()
	s.logger.Info("session connected", "session", sess.ID, "total", count)

	go sess.writePump(&s.messagesSent)
	sess.Reply(s.welcome)

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.ID)
		count := len(s.sessions)
		s.mu.Unlock()
		sess.close()
		<-sess.done
		s.logger.Info("session disconnected", "session", sess.ID, "remaining", count)
	}()

	c.SetReadLimit(sessionReadLimit)
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			s.logger.Debug("session read ended", "session", sess.ID, "error", err)
			return
		}
		sess.touch()
		s.messagesReceived.Add(1)
		s.submit(data, sess.Reply)
	}
}

// submit hands data to the controller, answering busy itself when the
// queue is full.
func (s *Server) submit(data []byte, reply controller.ReplyFunc) {
	err := s.opts.Controller.Submit(data, reply)
	switch {
	case err == nil:
	case errors.Is(err, controller.ErrBusy):
		s.busyRejected.Add(1)
		reply(protocol.CodeReply(protocol.CodeBusy))
	default:
		reply(protocol.CodeReply(protocol.CodeInternal))
	}
}

// SessionCount returns the number of command sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// SessionInfo describes a connected session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	Dropped   uint64    `json:"dropped"`
}

// SessionInfos lists connected sessions.
func (s *Server) SessionInfos() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, SessionInfo{
			ID:        sess.ID,
			Connected: sess.Connected,
			LastSeen:  sess.LastSeen(),
			Dropped:   sess.dropped.Load(),
		})
	}
	return infos
}

// Stats is the transport section of /api/stats.
type Stats struct {
	Sessions         int    `json:"sessions"`
	Observers        int    `json:"observers"`
	Peers            int    `json:"peers"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	BusyRejected     uint64 `json:"busy_rejected"`
}

// GetStats returns transport counters.
func (s *Server) GetStats() Stats {
	st := Stats{
		Sessions:         s.SessionCount(),
		MessagesReceived: s.messagesReceived.Load(),
		MessagesSent:     s.messagesSent.Load(),
		BusyRejected:     s.busyRejected.Load(),
	}
	if s.opts.Status != nil {
		st.Observers = s.opts.Status.ClientCount()
	}
	if s.opts.RTC != nil {
		st.Peers = s.opts.RTC.PeerCount()
	}
	return st
}
