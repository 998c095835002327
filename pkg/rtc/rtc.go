// Package rtc carries the command protocol over WebRTC data channels.
//
// Each peer opens one data channel; every text message on it is a payload
// for the controller and replies go back on the same channel. This gives
// stream clients an unordered, low-latency path alongside the websocket.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/multierr"

	"github.com/teslashibe/go-roboarm/internal/log"
	"github.com/teslashibe/go-roboarm/pkg/controller"
	"github.com/teslashibe/go-roboarm/pkg/protocol"
)

const peerSendBuffer = 64

var (
	// ErrBadOffer is returned when the remote description is not an offer.
	ErrBadOffer = errors.New("rtc: not an offer")
)

// Submitter is the controller entry point.
type Submitter interface {
	Submit(payload []byte, reply controller.ReplyFunc) error
}

// Manager negotiates and tracks peers.
type Manager struct {
	ctrl    Submitter
	api     *webrtc.API
	config  webrtc.Configuration
	logger  *slog.Logger
	welcome []byte

	mu    sync.Mutex
	peers map[string]*peer
}

// NewManager creates a manager. iceServers may be empty for LAN use.
func NewManager(ctrl Submitter, iceServers []string) *Manager {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &Manager{
		ctrl:    ctrl,
		config:  cfg,
		logger:  log.Component("rtc"),
		welcome: protocol.Encode(protocol.NewWelcome(true)),
		peers:   make(map[string]*peer),
	}
}

// WithAPI makes the manager create peers through api, e.g. one built with
// a custom SettingEngine.
func (m *Manager) WithAPI(api *webrtc.API) *Manager {
	m.api = api
	return m
}

// Answer accepts a remote offer and returns the local answer with all ICE
// candidates gathered, plus the new peer's ID.
func (m *Manager) Answer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, string, error) {
	if offer.Type != webrtc.SDPTypeOffer {
		return nil, "", ErrBadOffer
	}

	newPC := webrtc.NewPeerConnection
	if m.api != nil {
		newPC = m.api.NewPeerConnection
	}
	pc, err := newPC(m.config)
	if err != nil {
		return nil, "", fmt.Errorf("new peer connection: %w", err)
	}

	p := &peer{id: uuid.NewString(), pc: pc}
	m.wire(p)

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		pc.Close()
		return nil, "", ctx.Err()
	}

	m.mu.Lock()
	m.peers[p.id] = p
	m.mu.Unlock()
	m.logger.Info("peer negotiated", "peer", p.id)

	return pc.LocalDescription(), p.id, nil
}

func (m *Manager) wire(p *peer) {
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.logger.Debug("peer state", "peer", p.id, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			m.remove(p.id)
		}
	})

	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		ch := newChannel(dc)
		dc.OnOpen(func() {
			go ch.writePump()
			ch.Reply(m.welcome)
		})
		dc.OnClose(ch.close)
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if !msg.IsString {
				return
			}
			if err := m.ctrl.Submit(msg.Data, ch.Reply); err != nil {
				code := protocol.CodeInternal
				if errors.Is(err, controller.ErrBusy) {
					code = protocol.CodeBusy
				}
				ch.Reply(protocol.CodeReply(code))
			}
		})
	})
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	p, ok := m.peers[id]
	delete(m.peers, id)
	m.mu.Unlock()

	if ok {
		// Close from a fresh goroutine; this runs inside a pion callback.
		go p.pc.Close()
		m.logger.Info("peer removed", "peer", id)
	}
}

// PeerCount returns the number of negotiated peers.
func (m *Manager) PeerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

// Close closes every peer connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	peers := m.peers
	m.peers = make(map[string]*peer)
	m.mu.Unlock()

	var err error
	for _, p := range peers {
		err = multierr.Append(err, p.pc.Close())
	}
	return err
}

type peer struct {
	id string
	pc *webrtc.PeerConnection
}

// channel serializes replies onto one data channel.
type channel struct {
	dc   *webrtc.DataChannel
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newChannel(dc *webrtc.DataChannel) *channel {
	return &channel{dc: dc, send: make(chan []byte, peerSendBuffer)}
}

// Reply queues data without blocking; it is dropped if the peer is slow.
func (c *channel) Reply(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *channel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *channel) writePump() {
	for data := range c.send {
		if err := c.dc.SendText(string(data)); err != nil {
			return
		}
	}
}
