package main

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a command-channel connection to a roboarm daemon.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration

	// Welcome is the greeting the daemon sent on connect.
	Welcome []byte
}

// Dial connects to url and reads the welcome message.
func Dial(url string, timeout time.Duration) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	c := &Client{conn: conn, timeout: timeout}
	if c.Welcome, err = c.read(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("no welcome from %s: %w", url, err)
	}
	return c, nil
}

// Request sends payload and waits for its reply.
func (c *Client) Request(payload []byte) ([]byte, error) {
	if err := c.Send(payload); err != nil {
		return nil, err
	}
	return c.read()
}

// Send writes payload without waiting for a reply.
func (c *Client) Send(payload []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Next blocks for the next message with no deadline.
func (c *Client) Next() ([]byte, error) {
	c.conn.SetReadDeadline(time.Time{})
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *Client) read() ([]byte, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// Close closes the connection.
func (c *Client) Close() error {
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
