// Package network implements the bridge's two links: the retrying dialer for
// the engine's WebSocket endpoint and the externally-facing listener that
// mimics it for the ladder client.
package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// APIPath is the WebSocket path the engine serves its protocol on.
const APIPath = "/sc2api"

// WriteTimeout bounds a single frame write.
const WriteTimeout = 10 * time.Second

// ErrNoResponse is returned when a frame did not arrive within its timeout.
var ErrNoResponse = errors.New("no response within timeout")

// Connection wraps a WebSocket carrying binary protocol frames. Reads and
// writes are synchronous; the relay never has more than one request in
// flight, so no read/write pump goroutines are needed.
type Connection struct {
	mu     sync.Mutex
	ws     *websocket.Conn
	logger zerolog.Logger
	closed bool
}

// NewConnection wraps an established WebSocket.
func NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ws: ws,
		logger: log.With().
			Str("component", "connection").
			Str("remote", ws.RemoteAddr().String()).
			Logger(),
	}
}

// Send writes one binary frame.
func (c *Connection) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}

	c.ws.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Receive blocks for the next frame. A zero timeout waits indefinitely.
// Hitting the timeout returns ErrNoResponse; the connection is unusable after.
func (c *Connection) Receive(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		c.ws.SetReadDeadline(time.Now().Add(timeout))
	} else {
		c.ws.SetReadDeadline(time.Time{})
	}

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w (%s)", ErrNoResponse, timeout)
		}
		return nil, err
	}
	return data, nil
}

// Close sends a close frame and closes the socket.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.logger.Debug().Msg("connection closed")
	return c.ws.Close()
}

// IsClosed returns whether Close has been called.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}
