package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Message is one relayed frame. Token pairs a request with its response.
type Message struct {
	Token   uint64
	Payload []byte
}

// ErrUnknownToken is returned by Respond when no client waits for the token,
// typically because the client disconnected mid-exchange.
var ErrUnknownToken = errors.New("no pending request for token")

// Listener is the externally-facing endpoint the ladder client connects to.
// It serves the engine's WebSocket path, accepts one client at a time and
// hands each request frame to the relay through a mailbox of depth one.
// The reading goroutine does not take the next frame until the previous
// request has been answered.
type Listener struct {
	addr   string
	logger zerolog.Logger

	upgrader websocket.Upgrader
	router   *gin.Engine
	server   *http.Server
	ln       net.Listener

	requests chan Message
	seq      atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan []byte
	client  *Connection

	busy    atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
}

// NewListener creates a listener for addr (host:port).
func NewListener(addr string) *Listener {
	l := &Listener{
		addr:     addr,
		requests: make(chan Message, 1),
		pending:  make(map[uint64]chan []byte),
		done:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.With().Str("component", "listener").Str("addr", addr).Logger(),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET(APIPath, l.handleClient)
	l.router = router

	return l
}

// Start binds the listening socket and serves in the background. It returns
// once the port is bound so callers can launch the engine afterwards.
func (l *Listener) Start(ctx context.Context) error {
	lc := reuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to start listener on %s: %w", l.addr, err)
	}
	l.ln = ln
	l.server = &http.Server{
		Handler:           l.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	l.logger.Info().Str("bound", ln.Addr().String()).Msg("listener started")

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error().Err(err).Msg("listener serve failed")
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.done:
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Requests returns the mailbox the relay takes pending requests from.
func (l *Listener) Requests() <-chan Message {
	return l.requests
}

// Respond queues the response for the client waiting on msg.Token.
func (l *Listener) Respond(msg Message) error {
	l.mu.Lock()
	ch, ok := l.pending[msg.Token]
	if ok {
		delete(l.pending, msg.Token)
	}
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownToken, msg.Token)
	}
	ch <- msg.Payload
	return nil
}

// HasClient reports whether a ladder client is connected.
func (l *Listener) HasClient() bool {
	return l.busy.Load()
}

// Stop closes the listening socket and the active client, if any.
func (l *Listener) Stop() error {
	if l.stopped.Swap(true) {
		return nil
	}
	close(l.done)

	l.mu.Lock()
	client := l.client
	l.mu.Unlock()
	if client != nil {
		client.Close()
	}

	if l.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := l.server.Shutdown(ctx)
	l.logger.Info().Msg("listener stopped")
	return err
}

// handleClient upgrades the request and runs the request/response loop for
// one ladder client.
func (l *Listener) handleClient(c *gin.Context) {
	if !l.busy.CompareAndSwap(false, true) {
		l.logger.Warn().Str("remote", c.ClientIP()).Msg("refusing second client")
		c.JSON(http.StatusConflict, gin.H{"error": "a client is already connected"})
		return
	}
	defer l.busy.Store(false)

	ws, err := l.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := NewConnection(ws)
	defer conn.Close()

	l.mu.Lock()
	l.client = conn
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.client = nil
		l.mu.Unlock()
	}()

	logger := l.logger.With().Str("remote", ws.RemoteAddr().String()).Logger()
	logger.Info().Msg("ladder client connected")

	for {
		payload, err := conn.Receive(0)
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || conn.IsClosed() {
				logger.Info().Msg("ladder client disconnected")
			} else {
				logger.Warn().Err(err).Msg("read from ladder client failed")
			}
			return
		}

		token := l.seq.Add(1)
		reply := make(chan []byte, 1)

		l.mu.Lock()
		l.pending[token] = reply
		l.mu.Unlock()

		select {
		case l.requests <- Message{Token: token, Payload: payload}:
		case <-l.done:
			l.forget(token)
			return
		}

		select {
		case resp := <-reply:
			if err := conn.Send(resp); err != nil {
				logger.Warn().Err(err).Uint64("token", token).Msg("failed to deliver response")
				return
			}
		case <-l.done:
			l.forget(token)
			return
		}
	}
}

func (l *Listener) forget(token uint64) {
	l.mu.Lock()
	delete(l.pending, token)
	l.mu.Unlock()
}
