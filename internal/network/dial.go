package network

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Default connect policy. The engine needs a while to start listening after
// it has been launched; 60 attempts a second apart covers slow machines.
const (
	DefaultRetryLimit    = 60
	DefaultRetryInterval = time.Second
	handshakeTimeout     = 5 * time.Second
)

// Endpoint describes one connect attempt series.
type Endpoint struct {
	Host          string
	Port          int
	RetryLimit    int
	RetryInterval time.Duration
}

// URL returns the WebSocket URL of the endpoint.
func (e Endpoint) URL() string {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(e.Host, strconv.Itoa(e.Port)),
		Path:   APIPath,
	}
	return u.String()
}

// ConnectError reports an exhausted retry budget.
type ConnectError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

type dialFunc func(ctx context.Context, rawURL string) (*websocket.Conn, error)

func websocketDial(ctx context.Context, rawURL string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return ws, err
}

// Connect dials the endpoint, sleeping RetryInterval after every failed
// attempt. After RetryLimit failures it returns a *ConnectError. Cancelling
// ctx stops the wait early and returns the context error.
func Connect(ctx context.Context, ep Endpoint) (*Connection, error) {
	return connect(ctx, ep, websocketDial)
}

func connect(ctx context.Context, ep Endpoint, dial dialFunc) (*Connection, error) {
	limit := ep.RetryLimit
	if limit < 1 {
		limit = 1
	}

	target := ep.URL()
	logger := log.With().Str("component", "dialer").Str("endpoint", target).Logger()

	var lastErr error
	for attempt := 1; ; attempt++ {
		ws, err := dial(ctx, target)
		if err == nil {
			logger.Info().Int("attempts", attempt).Msg("connected")
			return NewConnection(ws), nil
		}
		lastErr = err

		logger.Debug().Err(err).Int("attempt", attempt).Int("max", limit).Msg("connect failed, retrying")

		timer := time.NewTimer(ep.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		if attempt >= limit {
			logger.Error().Err(lastErr).Int("attempts", attempt).Msg("connect retry budget exhausted")
			return nil, &ConnectError{Endpoint: target, Attempts: attempt, Err: lastErr}
		}
	}
}
