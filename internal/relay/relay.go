// Package relay shuttles opaque protocol frames between the ladder client
// and the engine, one request at a time.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/energizer-project/ladderbridge/internal/network"
	"github.com/energizer-project/ladderbridge/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ResponseTimeout is how long the engine gets to answer a relayed request.
const ResponseTimeout = 100 * time.Second

// State is the relay's position in its request/response cycle.
type State int32

const (
	StateIdle State = iota
	StateForwarding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateForwarding:
		return "forwarding"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes State as a JSON string.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Mailbox is the client side of the relay: pending requests come out of
// Requests, answers go back through Respond carrying the request's token.
type Mailbox interface {
	Requests() <-chan network.Message
	Respond(msg network.Message) error
}

// Engine is the engine side of the relay.
type Engine interface {
	Send(payload []byte) error
	Receive(timeout time.Duration) ([]byte, error)
}

// Terminator ends the engine process.
type Terminator interface {
	Terminate() error
}

// Stats is a point-in-time view of the relay.
type Stats struct {
	State       State     `json:"state"`
	Forwarded   uint64    `json:"forwarded"`
	LastRequest string    `json:"last_request,omitempty"`
	LastAt      time.Time `json:"last_at,omitempty"`
}

// Relay forwards requests strictly in arrival order with no pipelining: the
// next request is not taken before the previous response was handed back.
type Relay struct {
	mailbox    Mailbox
	engine     Engine
	terminator Terminator
	timeout    time.Duration
	logger     zerolog.Logger

	state     atomic.Int32
	forwarded atomic.Uint64

	mu          sync.Mutex
	lastRequest string
	lastAt      time.Time

	terminateOnce sync.Once
}

// New creates a relay. A zero timeout means ResponseTimeout.
func New(mailbox Mailbox, engine Engine, terminator Terminator, timeout time.Duration) *Relay {
	if timeout <= 0 {
		timeout = ResponseTimeout
	}
	return &Relay{
		mailbox:    mailbox,
		engine:     engine,
		terminator: terminator,
		timeout:    timeout,
		logger:     log.With().Str("component", "relay").Logger(),
	}
}

// Run relays until ctx is cancelled or the engine link fails. Whatever ends
// the loop, the engine process is terminated exactly once before Run
// returns; cancellation terminates it even while a request is in flight.
// Cancellation is a clean stop and returns nil.
func (r *Relay) Run(ctx context.Context) error {
	defer r.terminate()

	stop := context.AfterFunc(ctx, r.terminate)
	defer stop()

	r.logger.Info().Dur("timeout", r.timeout).Msg("relay started")

	for {
		r.state.Store(int32(StateIdle))

		var msg network.Message
		select {
		case <-ctx.Done():
			r.logger.Info().Uint64("forwarded", r.forwarded.Load()).Msg("relay stopped")
			return nil
		case m, ok := <-r.mailbox.Requests():
			if !ok {
				r.logger.Info().Msg("request mailbox closed")
				return nil
			}
			msg = m
		}

		// shutdown wins over a request that arrived at the same time
		if ctx.Err() != nil {
			r.logger.Info().Uint64("token", msg.Token).Msg("relay stopped with a request pending")
			return nil
		}

		if err := r.forward(msg); err != nil {
			if ctx.Err() != nil {
				r.logger.Info().Err(err).Msg("relay interrupted by shutdown")
				return nil
			}
			r.logger.Error().Err(err).Uint64("token", msg.Token).Msg("relay failed")
			return err
		}
	}
}

// forward performs one request/response cycle.
func (r *Relay) forward(msg network.Message) error {
	r.state.Store(int32(StateForwarding))

	kind := protocol.RequestKind(msg.Payload)
	r.mu.Lock()
	r.lastRequest = kind
	r.lastAt = time.Now()
	r.mu.Unlock()

	r.logger.Debug().
		Uint64("token", msg.Token).
		Str("request", kind).
		Int("bytes", len(msg.Payload)).
		Msg("forwarding request")

	if err := r.engine.Send(msg.Payload); err != nil {
		return fmt.Errorf("failed to forward request: %w", err)
	}

	resp, err := r.engine.Receive(r.timeout)
	if err != nil {
		if errors.Is(err, network.ErrNoResponse) {
			return fmt.Errorf("engine did not answer %s request: %w", kind, err)
		}
		return fmt.Errorf("failed to read engine response: %w", err)
	}

	r.forwarded.Add(1)

	if err := r.mailbox.Respond(network.Message{Token: msg.Token, Payload: resp}); err != nil {
		r.logger.Warn().Err(err).Uint64("token", msg.Token).Msg("response could not be delivered")
	}
	return nil
}

func (r *Relay) terminate() {
	r.terminateOnce.Do(func() {
		if r.terminator == nil {
			return
		}
		if err := r.terminator.Terminate(); err != nil {
			r.logger.Error().Err(err).Msg("failed to terminate engine")
		}
	})
}

// State returns the current relay state.
func (r *Relay) State() State {
	return State(r.state.Load())
}

// Stats returns a snapshot of the relay counters.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		State:       r.State(),
		Forwarded:   r.forwarded.Load(),
		LastRequest: r.lastRequest,
		LastAt:      r.lastAt,
	}
}
