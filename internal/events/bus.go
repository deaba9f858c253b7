package events

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus is the publish-subscribe hub of the bridge. The session emits its
// lifecycle through it; history, telemetry, health and the console subscribe.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopped  bool
	inflight sync.WaitGroup
	logger   zerolog.Logger
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		logger:   log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a named handler for one event type. Handlers of the
// same type run concurrently with each other.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{name: name, handler: handler})
	eb.mu.Unlock()

	eb.logger.Debug().Str("event", string(eventType)).Str("handler", name).Msg("subscribed")
}

// handlersFor snapshots the handlers of eventType. With track set, they are
// counted as in flight before the lock is released so Stop waits for them.
func (eb *EventBus) handlersFor(eventType EventType, track bool) []handlerEntry {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.stopped {
		return nil
	}
	hs := slices.Clone(eb.handlers[eventType])
	if track {
		eb.inflight.Add(len(hs))
	}
	return hs
}

// Emit hands the event to every handler in its own goroutine and returns
// immediately. Handler errors are logged.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	for _, h := range eb.handlersFor(event.Type, true) {
		h := h
		go func() {
			defer eb.inflight.Done()
			eb.dispatch(ctx, h, event)
		}()
	}
}

// EmitSync runs every handler and waits for all of them. It returns the
// first handler error; a panicking handler counts as one.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	hs := eb.handlersFor(event.Type, false)
	errs := make([]error, len(hs))

	var wg sync.WaitGroup
	for i, h := range hs {
		i, h := i, h
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = eb.dispatch(ctx, h, event)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (eb *EventBus) dispatch(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", h.name, r)
		}
		if err != nil {
			eb.logger.Error().Err(err).
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Msg("event handler failed")
		}
	}()
	return h.handler(ctx, event)
}

// Stop drops every later event and waits for handlers started by Emit.
// Calling it again is a no-op.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	eb.mu.Unlock()

	eb.inflight.Wait()
	eb.logger.Info().Msg("event bus stopped")
}

// Wait blocks until every handler started by Emit has returned.
func (eb *EventBus) Wait() {
	eb.inflight.Wait()
}
