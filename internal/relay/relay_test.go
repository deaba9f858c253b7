package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/energizer-project/ladderbridge/internal/network"
)

type fakeMailbox struct {
	requests chan network.Message

	mu        sync.Mutex
	responses []network.Message
	delivered chan struct{}
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		requests:  make(chan network.Message, 16),
		delivered: make(chan struct{}, 16),
	}
}

func (m *fakeMailbox) Requests() <-chan network.Message { return m.requests }

func (m *fakeMailbox) Respond(msg network.Message) error {
	m.mu.Lock()
	m.responses = append(m.responses, msg)
	m.mu.Unlock()
	m.delivered <- struct{}{}
	return nil
}

func (m *fakeMailbox) all() []network.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]network.Message(nil), m.responses...)
}

// fakeEngine answers every request with "re:" + payload and fails the test
// if a second request arrives before the first was read back.
type fakeEngine struct {
	t        *testing.T
	mu       sync.Mutex
	pending  [][]byte
	inFlight bool
	sent     [][]byte
	silent   bool
	unblock  chan struct{}
}

func (e *fakeEngine) Send(payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight {
		e.t.Errorf("request %q sent while another was in flight", payload)
	}
	e.inFlight = true
	e.sent = append(e.sent, payload)
	e.pending = append(e.pending, payload)
	return nil
}

func (e *fakeEngine) Receive(timeout time.Duration) ([]byte, error) {
	if e.silent {
		select {
		case <-e.unblock:
			return nil, errors.New("use of closed network connection")
		case <-time.After(timeout):
			return nil, fmt.Errorf("%w (%s)", network.ErrNoResponse, timeout)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	req := e.pending[0]
	e.pending = e.pending[1:]
	e.inFlight = false
	return append([]byte("re:"), req...), nil
}

type countingTerminator struct {
	calls atomic.Int32
	hook  func()
}

func (c *countingTerminator) Terminate() error {
	c.calls.Add(1)
	if c.hook != nil {
		c.hook()
	}
	return nil
}

func TestRelayForwardsInOrder(t *testing.T) {
	mailbox := newFakeMailbox()
	engine := &fakeEngine{t: t}
	term := &countingTerminator{}
	r := New(mailbox, engine, term, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	const n = 5
	for i := 1; i <= n; i++ {
		mailbox.requests <- network.Message{Token: uint64(i), Payload: []byte(fmt.Sprintf("req%d", i))}
	}
	for i := 0; i < n; i++ {
		select {
		case <-mailbox.delivered:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d responses", i)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	responses := mailbox.all()
	if len(responses) != n {
		t.Fatalf("expected %d responses, got %d", n, len(responses))
	}
	for i, resp := range responses {
		wantToken := uint64(i + 1)
		want := fmt.Sprintf("re:req%d", i+1)
		if resp.Token != wantToken || string(resp.Payload) != want {
			t.Errorf("response %d = {%d %q}, want {%d %q}", i, resp.Token, resp.Payload, wantToken, want)
		}
	}
	for i, sent := range engine.sent {
		if want := fmt.Sprintf("req%d", i+1); string(sent) != want {
			t.Errorf("engine request %d = %q, want %q", i, sent, want)
		}
	}

	if got := term.calls.Load(); got != 1 {
		t.Errorf("expected exactly one terminate, got %d", got)
	}
	if stats := r.Stats(); stats.Forwarded != n {
		t.Errorf("Forwarded = %d, want %d", stats.Forwarded, n)
	}
}

func TestRelayShutdownWhileIdle(t *testing.T) {
	mailbox := newFakeMailbox()
	engine := &fakeEngine{t: t}
	term := &countingTerminator{}
	r := New(mailbox, engine, term, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	if r.State() != StateIdle {
		t.Errorf("State = %s, want idle", r.State())
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
	if got := term.calls.Load(); got != 1 {
		t.Errorf("expected exactly one terminate, got %d", got)
	}
	if len(engine.sent) != 0 {
		t.Errorf("expected no forwarded requests, got %d", len(engine.sent))
	}
}

func TestRelayShutdownWhileForwarding(t *testing.T) {
	mailbox := newFakeMailbox()
	engine := &fakeEngine{t: t, silent: true, unblock: make(chan struct{})}
	// Killing the engine closes its socket, which unblocks the pending read.
	term := &countingTerminator{hook: func() { close(engine.unblock) }}
	r := New(mailbox, engine, term, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	mailbox.requests <- network.Message{Token: 1, Payload: []byte("step")}
	deadline := time.Now().Add(2 * time.Second)
	for r.State() != StateForwarding && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
	if got := term.calls.Load(); got != 1 {
		t.Errorf("expected exactly one terminate, got %d", got)
	}
}

func TestRelayEngineTimeout(t *testing.T) {
	mailbox := newFakeMailbox()
	engine := &fakeEngine{t: t, silent: true, unblock: make(chan struct{})}
	term := &countingTerminator{}
	r := New(mailbox, engine, term, 50*time.Millisecond)

	mailbox.requests <- network.Message{Token: 7, Payload: []byte("observation")}

	err := r.Run(context.Background())
	if !errors.Is(err, network.ErrNoResponse) {
		t.Fatalf("err = %v, want ErrNoResponse", err)
	}
	if got := term.calls.Load(); got != 1 {
		t.Errorf("expected exactly one terminate, got %d", got)
	}
	if len(mailbox.all()) != 0 {
		t.Error("expected no response to be delivered")
	}
}

func TestRelayPassesBytesUnmodified(t *testing.T) {
	mailbox := newFakeMailbox()
	engine := &fakeEngine{t: t}
	r := New(mailbox, engine, &countingTerminator{}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	payload := []byte{0x00, 0xff, 0x10, 0x00}
	mailbox.requests <- network.Message{Token: 1, Payload: payload}
	<-mailbox.delivered

	engine.mu.Lock()
	sent := engine.sent[0]
	engine.mu.Unlock()
	if string(sent) != string(payload) {
		t.Errorf("engine received %x, want %x", sent, payload)
	}
	if got := mailbox.all()[0].Payload; string(got) != "re:"+string(payload) {
		t.Errorf("client received %x", got)
	}
}

func TestRelayShutdownWinsOverPendingRequest(t *testing.T) {
	for i := 0; i < 50; i++ {
		mailbox := newFakeMailbox()
		engine := &fakeEngine{t: t}
		term := &countingTerminator{}
		r := New(mailbox, engine, term, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		mailbox.requests <- network.Message{Token: 1, Payload: []byte("late")}

		if err := r.Run(ctx); err != nil {
			t.Fatalf("Run: %v", err)
		}
		engine.mu.Lock()
		sent := len(engine.sent)
		engine.mu.Unlock()
		if sent != 0 {
			t.Fatalf("iteration %d: forwarded %d requests after shutdown", i, sent)
		}
		if got := term.calls.Load(); got != 1 {
			t.Fatalf("iteration %d: terminate calls = %d, want 1", i, got)
		}
	}
}
