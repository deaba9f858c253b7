package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/energizer-project/ladderbridge/internal/db"
	"github.com/energizer-project/ladderbridge/internal/events"
	"github.com/energizer-project/ladderbridge/internal/game"
	"github.com/energizer-project/ladderbridge/internal/relay"
	"github.com/energizer-project/ladderbridge/internal/session"
)

type fakeStatus struct{ st session.Status }

func (f fakeStatus) Status() session.Status { return f.st }

type fakeHistory struct{ records []db.SessionRecord }

func (f fakeHistory) Recent(ctx context.Context, limit int) ([]db.SessionRecord, error) {
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f fakeHistory) Get(ctx context.Context, id string) (db.SessionRecord, error) {
	for _, r := range f.records {
		if r.ID == id {
			return r, nil
		}
	}
	return db.SessionRecord{}, db.ErrNotFound
}

func newTestCLI(input string, history HistorySource) (*CLI, *bytes.Buffer, *events.EventBus) {
	bus := events.NewEventBus()
	status := fakeStatus{st: session.Status{
		ID:         "11111111-2222",
		State:      events.SessionRelaying,
		HostMode:   true,
		ListenAddr: "0.0.0.0:5677",
		EnginePort: 5679,
		EnginePID:  321,
		Map:        "InterloperLE.SC2Map",
		Relay:      relay.Stats{State: relay.StateIdle, Forwarded: 17},
		GameResult: &game.Result{Success: true},
	}}
	c := NewCLI(bus, status, history)
	out := &bytes.Buffer{}
	c.SetIO(strings.NewReader(input), out)
	return c, out, bus
}

func runCLI(t *testing.T, c *CLI) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("console did not return")
	}
}

func TestStatusCommand(t *testing.T) {
	c, out, _ := newTestCLI("status\n", nil)
	runCLI(t, c)

	text := out.String()
	for _, want := range []string{"relaying", "5679", "321", "17", "InterloperLE.SC2Map", "created"} {
		if !strings.Contains(text, want) {
			t.Errorf("status output missing %q:\n%s", want, text)
		}
	}
}

func TestHistoryCommand(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ended := started.Add(90 * time.Second)
	history := fakeHistory{records: []db.SessionRecord{
		{ID: "sess-1", Map: "A.SC2Map", HostMode: true, State: "ended", Forwarded: 5, StartedAt: started, EndedAt: &ended},
		{ID: "sess-2", Map: "B.SC2Map", State: "failed", StartedAt: started, EndedAt: &ended},
	}}
	c, out, _ := newTestCLI("history 1\nshow sess-2\n", history)
	runCLI(t, c)

	text := out.String()
	if !strings.Contains(text, "sess-1") || !strings.Contains(text, "1m30s") {
		t.Errorf("history output:\n%s", text)
	}
	if !strings.Contains(text, "relay-only") || !strings.Contains(text, "B.SC2Map") {
		t.Errorf("show output:\n%s", text)
	}
}

func TestHistoryDisabled(t *testing.T) {
	c, out, _ := newTestCLI("history\n", nil)
	runCLI(t, c)
	if !strings.Contains(out.String(), "session history is disabled") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestQuitEmitsShutdown(t *testing.T) {
	c, out, bus := newTestCLI("quit\nstatus\n", nil)

	got := make(chan events.Event, 1)
	bus.Subscribe(events.EventShutdown, "test", func(ctx context.Context, e events.Event) error {
		got <- e
		return nil
	})

	runCLI(t, c)

	select {
	case e := <-got:
		if e.Source != "cli" {
			t.Errorf("source = %q", e.Source)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown event not emitted")
	}
	if strings.Contains(out.String(), "relaying") {
		t.Error("console kept reading after quit")
	}
}

func TestUnknownCommand(t *testing.T) {
	c, out, _ := newTestCLI("frobnicate\n", nil)
	runCLI(t, c)
	if !strings.Contains(out.String(), "Unknown command: 'frobnicate'") {
		t.Errorf("output:\n%s", out.String())
	}
}
