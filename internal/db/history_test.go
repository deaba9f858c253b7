package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/energizer-project/ladderbridge/internal/events"
)

func openStore(t *testing.T) *HistoryStore {
	t.Helper()
	hs, err := NewHistoryStore(context.Background(), filepath.Join(t.TempDir(), "history", "ladderbridge.db"))
	if err != nil {
		t.Fatalf("NewHistoryStore: %v", err)
	}
	t.Cleanup(func() { hs.Close() })
	return hs
}

func TestHistoryRecordsLifecycleEvents(t *testing.T) {
	hs := openStore(t)
	bus := events.NewEventBus()
	defer bus.Stop()
	hs.Subscribe(bus)

	ctx := context.Background()
	started := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

	emit := func(typ events.EventType, payload interface{}) {
		t.Helper()
		if err := bus.EmitSync(ctx, events.Event{Type: typ, Source: "test", Payload: payload}); err != nil {
			t.Fatalf("EmitSync(%s): %v", typ, err)
		}
	}

	emit(events.EventSessionStarted, events.SessionStartedPayload{
		SessionID: "s1", Type: "ranked", GamePort: 5677, EnginePort: 5679,
		Map: "InterloperLE.SC2Map", HostMode: true, StartedAt: started,
	})
	emit(events.EventEngineLaunched, events.EngineLaunchedPayload{SessionID: "s1", PID: 4242, Port: 5679})
	emit(events.EventGameCreated, events.GameCreatedPayload{SessionID: "s1", Success: false, ErrorKind: "Invalid Map Path", ErrorDetail: "no such map"})
	emit(events.EventSessionEnded, events.SessionEndedPayload{
		SessionID: "s1", State: events.SessionFailed, Forwarded: 12, Error: "boom", EndedAt: started.Add(30 * time.Second),
	})

	rec, err := hs.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Type != "ranked" || rec.GamePort != 5677 || rec.EnginePort != 5679 || !rec.HostMode {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.EnginePID != 4242 {
		t.Errorf("EnginePID = %d, want 4242", rec.EnginePID)
	}
	if rec.GameCreated == nil || *rec.GameCreated {
		t.Errorf("GameCreated = %v, want false", rec.GameCreated)
	}
	if rec.CreateError != "Invalid Map Path: no such map" {
		t.Errorf("CreateError = %q", rec.CreateError)
	}
	if rec.State != "failed" || rec.Forwarded != 12 || rec.Error != "boom" {
		t.Errorf("unexpected final state %+v", rec)
	}
	if !rec.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %s, want %s", rec.StartedAt, started)
	}
	if rec.EndedAt == nil || rec.Duration() != 30*time.Second {
		t.Errorf("Duration = %s, want 30s", rec.Duration())
	}
}

func TestHistoryRecentNewestFirst(t *testing.T) {
	hs := openStore(t)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"a", "b", "c"} {
		err := hs.Start(ctx, SessionRecord{ID: id, Map: "m", State: "relaying", StartedAt: base.Add(time.Duration(i) * time.Second)})
		if err != nil {
			t.Fatal(err)
		}
	}

	recs, err := hs.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "c" || recs[1].ID != "b" {
		t.Errorf("Recent = %+v, want c then b", recs)
	}
	if recs[0].EndedAt != nil || recs[0].GameCreated != nil {
		t.Errorf("expected open session without creation result, got %+v", recs[0])
	}
}

func TestHistoryNotFound(t *testing.T) {
	hs := openStore(t)
	ctx := context.Background()

	if _, err := hs.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
	if err := hs.Finish(ctx, "missing", "ended", 0, "", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Finish err = %v, want ErrNotFound", err)
	}
}

func TestHistoryReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.db")
	ctx := context.Background()

	hs, err := NewHistoryStore(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	hs.Start(ctx, SessionRecord{ID: "persisted", StartedAt: time.Now()})
	hs.Close()

	hs, err = NewHistoryStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer hs.Close()
	if _, err := hs.Get(ctx, "persisted"); err != nil {
		t.Errorf("Get after reopen: %v", err)
	}
}

func TestHistoryPruneKeepsOpenAndRecent(t *testing.T) {
	hs := openStore(t)
	ctx := context.Background()
	now := time.Now()

	old := now.Add(-40 * 24 * time.Hour)
	for _, rec := range []SessionRecord{
		{ID: "old-finished", State: "ended", StartedAt: old},
		{ID: "old-open", State: "relaying", StartedAt: old},
		{ID: "recent", State: "ended", StartedAt: now.Add(-time.Hour)},
	} {
		if err := hs.Start(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	hs.Finish(ctx, "old-finished", "ended", 1, "", old.Add(time.Minute))
	hs.Finish(ctx, "recent", "ended", 1, "", now)

	n, err := hs.Prune(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if _, err := hs.Get(ctx, "old-finished"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old finished session still present: %v", err)
	}
	for _, id := range []string{"old-open", "recent"} {
		if _, err := hs.Get(ctx, id); err != nil {
			t.Errorf("%s: %v", id, err)
		}
	}
}

func TestHistoryOrdersWithinOneSecond(t *testing.T) {
	hs := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, rec := range []SessionRecord{
		{ID: "older", State: "ended", StartedAt: base},
		{ID: "newer", State: "ended", StartedAt: base.Add(100 * time.Millisecond)},
	} {
		if err := hs.Start(ctx, rec); err != nil {
			t.Fatal(err)
		}
		hs.Finish(ctx, rec.ID, "ended", 0, "", rec.StartedAt.Add(time.Second))
	}

	recs, err := hs.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "newer" || recs[1].ID != "older" {
		t.Fatalf("Recent = %+v, want newer then older", recs)
	}
	if !recs[0].StartedAt.Equal(base.Add(100 * time.Millisecond)) {
		t.Errorf("started_at = %s, want %s", recs[0].StartedAt, base.Add(100*time.Millisecond))
	}

	n, err := hs.Prune(ctx, base.Add(50*time.Millisecond))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if _, err := hs.Get(ctx, "newer"); err != nil {
		t.Errorf("newer: %v", err)
	}
}
