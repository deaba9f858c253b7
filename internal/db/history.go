package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/energizer-project/ladderbridge/internal/events"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SessionRecord is one row of the session history.
type SessionRecord struct {
	ID          string     `json:"id"`
	Type        string     `json:"type,omitempty"`
	Map         string     `json:"map"`
	GamePort    int        `json:"game_port"`
	EnginePort  int        `json:"engine_port"`
	HostMode    bool       `json:"host_mode"`
	EnginePID   int        `json:"engine_pid,omitempty"`
	GameCreated *bool      `json:"game_created,omitempty"`
	CreateError string     `json:"create_error,omitempty"`
	State       string     `json:"state"`
	Forwarded   uint64     `json:"forwarded"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// Duration returns how long the session ran, up to now if it is still open.
func (r SessionRecord) Duration() time.Duration {
	if r.EndedAt != nil {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// timeLayout keeps a fixed-width fraction so stored timestamps sort and
// compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when no session matches.
var ErrNotFound = errors.New("session not found")

// HistoryStore records the lifecycle of every bridge session.
type HistoryStore struct {
	db     *Database
	logger zerolog.Logger
}

// NewHistoryStore opens the history database and applies the schema.
func NewHistoryStore(ctx context.Context, dbPath string) (*HistoryStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	hs := &HistoryStore{
		db:     database,
		logger: log.With().Str("component", "history").Logger(),
	}

	if err := hs.migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	return hs, nil
}

// migrate creates the database schema.
func (hs *HistoryStore) migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			type         TEXT NOT NULL DEFAULT '',
			map          TEXT NOT NULL DEFAULT '',
			game_port    INTEGER NOT NULL DEFAULT 0,
			engine_port  INTEGER NOT NULL DEFAULT 0,
			host_mode    INTEGER NOT NULL DEFAULT 0,
			engine_pid   INTEGER NOT NULL DEFAULT 0,
			game_created INTEGER,
			create_error TEXT NOT NULL DEFAULT '',
			state        TEXT NOT NULL DEFAULT '',
			forwarded    INTEGER NOT NULL DEFAULT 0,
			error        TEXT NOT NULL DEFAULT '',
			started_at   TEXT NOT NULL,
			ended_at     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at)`,
	}

	return hs.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (hs *HistoryStore) Close() error {
	return hs.db.Close()
}

// Subscribe records session lifecycle events from bus.
func (hs *HistoryStore) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventSessionStarted, "history", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.SessionStartedPayload)
		if !ok {
			return nil
		}
		return hs.Start(ctx, SessionRecord{
			ID:         p.SessionID,
			Type:       p.Type,
			Map:        p.Map,
			GamePort:   p.GamePort,
			EnginePort: p.EnginePort,
			HostMode:   p.HostMode,
			State:      events.SessionLaunching.String(),
			StartedAt:  p.StartedAt,
		})
	})

	bus.Subscribe(events.EventEngineLaunched, "history", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.EngineLaunchedPayload)
		if !ok {
			return nil
		}
		_, err := hs.db.Exec(ctx, `UPDATE sessions SET engine_pid = ? WHERE id = ?`, p.PID, p.SessionID)
		return err
	})

	bus.Subscribe(events.EventGameCreated, "history", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.GameCreatedPayload)
		if !ok {
			return nil
		}
		createErr := p.ErrorDetail
		if p.ErrorKind != "" {
			createErr = p.ErrorKind
			if p.ErrorDetail != "" {
				createErr += ": " + p.ErrorDetail
			}
		}
		_, err := hs.db.Exec(ctx, `UPDATE sessions SET game_created = ?, create_error = ? WHERE id = ?`,
			p.Success, createErr, p.SessionID)
		return err
	})

	bus.Subscribe(events.EventSessionEnded, "history", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.SessionEndedPayload)
		if !ok {
			return nil
		}
		return hs.Finish(ctx, p.SessionID, p.State.String(), p.Forwarded, p.Error, p.EndedAt)
	})
}

// Start inserts a new session row.
func (hs *HistoryStore) Start(ctx context.Context, rec SessionRecord) error {
	_, err := hs.db.Exec(ctx,
		`INSERT INTO sessions (id, type, map, game_port, engine_port, host_mode, state, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Type, rec.Map, rec.GamePort, rec.EnginePort, rec.HostMode, rec.State,
		rec.StartedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", rec.ID, err)
	}
	hs.logger.Debug().Str("session", rec.ID).Msg("session recorded")
	return nil
}

// Finish closes a session row.
func (hs *HistoryStore) Finish(ctx context.Context, id, state string, forwarded uint64, errMsg string, endedAt time.Time) error {
	res, err := hs.db.Exec(ctx,
		`UPDATE sessions SET state = ?, forwarded = ?, error = ?, ended_at = ? WHERE id = ?`,
		state, int64(forwarded), errMsg, endedAt.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to finish session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Prune deletes finished sessions that started before cutoff and returns
// how many were removed. Open sessions are kept.
func (hs *HistoryStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := hs.db.Exec(ctx,
		`DELETE FROM sessions WHERE ended_at IS NOT NULL AND started_at < ?`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		hs.logger.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("pruned session history")
	}
	return n, nil
}

const selectColumns = `id, type, map, game_port, engine_port, host_mode, engine_pid, game_created,
	create_error, state, forwarded, error, started_at, ended_at`

// Recent returns up to limit sessions, newest first.
func (hs *HistoryStore) Recent(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := hs.db.Query(ctx,
		`SELECT `+selectColumns+` FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns one session by ID.
func (hs *HistoryStore) Get(ctx context.Context, id string) (SessionRecord, error) {
	row := hs.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (SessionRecord, error) {
	var (
		rec         SessionRecord
		forwarded   int64
		gameCreated sql.NullBool
		startedAt   string
		endedAt     sql.NullString
	)
	err := s.Scan(&rec.ID, &rec.Type, &rec.Map, &rec.GamePort, &rec.EnginePort, &rec.HostMode,
		&rec.EnginePID, &gameCreated, &rec.CreateError, &rec.State, &forwarded, &rec.Error,
		&startedAt, &endedAt)
	if err != nil {
		return rec, err
	}

	rec.Forwarded = uint64(forwarded)
	if gameCreated.Valid {
		v := gameCreated.Bool
		rec.GameCreated = &v
	}
	if t, err := time.Parse(timeLayout, startedAt); err == nil {
		rec.StartedAt = t
	}
	if endedAt.Valid {
		if t, err := time.Parse(timeLayout, endedAt.String); err == nil {
			rec.EndedAt = &t
		}
	}
	return rec, nil
}
