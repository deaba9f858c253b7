// Package session runs one bridge session end to end: listen for the ladder
// client, launch the engine, connect to it, create the game in host mode and
// relay until shutdown. The engine is terminated on every exit path.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/ladderbridge/internal/config"
	"github.com/energizer-project/ladderbridge/internal/engine"
	"github.com/energizer-project/ladderbridge/internal/events"
	"github.com/energizer-project/ladderbridge/internal/game"
	"github.com/energizer-project/ladderbridge/internal/maps"
	"github.com/energizer-project/ladderbridge/internal/network"
	"github.com/energizer-project/ladderbridge/internal/relay"
)

// ErrEngineExited ends a session whose engine process died on its own.
var ErrEngineExited = errors.New("engine process exited")

// Engine is a launched engine process.
type Engine interface {
	PID() int
	Terminate() error
	Done() <-chan struct{}
}

// resourceProbe is implemented by engines that can report their usage.
type resourceProbe interface {
	CPUPercent() (float64, error)
	MemoryMB() (float64, error)
}

// Launcher starts an engine process.
type Launcher func(ctx context.Context, cfg engine.LaunchConfig) (Engine, error)

// LaunchProcess is the Launcher backed by a real OS process.
func LaunchProcess(ctx context.Context, cfg engine.LaunchConfig) (Engine, error) {
	p, err := engine.Launch(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Status is a point-in-time view of a session.
type Status struct {
	ID              string              `json:"id"`
	Type            string              `json:"type,omitempty"`
	State           events.SessionState `json:"state"`
	HostMode        bool                `json:"host_mode"`
	ListenAddr      string              `json:"listen_addr"`
	EnginePort      int                 `json:"engine_port"`
	Map             string              `json:"map"`
	ResolvedMap     string              `json:"resolved_map,omitempty"`
	EnginePID       int                 `json:"engine_pid,omitempty"`
	EngineCPU       float64             `json:"engine_cpu_percent,omitempty"`
	EngineMemoryMB  float64             `json:"engine_memory_mb,omitempty"`
	ClientConnected bool                `json:"client_connected"`
	Relay           relay.Stats         `json:"relay"`
	GameResult      *game.Result        `json:"game_result,omitempty"`
	Error           string              `json:"error,omitempty"`
	StartedAt       time.Time           `json:"started_at"`
	EndedAt         *time.Time          `json:"ended_at,omitempty"`
}

// Session is a single bridged match.
type Session struct {
	id       string
	cfg      config.LadderData
	bus      *events.EventBus
	launcher Launcher
	logger   zerolog.Logger

	mu          sync.Mutex
	state       events.SessionState
	startedAt   time.Time
	endedAt     time.Time
	listener    *network.Listener
	engine      Engine
	relay       *relay.Relay
	mapRef      maps.Reference
	gameResult  *game.Result
	err         error
	ran         bool
	terminateMu sync.Mutex
	terminated  bool
}

// New creates a session for cfg. A nil launcher means LaunchProcess.
func New(cfg config.LadderData, bus *events.EventBus, launcher Launcher) *Session {
	if launcher == nil {
		launcher = LaunchProcess
	}
	id := uuid.NewString()
	return &Session{
		id:       id,
		cfg:      cfg,
		bus:      bus,
		launcher: launcher,
		state:    events.SessionIdle,
		logger: log.With().
			Str("component", "session").
			Str("session", id).
			Str("type", cfg.Type).
			Logger(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Run executes the session and blocks until it ends. Cancelling ctx is the
// shutdown signal: the relay stops and the engine is terminated. A clean
// shutdown returns nil. A session can only be run once.
func (s *Session) Run(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return errors.New("session already ran")
	}
	s.ran = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	defer func() {
		s.finish(err)
	}()

	s.logger.Info().
		Str("listen", s.cfg.ListenAddr()).
		Int("engine_port", s.cfg.EnginePort()).
		Bool("host_mode", s.cfg.HostMode()).
		Str("ladder_server", s.cfg.LadderServer).
		Msg("session starting")

	// The listener comes first so the ladder client can connect while the
	// engine is still starting.
	listener := network.NewListener(s.cfg.ListenAddr())
	if err := listener.Start(runCtx); err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	defer listener.Stop()

	s.emit(ctx, events.EventSessionStarted, events.SessionStartedPayload{
		SessionID:  s.id,
		Type:       s.cfg.Type,
		GamePort:   s.cfg.GamePort,
		EnginePort: s.cfg.EnginePort(),
		Map:        s.cfg.Map,
		HostMode:   s.cfg.HostMode(),
		StartedAt:  s.startedAt,
	})

	s.setState(events.SessionLaunching)
	eng, err := s.launcher(runCtx, engine.LaunchConfig{
		Executable:  s.cfg.Engine.Executable,
		ListenAddr:  engine.DefaultListenAddr,
		Port:        s.cfg.EnginePort(),
		DisplayMode: s.cfg.Engine.DisplayMode,
		DataVersion: s.cfg.Engine.DataVersion,
		WorkDir:     s.cfg.Engine.WorkDir,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.engine = eng
	s.mu.Unlock()
	defer s.terminate()

	s.emit(ctx, events.EventEngineLaunched, events.EngineLaunchedPayload{
		SessionID: s.id,
		PID:       eng.PID(),
		Port:      s.cfg.EnginePort(),
	})

	// Watchdog: an engine that dies mid-session ends it.
	go func() {
		select {
		case <-eng.Done():
			cancel(ErrEngineExited)
		case <-runCtx.Done():
		}
	}()
	stopTerminate := context.AfterFunc(runCtx, s.terminate)
	defer stopTerminate()

	s.setState(events.SessionConnecting)
	endpoint := network.Endpoint{
		Host:          engine.DefaultListenAddr,
		Port:          s.cfg.EnginePort(),
		RetryLimit:    s.cfg.Engine.ConnectRetryLimit,
		RetryInterval: s.cfg.Engine.RetryInterval(),
	}
	conn, err := network.Connect(runCtx, endpoint)
	if err != nil {
		return s.interrupted(runCtx, err)
	}
	defer conn.Close()

	s.emit(ctx, events.EventEngineConnected, events.EngineConnectedPayload{
		SessionID: s.id,
		Endpoint:  endpoint.URL(),
	})

	if s.cfg.HostMode() {
		if err := s.createGame(ctx, conn); err != nil {
			return s.interrupted(runCtx, err)
		}
	} else {
		s.logger.Info().Str("ladder_server", s.cfg.LadderServer).Msg("relay-only mode, game is created by the ladder server")
	}

	s.setState(events.SessionRelaying)
	r := relay.New(listener, conn, terminatorFunc(s.terminate), s.cfg.Engine.ResponseTimeout())
	s.mu.Lock()
	s.relay = r
	s.mu.Unlock()

	s.emit(ctx, events.EventRelayStarted, events.RelayStartedPayload{SessionID: s.id})

	if err := r.Run(runCtx); err != nil {
		return s.interrupted(runCtx, err)
	}
	return s.interrupted(runCtx, nil)
}

// createGame resolves the map and issues the create-game request.
func (s *Session) createGame(ctx context.Context, conn game.Conn) error {
	s.setState(events.SessionCreatingGame)

	players, err := s.cfg.Players()
	if err != nil {
		return fmt.Errorf("%w: %v", game.ErrInvalidPlayers, err)
	}

	ref := maps.Resolve(s.cfg.Map, s.cfg.MapSearchRoots())
	s.mu.Lock()
	s.mapRef = ref
	s.mu.Unlock()
	s.logger.Info().Str("map", s.cfg.Map).Stringer("resolved", ref).Msg("map resolved")

	svc := game.NewService(s.cfg.Engine.ResponseTimeout())
	res, err := svc.CreateGame(conn, players, ref)
	if err != nil {
		s.emit(ctx, events.EventGameCreated, events.GameCreatedPayload{
			SessionID:   s.id,
			Map:         ref.String(),
			ErrorKind:   game.ErrorUnknown.String(),
			ErrorDetail: err.Error(),
		})
		return err
	}

	s.mu.Lock()
	s.gameResult = &res
	s.mu.Unlock()

	payload := events.GameCreatedPayload{
		SessionID:   s.id,
		Map:         ref.String(),
		Success:     res.Success,
		ErrorDetail: res.ErrorDetail,
	}
	if res.ErrorKind != game.ErrorNone {
		payload.ErrorKind = res.ErrorKind.String()
	}
	s.emit(ctx, events.EventGameCreated, payload)

	if !res.Success {
		if s.cfg.AbortOnCreateFailure {
			return res.Err()
		}
		s.logger.Warn().Err(res.Err()).Msg("continuing to relay after failed game creation")
	}
	return nil
}

// interrupted maps the outcome of a blocking step to the session result:
// an engine exit takes precedence, a plain shutdown is not an error.
func (s *Session) interrupted(runCtx context.Context, err error) error {
	cause := context.Cause(runCtx)
	if errors.Is(cause, ErrEngineExited) {
		return ErrEngineExited
	}
	if runCtx.Err() != nil {
		if err != nil {
			s.logger.Debug().Err(err).Msg("step ended by shutdown")
		}
		return nil
	}
	return err
}

func (s *Session) finish(err error) {
	s.mu.Lock()
	s.endedAt = time.Now()
	s.err = err
	if err != nil {
		s.state = events.SessionFailed
	} else {
		s.state = events.SessionEnded
	}
	payload := events.SessionEndedPayload{
		SessionID: s.id,
		Type:      s.cfg.Type,
		Map:       s.cfg.Map,
		State:     s.state,
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
	}
	if s.relay != nil {
		payload.Forwarded = s.relay.Stats().Forwarded
	}
	s.mu.Unlock()

	if err != nil {
		payload.Error = err.Error()
		s.logger.Error().Err(err).Uint64("forwarded", payload.Forwarded).Msg("session failed")
	} else {
		s.logger.Info().Uint64("forwarded", payload.Forwarded).Msg("session ended")
	}

	s.emit(context.Background(), events.EventSessionEnded, payload)
}

// terminate ends the engine process once.
func (s *Session) terminate() {
	s.terminateMu.Lock()
	defer s.terminateMu.Unlock()
	if s.terminated {
		return
	}

	s.mu.Lock()
	eng := s.engine
	s.mu.Unlock()
	if eng == nil {
		return
	}
	s.terminated = true

	prev := s.State()
	if prev != events.SessionIdle {
		s.setState(events.SessionStopping)
	}
	if err := eng.Terminate(); err != nil {
		s.logger.Error().Err(err).Msg("failed to terminate engine")
	}
}

func (s *Session) setState(state events.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.logger.Debug().Stringer("state", state).Msg("session state")
}

// State returns the current session state.
func (s *Session) State() events.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error the session ended with, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) emit(ctx context.Context, typ events.EventType, payload interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.EmitSync(ctx, events.Event{Type: typ, Source: "session", Payload: payload}); err != nil {
		s.logger.Warn().Err(err).Str("event", string(typ)).Msg("event handler failed")
	}
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		ID:         s.id,
		Type:       s.cfg.Type,
		State:      s.state,
		HostMode:   s.cfg.HostMode(),
		ListenAddr: s.cfg.ListenAddr(),
		EnginePort: s.cfg.EnginePort(),
		Map:        s.cfg.Map,
		GameResult: s.gameResult,
		StartedAt:  s.startedAt,
	}
	if s.mapRef.Value != "" {
		st.ResolvedMap = s.mapRef.String()
	}
	if s.listener != nil {
		if addr := s.listener.Addr(); addr != nil {
			st.ListenAddr = addr.String()
		}
		st.ClientConnected = s.listener.HasClient()
	}
	if s.relay != nil {
		st.Relay = s.relay.Stats()
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		st.EndedAt = &ended
	}
	eng := s.engine
	s.mu.Unlock()

	if eng != nil {
		st.EnginePID = eng.PID()
		if probe, ok := eng.(resourceProbe); ok && st.EndedAt == nil {
			if cpu, err := probe.CPUPercent(); err == nil {
				st.EngineCPU = cpu
			}
			if mem, err := probe.MemoryMB(); err == nil {
				st.EngineMemoryMB = mem
			}
		}
	}
	return st
}

type terminatorFunc func()

func (f terminatorFunc) Terminate() error {
	f()
	return nil
}
