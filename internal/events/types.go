// Package events defines the session lifecycle events exchanged over the
// in-process EventBus.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle
	EventSessionStarted  EventType = "session_started"
	EventEngineLaunched  EventType = "engine_launched"
	EventEngineConnected EventType = "engine_connected"
	EventGameCreated     EventType = "game_created"
	EventRelayStarted    EventType = "relay_started"
	EventSessionEnded    EventType = "session_ended"

	// Periodic status published by the health monitor
	EventHeartbeat EventType = "heartbeat"

	// System events
	EventShutdown EventType = "shutdown"
)

// SessionState is the coarse state of a bridge session.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionLaunching
	SessionConnecting
	SessionCreatingGame
	SessionRelaying
	SessionStopping
	SessionEnded
	SessionFailed
)

// sessionStateStrings maps SessionState values to their lowercase JSON string representation.
var sessionStateStrings = map[SessionState]string{
	SessionIdle:         "idle",
	SessionLaunching:    "launching",
	SessionConnecting:   "connecting",
	SessionCreatingGame: "creating_game",
	SessionRelaying:     "relaying",
	SessionStopping:     "stopping",
	SessionEnded:        "ended",
	SessionFailed:       "failed",
}

// String returns the string representation of SessionState.
func (s SessionState) String() string {
	if str, ok := sessionStateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes SessionState as a JSON string (e.g. "relaying").
func (s SessionState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// SessionStartedPayload is emitted once the listener is bound.
type SessionStartedPayload struct {
	SessionID  string
	Type       string
	GamePort   int
	EnginePort int
	Map        string
	HostMode   bool
	StartedAt  time.Time
}

// EngineLaunchedPayload carries the spawned engine process.
type EngineLaunchedPayload struct {
	SessionID string
	PID       int
	Port      int
}

// EngineConnectedPayload is emitted when the engine link is up.
type EngineConnectedPayload struct {
	SessionID string
	Endpoint  string
}

// GameCreatedPayload reports the outcome of game creation, successful or not.
type GameCreatedPayload struct {
	SessionID   string
	Map         string
	Success     bool
	ErrorKind   string
	ErrorDetail string
}

// RelayStartedPayload is emitted when the relay loop begins.
type RelayStartedPayload struct {
	SessionID string
}

// SessionEndedPayload summarises a finished session.
type SessionEndedPayload struct {
	SessionID string
	Type      string
	Map       string
	State     SessionState
	Forwarded uint64
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
}

// ShutdownPayload names who asked for the shutdown.
type ShutdownPayload struct {
	Reason string
}

// HeartbeatPayload is a periodic snapshot of the running session.
type HeartbeatPayload struct {
	SessionID       string
	State           SessionState
	EnginePID       int
	EngineCPU       float64
	EngineMemoryMB  float64
	ClientConnected bool
	Forwarded       uint64
	HostCPU         float64
	HostMemory      float64
	DiskFreeGB      uint64
	Timestamp       time.Time
}
