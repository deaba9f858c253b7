// Package game issues the one engine request ladderbridge originates itself:
// creating the game before relaying starts.
package game

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/energizer-project/ladderbridge/internal/maps"
	"github.com/energizer-project/ladderbridge/internal/network"
	"github.com/energizer-project/ladderbridge/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ResponseTimeout is how long the engine gets to answer a create-game request.
const ResponseTimeout = 100 * time.Second

// Conn is the engine link as seen by game creation.
type Conn interface {
	Send(payload []byte) error
	Receive(timeout time.Duration) ([]byte, error)
}

// ErrorKind classifies a failed game creation.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorMissingMap
	ErrorInvalidMapPath
	ErrorInvalidMapData
	ErrorInvalidMapName
	ErrorInvalidMapHandle
	ErrorMissingPlayerSetup
	ErrorInvalidPlayerSetup
	ErrorUnknown
)

var errorKindNames = map[ErrorKind]string{
	ErrorNone:               "None",
	ErrorMissingMap:         "Missing Map",
	ErrorInvalidMapPath:     "Invalid Map Path",
	ErrorInvalidMapData:     "Invalid Map Data",
	ErrorInvalidMapName:     "Invalid Map Name",
	ErrorInvalidMapHandle:   "Invalid Map Handle",
	ErrorMissingPlayerSetup: "Missing Player Setup",
	ErrorInvalidPlayerSetup: "Invalid Player Setup",
	ErrorUnknown:            "Unknown Error",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// kindFromCode maps a wire error code to an ErrorKind. Codes without a
// dedicated kind map to ErrorUnknown.
func kindFromCode(code protocol.CreateGameErrorCode) ErrorKind {
	switch code {
	case protocol.CreateGameMissingMap:
		return ErrorMissingMap
	case protocol.CreateGameInvalidMapPath:
		return ErrorInvalidMapPath
	case protocol.CreateGameInvalidMapData:
		return ErrorInvalidMapData
	case protocol.CreateGameInvalidMapName:
		return ErrorInvalidMapName
	case protocol.CreateGameInvalidMapHandle:
		return ErrorInvalidMapHandle
	case protocol.CreateGameMissingPlayerSetup:
		return ErrorMissingPlayerSetup
	case protocol.CreateGameInvalidPlayerSetup:
		return ErrorInvalidPlayerSetup
	default:
		return ErrorUnknown
	}
}

// Result is the interpreted outcome of a create-game request.
type Result struct {
	Success     bool      `json:"success"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`

	// StatusErrors holds the top-level error strings of the response envelope.
	StatusErrors []string `json:"status_errors,omitempty"`
}

// Err returns nil for a successful result, otherwise a *GameCreationError.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return &GameCreationError{Kind: r.ErrorKind, Detail: r.ErrorDetail}
}

// GameCreationError is the error form of a failed Result.
type GameCreationError struct {
	Kind   ErrorKind
	Detail string
}

func (e *GameCreationError) Error() string {
	switch {
	case e.Kind != ErrorNone && e.Detail != "":
		return fmt.Sprintf("game creation failed: %s: %s", e.Kind, e.Detail)
	case e.Detail != "":
		return fmt.Sprintf("game creation failed: %s", e.Detail)
	default:
		return fmt.Sprintf("game creation failed: %s", e.Kind)
	}
}

// ErrInvalidPlayers is returned before anything is sent when the player list
// cannot describe a game.
var ErrInvalidPlayers = errors.New("invalid player setup")

// ValidatePlayers checks that players holds one or two entries and at most
// one computer.
func ValidatePlayers(players []protocol.PlayerSetup) error {
	if len(players) == 0 || len(players) > 2 {
		return fmt.Errorf("%w: need 1 or 2 players, got %d", ErrInvalidPlayers, len(players))
	}
	computers := 0
	for _, p := range players {
		if p.Type == protocol.PlayerComputer {
			computers++
		}
	}
	if computers > 1 {
		return fmt.Errorf("%w: at most one computer player", ErrInvalidPlayers)
	}
	return nil
}

// Interpret turns a decoded engine response into a Result. An error code and
// an error detail are checked independently; either one marks the result as
// failed.
func Interpret(resp *protocol.Response) Result {
	res := Result{StatusErrors: resp.Errors}

	cg := resp.CreateGame
	if cg == nil {
		res.ErrorKind = ErrorUnknown
		res.ErrorDetail = strings.Join(resp.Errors, "; ")
		if res.ErrorDetail == "" {
			res.ErrorDetail = "response carried no create_game result"
		}
		return res
	}

	res.Success = true
	if cg.HasError {
		res.Success = false
		res.ErrorKind = kindFromCode(cg.Error)
	}
	if cg.ErrorDetails != "" {
		res.Success = false
		res.ErrorDetail = cg.ErrorDetails
	}
	return res
}

// Service creates games on an engine connection.
type Service struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// NewService returns a Service waiting up to timeout for the engine's
// answer. A zero timeout means ResponseTimeout.
func NewService(timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = ResponseTimeout
	}
	return &Service{
		timeout: timeout,
		logger:  log.With().Str("component", "game").Logger(),
	}
}

// CreateGame sends one create-game request and interprets the answer. A
// rejected request is reported through the Result, not the error; the error
// covers invalid input and transport failures (network.ErrNoResponse on
// timeout). There is no internal retry.
func (s *Service) CreateGame(conn Conn, players []protocol.PlayerSetup, ref maps.Reference) (Result, error) {
	if err := ValidatePlayers(players); err != nil {
		s.logger.Error().Err(err).Msg("refusing to create game")
		return Result{}, err
	}

	req := protocol.CreateGame{Players: players, Realtime: false}
	switch ref.Kind {
	case maps.KindRemoteName:
		req.BattlenetMapName = ref.Value
	default:
		req.LocalMapPath = ref.Value
	}

	payload, err := protocol.EncodeCreateGame(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build create game request: %w", err)
	}

	s.logger.Info().
		Stringer("map", ref).
		Strs("players", playerNames(players)).
		Msg("creating game")

	if err := conn.Send(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to send create game request")
		return Result{}, fmt.Errorf("failed to send create game request: %w", err)
	}

	raw, err := conn.Receive(s.timeout)
	if err != nil {
		if errors.Is(err, network.ErrNoResponse) {
			s.logger.Error().Dur("timeout", s.timeout).Msg("engine did not answer create game request")
		} else {
			s.logger.Error().Err(err).Msg("failed to read create game response")
		}
		return Result{}, fmt.Errorf("create game: %w", err)
	}

	resp, err := protocol.DecodeResponse(raw)
	if err != nil {
		s.logger.Error().Err(err).Int("bytes", len(raw)).Msg("unreadable create game response")
		return Result{}, err
	}

	for _, e := range resp.Errors {
		s.logger.Warn().Str("error", e).Msg("engine reported error")
	}

	res := Interpret(resp)
	switch {
	case res.Success:
		s.logger.Info().Stringer("status", resp.Status).Msg("game created")
	case resp.CreateGame == nil:
		s.logger.Error().Str("detail", res.ErrorDetail).Msg("Game creation failed: no create_game result in response")
	default:
		if res.ErrorKind != ErrorNone {
			s.logger.Error().Msgf("Game creation failed: %s", res.ErrorKind)
		}
		if res.ErrorDetail != "" {
			s.logger.Error().Msgf("Game creation failed: %s", res.ErrorDetail)
		}
	}
	return res, nil
}

func playerNames(players []protocol.PlayerSetup) []string {
	names := make([]string, len(players))
	for i, p := range players {
		names[i] = p.String()
	}
	return names
}
