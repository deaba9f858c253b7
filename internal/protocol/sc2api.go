// Package protocol implements the small slice of the sc2api wire protocol that
// ladderbridge needs to understand: the create-game request/response pair, the
// player setup enumerations and their name tables. Every other message crosses
// the bridge as an opaque binary frame.
package protocol

import (
	"fmt"
	"strings"
)

// PlayerType is the role a player slot takes in a game. Values match the wire.
type PlayerType int32

const (
	PlayerParticipant PlayerType = 1
	PlayerComputer    PlayerType = 2
	PlayerObserver    PlayerType = 3
)

// String returns the protocol name of the player type.
func (t PlayerType) String() string {
	switch t {
	case PlayerParticipant:
		return "Participant"
	case PlayerComputer:
		return "Computer"
	case PlayerObserver:
		return "Observer"
	default:
		return fmt.Sprintf("PlayerType(%d)", int32(t))
	}
}

// Race is the internal race enumeration. It starts at zero with Terran, one
// below the wire numbering; see RaceWireOffset.
type Race int32

const (
	RaceTerran Race = iota
	RaceZerg
	RaceProtoss
	RaceRandom
)

// RaceWireOffset is added to a Race when it is written to the wire. The
// protocol reserves 0 for "no race", so its Terran is 1.
const RaceWireOffset = 1

// Wire returns the protocol value for the race.
func (r Race) Wire() uint64 {
	return uint64(int32(r) + RaceWireOffset)
}

var raceNames = map[Race]string{
	RaceTerran:  "Terran",
	RaceZerg:    "Zerg",
	RaceProtoss: "Protoss",
	RaceRandom:  "Random",
}

// String returns the display name of the race.
func (r Race) String() string {
	if name, ok := raceNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Race(%d)", int32(r))
}

// ParseRace converts a race name (case-insensitive) into a Race.
func ParseRace(name string) (Race, error) {
	for race, n := range raceNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return race, nil
		}
	}
	return RaceRandom, fmt.Errorf("unknown race %q", name)
}

// Difficulty is the built-in AI difficulty. Values match the wire.
type Difficulty int32

const (
	DifficultyVeryEasy    Difficulty = 1
	DifficultyEasy        Difficulty = 2
	DifficultyMedium      Difficulty = 3
	DifficultyMediumHard  Difficulty = 4
	DifficultyHard        Difficulty = 5
	DifficultyHarder      Difficulty = 6
	DifficultyVeryHard    Difficulty = 7
	DifficultyCheatVision Difficulty = 8
	DifficultyCheatMoney  Difficulty = 9
	DifficultyCheatInsane Difficulty = 10
)

var difficultyNames = map[Difficulty]string{
	DifficultyVeryEasy:    "VeryEasy",
	DifficultyEasy:        "Easy",
	DifficultyMedium:      "Medium",
	DifficultyMediumHard:  "MediumHard",
	DifficultyHard:        "Hard",
	DifficultyHarder:      "Harder",
	DifficultyVeryHard:    "VeryHard",
	DifficultyCheatVision: "CheatVision",
	DifficultyCheatMoney:  "CheatMoney",
	DifficultyCheatInsane: "CheatInsane",
}

// String returns the display name of the difficulty.
func (d Difficulty) String() string {
	if name, ok := difficultyNames[d]; ok {
		return name
	}
	return fmt.Sprintf("Difficulty(%d)", int32(d))
}

// difficultyAliases are names accepted by ParseDifficulty besides the
// display names.
var difficultyAliases = map[string]Difficulty{
	"hardveryhard": DifficultyHarder,
}

// ParseDifficulty converts a difficulty name (case-insensitive) into a Difficulty.
func ParseDifficulty(name string) (Difficulty, error) {
	if d, ok := difficultyAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return d, nil
	}
	for d, n := range difficultyNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown difficulty %q", name)
}

// PlayerSetup describes one player slot of a game to create.
// Difficulty is only meaningful for computer players.
type PlayerSetup struct {
	Type       PlayerType `json:"type"`
	Race       Race       `json:"race"`
	Difficulty Difficulty `json:"difficulty,omitempty"`
}

// Participant returns the setup for an externally controlled player.
func Participant(race Race) PlayerSetup {
	return PlayerSetup{Type: PlayerParticipant, Race: race}
}

// Computer returns the setup for a built-in AI player.
func Computer(race Race, difficulty Difficulty) PlayerSetup {
	return PlayerSetup{Type: PlayerComputer, Race: race, Difficulty: difficulty}
}

// String renders the setup as e.g. "Computer(Zerg, Hard)".
func (p PlayerSetup) String() string {
	if p.Type == PlayerComputer {
		return fmt.Sprintf("%s(%s, %s)", p.Type, p.Race, p.Difficulty)
	}
	return fmt.Sprintf("%s(%s)", p.Type, p.Race)
}

// CreateGameErrorCode is the error enumeration of ResponseCreateGame.
type CreateGameErrorCode int32

const (
	CreateGameMissingMap             CreateGameErrorCode = 1
	CreateGameInvalidMapPath         CreateGameErrorCode = 2
	CreateGameInvalidMapData         CreateGameErrorCode = 3
	CreateGameInvalidMapName         CreateGameErrorCode = 4
	CreateGameInvalidMapHandle       CreateGameErrorCode = 5
	CreateGameMissingPlayerSetup     CreateGameErrorCode = 6
	CreateGameInvalidPlayerSetup     CreateGameErrorCode = 7
	CreateGameMultiplayerUnsupported CreateGameErrorCode = 8
)

// Status is the engine state reported with every response.
type Status int32

const (
	StatusLaunched Status = 1
	StatusInitGame Status = 2
	StatusInGame   Status = 3
	StatusInReplay Status = 4
	StatusEnded    Status = 5
	StatusQuit     Status = 6
	StatusUnknown  Status = 99
)

var statusNames = map[Status]string{
	StatusLaunched: "launched",
	StatusInitGame: "init_game",
	StatusInGame:   "in_game",
	StatusInReplay: "in_replay",
	StatusEnded:    "ended",
	StatusQuit:     "quit",
	StatusUnknown:  "unknown",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}
