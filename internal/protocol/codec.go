package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from sc2api.proto.
const (
	fieldRequestCreateGame protowire.Number = 1

	fieldCreateLocalMap        protowire.Number = 1
	fieldCreateBattlenetMap    protowire.Number = 2
	fieldCreatePlayerSetup     protowire.Number = 3
	fieldCreateRealtime        protowire.Number = 6
	fieldLocalMapPath          protowire.Number = 1
	fieldPlayerSetupType       protowire.Number = 1
	fieldPlayerSetupRace       protowire.Number = 2
	fieldPlayerSetupDifficulty protowire.Number = 3

	fieldResponseCreateGame protowire.Number = 1
	fieldResponseID         protowire.Number = 97
	fieldResponseError      protowire.Number = 98
	fieldResponseStatus     protowire.Number = 99

	fieldCreateGameError        protowire.Number = 1
	fieldCreateGameErrorDetails protowire.Number = 2
)

// requestNames maps the Request oneof field numbers to their names. Only used
// to label relayed frames in logs.
var requestNames = map[protowire.Number]string{
	1: "create_game", 2: "join_game", 3: "restart_game", 4: "start_replay",
	5: "leave_game", 6: "quick_save", 7: "quick_load", 8: "quit",
	9: "game_info", 10: "observation", 11: "action", 12: "step",
	13: "data", 14: "query", 15: "save_replay", 16: "replay_info",
	17: "available_maps", 18: "save_map", 19: "ping", 20: "debug",
	21: "obs_action", 22: "map_command",
}

// CreateGame is the content of a RequestCreateGame. Exactly one of
// BattlenetMapName and LocalMapPath is set.
type CreateGame struct {
	Players          []PlayerSetup
	BattlenetMapName string
	LocalMapPath     string
	Realtime         bool
}

// EncodeCreateGame serializes a Request carrying a create_game message.
func EncodeCreateGame(req CreateGame) ([]byte, error) {
	if (req.BattlenetMapName == "") == (req.LocalMapPath == "") {
		return nil, fmt.Errorf("create game request needs exactly one map reference")
	}

	var body []byte
	if req.BattlenetMapName != "" {
		body = protowire.AppendTag(body, fieldCreateBattlenetMap, protowire.BytesType)
		body = protowire.AppendString(body, req.BattlenetMapName)
	} else {
		var local []byte
		local = protowire.AppendTag(local, fieldLocalMapPath, protowire.BytesType)
		local = protowire.AppendString(local, req.LocalMapPath)
		body = protowire.AppendTag(body, fieldCreateLocalMap, protowire.BytesType)
		body = protowire.AppendBytes(body, local)
	}

	for _, p := range req.Players {
		var setup []byte
		setup = protowire.AppendTag(setup, fieldPlayerSetupType, protowire.VarintType)
		setup = protowire.AppendVarint(setup, uint64(p.Type))
		setup = protowire.AppendTag(setup, fieldPlayerSetupRace, protowire.VarintType)
		setup = protowire.AppendVarint(setup, p.Race.Wire())
		if p.Difficulty != 0 {
			setup = protowire.AppendTag(setup, fieldPlayerSetupDifficulty, protowire.VarintType)
			setup = protowire.AppendVarint(setup, uint64(p.Difficulty))
		}
		body = protowire.AppendTag(body, fieldCreatePlayerSetup, protowire.BytesType)
		body = protowire.AppendBytes(body, setup)
	}

	body = protowire.AppendTag(body, fieldCreateRealtime, protowire.VarintType)
	body = protowire.AppendVarint(body, protowire.EncodeBool(req.Realtime))

	var out []byte
	out = protowire.AppendTag(out, fieldRequestCreateGame, protowire.BytesType)
	out = protowire.AppendBytes(out, body)
	return out, nil
}

// CreateGameResponse is the decoded ResponseCreateGame.
type CreateGameResponse struct {
	HasError     bool
	Error        CreateGameErrorCode
	ErrorDetails string
}

// Response is the decoded envelope of an engine response. Only the fields
// ladderbridge interprets are kept; CreateGame is nil when the response does
// not carry a create_game message.
type Response struct {
	ID         uint32
	Errors     []string
	Status     Status
	CreateGame *CreateGameResponse
}

// DecodeResponse parses the envelope of a Response message.
func DecodeResponse(b []byte) (*Response, error) {
	resp := &Response{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == fieldResponseCreateGame && typ == protowire.BytesType:
			cg, err := decodeCreateGameResponse(v)
			if err != nil {
				return fmt.Errorf("create_game: %w", err)
			}
			resp.CreateGame = cg
		case num == fieldResponseID && typ == protowire.VarintType:
			resp.ID = uint32(x)
		case num == fieldResponseError && typ == protowire.BytesType:
			resp.Errors = append(resp.Errors, string(v))
		case num == fieldResponseStatus && typ == protowire.VarintType:
			resp.Status = Status(x)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp, nil
}

func decodeCreateGameResponse(b []byte) (*CreateGameResponse, error) {
	cg := &CreateGameResponse{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == fieldCreateGameError && typ == protowire.VarintType:
			cg.HasError = true
			cg.Error = CreateGameErrorCode(x)
		case num == fieldCreateGameErrorDetails && typ == protowire.BytesType:
			cg.ErrorDetails = string(v)
		}
		return nil
	})
	return cg, err
}

// RequestKind names the oneof member carried by a Request frame, e.g.
// "observation". Unknown or malformed frames yield "unknown".
func RequestKind(b []byte) string {
	kind := "unknown"
	walkFields(b, func(num protowire.Number, typ protowire.Type, _ []byte, _ uint64) error {
		if name, ok := requestNames[num]; ok && typ == protowire.BytesType {
			kind = name
		}
		return nil
	})
	return kind
}

// walkFields calls fn for every top-level field of a message. Bytes fields
// pass their value in v, varint fields in x. Other wire types are skipped.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			x, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, typ, nil, x); err != nil {
				return err
			}
			b = b[m:]
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return nil
}
