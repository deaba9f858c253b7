// Package protocoltest stands in for the engine's side of the protocol in
// tests: it builds engine responses and decodes the create-game requests
// the bridge sends.
package protocoltest

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/energizer-project/ladderbridge/internal/protocol"
)

// Field numbers from sc2api.proto.
const (
	requestCreateGame protowire.Number = 1

	createLocalMap     protowire.Number = 1
	createBattlenetMap protowire.Number = 2
	createPlayerSetup  protowire.Number = 3
	createRealtime     protowire.Number = 6
	localMapPath       protowire.Number = 1

	setupType       protowire.Number = 1
	setupRace       protowire.Number = 2
	setupDifficulty protowire.Number = 3

	responseCreateGame protowire.Number = 1
	responseID         protowire.Number = 97
	responseError      protowire.Number = 98
	responseStatus     protowire.Number = 99

	createGameError        protowire.Number = 1
	createGameErrorDetails protowire.Number = 2
)

// EncodeResponse serializes a Response envelope the way the engine does.
func EncodeResponse(resp protocol.Response) []byte {
	var out []byte
	if cg := resp.CreateGame; cg != nil {
		var body []byte
		if cg.HasError {
			body = protowire.AppendTag(body, createGameError, protowire.VarintType)
			body = protowire.AppendVarint(body, uint64(cg.Error))
		}
		if cg.ErrorDetails != "" {
			body = protowire.AppendTag(body, createGameErrorDetails, protowire.BytesType)
			body = protowire.AppendString(body, cg.ErrorDetails)
		}
		out = protowire.AppendTag(out, responseCreateGame, protowire.BytesType)
		out = protowire.AppendBytes(out, body)
	}
	if resp.ID != 0 {
		out = protowire.AppendTag(out, responseID, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(resp.ID))
	}
	for _, e := range resp.Errors {
		out = protowire.AppendTag(out, responseError, protowire.BytesType)
		out = protowire.AppendString(out, e)
	}
	if resp.Status != 0 {
		out = protowire.AppendTag(out, responseStatus, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(resp.Status))
	}
	return out
}

// DecodeCreateGame parses a Request frame carrying create_game.
func DecodeCreateGame(b []byte) (protocol.CreateGame, error) {
	var req protocol.CreateGame

	body, ok, err := findBytes(b, requestCreateGame)
	if err != nil {
		return req, fmt.Errorf("failed to decode request: %w", err)
	}
	if !ok {
		return req, fmt.Errorf("request does not carry create_game (kind %s)", protocol.RequestKind(b))
	}

	err = eachField(body, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == createBattlenetMap && typ == protowire.BytesType:
			req.BattlenetMapName = string(v)
		case num == createLocalMap && typ == protowire.BytesType:
			path, _, err := findBytes(v, localMapPath)
			if err != nil {
				return err
			}
			req.LocalMapPath = string(path)
		case num == createPlayerSetup && typ == protowire.BytesType:
			p, err := decodePlayerSetup(v)
			if err != nil {
				return err
			}
			req.Players = append(req.Players, p)
		case num == createRealtime && typ == protowire.VarintType:
			req.Realtime = protowire.DecodeBool(x)
		}
		return nil
	})
	if err != nil {
		return req, fmt.Errorf("failed to decode create_game: %w", err)
	}
	return req, nil
}

func decodePlayerSetup(b []byte) (protocol.PlayerSetup, error) {
	var p protocol.PlayerSetup
	err := eachField(b, func(num protowire.Number, typ protowire.Type, _ []byte, x uint64) error {
		if typ != protowire.VarintType {
			return nil
		}
		switch num {
		case setupType:
			p.Type = protocol.PlayerType(x)
		case setupRace:
			p.Race = protocol.Race(int32(x) - protocol.RaceWireOffset)
		case setupDifficulty:
			p.Difficulty = protocol.Difficulty(x)
		}
		return nil
	})
	return p, err
}

// findBytes returns the last bytes field numbered num.
func findBytes(b []byte, num protowire.Number) ([]byte, bool, error) {
	var found []byte
	ok := false
	err := eachField(b, func(n protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if n == num && typ == protowire.BytesType {
			found, ok = v, true
		}
		return nil
	})
	return found, ok, err
}

func eachField(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var v []byte
		var x uint64
		var m int
		switch typ {
		case protowire.VarintType:
			x, m = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			v, m = protowire.ConsumeBytes(b)
		default:
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]

		if typ == protowire.VarintType || typ == protowire.BytesType {
			if err := fn(num, typ, v, x); err != nil {
				return err
			}
		}
	}
	return nil
}
