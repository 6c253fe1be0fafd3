package proxyclient

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"encoding/json"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"

	"steamdash/internal/core"
)

// Decode validates a proxy document against the schema of ep and extracts
// the typed payload. Missing list or value fields decode as empty; fields of
// the wrong shape are a malformed response.
func Decode(ep core.Endpoint, raw []byte) (*core.Payload, error) {
	if !gjson.ValidBytes(raw) {
		return nil, core.NewMalformedResponseError(ep, 0, "invalid JSON document", nil)
	}
	response := gjson.GetBytes(raw, "response")
	if !response.IsObject() {
		return nil, core.NewMalformedResponseError(ep, 0, "missing response object", nil)
	}

	payload := &core.Payload{Endpoint: ep}
	switch ep {
	case core.EndpointProfile:
		players := response.Get("players")
		if players.Exists() && !players.IsArray() {
			return nil, core.NewMalformedResponseError(ep, 0, "response.players is not a list", nil)
		}
		first := players.Get("0")
		if !first.Exists() || first.Type == gjson.Null {
			return payload, nil
		}
		if !first.IsObject() {
			return nil, core.NewMalformedResponseError(ep, 0, "response.players[0] is not an object", nil)
		}
		var player core.Player
		if err := json.Unmarshal([]byte(first.Raw), &player); err != nil {
			return nil, core.NewMalformedResponseError(ep, 0, "decoding player: "+err.Error(), err)
		}
		payload.Profile = &player

	case core.EndpointRecentGames, core.EndpointGameLibrary:
		games := response.Get("games")
		payload.Games = []core.Game{}
		if !games.Exists() || games.Type == gjson.Null {
			return payload, nil
		}
		if !games.IsArray() {
			return nil, core.NewMalformedResponseError(ep, 0, "response.games is not a list", nil)
		}
		if err := json.Unmarshal([]byte(games.Raw), &payload.Games); err != nil {
			return nil, core.NewMalformedResponseError(ep, 0, "decoding games: "+err.Error(), err)
		}

	case core.EndpointLevel:
		level := response.Get("player_level")
		if !level.Exists() || level.Type == gjson.Null {
			return payload, nil
		}
		if level.Type != gjson.Number {
			return nil, core.NewMalformedResponseError(ep, 0, "response.player_level is not a number", nil)
		}
		v := int(level.Int())
		payload.Level = &v

	default:
		return nil, core.NewInvalidRequestError(ep.String(), core.ErrUnknownEndpoint)
	}
	return payload, nil
}

// decompressBody decodes the body according to Content-Encoding.
// Returns the body unchanged if no decompression is needed or it fails.
func decompressBody(body []byte, contentEncoding string) ([]byte, bool) {
	if len(body) == 0 || contentEncoding == "" {
		return body, false
	}

	// Parse encoding (handle "gzip, deflate" - take first)
	encoding := strings.ToLower(strings.TrimSpace(strings.Split(contentEncoding, ",")[0]))
	if encoding == "identity" || encoding == "" {
		return body, false
	}

	var reader io.ReadCloser
	var err error

	switch encoding {
	case "gzip":
		reader, err = gzip.NewReader(bytes.NewReader(body))
	case "deflate":
		reader = flate.NewReader(bytes.NewReader(body))
	case "br":
		reader = io.NopCloser(brotli.NewReader(bytes.NewReader(body)))
	default:
		return body, false
	}
	if err != nil {
		return body, false
	}
	defer reader.Close()

	// Read with size limit (compression bomb protection)
	decompressed, err := io.ReadAll(io.LimitReader(reader, maxBodySize))
	if err != nil {
		return body, false
	}
	return decompressed, true
}
