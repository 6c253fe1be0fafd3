package core

import (
	"fmt"
	"strings"
)

// Endpoint is a logical category of upstream data multiplexed through the proxy.
type Endpoint int

const (
	EndpointProfile Endpoint = iota + 1
	EndpointRecentGames
	EndpointGameLibrary
	EndpointLevel
)

// AllEndpoints lists every supported endpoint in declaration order.
var AllEndpoints = []Endpoint{
	EndpointProfile,
	EndpointRecentGames,
	EndpointGameLibrary,
	EndpointLevel,
}

// DefaultEndpoints is the set fetched when nothing else is configured.
var DefaultEndpoints = []Endpoint{EndpointProfile, EndpointRecentGames}

// String returns the proxy's canonical name for the endpoint.
func (e Endpoint) String() string {
	switch e {
	case EndpointProfile:
		return "profile"
	case EndpointRecentGames:
		return "recent"
	case EndpointGameLibrary:
		return "games"
	case EndpointLevel:
		return "level"
	default:
		return fmt.Sprintf("endpoint(%d)", int(e))
	}
}

// Valid reports whether e is one of the supported endpoints.
func (e Endpoint) Valid() bool {
	return e >= EndpointProfile && e <= EndpointLevel
}

// MarshalText implements encoding.TextMarshaler.
func (e Endpoint) MarshalText() ([]byte, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEndpoint, int(e))
	}
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Endpoint) UnmarshalText(text []byte) error {
	parsed, err := ParseEndpoint(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// ParseEndpoint maps a name to an Endpoint. The proxy's aliases
// (player, recentgames, library) are accepted.
func ParseEndpoint(name string) (Endpoint, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "profile", "player":
		return EndpointProfile, nil
	case "recent", "recentgames":
		return EndpointRecentGames, nil
	case "games", "library":
		return EndpointGameLibrary, nil
	case "level":
		return EndpointLevel, nil
	default:
		return 0, fmt.Errorf("%w: %q (valid: profile, recent, games, level)", ErrUnknownEndpoint, name)
	}
}

// ParseEndpoints parses a list of names, dropping blanks and duplicates while
// keeping first-seen order.
func ParseEndpoints(names []string) ([]Endpoint, error) {
	out := make([]Endpoint, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		ep, err := ParseEndpoint(name)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return UniqueEndpoints(out), nil
}

// ParseEndpointList parses a comma separated list such as "profile,recent".
func ParseEndpointList(list string) ([]Endpoint, error) {
	return ParseEndpoints(strings.Split(list, ","))
}

// UniqueEndpoints removes duplicates, keeping the first occurrence.
func UniqueEndpoints(endpoints []Endpoint) []Endpoint {
	seen := make(map[Endpoint]bool, len(endpoints))
	out := make([]Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if seen[ep] {
			continue
		}
		seen[ep] = true
		out = append(out, ep)
	}
	return out
}

// EndpointNames returns the canonical names for endpoints.
func EndpointNames(endpoints []Endpoint) []string {
	names := make([]string, len(endpoints))
	for i, ep := range endpoints {
		names[i] = ep.String()
	}
	return names
}
