package steamdata

import (
	"time"

	"steamdash/internal/core"
)

// Origin says where an endpoint's payload came from.
type Origin string

const (
	OriginNetwork Origin = "network"
	OriginCache   Origin = "cache"
	OriginNone    Origin = "none"
)

// Cache read results reported to Hooks.
const (
	ReadHit     = "hit"
	ReadMiss    = "miss"
	ReadExpired = "expired"
	ReadCorrupt = "corrupt"
	ReadError   = "error"
)

// Batch results reported to Hooks.
const (
	BatchApplied    = "applied"
	BatchEmpty      = "empty"
	BatchSuperseded = "superseded"
	BatchUnmounted  = "unmounted"
)

// Hooks observes the cache. Implementations must be safe for concurrent use
// and must not block.
type Hooks interface {
	CacheRead(ep core.Endpoint, result string)
	EndpointSettled(ep core.Endpoint, success bool, origin Origin, elapsed time.Duration)
	BatchSettled(result string, elapsed time.Duration)
}

type noopHooks struct{}

func (noopHooks) CacheRead(core.Endpoint, string)                            {}
func (noopHooks) EndpointSettled(core.Endpoint, bool, Origin, time.Duration) {}
func (noopHooks) BatchSettled(string, time.Duration)                         {}
