package steamdata

import (
	"encoding/json"
	"fmt"
)

// storedEntry is the persisted envelope: the proxy document as returned and
// the epoch milliseconds at which it was written.
type storedEntry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func encodeEntry(raw []byte, storedAtMs int64) ([]byte, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("entry data is not valid JSON")
	}
	return json.Marshal(storedEntry{Data: raw, Timestamp: storedAtMs})
}

func decodeEntry(b []byte) (*storedEntry, error) {
	var e storedEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil, fmt.Errorf("entry has no data")
	}
	if e.Timestamp <= 0 {
		return nil, fmt.Errorf("entry has no timestamp")
	}
	return &e, nil
}

// fresh reports whether an entry written at storedAtMs may still be read at nowMs.
func fresh(nowMs, storedAtMs, ttlMs int64) bool {
	return nowMs-storedAtMs <= ttlMs
}
