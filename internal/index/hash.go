// Content hashing for change detection and duplicate suppression.

package index

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// ContentHash returns a 16-hex-character digest of a decoded JSON document.
// The volatile top-level "meta" object (per-request counters and timing) is
// excluded so that two fetches of unchanged content hash identically.
// json.Marshal sorts map keys, which makes the digest stable across
// re-serializations.
func ContentHash(v any) string {
	if m, ok := v.(map[string]any); ok {
		if _, has := m["meta"]; has {
			clone := make(map[string]any, len(m))
			for k, val := range m {
				if k != "meta" {
					clone[k] = val
				}
			}
			v = clone
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// IsQueryPayload classifies a decoded JSON document structurally: an array,
// or an object carrying a "results" array, is a query result; everything
// else is an entity.
func IsQueryPayload(v any) bool {
	switch t := v.(type) {
	case []any:
		return true
	case map[string]any:
		_, ok := t["results"].([]any)
		return ok
	}
	return false
}
