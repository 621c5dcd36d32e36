package pixwebhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// EventKey derives the dedup key for a raw provider notification. The payload
// is canonicalized (object keys sorted at every depth) before hashing so that
// provider retries with reordered keys still collapse onto the same key. The
// hash is prefixed with the strongest identifier in the payload: endToEndId,
// then txid, then a bare payload marker.
func EventKey(raw json.RawMessage) (string, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return keyPrefix(decoded) + ":" + hex.EncodeToString(sum[:]), nil
}

func keyPrefix(decoded any) string {
	root, ok := decoded.(map[string]any)
	if !ok {
		return "payload"
	}
	items, ok := root["pix"].([]any)
	if ok && len(items) > 0 {
		if first, ok := items[0].(map[string]any); ok {
			if e2e, ok := first["endToEndId"].(string); ok && e2e != "" {
				return e2e
			}
			if txid, ok := first["txid"].(string); ok && txid != "" {
				return txid
			}
		}
	}
	if txid, ok := root["txid"].(string); ok && txid != "" {
		return txid
	}
	return "payload"
}
