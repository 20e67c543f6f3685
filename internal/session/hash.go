package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Canonicalize produces the byte form the integrity hash is computed
// over: the aggregated data serialized as JSON with map keys sorted and
// nil or empty-string values removed recursively. Times render as
// RFC 3339 through the standard JSON encoding.
func Canonicalize(data AggregatedData) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal aggregated data: %w", err)
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("decode aggregated data: %w", err)
	}
	cleaned := cleanValue(tree)
	if cleaned == nil {
		cleaned = map[string]any{}
	}
	// encoding/json writes map keys in sorted order, which is the
	// canonical ordering.
	out, err := json.Marshal(cleaned)
	if err != nil {
		return nil, fmt.Errorf("canonicalize aggregated data: %w", err)
	}
	return out, nil
}

// IntegrityHash is the sha-256 hex digest of the canonical form.
func IntegrityHash(data AggregatedData) (string, error) {
	canonical, err := Canonicalize(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// cleanValue strips nils and empty strings recursively. Empty maps that
// result from cleaning are dropped too; lists keep their order and
// length apart from removed members.
func cleanValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return nil
		}
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if cleaned := cleanValue(child); cleaned != nil {
				out[k] = cleaned
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, child := range val {
			if cleaned := cleanValue(child); cleaned != nil {
				out = append(out, cleaned)
			}
		}
		return out
	default:
		return val
	}
}
