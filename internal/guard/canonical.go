package guard

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalParams renders params as deterministic JSON. The value is
// round-tripped through a generic decode so object keys come out
// sorted regardless of struct field order, and the named fields are
// dropped before hashing. Two logically equal parameter sets always
// produce the same bytes.
func CanonicalParams(params any, omitFields []string) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}

	if obj, ok := decoded.(map[string]any); ok && len(omitFields) > 0 {
		for _, field := range omitFields {
			delete(obj, field)
		}
	}

	// encoding/json writes map keys in sorted order, which is the
	// canonical form the key derivation relies on.
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("canonicalize params: %w", err)
	}
	return canonical, nil
}

// CacheKey derives the base cache key for a namespace and parameter
// set: "{namespace}:{sha256-hex(canonical-json)}".
func CacheKey(namespace string, params any, omitFields []string) (string, error) {
	canonical, err := CanonicalParams(params, omitFields)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return namespace + ":" + hex.EncodeToString(sum[:]), nil
}
