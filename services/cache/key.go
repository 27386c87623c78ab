package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/meridiancrm/ai-core/models"
)

// BuildKey derives the cache key for an operation and its parameters.
// The same logical parameters always produce the same key, regardless of
// the order fields were set in: params are re-encoded through a generic
// JSON tree, which sorts object keys at every nesting level.
func BuildKey(operation models.OperationType, params map[string]interface{}) string {
	canonical, err := canonicalJSON(params)
	if err != nil {
		// Unserializable params cannot be cached deterministically; hash
		// the operation alone so callers still get a stable string.
		canonical = []byte("{}")
	}

	h := sha256.New()
	h.Write([]byte(operation))
	h.Write([]byte{':'})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON produces a deterministic encoding of params. Structs and
// maps alike are normalized by a marshal/unmarshal round trip: once the
// value is a map[string]interface{} tree, encoding/json emits its keys in
// sorted order.
func canonicalJSON(params map[string]interface{}) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	return json.Marshal(generic)
}
