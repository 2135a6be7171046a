package models

import (
	"encoding/json"
)

// NormalizeMetadata returns m in the shape it has after a JSON round trip:
// numbers become float64, slices []any and nested objects map[string]any.
// Every backend stores metadata as JSON, so an object built from caller
// input compares equal to the same object read back. Empty maps become nil.
func NormalizeMetadata(m map[string]any) (map[string]any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, invalid("metadata", "must be JSON encodable: "+err.Error())
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, invalid("metadata", "must be JSON encodable: "+err.Error())
	}
	return out, nil
}
