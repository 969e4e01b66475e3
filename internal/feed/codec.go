package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// decodeChanges accepts either a single change object or an array of them.
func decodeChanges(payload []byte) ([]Change, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty change payload")
	}
	if payload[0] == '[' {
		var out []Change
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, fmt.Errorf("decode change batch: %w", err)
		}
		return out, nil
	}
	var c Change
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("decode change: %w", err)
	}
	return []Change{c}, nil
}
