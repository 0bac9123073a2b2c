package model

import (
	"encoding/json"
	"fmt"
)

// Decode unmarshals a received document into T. Unknown fields, including
// the header, are ignored.
func Decode[T any](payload []byte) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}
