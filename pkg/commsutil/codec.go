package commsutil

import (
	"encoding/json"
	"fmt"
)

const codecLogPrefix = "commsutil:codec"

// EncodePayload serializes an event for publication.
func EncodePayload(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s - encode failed: %w", codecLogPrefix, err)
	}
	return data, nil
}

// DecodePayload deserializes a published event into v.
func DecodePayload(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s - decode failed: %w", codecLogPrefix, err)
	}
	return nil
}
