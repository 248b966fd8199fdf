package commsutil

import (
	"encoding/json"
	"fmt"
)

// Media types of reply bodies.
const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain; charset=utf-8"
)

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// EncodeBody encodes a response body the way the HTTP transport does: a
// string is sent as plain text, anything else as JSON.
func EncodeBody(body interface{}) ([]byte, string, error) {
	if text, ok := body.(string); ok {
		return []byte(text), ContentTypeText, nil
	}
	data, err := EncodePayload(body)
	if err != nil {
		return nil, "", err
	}
	return data, ContentTypeJSON, nil
}
