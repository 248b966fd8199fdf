// Package dispatcher routes command requests to registered handlers and
// turns their outcomes into result envelopes.
package dispatcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ContentType is the only request and response media type of the protocol.
const ContentType = "application/json"

// CommandRequest is the JSON envelope of an incoming call.
type CommandRequest struct {
	Cmd   string          `json:"cmd"`
	Input json.RawMessage `json:"input,omitempty"`
}

var errNotObject = errors.New("request body is not a JSON object")

// decodeCommand reads the request body and extracts cmd and input. The body
// must be a JSON object; cmd, when present, must be a string.
func decodeCommand(req Request) (*CommandRequest, error) {
	var raw json.RawMessage
	if err := req.DecodeJSON(&raw); err != nil {
		return nil, err
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errNotObject
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	cr := &CommandRequest{Input: fields["input"]}
	if cmd, ok := fields["cmd"]; ok {
		if err := json.Unmarshal(cmd, &cr.Cmd); err != nil {
			return nil, fmt.Errorf("cmd is not a string: %w", err)
		}
	}
	return cr, nil
}

// unmatchedOutput is the output of the default unmatched-command envelope.
type unmatchedOutput struct {
	Cmd   string          `json:"cmd"`
	Input json.RawMessage `json:"input,omitempty"`
}
