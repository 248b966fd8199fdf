package result

import (
	"encoding/json"
	"fmt"
)

const logPrefix = "result:decode"

// RemoteError is an error decoded from the "error" key of a received
// envelope. It flattens back to the same mapping it was decoded from.
type RemoteError struct {
	ErrName string
	Message string
	Fields  map[string]interface{}
}

func (e *RemoteError) Error() string {
	if e.ErrName == "" {
		return e.Message
	}
	return e.ErrName + ": " + e.Message
}

// Name implements Namer.
func (e *RemoteError) Name() string { return e.ErrName }

// MarshalJSON encodes the extra fields; name and message are added by
// FlattenError.
func (e *RemoteError) MarshalJSON() ([]byte, error) {
	fields := make(map[string]interface{}, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = v
	}
	return json.Marshal(fields)
}

// FromObject rebuilds a Result from a decoded envelope mapping. An "error"
// mapping becomes a *RemoteError; other error values are kept as-is.
func FromObject(obj map[string]interface{}) (*Result, error) {
	ok, isBool := obj["ok"].(bool)
	if !isBool {
		return nil, fmt.Errorf("%s - envelope has no boolean ok field: %v", logPrefix, obj["ok"])
	}
	if ok {
		return Ok(obj["code"], obj["output"]), nil
	}
	return Fail(obj["code"], obj["output"], decodeError(obj["error"])), nil
}

func decodeError(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	re := &RemoteError{Fields: make(map[string]interface{})}
	for k, val := range m {
		switch k {
		case "name":
			re.ErrName, _ = val.(string)
		case "message":
			re.Message, _ = val.(string)
		default:
			re.Fields[k] = val
		}
	}
	return re
}
