// Package events publishes handler error events so that failures surfacing
// in a router can be observed by other services.
package events

import (
	"context"
	"time"

	"github.com/morezero/cmdrpc/pkg/dispatcher"
	"github.com/morezero/cmdrpc/pkg/result"
)

// ErrorEvent is emitted when a handler fails or a failure envelope carries an
// error.
type ErrorEvent struct {
	Service   string      `json:"service,omitempty"`
	Cmd       string      `json:"cmd"`
	RequestID string      `json:"requestId,omitempty"`
	Error     interface{} `json:"error"`
	Timestamp string      `json:"timestamp"`
}

// NewErrorEvent builds an ErrorEvent for err, taking the command and request
// id from ctx. The error is stored in its flattened form.
func NewErrorEvent(ctx context.Context, service string, err interface{}, at time.Time) *ErrorEvent {
	return &ErrorEvent{
		Service:   service,
		Cmd:       dispatcher.Cmd(ctx),
		RequestID: dispatcher.RequestID(ctx),
		Error:     result.FlattenError(err),
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}
