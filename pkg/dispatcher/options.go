package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/morezero/cmdrpc/pkg/result"
)

// CodeUnmatchedCmd is the code of the default unmatched-command envelope.
const CodeUnmatchedCmd = "unmatched-cmd"

// An ErrorLogger observes handler errors: uncaught errors and the error
// field of failure envelopes. It must not send a response.
type ErrorLogger func(ctx context.Context, err interface{})

// An ErrorHandler sends the response for a handler that returned an error
// or panicked.
type ErrorHandler func(ctx context.Context, err error, sink ResponseSink, input json.RawMessage)

// An OtherRequestHandler sends the response for a request that is not a
// well-formed command call.
type OtherRequestHandler func(ctx context.Context, req Request, sink ResponseSink)

// An UnmatchedCmdHandler builds the envelope for a command with no handler.
type UnmatchedCmdHandler func(ctx context.Context, cmd string, input json.RawMessage) *result.Result

// Options configures a Router. Nil fields use the defaults below.
type Options struct {
	ErrorLogger         ErrorLogger
	ErrorHandler        ErrorHandler
	OtherRequestHandler OtherRequestHandler
	UnmatchedCmdHandler UnmatchedCmdHandler
}

// DefaultOptions returns the default policies.
func DefaultOptions() Options {
	return Options{
		ErrorLogger:         DefaultErrorLogger,
		ErrorHandler:        DefaultErrorHandler,
		OtherRequestHandler: DefaultOtherRequestHandler,
		UnmatchedCmdHandler: DefaultUnmatchedCmdHandler,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ErrorLogger == nil {
		o.ErrorLogger = d.ErrorLogger
	}
	if o.ErrorHandler == nil {
		o.ErrorHandler = d.ErrorHandler
	}
	if o.OtherRequestHandler == nil {
		o.OtherRequestHandler = d.OtherRequestHandler
	}
	if o.UnmatchedCmdHandler == nil {
		o.UnmatchedCmdHandler = d.UnmatchedCmdHandler
	}
	return o
}

// DefaultErrorLogger logs err at error level.
func DefaultErrorLogger(ctx context.Context, err interface{}) {
	slog.Error(fmt.Sprintf("%s - cmd=%s id=%s error: %v", logPrefix, Cmd(ctx), RequestID(ctx), err))
}

// DefaultErrorHandler sends a 200 failure envelope carrying err.
func DefaultErrorHandler(ctx context.Context, err error, sink ResponseSink, _ json.RawMessage) {
	send(ctx, sink, http.StatusOK, result.Fail(nil, nil, err).ToObject())
}

// DefaultOtherRequestHandler sends 501 Not Implemented.
func DefaultOtherRequestHandler(ctx context.Context, _ Request, sink ResponseSink) {
	send(ctx, sink, http.StatusNotImplemented, "Not Implemented")
}

// DefaultUnmatchedCmdHandler returns a failure with code "unmatched-cmd" and
// the offending cmd and input as output.
func DefaultUnmatchedCmdHandler(_ context.Context, cmd string, input json.RawMessage) *result.Result {
	return result.Fail(CodeUnmatchedCmd, unmatchedOutput{Cmd: cmd, Input: input}, nil)
}

// send delivers a response. A failed send means the peer is gone; it is
// logged and otherwise ignored.
func send(ctx context.Context, sink ResponseSink, status int, body interface{}) {
	if err := sink.Send(status, body); err != nil {
		slog.Warn(fmt.Sprintf("%s - id=%s send failed: %v", logPrefix, RequestID(ctx), err))
	}
}
